package workload

import (
	"context"
	"time"

	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// Dropper periodically drops its collection and recreates the indexes. It
// keeps no counters.
type Dropper struct {
	base
	period time.Duration
	stop   *StopSignal
}

func NewDropper(s *schema.Schema, conf config.DropConfig, id int, stop *StopSignal, tally *Tally) *Dropper {
	return &Dropper{
		base:   newBase("drop", s, id, tally),
		period: time.Duration(conf.Period) * time.Second,
		stop:   stop,
	}
}

// Step waits out the period, returning early without dropping if the stop
// signal is raised meanwhile.
func (d *Dropper) Step(ctx context.Context) error {
	timer := time.NewTimer(d.period)
	defer timer.Stop()

	select {
	case <-d.stop.Done():
		return nil
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	if d.stop.Raised() {
		return nil
	}

	grip.Info(message.Fields{
		"message":    "dropping collection",
		"worker":     d.Name(),
		"collection": d.schema.Name(),
	})
	if err := d.schema.Drop(ctx); err != nil {
		return err
	}
	return d.schema.EnsureIndexes(ctx)
}
