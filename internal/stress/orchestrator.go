// Package stress drives the fill and stress phases of a run and aggregates
// their throughput.
package stress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/idealo/mongodb-stress/internal/workload"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// InsertsCounter is the report kind of the fill phase.
const InsertsCounter = "inserts"

// Orchestrator owns the collections of a run and the workers stressing them.
type Orchestrator struct {
	conf    config.Config
	db      backend.Database
	schemas []*schema.Schema
	kinds   []workload.Kind
	meters  metrics.Registry
}

// New validates conf and prepares one schema per collection. It performs no
// backend calls, so configuration errors surface before any I/O.
func New(db backend.Database, conf config.Config, meters metrics.Registry) (*Orchestrator, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		conf:   conf,
		db:     db,
		kinds:  workload.Registry(conf),
		meters: meters,
	}
	for i := 0; i < conf.Collections; i++ {
		s, err := schema.New(db.Collection(config.CollectionName(i)), conf.SchemaOptions())
		if err != nil {
			return nil, errors.Wrapf(err, "preparing collection %d", i)
		}
		o.schemas = append(o.schemas, s)
	}
	return o, nil
}

func (o *Orchestrator) Schemas() []*schema.Schema { return o.schemas }

// Setup creates the indexes of every collection.
func (o *Orchestrator) Setup(ctx context.Context) error {
	for _, s := range o.schemas {
		grip.Info(message.Fields{
			"message":    "initializing collection",
			"collection": s.Name(),
			"indexes":    len(s.Indexes()),
		})
		if err := s.EnsureIndexes(ctx); err != nil {
			return errors.Wrap(err, "setting up collections")
		}
	}
	return nil
}

// Fill loads every collection concurrently. The first failure cancels the
// other fills and is returned.
func (o *Orchestrator) Fill(ctx context.Context) (*Report, error) {
	var inserts metrics.Meter = metrics.NilMeter{}
	if o.meters != nil {
		inserts = metrics.GetOrRegisterMeter(InsertsCounter, o.meters)
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range o.schemas {
		g.Go(func() error {
			grip.Debug(message.Fields{
				"message":    "starting fill",
				"collection": s.Name(),
			})
			return s.Fill(gctx, inserts)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "filling collections")
	}

	inserted := int64(o.conf.Documents) * int64(len(o.schemas))
	return &Report{
		Counts:  workload.Counters{InsertsCounter: inserted},
		Elapsed: time.Since(start),
	}, nil
}

// Stress runs every configured worker against every collection for d, or
// until ctx is cancelled, then raises the stop signal and joins them all.
// Backend calls run on a context detached from ctx so that an interrupt
// stops the workers without aborting their in-flight operations.
func (o *Orchestrator) Stress(ctx context.Context, d time.Duration) (*Report, error) {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stop := workload.NewStopSignal()
	var workers []workload.Worker
	for _, s := range o.schemas {
		for _, kind := range o.kinds {
			for i := 0; i < kind.Threads; i++ {
				workers = append(workers, kind.New(workCtx, s, i, stop, workload.NewTally(o.meters)))
			}
		}
	}

	grip.Info(message.Fields{
		"message":  "starting stress test",
		"workers":  len(workers),
		"duration": d.String(),
	})

	results := make(chan workload.Result, len(workers))
	var g errgroup.Group
	var failed atomic.Int64

	start := time.Now()
	for _, w := range workers {
		g.Go(func() error {
			err := workload.Run(workCtx, w, stop, results)
			if err != nil {
				failed.Add(1)
			}
			return err
		})
	}

	timer := time.NewTimer(d)
	select {
	case <-timer.C:
		grip.Info("stopping stress test")
	case <-ctx.Done():
		timer.Stop()
		grip.Info(message.Fields{
			"message": "stress test interrupted",
			"cause":   ctx.Err().Error(),
		})
	}
	stop.Raise()

	err := g.Wait()
	elapsed := time.Since(start)
	close(results)

	report := &Report{Counts: workload.Counters{}, Elapsed: elapsed, Failed: int(failed.Load())}
	for res := range results {
		report.Counts.Merge(res.Counters)
	}
	grip.WarningWhen(err != nil, message.WrapError(err, message.Fields{
		"message": "some workers failed; their operations are missing from the report",
		"failed":  report.Failed,
		"workers": len(workers),
	}))
	return report, nil
}
