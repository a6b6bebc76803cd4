package workload

import (
	"context"

	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
)

// Constructor builds the id-th worker of a kind for one collection.
type Constructor func(ctx context.Context, s *schema.Schema, id int, stop *StopSignal, tally *Tally) Worker

// Kind describes one stress worker variant and how many of it run per
// collection.
type Kind struct {
	Name    string
	Threads int
	New     Constructor
}

// Registry returns the stress worker kinds in start order. Tunables are
// copied out of conf here, once, and bound into each constructor.
func Registry(conf config.Config) []Kind {
	update, save, scan := conf.Update, conf.Save, conf.Scan
	ptquery, rgquery, drop := conf.PointQuery, conf.RangeQuery, conf.Drop
	return []Kind{
		{
			Name:    "update",
			Threads: update.Threads,
			New: func(ctx context.Context, s *schema.Schema, id int, _ *StopSignal, tally *Tally) Worker {
				return NewUpdater(ctx, s, update, id, tally)
			},
		},
		{
			Name:    "save",
			Threads: save.Threads,
			New: func(ctx context.Context, s *schema.Schema, id int, _ *StopSignal, tally *Tally) Worker {
				return NewSaver(ctx, s, save, id, tally)
			},
		},
		{
			Name:    "scan",
			Threads: scan.Threads,
			New: func(_ context.Context, s *schema.Schema, id int, _ *StopSignal, tally *Tally) Worker {
				return NewScanner(s, id, tally)
			},
		},
		{
			Name:    "ptquery",
			Threads: ptquery.Threads,
			New: func(ctx context.Context, s *schema.Schema, id int, _ *StopSignal, tally *Tally) Worker {
				return NewPointQuery(ctx, s, ptquery, id, tally)
			},
		},
		{
			Name:    "rgquery",
			Threads: rgquery.Threads,
			New: func(_ context.Context, s *schema.Schema, id int, _ *StopSignal, tally *Tally) Worker {
				return NewRangeQuery(s, rgquery, id, tally)
			},
		},
		{
			Name:    "drop",
			Threads: drop.Threads,
			New: func(_ context.Context, s *schema.Schema, id int, stop *StopSignal, tally *Tally) Worker {
				return NewDropper(s, drop, id, stop, tally)
			},
		},
	}
}
