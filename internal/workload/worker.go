// Package workload implements the stress workers that repeatedly operate on
// a collection until a shared stop signal is raised.
package workload

import (
	"context"
	"fmt"
	"sync"

	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
)

// Counters maps an operation kind to the number of operations performed.
type Counters map[string]int64

// Merge adds every count in other to c.
func (c Counters) Merge(other Counters) {
	for k, v := range other {
		c[k] += v
	}
}

// StopSignal is a write-once flag shared by every worker of a run.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Raise latches the signal. Later calls have no effect.
func (s *StopSignal) Raise() {
	s.once.Do(func() { close(s.ch) })
}

// Raised reports whether Raise has been called.
func (s *StopSignal) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is raised.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// Tally accumulates a worker's counters. When a registry is set every
// increment is also marked on the meter of the same name so progress can be
// observed while the run is in flight. A Tally belongs to one goroutine.
type Tally struct {
	counts   Counters
	registry metrics.Registry
	meters   map[string]metrics.Meter
}

func NewTally(registry metrics.Registry) *Tally {
	return &Tally{counts: Counters{}, registry: registry, meters: map[string]metrics.Meter{}}
}

func (t *Tally) Inc(kind string, n int64) {
	t.counts[kind] += n
	if t.registry == nil {
		return
	}
	m, ok := t.meters[kind]
	if !ok {
		m = metrics.GetOrRegisterMeter(kind, t.registry)
		t.meters[kind] = m
	}
	m.Mark(n)
}

// Counters returns a copy of the accumulated counts.
func (t *Tally) Counters() Counters {
	out := make(Counters, len(t.counts))
	out.Merge(t.counts)
	return out
}

// Worker performs one kind of repeated operation against a collection.
type Worker interface {
	Name() string
	// Step performs one unit of work. A returned error ends the worker.
	Step(ctx context.Context) error
	Counters() Counters
	// Close releases resources such as request generators.
	Close()
}

// Result is the final tally a worker hands off when it stops.
type Result struct {
	Worker   string
	Counters Counters
}

// Run steps w until stop is raised, then sends its counters on results
// exactly once. If a step fails the error is logged and returned and nothing
// is sent, so the failed worker contributes no counts.
func Run(ctx context.Context, w Worker, stop *StopSignal, results chan<- Result) error {
	defer w.Close()

	grip.Debug(message.Fields{
		"message": "starting worker",
		"worker":  w.Name(),
	})
	for !stop.Raised() {
		if err := w.Step(ctx); err != nil {
			err = errors.Wrapf(err, "worker %s", w.Name())
			grip.Error(message.WrapError(err, message.Fields{
				"message": "worker terminated",
				"worker":  w.Name(),
			}))
			return err
		}
	}

	results <- Result{Worker: w.Name(), Counters: w.Counters()}
	grip.Debug(message.Fields{
		"message": "stopped worker",
		"worker":  w.Name(),
	})
	return nil
}

// base carries what every worker variant shares.
type base struct {
	name   string
	schema *schema.Schema
	tally  *Tally
}

func newBase(kind string, s *schema.Schema, id int, tally *Tally) base {
	if tally == nil {
		tally = NewTally(nil)
	}
	return base{
		name:   fmt.Sprintf("%s(%s)#%d", kind, s.Name(), id),
		schema: s,
		tally:  tally,
	}
}

func (b *base) Name() string       { return b.name }
func (b *base) Counters() Counters { return b.tally.Counters() }
func (b *base) Close()             {}
