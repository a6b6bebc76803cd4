// Package chunk turns a lazy item sequence into fixed-size batches generated
// ahead of the consumer on a separate goroutine.
package chunk

import (
	"context"
	"iter"
)

// Depth is the number of batches buffered between producer and consumer.
const Depth = 3

// Pipeline delivers batches of at most Size() items whose concatenation equals
// the source sequence. Only the final batch may be short. A slow consumer
// blocks the producer once Depth batches are waiting.
type Pipeline[T any] struct {
	size    int
	batches chan []T
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches the producer for seq. The producer stops when the sequence
// ends, when ctx is cancelled, or when Close is called.
func Start[T any](ctx context.Context, seq iter.Seq[T], size int) *Pipeline[T] {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline[T]{
		size:    size,
		batches: make(chan []T, Depth),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.produce(ctx, seq)
	return p
}

// Size is the number of items in every batch but the last.
func (p *Pipeline[T]) Size() int { return p.size }

func (p *Pipeline[T]) produce(ctx context.Context, seq iter.Seq[T]) {
	defer close(p.done)
	defer close(p.batches)

	send := func(batch []T) bool {
		select {
		case p.batches <- batch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	batch := make([]T, 0, p.size)
	for item := range seq {
		if ctx.Err() != nil {
			return
		}
		batch = append(batch, item)
		if len(batch) == p.size {
			if !send(batch) {
				return
			}
			batch = make([]T, 0, p.size)
		}
	}
	if len(batch) > 0 {
		send(batch)
	}
}

// Next returns the next batch. It returns false once the sequence is
// exhausted and every batch has been consumed, or when ctx is done.
func (p *Pipeline[T]) Next(ctx context.Context) ([]T, bool) {
	select {
	case batch, ok := <-p.batches:
		return batch, ok
	case <-ctx.Done():
		return nil, false
	}
}

// All ranges over the remaining batches.
func (p *Pipeline[T]) All(ctx context.Context) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		for {
			batch, ok := p.Next(ctx)
			if !ok || !yield(batch) {
				return
			}
		}
	}
}

// Close stops generation and waits for the producer to exit. Batches already
// buffered can still be read with Next. Close is safe to call more than once.
func (p *Pipeline[T]) Close() {
	p.cancel()
	<-p.done
}
