package workload

import (
	"context"

	"github.com/idealo/mongodb-stress/internal/chunk"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
)

const PointQueriesCounter = "ptqueries"

// PointQuery looks up a batch of distinct documents by identity per step.
type PointQuery struct {
	base
	batch int
	ids   *chunk.Pipeline[int64]
}

func NewPointQuery(ctx context.Context, s *schema.Schema, conf config.PointQueryConfig, id int, tally *Tally) *PointQuery {
	docs := s.Options().Documents
	q := &PointQuery{
		base:  newBase("ptquery", s, id, tally),
		batch: min(conf.Batch, docs),
	}
	rnd := NewRandomizer()
	q.ids = chunk.Start(ctx, func(yield func(int64) bool) {
		if q.batch < 1 {
			return
		}
		for {
			for _, id := range rnd.SampleIDs(docs, q.batch) {
				if !yield(id) {
					return
				}
			}
		}
	}, max(q.batch, 1))
	return q
}

func (q *PointQuery) Step(ctx context.Context) error {
	ids, ok := q.ids.Next(ctx)
	if !ok {
		return errors.New("point query generator stopped")
	}
	cursor, err := q.schema.Collection().FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if _, err = sumA(ctx, cursor); err != nil {
		return errors.Wrapf(err, "querying '%s'", q.schema.Name())
	}
	q.tally.Inc(PointQueriesCounter, int64(len(ids)))
	return nil
}

func (q *PointQuery) Close() {
	q.ids.Close()
}
