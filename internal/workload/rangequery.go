package workload

import (
	"context"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	RangeQueriesCounter = "rgqueries"
	// RangeBytesCounter counts the BSON bytes range queries read back.
	RangeBytesCounter = "rgquery_bytes"
)

// RangeQuery reads stride consecutive documents from a random starting
// identity per step.
type RangeQuery struct {
	base
	stride int
	rnd    *Randomizer
}

// NewRangeQuery caps the stride at the number of documents.
func NewRangeQuery(s *schema.Schema, conf config.RangeQueryConfig, id int, tally *Tally) *RangeQuery {
	return &RangeQuery{
		base:   newBase("rgquery", s, id, tally),
		stride: min(conf.Stride, s.Options().Documents),
		rnd:    NewRandomizer(),
	}
}

func (q *RangeQuery) Step(ctx context.Context) error {
	if q.stride < 1 {
		return errors.New("range query needs a positive stride over a non-empty collection")
	}
	from := q.rnd.RangeStart(q.schema.Options().Documents, q.stride)
	cursor, err := q.schema.Collection().FindIDRange(ctx, from, from+int64(q.stride))
	if err != nil {
		return err
	}
	n, err := rawBytes(ctx, cursor)
	if err != nil {
		return errors.Wrapf(err, "range querying '%s'", q.schema.Name())
	}
	q.tally.Inc(RangeQueriesCounter, 1)
	q.tally.Inc(RangeBytesCounter, n)
	return nil
}

// rawBytes drains the cursor and returns the total size of the documents it
// produced.
func rawBytes(ctx context.Context, cursor backend.Cursor) (int64, error) {
	defer cursor.Close(ctx)

	var total int64
	for cursor.Next(ctx) {
		var raw bson.Raw
		if err := cursor.Decode(&raw); err != nil {
			return total, errors.Wrap(err, "decoding document")
		}
		total += int64(len(raw))
	}
	return total, errors.Wrap(cursor.Err(), "iterating cursor")
}
