package workload

import (
	"context"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
)

const ScansCounter = "scans"

// Scanner traverses the whole collection once per step.
type Scanner struct {
	base
}

func NewScanner(s *schema.Schema, id int, tally *Tally) *Scanner {
	return &Scanner{base: newBase("scan", s, id, tally)}
}

func (w *Scanner) Step(ctx context.Context) error {
	cursor, err := w.schema.Collection().FindAll(ctx)
	if err != nil {
		return err
	}
	if _, err = sumA(ctx, cursor); err != nil {
		return errors.Wrapf(err, "scanning '%s'", w.schema.Name())
	}
	w.tally.Inc(ScansCounter, 1)
	return nil
}

// sumA adds up field "a" of every document under the cursor and closes it.
// Without the sum a driver could skip materializing the documents.
func sumA(ctx context.Context, cursor backend.Cursor) (int64, error) {
	defer cursor.Close(ctx)

	var sum int64
	for cursor.Next(ctx) {
		var doc struct {
			A int64 `bson:"a"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return sum, errors.Wrap(err, "decoding document")
		}
		sum += doc.A
	}
	return sum, errors.Wrap(cursor.Err(), "iterating cursor")
}
