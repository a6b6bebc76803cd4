package workload

import (
	"context"
	"iter"

	"github.com/idealo/mongodb-stress/internal/chunk"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const SavesCounter = "saves"

type saveRequest struct {
	id  int64
	doc bson.D
}

// Saver overwrites random documents with freshly generated ones, one upsert
// per document. Identities may repeat within a batch.
type Saver struct {
	base
	requests *chunk.Pipeline[saveRequest]
}

func NewSaver(ctx context.Context, s *schema.Schema, conf config.SaveConfig, id int, tally *Tally) *Saver {
	w := &Saver{base: newBase("save", s, id, tally)}
	w.requests = chunk.Start(ctx, w.generate(NewRandomizer()), conf.Batch)
	return w
}

func (w *Saver) generate(rnd *Randomizer) iter.Seq[saveRequest] {
	return func(yield func(saveRequest) bool) {
		if w.schema.Options().Documents < 1 {
			return
		}
		for {
			id, doc := rnd.Document(w.schema)
			if !yield(saveRequest{id: id, doc: doc}) {
				return
			}
		}
	}
}

func (w *Saver) Step(ctx context.Context) error {
	reqs, ok := w.requests.Next(ctx)
	if !ok {
		return errors.New("save request generator stopped")
	}
	coll := w.schema.Collection()
	for _, r := range reqs {
		if err := coll.ReplaceByID(ctx, r.id, r.doc, true); err != nil {
			return err
		}
	}
	w.tally.Inc(SavesCounter, int64(len(reqs)))
	return nil
}

func (w *Saver) Close() {
	w.requests.Close()
}
