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

const UpdatesCounter = "updates"

type updateRequest struct {
	id  int64
	inc bson.D
}

// Updater applies one random increment to a batch of distinct documents per
// step. The increments are not invariant-preserving: field values drift
// without bound over a long run.
type Updater struct {
	base
	batch    int
	requests *chunk.Pipeline[updateRequest]
}

// NewUpdater starts the request generator for an update worker. The batch is
// capped at the number of documents.
func NewUpdater(ctx context.Context, s *schema.Schema, conf config.UpdateConfig, id int, tally *Tally) *Updater {
	docs := s.Options().Documents
	batch := min(conf.Batch, docs)
	u := &Updater{
		base:  newBase("update", s, id, tally),
		batch: batch,
	}
	u.requests = chunk.Start(ctx, u.generate(NewRandomizer(), docs), max(batch, 1))
	return u
}

// generate yields the requests of one batch after another. Every run of
// batch requests shares one increment and has distinct identities, and the
// pipeline slices it back into exactly those runs.
func (u *Updater) generate(rnd *Randomizer, docs int) iter.Seq[updateRequest] {
	fields := u.schema.Fields()
	return func(yield func(updateRequest) bool) {
		if u.batch < 1 {
			return
		}
		for {
			inc := rnd.Increment(fields)
			for _, id := range rnd.SampleIDs(docs, u.batch) {
				if !yield(updateRequest{id: id, inc: inc}) {
					return
				}
			}
		}
	}
}

func (u *Updater) Step(ctx context.Context) error {
	reqs, ok := u.requests.Next(ctx)
	if !ok {
		return errors.New("update request generator stopped")
	}
	ids := make([]int64, len(reqs))
	for i, r := range reqs {
		ids[i] = r.id
	}
	if err := u.schema.Collection().UpdateByIDs(ctx, ids, reqs[0].inc); err != nil {
		return err
	}
	u.tally.Inc(UpdatesCounter, int64(len(ids)))
	return nil
}

func (u *Updater) Close() {
	u.requests.Close()
}
