// Package schema describes the documents and indexes of a stress collection
// and knows how to create, fill and drop them.
package schema

import (
	"context"
	"iter"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/chunk"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"go.mongodb.org/mongo-driver/bson"
)

// PaddingField holds the padding payload of every document.
const PaddingField = "pad"

// Options is the document shape of a collection.
type Options struct {
	Fields          int
	Indexes         int
	Documents       int
	Padding         int
	Compressibility float64
	FillBatch       int
}

// Validate reports shapes that can never be realized.
func (o Options) Validate() error {
	if o.Fields < 1 || o.Fields > MaxFields {
		return configErrorf("field count %d is outside [1, %d]", o.Fields, MaxFields)
	}
	if o.Indexes < 0 {
		return configErrorf("index count %d is negative", o.Indexes)
	}
	if need := RequiredFields(o.Indexes); o.Indexes > 0 && need > o.Fields {
		return configErrorf("%d indexes need %d fields but only %d are configured", o.Indexes, need, o.Fields)
	}
	if o.Documents < 0 || o.Padding < 0 {
		return configErrorf("document count and padding must not be negative")
	}
	if o.Compressibility < 0 || o.Compressibility > 1 {
		return configErrorf("compressibility %g is outside [0, 1]", o.Compressibility)
	}
	return nil
}

// Schema is a collection that understands the stress document shape.
type Schema struct {
	coll    backend.CollectionAPI
	opts    Options
	fields  []string
	indexes []IndexSpec
}

// New derives the index set for coll up front so that configuration errors
// surface before any backend call.
func New(coll backend.CollectionAPI, opts Options) (*Schema, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.FillBatch < 1 {
		opts.FillBatch = 100000
	}
	s := &Schema{
		coll:   coll,
		opts:   opts,
		fields: FieldNames(opts.Fields),
	}
	for i := 0; i < opts.Indexes; i++ {
		spec, err := IndexKey(i, opts.Fields)
		if err != nil {
			return nil, err
		}
		s.indexes = append(s.indexes, spec)
	}
	return s, nil
}

func (s *Schema) Name() string                      { return s.coll.FullName() }
func (s *Schema) Collection() backend.CollectionAPI { return s.coll }
func (s *Schema) Options() Options                  { return s.opts }
func (s *Schema) Fields() []string                  { return s.fields }
func (s *Schema) Indexes() []IndexSpec              { return s.indexes }

// EnsureIndexes creates every configured index. Creating an index that
// already exists is a no-op, so this is safe to repeat and must be repeated
// after Drop.
func (s *Schema) EnsureIndexes(ctx context.Context) error {
	for _, spec := range s.indexes {
		grip.Debug(message.Fields{
			"message":    "creating index",
			"collection": s.Name(),
			"index":      spec.Name(),
		})
		if err := s.coll.CreateIndex(ctx, spec.Keys(), spec.Name()); err != nil {
			return errors.Wrapf(err, "ensuring indexes on '%s'", s.Name())
		}
	}
	return nil
}

// Drop removes all documents and indexes.
func (s *Schema) Drop(ctx context.Context) error {
	return errors.Wrapf(s.coll.Drop(ctx), "dropping '%s'", s.Name())
}

// Padding returns a payload whose first Compressibility*Padding bytes are
// zero and the rest random.
func (s *Schema) Padding(rnd *rand.Rand) []byte {
	pad := make([]byte, s.opts.Padding)
	zeros := int(float64(s.opts.Padding) * s.opts.Compressibility)
	rnd.Read(pad[zeros:])
	return pad
}

// ZeroDocument returns document id with every field set to zero.
func (s *Schema) ZeroDocument(id int64, rnd *rand.Rand) bson.D {
	doc := make(bson.D, 0, len(s.fields)+2)
	doc = append(doc, bson.E{Key: "_id", Value: id})
	for _, f := range s.fields {
		doc = append(doc, bson.E{Key: f, Value: int64(0)})
	}
	return append(doc, bson.E{Key: PaddingField, Value: s.Padding(rnd)})
}

func (s *Schema) documents(seed int64) iter.Seq[bson.D] {
	return func(yield func(bson.D) bool) {
		rnd := rand.New(rand.NewSource(seed))
		for i := 0; i < s.opts.Documents; i++ {
			if !yield(s.ZeroDocument(int64(i), rnd)) {
				return
			}
		}
	}
}

// PaddingRatio compresses a sample padding payload and returns the
// compressed size as a fraction of the raw size.
func (s *Schema) PaddingRatio() float64 {
	if s.opts.Padding == 0 {
		return 1
	}
	pad := s.Padding(rand.New(rand.NewSource(time.Now().UnixNano())))
	buf := make([]byte, lz4.CompressBlockBound(len(pad)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(pad, buf, hashTable[:])
	if err != nil || n == 0 {
		// incompressible
		return 1
	}
	return float64(n) / float64(len(pad))
}

// Fill inserts documents 0 through Documents-1 and marks each inserted batch
// on inserted, which may be nil. Generation runs ahead of the inserts on a
// separate goroutine. If Fill fails the collection holds an unspecified
// subset of the documents.
func (s *Schema) Fill(ctx context.Context, inserted metrics.Meter) error {
	if inserted == nil {
		inserted = metrics.NilMeter{}
	}
	grip.Info(message.Fields{
		"message":       "filling collection",
		"collection":    s.Name(),
		"documents":     humanize.Comma(int64(s.opts.Documents)),
		"padding":       humanize.Bytes(uint64(s.opts.Padding)),
		"padding_ratio": s.PaddingRatio(),
	})

	p := chunk.Start(ctx, s.documents(time.Now().UnixNano()), s.opts.FillBatch)
	defer p.Close()

	done := 0
	for batch := range p.All(ctx) {
		if err := s.coll.InsertMany(ctx, batch); err != nil {
			return errors.Wrapf(err, "filling '%s' after %d documents", s.Name(), done)
		}
		done += len(batch)
		inserted.Mark(int64(len(batch)))
		grip.Debug(message.Fields{
			"message":    "fill progress",
			"collection": s.Name(),
			"inserted":   done,
			"total":      s.opts.Documents,
		})
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "filling '%s' interrupted after %d documents", s.Name(), done)
	}
	return nil
}
