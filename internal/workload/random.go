package workload

import (
	"math/rand"
	"time"

	"github.com/idealo/mongodb-stress/internal/schema"
	"go.mongodb.org/mongo-driver/bson"
)

// Bounds of the random field increments applied by update workers.
const (
	MinValue = -1000000
	MaxValue = 1000000
)

// Randomizer is a seeded random source owned by a single goroutine.
type Randomizer struct {
	rnd *rand.Rand
}

// NewRandomizer initializes a new Randomizer instance with a seeded random number generator.
func NewRandomizer() *Randomizer {
	return NewSeededRandomizer(time.Now().UnixNano())
}

func NewSeededRandomizer(seed int64) *Randomizer {
	return &Randomizer{rnd: rand.New(rand.NewSource(seed))}
}

// SampleIDs returns k distinct identities drawn uniformly from [0, n). If k
// exceeds n all n identities are returned in random order.
func (r *Randomizer) SampleIDs(n, k int) []int64 {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	// Floyd's algorithm: k draws, no rejection loop, O(k) memory.
	chosen := make(map[int64]struct{}, k)
	ids := make([]int64, 0, k)
	for j := n - k; j < n; j++ {
		t := int64(r.rnd.Intn(j + 1))
		if _, ok := chosen[t]; ok {
			t = int64(j)
		}
		chosen[t] = struct{}{}
		ids = append(ids, t)
	}
	r.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

func (r *Randomizer) value() int64 {
	return int64(MinValue + r.rnd.Intn(MaxValue-MinValue+1))
}

// Increment returns a $inc document with every field drawn uniformly from
// [MinValue, MaxValue].
func (r *Randomizer) Increment(fields []string) bson.D {
	inc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		inc = append(inc, bson.E{Key: f, Value: r.value()})
	}
	return inc
}

// Document returns a whole document of s with a uniform identity in
// [0, Documents), every field in [MinValue, MaxValue] and fresh padding.
func (r *Randomizer) Document(s *schema.Schema) (int64, bson.D) {
	id := int64(r.rnd.Intn(s.Options().Documents))
	doc := make(bson.D, 0, len(s.Fields())+2)
	doc = append(doc, bson.E{Key: "_id", Value: id})
	for _, f := range s.Fields() {
		doc = append(doc, bson.E{Key: f, Value: r.value()})
	}
	return id, append(doc, bson.E{Key: schema.PaddingField, Value: s.Padding(r.rnd)})
}

// RangeStart returns the first identity of a run of width consecutive
// identities inside [0, n).
func (r *Randomizer) RangeStart(n, width int) int64 {
	return int64(r.rnd.Intn(n - width + 1))
}
