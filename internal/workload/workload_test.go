package workload

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/idealo/mongodb-stress/internal/config"
	"github.com/idealo/mongodb-stress/internal/schema"
	"github.com/pkg/errors"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func filledSchema(t *testing.T, opts schema.Options) (*schema.Schema, *backend.MemoryCollection) {
	ctx := context.Background()
	coll := backend.NewMemory().Database("stress_test").Collection("coll0")
	s, err := schema.New(coll, opts)
	require.NoError(t, err)
	require.NoError(t, s.EnsureIndexes(ctx))
	require.NoError(t, s.Fill(ctx, nil))
	return s, coll.(*backend.MemoryCollection)
}

func smallOptions(docs int) schema.Options {
	return schema.Options{Fields: 2, Indexes: 1, Documents: docs, Padding: 16, Compressibility: 0.5, FillBatch: 50}
}

func changedDocuments(t *testing.T, coll backend.CollectionAPI) int {
	ctx := context.Background()
	cursor, err := coll.FindAll(ctx)
	require.NoError(t, err)
	defer cursor.Close(ctx)

	changed := 0
	for cursor.Next(ctx) {
		var doc struct {
			A int64 `bson:"a"`
			B int64 `bson:"b"`
		}
		require.NoError(t, cursor.Decode(&doc))
		if doc.A != 0 || doc.B != 0 {
			changed++
		}
	}
	return changed
}

func TestSampleIDs(t *testing.T) {
	r := NewSeededRandomizer(42)
	for _, test := range []struct{ n, k, expected int }{
		{n: 100, k: 10, expected: 10},
		{n: 10, k: 10, expected: 10},
		{n: 5, k: 10, expected: 5},
		{n: 1 << 20, k: 50, expected: 50},
		{n: 10, k: 0, expected: 0},
	} {
		for i := 0; i < 100; i++ {
			ids := r.SampleIDs(test.n, test.k)
			require.Len(t, ids, test.expected)
			seen := map[int64]bool{}
			for _, id := range ids {
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
				assert.GreaterOrEqual(t, id, int64(0))
				assert.Less(t, id, int64(test.n))
			}
		}
	}
}

func TestSampleIDsCoversRange(t *testing.T) {
	r := NewSeededRandomizer(7)
	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		for _, id := range r.SampleIDs(20, 3) {
			seen[id] = true
		}
	}
	assert.Len(t, seen, 20)
}

func TestIncrement(t *testing.T) {
	r := NewSeededRandomizer(1)
	for i := 0; i < 1000; i++ {
		inc := r.Increment([]string{"a", "b", "c"})
		require.Len(t, inc, 3)
		assert.Equal(t, "a", inc[0].Key)
		for _, e := range inc {
			v := e.Value.(int64)
			assert.GreaterOrEqual(t, v, int64(MinValue))
			assert.LessOrEqual(t, v, int64(MaxValue))
		}
	}
}

func TestStopSignal(t *testing.T) {
	s := NewStopSignal()
	assert.False(t, s.Raised())
	s.Raise()
	s.Raise()
	assert.True(t, s.Raised())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Raise")
	}
}

func TestTally(t *testing.T) {
	registry := metrics.NewRegistry()
	defer registry.UnregisterAll()

	tally := NewTally(registry)
	tally.Inc("updates", 10)
	tally.Inc("updates", 5)
	tally.Inc("scans", 1)

	counts := tally.Counters()
	assert.Equal(t, Counters{"updates": 15, "scans": 1}, counts)
	counts["updates"] = 0
	assert.EqualValues(t, 15, tally.Counters()["updates"], "Counters returns a copy")
	assert.EqualValues(t, 15, metrics.GetOrRegisterMeter("updates", registry).Count())
}

// lookupCounter counts how often meters are looked up by name.
type lookupCounter struct {
	metrics.Registry
	lookups int
}

func (r *lookupCounter) GetOrRegister(name string, i interface{}) interface{} {
	r.lookups++
	return r.Registry.GetOrRegister(name, i)
}

func TestTallyCachesMeters(t *testing.T) {
	registry := &lookupCounter{Registry: metrics.NewRegistry()}
	defer registry.UnregisterAll()

	tally := NewTally(registry)
	for i := 0; i < 100; i++ {
		tally.Inc("updates", 1)
		tally.Inc("scans", 1)
	}
	assert.Equal(t, 2, registry.lookups)
	assert.EqualValues(t, 100, metrics.GetOrRegisterMeter("updates", registry.Registry).Count())

	unmetered := NewTally(nil)
	unmetered.Inc("scans", 1)
	assert.Equal(t, Counters{"scans": 1}, unmetered.Counters())
}

func TestCountersMerge(t *testing.T) {
	total := Counters{"updates": 10}
	total.Merge(Counters{"updates": 20, "scans": 2})
	total.Merge(nil)
	assert.Equal(t, Counters{"updates": 30, "scans": 2}, total)
}

func TestUpdaterStep(t *testing.T) {
	ctx := context.Background()
	s, coll := filledSchema(t, smallOptions(100))
	u := NewUpdater(ctx, s, config.UpdateConfig{Threads: 1, Batch: 10}, 0, nil)
	defer u.Close()

	require.NoError(t, u.Step(ctx))
	assert.Equal(t, Counters{UpdatesCounter: 10}, u.Counters())
	assert.Equal(t, 10, changedDocuments(t, coll))

	for i := 0; i < 5; i++ {
		require.NoError(t, u.Step(ctx))
	}
	assert.EqualValues(t, 60, u.Counters()[UpdatesCounter])
}

func TestUpdaterSelectsDistinctIdentities(t *testing.T) {
	ctx := context.Background()
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(20))
	require.NoError(t, err)

	var calls [][]int64
	var incs []bson.D
	coll.On("UpdateByIDs", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		calls = append(calls, args.Get(1).([]int64))
		incs = append(incs, args.Get(2).(bson.D))
	}).Return(nil)

	u := NewUpdater(ctx, s, config.UpdateConfig{Threads: 1, Batch: 20}, 0, nil)
	defer u.Close()
	for i := 0; i < 50; i++ {
		require.NoError(t, u.Step(ctx))
	}

	require.Len(t, calls, 50)
	for i, ids := range calls {
		require.Len(t, ids, 20)
		seen := map[int64]bool{}
		for _, id := range ids {
			assert.False(t, seen[id])
			seen[id] = true
		}
		assert.Len(t, incs[i], 2)
	}
	coll.AssertNumberOfCalls(t, "UpdateByIDs", 50)
}

func TestUpdaterBatchCappedAtDocuments(t *testing.T) {
	ctx := context.Background()
	s, coll := filledSchema(t, smallOptions(5))
	u := NewUpdater(ctx, s, config.UpdateConfig{Threads: 1, Batch: 10}, 0, nil)
	defer u.Close()

	require.NoError(t, u.Step(ctx))
	assert.EqualValues(t, 5, u.Counters()[UpdatesCounter])
	assert.Equal(t, 5, changedDocuments(t, coll))
}

func TestUpdaterWithoutDocumentsFails(t *testing.T) {
	ctx := context.Background()
	s, _ := filledSchema(t, smallOptions(0))
	u := NewUpdater(ctx, s, config.UpdateConfig{Threads: 1, Batch: 10}, 0, nil)
	defer u.Close()
	assert.Error(t, u.Step(ctx))
}

func TestScannerStep(t *testing.T) {
	ctx := context.Background()
	s, _ := filledSchema(t, smallOptions(100))
	w := NewScanner(s, 0, nil)
	defer w.Close()

	require.NoError(t, w.Step(ctx))
	require.NoError(t, w.Step(ctx))
	assert.Equal(t, Counters{ScansCounter: 2}, w.Counters())
}

func TestScannerSumsFieldA(t *testing.T) {
	ctx := context.Background()
	_, coll := filledSchema(t, smallOptions(10))
	require.NoError(t, coll.UpdateByIDs(ctx, []int64{1, 2, 3}, bson.D{{Key: "a", Value: int64(7)}}))

	cursor, err := coll.FindAll(ctx)
	require.NoError(t, err)
	sum, err := sumA(ctx, cursor)
	require.NoError(t, err)
	assert.EqualValues(t, 21, sum)
}

func TestPointQueryStep(t *testing.T) {
	ctx := context.Background()
	s, _ := filledSchema(t, smallOptions(100))
	q := NewPointQuery(ctx, s, config.PointQueryConfig{Threads: 1, Batch: 25}, 0, nil)
	defer q.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Step(ctx))
	}
	assert.Equal(t, Counters{PointQueriesCounter: 100}, q.Counters())
}

func TestPointQueryDistinctIdentities(t *testing.T) {
	ctx := context.Background()
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(30))
	require.NoError(t, err)

	empty, err := backend.NewMemory().Database("db").Collection("c").FindAll(ctx)
	require.NoError(t, err)

	var calls [][]int64
	coll.On("FindByIDs", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		calls = append(calls, args.Get(1).([]int64))
	}).Return(empty, nil)

	q := NewPointQuery(ctx, s, config.PointQueryConfig{Threads: 1, Batch: 30}, 0, nil)
	defer q.Close()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Step(ctx))
	}

	require.Len(t, calls, 10)
	for _, ids := range calls {
		require.Len(t, ids, 30)
		seen := map[int64]bool{}
		for _, id := range ids {
			assert.False(t, seen[id])
			seen[id] = true
		}
	}
	assert.EqualValues(t, 300, q.Counters()[PointQueriesCounter])
}

func TestDropperDropsAndRecreatesIndexes(t *testing.T) {
	ctx := context.Background()
	opts := smallOptions(10)
	opts.Indexes = 2
	s, coll := filledSchema(t, opts)

	d := NewDropper(s, config.DropConfig{Threads: 1, Period: 1}, 0, NewStopSignal(), nil)
	defer d.Close()

	start := time.Now()
	require.NoError(t, d.Step(ctx))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)

	assert.Equal(t, 1, coll.Drops())
	n, err := coll.IndexCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, d.Counters())
}

func TestDropperStopsPromptly(t *testing.T) {
	ctx := context.Background()
	s, coll := filledSchema(t, smallOptions(10))
	stop := NewStopSignal()
	d := NewDropper(s, config.DropConfig{Threads: 1, Period: 60}, 0, stop, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		stop.Raise()
	}()

	start := time.Now()
	require.NoError(t, d.Step(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, coll.Drops())
}

func TestRunDeliversCountersOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := filledSchema(t, smallOptions(50))
	stop := NewStopSignal()
	results := make(chan Result, 2)

	done := make(chan error)
	go func() {
		done <- Run(ctx, NewScanner(s, 3, nil), stop, results)
	}()
	time.Sleep(100 * time.Millisecond)
	stop.Raise()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	require.Len(t, results, 1)
	res := <-results
	assert.Equal(t, "scan(stress_test.coll0)#3", res.Worker)
	assert.Positive(t, res.Counters[ScansCounter])
}

func TestRunStoppedBeforeStart(t *testing.T) {
	s, _ := filledSchema(t, smallOptions(10))
	stop := NewStopSignal()
	stop.Raise()
	results := make(chan Result, 1)

	require.NoError(t, Run(context.Background(), NewScanner(s, 0, nil), stop, results))
	require.Len(t, results, 1)
	assert.Empty(t, (<-results).Counters)
}

func TestRunBackendErrorDeliversNothing(t *testing.T) {
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(10))
	require.NoError(t, err)
	coll.On("FindAll", mock.Anything).Return(nil, errors.New("connection reset"))

	results := make(chan Result, 1)
	err = Run(context.Background(), NewScanner(s, 0, nil), NewStopSignal(), results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "scan(mock.coll0)#0")
	assert.Empty(t, results)
}

func TestRegistry(t *testing.T) {
	conf := config.Defaults()
	conf.Update = config.UpdateConfig{Threads: 2, Batch: 5}
	conf.Save.Threads = 1
	conf.RangeQuery = config.RangeQueryConfig{Threads: 3, Stride: 7}
	conf.Drop.Threads = 1

	kinds := Registry(conf)
	var names []string
	threads := map[string]int{}
	for _, k := range kinds {
		names = append(names, k.Name)
		threads[k.Name] = k.Threads
	}
	assert.Equal(t, []string{"update", "save", "scan", "ptquery", "rgquery", "drop"}, names)
	assert.Equal(t, map[string]int{"update": 2, "save": 1, "scan": 0, "ptquery": 0, "rgquery": 3, "drop": 1}, threads)

	conf.Update.Batch = 500
	s, _ := filledSchema(t, smallOptions(100))
	w := kinds[0].New(context.Background(), s, 0, NewStopSignal(), nil)
	defer w.Close()
	u, ok := w.(*Updater)
	require.True(t, ok)
	assert.Equal(t, 5, u.batch, "tunables are bound when the registry is built")

	rq, ok := kinds[4].New(context.Background(), s, 0, NewStopSignal(), nil).(*RangeQuery)
	require.True(t, ok)
	assert.Equal(t, 7, rq.stride)
}

func TestDocument(t *testing.T) {
	opts := smallOptions(40)
	opts.Fields = 3
	s, err := schema.New(backend.NewMemory().Database("db").Collection("c"), opts)
	require.NoError(t, err)

	rnd := NewSeededRandomizer(7)
	for i := 0; i < 200; i++ {
		id, doc := rnd.Document(s)
		require.Len(t, doc, 5)
		assert.Equal(t, bson.E{Key: "_id", Value: id}, doc[0])
		assert.GreaterOrEqual(t, id, int64(0))
		assert.Less(t, id, int64(40))
		for j, f := range []string{"a", "b", "c"} {
			assert.Equal(t, f, doc[j+1].Key)
			v := doc[j+1].Value.(int64)
			assert.GreaterOrEqual(t, v, int64(MinValue))
			assert.LessOrEqual(t, v, int64(MaxValue))
		}
		pad := doc[4].Value.([]byte)
		require.Len(t, pad, 16)
		assert.Equal(t, make([]byte, 8), pad[:8])
	}
}

func TestRangeStart(t *testing.T) {
	rnd := NewSeededRandomizer(3)
	seen := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		start := rnd.RangeStart(10, 7)
		assert.GreaterOrEqual(t, start, int64(0))
		assert.LessOrEqual(t, start, int64(3))
		seen[start] = true
	}
	assert.Len(t, seen, 4)
	assert.Zero(t, rnd.RangeStart(5, 5))
}

func TestSaverStep(t *testing.T) {
	ctx := context.Background()
	s, coll := filledSchema(t, smallOptions(100))
	w := NewSaver(ctx, s, config.SaveConfig{Threads: 1, Batch: 10}, 0, nil)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Step(ctx))
	}
	assert.Equal(t, Counters{SavesCounter: 30}, w.Counters())

	n, err := coll.CountDocuments(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n, "saves replace existing identities")
	assert.Positive(t, changedDocuments(t, coll))
}

func TestSaverUpsertsMissingDocuments(t *testing.T) {
	ctx := context.Background()
	coll := backend.NewMemory().Database("stress_test").Collection("coll0")
	s, err := schema.New(coll, smallOptions(20))
	require.NoError(t, err)

	w := NewSaver(ctx, s, config.SaveConfig{Threads: 1, Batch: 5}, 0, nil)
	defer w.Close()
	require.NoError(t, w.Step(ctx))

	n, err := coll.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.LessOrEqual(t, n, int64(5))
}

func TestSaverIssuesOneUpsertPerDocument(t *testing.T) {
	ctx := context.Background()
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(50))
	require.NoError(t, err)

	var ids []int64
	coll.On("ReplaceByID", mock.Anything, mock.Anything, mock.Anything, true).Run(func(args mock.Arguments) {
		id := args.Get(1).(int64)
		doc := args.Get(2).(bson.D)
		assert.Equal(t, bson.E{Key: "_id", Value: id}, doc[0])
		ids = append(ids, id)
	}).Return(nil)

	w := NewSaver(ctx, s, config.SaveConfig{Threads: 1, Batch: 8}, 0, nil)
	defer w.Close()
	require.NoError(t, w.Step(ctx))
	require.NoError(t, w.Step(ctx))

	coll.AssertNumberOfCalls(t, "ReplaceByID", 16)
	for _, id := range ids {
		assert.Less(t, id, int64(50))
	}
	assert.EqualValues(t, 16, w.Counters()[SavesCounter])
}

func TestSaverBackendError(t *testing.T) {
	ctx := context.Background()
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(50))
	require.NoError(t, err)
	coll.On("ReplaceByID", mock.Anything, mock.Anything, mock.Anything, true).Return(errors.New("not primary"))

	w := NewSaver(ctx, s, config.SaveConfig{Threads: 1, Batch: 8}, 0, nil)
	defer w.Close()
	assert.Error(t, w.Step(ctx))
	assert.Empty(t, w.Counters())
}

func TestRangeQueryStep(t *testing.T) {
	ctx := context.Background()
	s, _ := filledSchema(t, smallOptions(100))
	q := NewRangeQuery(s, config.RangeQueryConfig{Threads: 1, Stride: 10}, 0, nil)
	defer q.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Step(ctx))
	}

	// Every filled document has the same encoded size.
	raw, err := bson.Marshal(s.ZeroDocument(0, rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	assert.Equal(t, Counters{
		RangeQueriesCounter: 5,
		RangeBytesCounter:   int64(5 * 10 * len(raw)),
	}, q.Counters())
}

func TestRangeQueryWindow(t *testing.T) {
	ctx := context.Background()
	coll := &MockCollection{}
	s, err := schema.New(coll, smallOptions(30))
	require.NoError(t, err)

	empty, err := backend.NewMemory().Database("db").Collection("c").FindAll(ctx)
	require.NoError(t, err)

	var windows [][2]int64
	coll.On("FindIDRange", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		windows = append(windows, [2]int64{args.Get(1).(int64), args.Get(2).(int64)})
	}).Return(empty, nil)

	q := NewRangeQuery(s, config.RangeQueryConfig{Threads: 1, Stride: 12}, 0, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Step(ctx))
	}
	require.Len(t, windows, 50)
	for _, w := range windows {
		assert.EqualValues(t, 12, w[1]-w[0])
		assert.GreaterOrEqual(t, w[0], int64(0))
		assert.LessOrEqual(t, w[1], int64(30))
	}

	capped := NewRangeQuery(s, config.RangeQueryConfig{Threads: 1, Stride: 100}, 1, nil)
	require.NoError(t, capped.Step(ctx))
	assert.Equal(t, [2]int64{0, 30}, windows[len(windows)-1], "stride is capped at the documents")
}
