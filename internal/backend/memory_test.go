package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type doc struct {
	ID int64 `bson:"_id"`
	A  int64 `bson:"a"`
	B  int64 `bson:"b"`
}

func seeded(t *testing.T, n int64) CollectionAPI {
	coll := NewMemory().Database("test").Collection("coll0")
	docs := make([]bson.D, 0, n)
	for i := int64(0); i < n; i++ {
		docs = append(docs, bson.D{{Key: "_id", Value: i}, {Key: "a", Value: int64(0)}, {Key: "b", Value: int64(0)}})
	}
	require.NoError(t, coll.InsertMany(context.Background(), docs))
	return coll
}

func decodeAll(t *testing.T, cursor Cursor) []doc {
	ctx := context.Background()
	defer cursor.Close(ctx)

	var out []doc
	for cursor.Next(ctx) {
		var d doc
		require.NoError(t, cursor.Decode(&d))
		out = append(out, d)
	}
	require.NoError(t, cursor.Err())
	return out
}

func TestMemoryHandlesAreShared(t *testing.T) {
	mem := NewMemory()
	assert.Same(t, mem.Database("x"), mem.Database("x"))
	assert.Same(t, mem.Database("x").Collection("c"), mem.Database("x").Collection("c"))
	assert.Equal(t, "x.c", mem.Database("x").Collection("c").FullName())
}

func TestMemoryInsertRejectsDuplicates(t *testing.T) {
	coll := seeded(t, 3)
	err := coll.InsertMany(context.Background(), []bson.D{{{Key: "_id", Value: int64(1)}}})
	assert.Error(t, err)

	err = coll.InsertMany(context.Background(), []bson.D{{{Key: "a", Value: int64(1)}}})
	assert.Error(t, err)
}

func TestMemoryFindAllIsOrdered(t *testing.T) {
	cursor, err := seeded(t, 20).FindAll(context.Background())
	require.NoError(t, err)

	docs := decodeAll(t, cursor)
	require.Len(t, docs, 20)
	for i, d := range docs {
		assert.EqualValues(t, i, d.ID)
	}
}

func TestMemoryUpdateByIDs(t *testing.T) {
	ctx := context.Background()
	coll := seeded(t, 10)
	inc := bson.D{{Key: "a", Value: int64(5)}, {Key: "b", Value: int64(-2)}}

	require.NoError(t, coll.UpdateByIDs(ctx, []int64{1, 3, 42}, inc))
	require.NoError(t, coll.UpdateByIDs(ctx, []int64{3}, inc))

	cursor, err := coll.FindByIDs(ctx, []int64{1, 2, 3, 42})
	require.NoError(t, err)
	docs := decodeAll(t, cursor)
	require.Len(t, docs, 3)
	assert.Equal(t, doc{ID: 1, A: 5, B: -2}, docs[0])
	assert.Equal(t, doc{ID: 2}, docs[1])
	assert.Equal(t, doc{ID: 3, A: 10, B: -4}, docs[2])

	assert.Error(t, coll.UpdateByIDs(ctx, []int64{1}, bson.D{{Key: "a", Value: 1.5}}))
}

func TestMemoryDropAndIndexes(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	db := mem.Database("test")
	coll := db.Collection("coll0").(*MemoryCollection)
	require.NoError(t, coll.InsertMany(ctx, []bson.D{{{Key: "_id", Value: int64(1)}}}))
	require.NoError(t, coll.CreateIndex(ctx, bson.D{{Key: "a", Value: 1}}, "a_1"))
	require.NoError(t, coll.CreateIndex(ctx, bson.D{{Key: "a", Value: 1}}, "a_1"))

	n, err := coll.IndexCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.Drop(ctx))
	count, err := coll.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	n, err = coll.IndexCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, coll.Drops())
}

func TestMemoryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coll := seeded(t, 2)

	assert.Error(t, coll.InsertMany(ctx, []bson.D{{{Key: "_id", Value: int64(9)}}}))
	assert.Error(t, coll.UpdateByIDs(ctx, []int64{0}, bson.D{{Key: "a", Value: int64(1)}}))
	_, err := coll.FindAll(ctx)
	assert.Error(t, err)
}

func TestCursorDecodeBeforeNext(t *testing.T) {
	cursor, err := seeded(t, 1).FindAll(context.Background())
	require.NoError(t, err)
	var d doc
	assert.Error(t, cursor.Decode(&d))
}

func TestIDsFilter(t *testing.T) {
	filter := idsFilter([]int64{4, 2})
	require.Len(t, filter, 1)
	assert.Equal(t, "_id", filter[0].Key)
	assert.Equal(t, bson.D{{Key: "$in", Value: []int64{4, 2}}}, filter[0].Value)
}

func TestMemoryFindIDRange(t *testing.T) {
	ctx := context.Background()
	coll := seeded(t, 10)

	cursor, err := coll.FindIDRange(ctx, 3, 7)
	require.NoError(t, err)
	docs := decodeAll(t, cursor)
	require.Len(t, docs, 4)
	for i, d := range docs {
		assert.EqualValues(t, 3+i, d.ID)
	}

	cursor, err = coll.FindIDRange(ctx, 8, 20)
	require.NoError(t, err)
	assert.Len(t, decodeAll(t, cursor), 2)
}

func TestMemoryReplaceByID(t *testing.T) {
	ctx := context.Background()
	coll := seeded(t, 3)
	replacement := func(id, a int64) bson.D {
		return bson.D{{Key: "_id", Value: id}, {Key: "a", Value: a}}
	}

	require.NoError(t, coll.ReplaceByID(ctx, 1, replacement(1, 7), false))
	require.NoError(t, coll.ReplaceByID(ctx, 5, replacement(5, 9), false))
	count, err := coll.CountDocuments(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count, "no upsert leaves missing documents missing")

	require.NoError(t, coll.ReplaceByID(ctx, 5, replacement(5, 9), true))
	cursor, err := coll.FindByIDs(ctx, []int64{1, 5})
	require.NoError(t, err)
	assert.Equal(t, []doc{{ID: 1, A: 7}, {ID: 5, A: 9}}, decodeAll(t, cursor))

	assert.Error(t, coll.ReplaceByID(ctx, 2, replacement(3, 0), true))
}
