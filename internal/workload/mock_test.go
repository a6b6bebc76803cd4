package workload

import (
	"context"

	"github.com/idealo/mongodb-stress/internal/backend"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) Name() string     { return "coll0" }
func (m *MockCollection) FullName() string { return "mock.coll0" }

func (m *MockCollection) CreateIndex(ctx context.Context, keys bson.D, name string) error {
	args := m.Called(ctx, keys, name)
	return args.Error(0)
}

func (m *MockCollection) IndexCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockCollection) Drop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCollection) InsertMany(ctx context.Context, docs []bson.D) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

func (m *MockCollection) FindAll(ctx context.Context) (backend.Cursor, error) {
	args := m.Called(ctx)
	cursor, _ := args.Get(0).(backend.Cursor)
	return cursor, args.Error(1)
}

func (m *MockCollection) FindByIDs(ctx context.Context, ids []int64) (backend.Cursor, error) {
	args := m.Called(ctx, ids)
	cursor, _ := args.Get(0).(backend.Cursor)
	return cursor, args.Error(1)
}

func (m *MockCollection) FindIDRange(ctx context.Context, from, to int64) (backend.Cursor, error) {
	args := m.Called(ctx, from, to)
	cursor, _ := args.Get(0).(backend.Cursor)
	return cursor, args.Error(1)
}

func (m *MockCollection) ReplaceByID(ctx context.Context, id int64, doc bson.D, upsert bool) error {
	args := m.Called(ctx, id, doc, upsert)
	return args.Error(0)
}

func (m *MockCollection) UpdateByIDs(ctx context.Context, ids []int64, inc bson.D) error {
	args := m.Called(ctx, ids, inc)
	return args.Error(0)
}

func (m *MockCollection) CountDocuments(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
