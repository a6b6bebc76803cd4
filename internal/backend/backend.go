// Package backend is the capability set the stress harness needs from a
// document store, with a MongoDB implementation and an in-memory one.
package backend

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Client is a connection to a document store.
type Client interface {
	Database(name string) Database
	Disconnect(ctx context.Context) error
}

// Database is a named group of collections.
type Database interface {
	Name() string
	Collection(name string) CollectionAPI
	Drop(ctx context.Context) error
}

// CollectionAPI defines the collection operations the workloads issue,
// allowing the harness to run against MongoDB, the in-memory store or a mock.
type CollectionAPI interface {
	Name() string
	FullName() string

	CreateIndex(ctx context.Context, keys bson.D, name string) error
	// IndexCount returns the number of secondary indexes, not counting _id.
	IndexCount(ctx context.Context) (int, error)
	Drop(ctx context.Context) error

	// InsertMany inserts documents that already carry their _id.
	InsertMany(ctx context.Context, docs []bson.D) error
	FindAll(ctx context.Context) (Cursor, error)
	FindByIDs(ctx context.Context, ids []int64) (Cursor, error)
	// FindIDRange returns the documents with from <= _id < to in _id order.
	FindIDRange(ctx context.Context, from, to int64) (Cursor, error)
	// ReplaceByID replaces document id with doc. With upsert set a missing
	// document is inserted.
	ReplaceByID(ctx context.Context, id int64, doc bson.D, upsert bool) error
	// UpdateByIDs applies inc as a $inc to every document in ids.
	UpdateByIDs(ctx context.Context, ids []int64, inc bson.D) error
	CountDocuments(ctx context.Context) (int64, error)
}

// Cursor iterates over query results. *mongo.Cursor satisfies it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}
