package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-memory document store that implements Client. It supports
// exactly the operations the workloads issue and is meant for dry runs of the
// harness itself and for tests.
type Memory struct {
	mu  sync.Mutex
	dbs map[string]*MemoryDatabase
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{dbs: map[string]*MemoryDatabase{}}
}

func (m *Memory) Database(name string) Database {
	m.mu.Lock()
	defer m.mu.Unlock()

	db, ok := m.dbs[name]
	if !ok {
		db = &MemoryDatabase{name: name, colls: map[string]*MemoryCollection{}}
		m.dbs[name] = db
	}
	return db
}

func (m *Memory) Disconnect(context.Context) error { return nil }

// MemoryDatabase is a Database of a Memory store.
type MemoryDatabase struct {
	name  string
	mu    sync.Mutex
	colls map[string]*MemoryCollection
}

func (d *MemoryDatabase) Name() string { return d.name }

func (d *MemoryDatabase) Collection(name string) CollectionAPI {
	d.mu.Lock()
	defer d.mu.Unlock()

	coll, ok := d.colls[name]
	if !ok {
		coll = &MemoryCollection{
			db:      d.name,
			name:    name,
			docs:    map[int64]bson.M{},
			indexes: map[string]bson.D{},
		}
		d.colls[name] = coll
	}
	return coll
}

// Drop removes the contents of every collection. Collection handles stay
// valid, as they do with a real server.
func (d *MemoryDatabase) Drop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, coll := range d.colls {
		if err := coll.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MemoryCollection holds documents keyed by integer _id. A single lock per
// collection makes every $inc atomic per document.
type MemoryCollection struct {
	db   string
	name string

	mu      sync.RWMutex
	docs    map[int64]bson.M
	indexes map[string]bson.D
	drops   int
}

func (c *MemoryCollection) Name() string     { return c.name }
func (c *MemoryCollection) FullName() string { return c.db + "." + c.name }

// Drops returns how many times the collection has been dropped.
func (c *MemoryCollection) Drops() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drops
}

func (c *MemoryCollection) CreateIndex(ctx context.Context, keys bson.D, name string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "creating index '%s' on '%s'", name, c.FullName())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.indexes[name] = keys
	return nil
}

func (c *MemoryCollection) IndexCount(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indexes), nil
}

func (c *MemoryCollection) Drop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docs = map[int64]bson.M{}
	c.indexes = map[string]bson.D{}
	c.drops++
	return nil
}

// toMap copies doc into a map keyed by field name. It requires an integer _id.
func (c *MemoryCollection) toMap(doc bson.D) (bson.M, int64, error) {
	m := make(bson.M, len(doc))
	for _, e := range doc {
		m[e.Key] = e.Value
	}
	id, ok := m["_id"].(int64)
	if !ok {
		return nil, 0, errors.Errorf("document without integer _id written to '%s'", c.FullName())
	}
	return m, id, nil
}

func (c *MemoryCollection) InsertMany(ctx context.Context, docs []bson.D) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "inserting into '%s'", c.FullName())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range docs {
		m, id, err := c.toMap(doc)
		if err != nil {
			return err
		}
		if _, exists := c.docs[id]; exists {
			return errors.Errorf("duplicate key _id %d in '%s'", id, c.FullName())
		}
		c.docs[id] = m
	}
	return nil
}

func (c *MemoryCollection) FindAll(ctx context.Context) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning '%s'", c.FullName())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]int64, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return c.snapshot(ids), nil
}

func (c *MemoryCollection) FindByIDs(ctx context.Context, ids []int64) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "finding in '%s'", c.FullName())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(ids), nil
}

func (c *MemoryCollection) FindIDRange(ctx context.Context, from, to int64) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "finding range in '%s'", c.FullName())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []int64
	for id := range c.docs {
		if id >= from && id < to {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return c.snapshot(ids), nil
}

func (c *MemoryCollection) ReplaceByID(ctx context.Context, id int64, doc bson.D, upsert bool) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "replacing in '%s'", c.FullName())
	}
	m, docID, err := c.toMap(doc)
	if err != nil {
		return err
	}
	if docID != id {
		return errors.Errorf("replacement for _id %d carries _id %d in '%s'", id, docID, c.FullName())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[id]; exists || upsert {
		c.docs[id] = m
	}
	return nil
}

// snapshot copies the scalar fields of the matching documents; callers hold
// the read lock.
func (c *MemoryCollection) snapshot(ids []int64) *memoryCursor {
	docs := make([]bson.M, 0, len(ids))
	for _, id := range ids {
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		cp := make(bson.M, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		docs = append(docs, cp)
	}
	return &memoryCursor{docs: docs, pos: -1}
}

func (c *MemoryCollection) UpdateByIDs(ctx context.Context, ids []int64, inc bson.D) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "updating '%s'", c.FullName())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		for _, e := range inc {
			delta, ok := e.Value.(int64)
			if !ok {
				return errors.Errorf("cannot apply $inc with non-integer value for '%s'", e.Key)
			}
			cur, _ := doc[e.Key].(int64)
			doc[e.Key] = cur + delta
		}
	}
	return nil
}

func (c *MemoryCollection) CountDocuments(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.docs)), nil
}

type memoryCursor struct {
	docs []bson.M
	pos  int
}

func (c *memoryCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

// Decode round-trips the current document through BSON so that callers see
// the same decoding rules as with a real server.
func (c *memoryCursor) Decode(val interface{}) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return errors.New("cursor is not positioned on a document")
	}
	raw, err := bson.Marshal(c.docs[c.pos])
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	if out, ok := val.(*bson.Raw); ok {
		*out = raw
		return nil
	}
	return errors.Wrap(bson.Unmarshal(raw, val), "decoding document")
}

func (c *memoryCursor) Err() error { return nil }

func (c *memoryCursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
