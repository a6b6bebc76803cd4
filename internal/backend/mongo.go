package backend

import (
	"context"
	"fmt"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is a Client backed by the MongoDB driver.
type MongoClient struct {
	client *mongo.Client
}

// Connect opens a connection to the MongoDB server at host:port.
func Connect(ctx context.Context, host string, port int) (*MongoClient, error) {
	uri := fmt.Sprintf("mongodb://%s:%d", host, port)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to '%s'", uri)
	}
	if err = client.Ping(ctx, nil); err != nil {
		grip.Warning(message.WrapError(client.Disconnect(ctx), message.Fields{
			"message": "disconnecting after failed ping",
			"uri":     uri,
		}))
		return nil, errors.Wrapf(err, "pinging '%s'", uri)
	}
	grip.Info(message.Fields{
		"message": "connected",
		"uri":     uri,
	})
	return &MongoClient{client: client}, nil
}

func (c *MongoClient) Database(name string) Database {
	return &MongoDatabase{Database: c.client.Database(name)}
}

func (c *MongoClient) Disconnect(ctx context.Context) error {
	return errors.Wrap(c.client.Disconnect(ctx), "disconnecting")
}

// MongoDatabase is a wrapper around mongo.Database to implement Database.
type MongoDatabase struct {
	*mongo.Database
}

func (d *MongoDatabase) Name() string {
	return d.Database.Name()
}

func (d *MongoDatabase) Collection(name string) CollectionAPI {
	return &MongoDBCollection{Collection: d.Database.Collection(name)}
}

func (d *MongoDatabase) Drop(ctx context.Context) error {
	return errors.Wrapf(d.Database.Drop(ctx), "dropping database '%s'", d.Database.Name())
}

// MongoDBCollection is a wrapper around mongo.Collection to implement CollectionAPI.
type MongoDBCollection struct {
	*mongo.Collection
}

func (c *MongoDBCollection) Name() string {
	return c.Collection.Name()
}

func (c *MongoDBCollection) FullName() string {
	return c.Collection.Database().Name() + "." + c.Collection.Name()
}

func (c *MongoDBCollection) CreateIndex(ctx context.Context, keys bson.D, name string) error {
	_, err := c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(name),
	})
	return errors.Wrapf(err, "creating index '%s' on '%s'", name, c.FullName())
}

func (c *MongoDBCollection) IndexCount(ctx context.Context) (int, error) {
	specs, err := c.Indexes().ListSpecifications(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "listing indexes of '%s'", c.FullName())
	}
	count := 0
	for _, spec := range specs {
		if spec.Name != "_id_" {
			count++
		}
	}
	return count, nil
}

func (c *MongoDBCollection) Drop(ctx context.Context) error {
	return errors.Wrapf(c.Collection.Drop(ctx), "dropping '%s'", c.FullName())
}

func (c *MongoDBCollection) InsertMany(ctx context.Context, docs []bson.D) error {
	batch := make([]interface{}, len(docs))
	for i := range docs {
		batch[i] = docs[i]
	}
	_, err := c.Collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	return errors.Wrapf(err, "inserting %d documents into '%s'", len(docs), c.FullName())
}

func (c *MongoDBCollection) FindAll(ctx context.Context) (Cursor, error) {
	cursor, err := c.Collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning '%s'", c.FullName())
	}
	return cursor, nil
}

func (c *MongoDBCollection) FindByIDs(ctx context.Context, ids []int64) (Cursor, error) {
	cursor, err := c.Collection.Find(ctx, idsFilter(ids))
	if err != nil {
		return nil, errors.Wrapf(err, "finding %d documents in '%s'", len(ids), c.FullName())
	}
	return cursor, nil
}

func (c *MongoDBCollection) FindIDRange(ctx context.Context, from, to int64) (Cursor, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lt", Value: to}}}}
	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "finding _id range [%d, %d) in '%s'", from, to, c.FullName())
	}
	return cursor, nil
}

func (c *MongoDBCollection) ReplaceByID(ctx context.Context, id int64, doc bson.D, upsert bool) error {
	_, err := c.Collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(upsert))
	return errors.Wrapf(err, "replacing document %d in '%s'", id, c.FullName())
}

func (c *MongoDBCollection) UpdateByIDs(ctx context.Context, ids []int64, inc bson.D) error {
	_, err := c.Collection.UpdateMany(ctx, idsFilter(ids), bson.D{{Key: "$inc", Value: inc}})
	return errors.Wrapf(err, "updating %d documents in '%s'", len(ids), c.FullName())
}

func (c *MongoDBCollection) CountDocuments(ctx context.Context) (int64, error) {
	n, err := c.Collection.CountDocuments(ctx, bson.D{})
	return n, errors.Wrapf(err, "counting documents in '%s'", c.FullName())
}

func idsFilter(ids []int64) bson.D {
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
}
