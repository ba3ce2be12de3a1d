// Package mongo provides the MongoDB implementation of the store adapter.
// Every table is a collection and the identifier is mirrored into _id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/predicate"
	"github.com/kneutral-org/alert-repository/internal/query"
	"github.com/kneutral-org/alert-repository/internal/store"
)

// CountersCollection holds per-collection identifier counters.
const CountersCollection = "repository_sequences"

// Adapter implements store.Adapter on a MongoDB database.
type Adapter struct {
	db     *mongo.Database
	logger zerolog.Logger
}

// Connect opens and pings a client for uri.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, store.Unavailable(fmt.Errorf("failed to ping MongoDB: %w", err))
	}
	return client, nil
}

// NewAdapter creates an adapter on db.
func NewAdapter(db *mongo.Database, logger zerolog.Logger) *Adapter {
	return &Adapter{
		db:     db,
		logger: logger.With().Str("component", "mongo_adapter").Logger(),
	}
}

// Upsert replaces the document with the row's identifier, inserting it if absent.
func (a *Adapter) Upsert(ctx context.Context, table, idField string, row entity.Row) (entity.Row, error) {
	doc := document(idField, row)

	_, err := a.db.Collection(table).ReplaceOne(ctx,
		bson.D{{Key: documentID, Value: doc[documentID]}}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return nil, classify(err)
	}
	return row.Clone(), nil
}

// UpsertIfVersion inserts when expected is zero, otherwise replaces the
// document only while its stored version equals expected.
func (a *Adapter) UpsertIfVersion(ctx context.Context, table, idField, versionField string, expected int64, row entity.Row) (entity.Row, error) {
	doc := document(idField, row)
	coll := a.db.Collection(table)

	if expected == 0 {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, store.ErrVersionConflict
			}
			return nil, classify(err)
		}
		return row.Clone(), nil
	}

	res, err := coll.ReplaceOne(ctx, bson.D{
		{Key: documentID, Value: doc[documentID]},
		{Key: versionField, Value: expected},
	}, doc)
	if err != nil {
		return nil, classify(err)
	}
	if res.MatchedCount == 0 {
		return nil, store.ErrVersionConflict
	}
	return row.Clone(), nil
}

// DeleteByKey removes the document with key. Missing documents are ignored.
func (a *Adapter) DeleteByKey(ctx context.Context, table, _ string, key any) error {
	_, err := a.db.Collection(table).DeleteOne(ctx, bson.D{{Key: documentID, Value: toStored(key)}})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Fetch runs a filtered, ordered, windowed aggregation.
func (a *Adapter) Fetch(ctx context.Context, table string, pred predicate.Node, order query.Sort, window *query.Window) ([]entity.Row, error) {
	match, err := filter(pred)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}
	if len(order) > 0 {
		addFields, sort, unset := sortStages(order)
		pipeline = append(pipeline,
			bson.D{{Key: "$addFields", Value: addFields}},
			bson.D{{Key: "$sort", Value: sort}},
			bson.D{{Key: "$project", Value: unset}},
		)
	}
	if window != nil {
		if window.Offset > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$skip", Value: window.Offset}})
		}
		if window.Limit > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(window.Limit)}})
		}
	}

	cursor, err := a.db.Collection(table).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}

	rows := make([]entity.Row, len(docs))
	for i, doc := range docs {
		rows[i] = fromDocument(doc)
	}
	return rows, nil
}

// Count returns the number of matching documents.
func (a *Adapter) Count(ctx context.Context, table string, pred predicate.Node) (int64, error) {
	match, err := filter(pred)
	if err != nil {
		return 0, err
	}
	n, err := a.db.Collection(table).CountDocuments(ctx, match)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GenerateIdentifier increments a counter document for integer identifiers
// and returns random UUIDs otherwise.
func (a *Adapter) GenerateIdentifier(ctx context.Context, table string, kind entity.Kind) (any, error) {
	if kind != entity.KindInt {
		return store.RandomIdentifier(kind)
	}

	var counter struct {
		Value int64 `bson:"value"`
	}
	err := a.db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: documentID, Value: table}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, classify(err)
	}
	return counter.Value, nil
}

// classify maps driver errors onto the store failure classes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return store.ConstraintViolation(err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return store.Unavailable(err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasErrorLabel("TransientTransactionError") {
		return store.SerializationFailure(err)
	}
	return err
}

var (
	_ store.Adapter             = (*Adapter)(nil)
	_ store.ConditionalUpserter = (*Adapter)(nil)
)
