package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo collection and document identifiers.
const (
	CollectionState = "access_state"
	stateDocumentID = "access_state"
)

// ErrNoState reports that the mongo backend holds no state document yet; the
// caller is expected to seed one from the JSON access file.
var ErrNoState = errors.New("no access state document")

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// stateCollection is the narrow collection surface the persister consumes.
type stateCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// stateRecord is the mongo document shape for the access-control state.
type stateRecord struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	OwnerName string    `bson:"owner_name"`
	UserIDs   []string  `bson:"user_ids"`
	GroupIDs  []string  `bson:"group_ids"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoPersister stores the access-control state as a single upserted
// document in the access_state collection.
type MongoPersister struct {
	client     mongoClient
	collection stateCollection
}

// NewMongoPersister connects to MongoDB using the supplied URI and database
// name and verifies connectivity with a ping.
func NewMongoPersister(ctx context.Context, uri, dbName string) (*MongoPersister, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoPersister{
		client:     client,
		collection: client.Database(dbName).Collection(CollectionState),
	}, nil
}

// Persist upserts the full state into the singleton state document.
func (p *MongoPersister) Persist(ctx context.Context, state State) error {
	if p == nil || p.collection == nil {
		return errors.New("mongo persister is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	record := stateRecord{
		ID:        stateDocumentID,
		OwnerID:   state.OwnerID,
		OwnerName: state.OwnerName,
		UserIDs:   state.UserIDs(),
		GroupIDs:  state.GroupIDs(),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := p.collection.UpdateOne(ctx,
		bson.M{"_id": stateDocumentID},
		bson.M{"$set": record},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert access state: %w", err)
	}

	return nil
}

// Load fetches the state document, returning ErrNoState when absent.
func (p *MongoPersister) Load(ctx context.Context) (State, error) {
	if p == nil || p.collection == nil {
		return State{}, errors.New("mongo persister is not initialized")
	}
	if ctx == nil {
		return State{}, errors.New("context is required")
	}

	result := p.collection.FindOne(ctx, bson.M{"_id": stateDocumentID})
	if result == nil {
		return State{}, errors.New("find access state returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return State{}, ErrNoState
		}
		return State{}, fmt.Errorf("find access state: %w", err)
	}

	var record stateRecord
	if err := result.Decode(&record); err != nil {
		return State{}, fmt.Errorf("decode access state: %w", err)
	}

	return NewState(record.OwnerID, record.OwnerName, record.UserIDs, record.GroupIDs), nil
}

// Ping verifies connectivity against the primary.
func (p *MongoPersister) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("mongo persister is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := p.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

// Close disconnects the underlying client.
func (p *MongoPersister) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return p.client.Disconnect(ctx)
}
