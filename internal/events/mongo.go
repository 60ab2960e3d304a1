package events

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Inserter is the subset of *mongo.Collection the indexer needs.
type Inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Mongo indexes events into a MongoDB collection from a background worker.
// Publish never blocks; events are dropped (and counted) when the buffer is
// full.
type Mongo struct {
	coll    Inserter
	queue   chan Event
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	dropped int
	wg      sync.WaitGroup
	once    sync.Once
}

// NewMongo starts an indexer writing to coll with a buffer of size events.
func NewMongo(coll Inserter, size int, logger *zap.Logger) *Mongo {
	if size <= 0 {
		size = 1024
	}
	m := &Mongo{
		coll:    coll,
		queue:   make(chan Event, size),
		timeout: 5 * time.Second,
		logger:  logger,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// ConnectMongo dials uri and returns the named collection.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, client.Database(database).Collection(collection), nil
}

// Publish implements Sink.
func (m *Mongo) Publish(_ context.Context, e Event) {
	select {
	case m.queue <- e:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		m.logger.Warn("mongo indexer: queue full, event dropped",
			zap.String("type", e.Type),
			zap.Int("dropped_total", n),
		)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (m *Mongo) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close drains the queue and stops the worker. Publish must not be called
// after Close.
func (m *Mongo) Close() {
	m.once.Do(func() { close(m.queue) })
	m.wg.Wait()
}

func (m *Mongo) run() {
	defer m.wg.Done()
	for e := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		_, err := m.coll.InsertOne(ctx, bson.M{
			"_id":       e.ID,
			"type":      e.Type,
			"timestamp": e.Timestamp,
			"payload":   e.Payload,
		})
		cancel()
		if err != nil {
			m.logger.Warn("mongo indexer: insert failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
}
