package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB database. It is the only layer
// that touches the driver: every call runs inside a shared circuit breaker
// and the transient-fault retry loop, and documents are normalized to plain
// Go types before they reach the codec.
type MongoStore struct {
	db      *mongo.Database
	specs   map[string][]string
	breaker *gobreaker.CircuitBreaker
	retries int
	backoff time.Duration
}

func NewMongoStore(db *mongo.Database, tables ...TableSpec) *MongoStore {
	specs := make(map[string][]string, len(tables))
	for _, t := range tables {
		specs[t.Name] = t.KeyFields
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mongo",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
		// Only transport faults count against the breaker. Not-found and
		// duplicate-key outcomes are normal results.
		IsSuccessful: func(err error) bool {
			return err == nil || !transientMongo(err)
		},
	})
	return &MongoStore{
		db:      db,
		specs:   specs,
		breaker: breaker,
		retries: defaultRetryAttempts,
		backoff: defaultRetryBase,
	}
}

func transientMongo(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// run executes op through the breaker and the retry loop, then maps driver
// errors onto the store's typed failures.
func (s *MongoStore) run(ctx context.Context, op func() error) error {
	err := withRetry(ctx, s.retries, s.backoff, transientMongo, func() error {
		_, execErr := s.breaker.Execute(func() (any, error) {
			return nil, op()
		})
		return execErr
	})
	return s.mapErr(ctx, err)
}

func (s *MongoStore) mapErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil && mongo.IsTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case transientMongo(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

func (s *MongoStore) keyFilter(table string, source map[string]any) (bson.M, error) {
	fields, ok := s.specs[table]
	if !ok {
		return nil, fmt.Errorf("storage: unknown table %q", table)
	}
	filter := bson.M{}
	for _, f := range fields {
		v, ok := source[f]
		if !ok {
			return nil, fmt.Errorf("storage: missing key field %q", f)
		}
		filter[f] = v
	}
	return filter, nil
}

func (s *MongoStore) Get(ctx context.Context, table string, key Key) (Item, error) {
	filter, err := s.keyFilter(table, key)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = s.run(ctx, func() error {
		return s.db.Collection(table).FindOne(ctx, filter).Decode(&raw)
	})
	if err != nil {
		return nil, err
	}
	return normalizeItem(raw), nil
}

func (s *MongoStore) Put(ctx context.Context, table string, item Item) error {
	filter, err := s.keyFilter(table, item)
	if err != nil {
		return err
	}
	return s.run(ctx, func() error {
		_, repErr := s.db.Collection(table).ReplaceOne(ctx, filter, map[string]any(item),
			options.Replace().SetUpsert(true))
		return repErr
	})
}

func (s *MongoStore) Update(ctx context.Context, table string, key Key, m Mutation, upsert bool) error {
	filter, err := s.keyFilter(table, key)
	if err != nil {
		return err
	}
	if m.empty() {
		return nil
	}
	update := mutationDoc(m)
	return s.run(ctx, func() error {
		res, upErr := s.db.Collection(table).UpdateOne(ctx, filter, update,
			options.Update().SetUpsert(upsert))
		if upErr != nil {
			return upErr
		}
		if res.MatchedCount == 0 && res.UpsertedCount == 0 {
			return mongo.ErrNoDocuments
		}
		return nil
	})
}

func (s *MongoStore) UpdateConditional(ctx context.Context, table string, key Key, m Mutation, predicate Key) (bool, error) {
	filter, err := s.keyFilter(table, key)
	if err != nil {
		return false, err
	}
	for f, v := range predicate {
		filter[f] = v
	}
	if m.empty() {
		return true, nil
	}
	update := mutationDoc(m)
	matched := false
	err = s.run(ctx, func() error {
		res, upErr := s.db.Collection(table).UpdateOne(ctx, filter, update)
		if upErr != nil {
			return upErr
		}
		matched = res.MatchedCount > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if matched {
		return true, nil
	}
	// Nothing matched key+predicate: distinguish a missing item from a
	// predicate conflict so callers can stop retrying hopeless updates.
	keyOnly, err := s.keyFilter(table, key)
	if err != nil {
		return false, err
	}
	var n int64
	err = s.run(ctx, func() error {
		count, cErr := s.db.Collection(table).CountDocuments(ctx, keyOnly, options.Count().SetLimit(1))
		n = count
		return cErr
	})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *MongoStore) Query(ctx context.Context, table string, q Query) ([]Item, error) {
	filter := bson.M{}
	for f, v := range q.Filter {
		filter[f] = v
	}
	if q.Range != nil {
		bounds := bson.M{}
		if q.Range.GT != nil {
			bounds["$gt"] = q.Range.GT
		}
		if q.Range.GTE != nil {
			bounds["$gte"] = q.Range.GTE
		}
		if q.Range.LT != nil {
			bounds["$lt"] = q.Range.LT
		}
		if q.Range.LTE != nil {
			bounds["$lte"] = q.Range.LTE
		}
		if len(bounds) > 0 {
			filter[q.Range.Field] = bounds
		}
	}
	opts := options.Find()
	if q.SortField != "" {
		dir := 1
		if !q.Ascending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortField, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	var raws []bson.M
	err := s.run(ctx, func() error {
		cursor, findErr := s.db.Collection(table).Find(ctx, filter, opts)
		if findErr != nil {
			return findErr
		}
		return cursor.All(ctx, &raws)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(raws))
	for _, raw := range raws {
		out = append(out, normalizeItem(raw))
	}
	return out, nil
}

func (s *MongoStore) BatchGet(ctx context.Context, table string, keys []Key) ([]Item, error) {
	var out []Item
	for start := 0; start < len(keys); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		clauses := make([]bson.M, 0, end-start)
		for _, key := range keys[start:end] {
			clause := bson.M{}
			for f, v := range key {
				clause[f] = v
			}
			clauses = append(clauses, clause)
		}
		if len(clauses) == 0 {
			continue
		}
		var raws []bson.M
		err := s.run(ctx, func() error {
			cursor, findErr := s.db.Collection(table).Find(ctx, bson.M{"$or": clauses})
			if findErr != nil {
				return findErr
			}
			return cursor.All(ctx, &raws)
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			out = append(out, normalizeItem(raw))
		}
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, table string, key Key) error {
	filter, err := s.keyFilter(table, key)
	if err != nil {
		return err
	}
	return s.run(ctx, func() error {
		_, delErr := s.db.Collection(table).DeleteOne(ctx, filter)
		return delErr
	})
}

func mutationDoc(m Mutation) bson.M {
	update := bson.M{}
	if len(m.Set) > 0 {
		update["$set"] = bson.M(m.Set)
	}
	if len(m.SetOnInsert) > 0 {
		update["$setOnInsert"] = bson.M(m.SetOnInsert)
	}
	if len(m.Inc) > 0 {
		update["$inc"] = bson.M(m.Inc)
	}
	if len(m.Push) > 0 {
		update["$push"] = bson.M(m.Push)
	}
	return update
}

// normalizeItem converts a decoded BSON document to the plain map/slice
// shapes the codec expects and drops the backend's own _id field.
func normalizeItem(raw bson.M) Item {
	item := normalizeValue(raw).(map[string]any)
	delete(item, "_id")
	return Item(item)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	default:
		return v
	}
}
