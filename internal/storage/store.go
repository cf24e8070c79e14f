package storage

import (
	"context"
	"errors"
)

// Item is one stored record in wire form. Values are plain Go types:
// strings, bools, integers, float64, []any and map[string]any.
type Item map[string]any

// Key identifies an item by equality on its fields. Query and BatchGet
// accept partial keys (a partition key without the sort key); Get, Update
// and Delete require the full primary key.
type Key map[string]any

var (
	// ErrNotFound is returned by point reads and keyed updates when no item
	// matches the key.
	ErrNotFound = errors.New("storage: item not found")
	// ErrUnavailable is returned once transient-fault retries are exhausted
	// or the circuit breaker is open.
	ErrUnavailable = errors.New("storage: unavailable")
	// ErrTimeout is returned when the request deadline expired while the
	// operation was in flight.
	ErrTimeout = errors.New("storage: deadline exceeded")
)

// TableSpec declares a table name and the fields forming its primary key.
// Stores use it to derive the key of an item passed to Put.
type TableSpec struct {
	Name      string
	KeyFields []string
}

// Range restricts one field to an interval. Unset bounds are nil.
type Range struct {
	Field string
	GT    any
	GTE   any
	LT    any
	LTE   any
}

// Query describes an indexed, ordered, bounded read.
type Query struct {
	Filter    Key
	Range     *Range
	SortField string
	Ascending bool
	Limit     int
}

// Mutation is a partial update of one item. Set overwrites fields,
// SetOnInsert applies only when an upsert creates the item, Inc adds to
// numeric fields and Push appends to array fields.
type Mutation struct {
	Set         Item
	SetOnInsert Item
	Inc         Item
	Push        Item
}

func (m Mutation) empty() bool {
	return len(m.Set) == 0 && len(m.SetOnInsert) == 0 && len(m.Inc) == 0 && len(m.Push) == 0
}

// Store is the narrow facade over the partitioned document store. It is the
// only layer that talks to the backend and the only place transport retry
// lives. Conflicts from conditional updates are results, not errors.
type Store interface {
	Get(ctx context.Context, table string, key Key) (Item, error)
	Put(ctx context.Context, table string, item Item) error
	Update(ctx context.Context, table string, key Key, m Mutation, upsert bool) error
	// UpdateConditional applies m only when every predicate field equals the
	// stored value. It reports false without error on a predicate conflict.
	UpdateConditional(ctx context.Context, table string, key Key, m Mutation, predicate Key) (bool, error)
	Query(ctx context.Context, table string, q Query) ([]Item, error)
	BatchGet(ctx context.Context, table string, keys []Key) ([]Item, error)
	Delete(ctx context.Context, table string, key Key) error
}

// batchChunkSize bounds one backend round trip of a batched read.
const batchChunkSize = 100
