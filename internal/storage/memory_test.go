package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adaptive-quiz-service/internal/storage"
)

func newAttemptStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	return storage.NewMemoryStore(storage.TableSpec{
		Name:      "attempts",
		KeyFields: []string{"userId", "questionId"},
	})
}

func attemptKey(user, question string) storage.Key {
	return storage.Key{"userId": user, "questionId": question}
}

func TestMemoryStorePointReadsCopyItems(t *testing.T) {
	ctx := context.Background()
	store := newAttemptStore(t)

	item := storage.Item{
		"userId":     "u1",
		"questionId": "q1",
		"count":      1,
		"meta":       map[string]any{"source": "drill"},
	}
	require.NoError(t, store.Put(ctx, "attempts", item))

	got, err := store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got["count"])

	// Mutating the returned copy must not leak into stored state.
	got["count"] = 99
	got["meta"].(map[string]any)["source"] = "tampered"

	again, err := store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, again["count"])
	assert.Equal(t, "drill", again["meta"].(map[string]any)["source"])

	_, err = store.Get(ctx, "attempts", attemptKey("u1", "q-missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "attempts", attemptKey("u1", "q1")))
	_, err = store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting an absent item is a no-op.
	assert.NoError(t, store.Delete(ctx, "attempts", attemptKey("u1", "q1")))
}

func TestMemoryStoreUpdateMutations(t *testing.T) {
	ctx := context.Background()
	store := newAttemptStore(t)

	err := store.Update(ctx, "attempts", attemptKey("u1", "q1"), storage.Mutation{
		Set: storage.Item{"status": "seen"},
	}, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// An upsert creates the item from the key, SetOnInsert and Set.
	require.NoError(t, store.Update(ctx, "attempts", attemptKey("u1", "q1"), storage.Mutation{
		SetOnInsert: storage.Item{"firstSeen": "t1"},
		Set:         storage.Item{"status": "seen"},
		Inc:         storage.Item{"count": 1},
		Push:        storage.Item{"log": "a"},
	}, true))

	require.NoError(t, store.Update(ctx, "attempts", attemptKey("u1", "q1"), storage.Mutation{
		SetOnInsert: storage.Item{"firstSeen": "t9"},
		Set:         storage.Item{"status": "retried"},
		Inc:         storage.Item{"count": 2},
		Push:        storage.Item{"log": "b"},
	}, true))

	got, err := store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", got["userId"])
	assert.Equal(t, "t1", got["firstSeen"], "SetOnInsert must not fire on an existing item")
	assert.Equal(t, "retried", got["status"])
	assert.EqualValues(t, 3, got["count"])
	assert.Equal(t, []any{"a", "b"}, got["log"])
}

func TestMemoryStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := newAttemptStore(t)

	require.NoError(t, store.Put(ctx, "attempts", storage.Item{
		"userId":     "u1",
		"questionId": "q1",
		"version":    int64(0),
		"status":     "created",
	}))

	// Predicate conflict is a result, not an error.
	ok, err := store.UpdateConditional(ctx, "attempts", attemptKey("u1", "q1"), storage.Mutation{
		Set: storage.Item{"status": "active", "version": int64(1)},
	}, storage.Key{"version": int64(7)})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	require.NoError(t, err)
	assert.Equal(t, "created", got["status"], "a failed predicate must leave the item alone")

	ok, err = store.UpdateConditional(ctx, "attempts", attemptKey("u1", "q1"), storage.Mutation{
		Set: storage.Item{"status": "active", "version": int64(1)},
	}, storage.Key{"version": int64(0)})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Get(ctx, "attempts", attemptKey("u1", "q1"))
	require.NoError(t, err)
	assert.Equal(t, "active", got["status"])
	assert.EqualValues(t, 1, got["version"])

	_, err = store.UpdateConditional(ctx, "attempts", attemptKey("u1", "q-missing"), storage.Mutation{
		Set: storage.Item{"status": "active"},
	}, storage.Key{"version": int64(0)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStoreQueryFiltersSortsAndBounds(t *testing.T) {
	ctx := context.Background()
	store := newAttemptStore(t)

	rows := []storage.Item{
		{"userId": "u1", "questionId": "q1", "at": "2026-03-01T10:00:00.000000000Z", "active": true},
		{"userId": "u1", "questionId": "q2", "at": "2026-03-01T08:00:00.000000000Z", "active": true},
		{"userId": "u1", "questionId": "q3", "at": "2026-03-01T12:00:00.000000000Z", "active": false},
		{"userId": "u2", "questionId": "q1", "at": "2026-03-01T09:00:00.000000000Z", "active": true},
	}
	for _, r := range rows {
		require.NoError(t, store.Put(ctx, "attempts", r))
	}

	got, err := store.Query(ctx, "attempts", storage.Query{
		Filter:    storage.Key{"userId": "u1", "active": true},
		SortField: "at",
		Ascending: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q2", got[0]["questionId"], "oldest first")
	assert.Equal(t, "q1", got[1]["questionId"])

	got, err = store.Query(ctx, "attempts", storage.Query{
		Filter: storage.Key{"userId": "u1"},
		Range: &storage.Range{
			Field: "at",
			GTE:   "2026-03-01T09:00:00.000000000Z",
			LT:    "2026-03-01T12:00:00.000000000Z",
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "q1", got[0]["questionId"])

	got, err = store.Query(ctx, "attempts", storage.Query{
		Filter:    storage.Key{"userId": "u1"},
		SortField: "at",
		Ascending: false,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0]["questionId"], "newest first")
	assert.Equal(t, "q1", got[1]["questionId"])
}

func TestMemoryStoreBatchGetMatchesPartialKeys(t *testing.T) {
	ctx := context.Background()
	store := newAttemptStore(t)

	for _, r := range []storage.Item{
		{"userId": "u1", "questionId": "q1"},
		{"userId": "u1", "questionId": "q2"},
		{"userId": "u2", "questionId": "q1"},
	} {
		require.NoError(t, store.Put(ctx, "attempts", r))
	}

	got, err := store.BatchGet(ctx, "attempts", []storage.Key{
		{"questionId": "q1"},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.BatchGet(ctx, "attempts", []storage.Key{
		{"userId": "u1", "questionId": "q2"},
		{"userId": "u1", "questionId": "q-missing"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "q2", got[0]["questionId"])
}
