package repository

import (
	"context"
	"errors"
	"time"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/storage"
)

type WrongEntryRepository struct {
	store storage.Store
}

func NewWrongEntryRepository(store storage.Store) *WrongEntryRepository {
	return &WrongEntryRepository{store: store}
}

func wrongEntryKey(userID string, ts time.Time) storage.Key {
	return storage.Key{"userId": userID, "timestamp": models.EncodeTime(ts)}
}

func (r *WrongEntryRepository) Create(ctx context.Context, entry *models.WrongEntry) error {
	if err := r.store.Put(ctx, tableWrongEntries, models.EncodeWrongEntry(entry)); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *WrongEntryRepository) Find(ctx context.Context, userID string, ts time.Time) (*models.WrongEntry, error) {
	rec, err := r.store.Get(ctx, tableWrongEntries, wrongEntryKey(userID, ts))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	entry, err := models.DecodeWrongEntry(rec)
	if err != nil {
		return nil, apperrors.Corrupted("wrong_entry", err)
	}
	return entry, nil
}

// FindActiveByQuestion returns the user's live entry for one question, or
// nil. The uniqueness rule means there is never more than one.
func (r *WrongEntryRepository) FindActiveByQuestion(ctx context.Context, userID, questionID string) (*models.WrongEntry, error) {
	recs, err := r.store.Query(ctx, tableWrongEntries, storage.Query{
		Filter:    storage.Key{"userId": userID, "questionId": questionID},
		Range:     &storage.Range{Field: "remainingCorrect", GT: 0},
		SortField: "timestamp",
		Ascending: true,
		Limit:     1,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	entry, err := models.DecodeWrongEntry(recs[0])
	if err != nil {
		return nil, apperrors.Corrupted("wrong_entry", err)
	}
	return entry, nil
}

// ListOldestActive returns live entries ordered oldest first. limit <= 0
// returns them all.
func (r *WrongEntryRepository) ListOldestActive(ctx context.Context, userID string, limit int) ([]*models.WrongEntry, error) {
	recs, err := r.store.Query(ctx, tableWrongEntries, storage.Query{
		Filter:    storage.Key{"userId": userID},
		Range:     &storage.Range{Field: "remainingCorrect", GT: 0},
		SortField: "timestamp",
		Ascending: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]*models.WrongEntry, 0, len(recs))
	for _, rec := range recs {
		entry, err := models.DecodeWrongEntry(rec)
		if err != nil {
			return nil, apperrors.Corrupted("wrong_entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RecordAttempt appends one attempt to the entry's log and writes the new
// remaining-correct count in the same mutation.
func (r *WrongEntryRepository) RecordAttempt(ctx context.Context, entry *models.WrongEntry, correct bool, remaining int, at time.Time) error {
	err := r.store.Update(ctx, tableWrongEntries, wrongEntryKey(entry.UserID, entry.Timestamp),
		storage.Mutation{
			Set: storage.Item{
				"remainingCorrect": remaining,
				"lastAttemptAt":    models.EncodeTime(at),
			},
			Push: storage.Item{
				"attempts": models.EncodeAttempt(models.AttemptRecord{Timestamp: at, Correct: correct}),
			},
		}, false)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// Reset restores the full remaining-correct count after another miss, logs
// the attempt and replaces the frozen order in one mutation.
func (r *WrongEntryRepository) Reset(ctx context.Context, entry *models.WrongEntry, remaining int, order []string, at time.Time) error {
	encoded := make([]any, len(order))
	for i, id := range order {
		encoded[i] = id
	}
	err := r.store.Update(ctx, tableWrongEntries, wrongEntryKey(entry.UserID, entry.Timestamp),
		storage.Mutation{
			Set: storage.Item{
				"remainingCorrect":  remaining,
				"lastAttemptAt":     models.EncodeTime(at),
				"frozenChoiceOrder": encoded,
			},
			Push: storage.Item{
				"attempts": models.EncodeAttempt(models.AttemptRecord{Timestamp: at, Correct: false}),
			},
		}, false)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// SetFrozenOrder stores the shuffled presentation order once, so every later
// appearance of the entry shows the same order.
func (r *WrongEntryRepository) SetFrozenOrder(ctx context.Context, entry *models.WrongEntry, order []string) error {
	encoded := make([]any, len(order))
	for i, id := range order {
		encoded[i] = id
	}
	err := r.store.Update(ctx, tableWrongEntries, wrongEntryKey(entry.UserID, entry.Timestamp),
		storage.Mutation{Set: storage.Item{"frozenChoiceOrder": encoded}}, false)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *WrongEntryRepository) Delete(ctx context.Context, entry *models.WrongEntry) error {
	if err := r.store.Delete(ctx, tableWrongEntries, wrongEntryKey(entry.UserID, entry.Timestamp)); err != nil {
		return storeErr(err)
	}
	return nil
}
