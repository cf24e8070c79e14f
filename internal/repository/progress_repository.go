package repository

import (
	"context"
	"errors"
	"time"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/storage"
)

type ProgressRepository struct {
	store storage.Store
}

func NewProgressRepository(store storage.Store) *ProgressRepository {
	return &ProgressRepository{store: store}
}

func progressKey(userID, questionID string) storage.Key {
	return storage.Key{"userId": userID, "questionId": questionID}
}

// Find returns nil without error when the user has never seen the question.
func (r *ProgressRepository) Find(ctx context.Context, userID, questionID string) (*models.Progress, error) {
	rec, err := r.store.Get(ctx, tableProgress, progressKey(userID, questionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	progress, err := models.DecodeProgress(rec)
	if err != nil {
		return nil, apperrors.Corrupted("progress", err)
	}
	return progress, nil
}

// RecordAttempt folds one attempt into the aggregate in a single upsert.
// Tallies only ever grow; both counters are incremented (one by zero) so the
// row is fully formed even when the first attempt creates it.
func (r *ProgressRepository) RecordAttempt(ctx context.Context, userID, questionID, sessionID string, correct bool, timeS int, mastered bool, at time.Time) error {
	correctInc, incorrectInc := 0, 1
	if correct {
		correctInc, incorrectInc = 1, 0
	}
	err := r.store.Update(ctx, tableProgress, progressKey(userID, questionID),
		storage.Mutation{
			Inc: storage.Item{
				"attemptsTotal":     1,
				"attemptsCorrect":   correctInc,
				"attemptsIncorrect": incorrectInc,
				"cumulativeTimeS":   timeS,
			},
			Set: storage.Item{
				"sessionId":     sessionID,
				"lastAttemptAt": models.EncodeTime(at),
				"lastCorrect":   correct,
				"mastered":      mastered,
			},
			SetOnInsert: storage.Item{
				"schemaVersion": models.SchemaVersion,
				"firstSeenAt":   models.EncodeTime(at),
			},
		}, true)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// FindByQuestion returns recent aggregates across users for one question,
// newest first. Feeds the observed-difficulty estimate.
func (r *ProgressRepository) FindByQuestion(ctx context.Context, questionID string, since time.Time, limit int) ([]*models.Progress, error) {
	recs, err := r.store.Query(ctx, tableProgress, storage.Query{
		Filter:    storage.Key{"questionId": questionID},
		Range:     &storage.Range{Field: "lastAttemptAt", GTE: models.EncodeTime(since)},
		SortField: "lastAttemptAt",
		Ascending: false,
		Limit:     limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return decodeProgressList(recs)
}

func (r *ProgressRepository) FindByUser(ctx context.Context, userID string, limit int) ([]*models.Progress, error) {
	recs, err := r.store.Query(ctx, tableProgress, storage.Query{
		Filter:    storage.Key{"userId": userID},
		SortField: "lastAttemptAt",
		Ascending: false,
		Limit:     limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return decodeProgressList(recs)
}

func (r *ProgressRepository) FindBySession(ctx context.Context, sessionID string) ([]*models.Progress, error) {
	recs, err := r.store.Query(ctx, tableProgress, storage.Query{
		Filter:    storage.Key{"sessionId": sessionID},
		SortField: "lastAttemptAt",
		Ascending: true,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return decodeProgressList(recs)
}

func decodeProgressList(recs []storage.Item) ([]*models.Progress, error) {
	out := make([]*models.Progress, 0, len(recs))
	for _, rec := range recs {
		progress, err := models.DecodeProgress(rec)
		if err != nil {
			return nil, apperrors.Corrupted("progress", err)
		}
		out = append(out, progress)
	}
	return out, nil
}
