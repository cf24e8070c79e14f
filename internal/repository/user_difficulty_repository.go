package repository

import (
	"context"
	"errors"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/storage"
)

type UserDifficultyRepository struct {
	store storage.Store
}

func NewUserDifficultyRepository(store storage.Store) *UserDifficultyRepository {
	return &UserDifficultyRepository{store: store}
}

// Find returns nil without error for users with no record yet; callers fall
// back to the starting target.
func (r *UserDifficultyRepository) Find(ctx context.Context, userID string) (*models.UserDifficulty, error) {
	rec, err := r.store.Get(ctx, tableUserDifficulty, storage.Key{"userId": userID})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	difficulty, err := models.DecodeUserDifficulty(rec)
	if err != nil {
		return nil, apperrors.Corrupted("user_difficulty", err)
	}
	return difficulty, nil
}

// Save writes back the whole record. The target is a smoothed aggregate, so
// last writer wins is acceptable under concurrent answers.
func (r *UserDifficultyRepository) Save(ctx context.Context, difficulty *models.UserDifficulty) error {
	if err := r.store.Put(ctx, tableUserDifficulty, models.EncodeUserDifficulty(difficulty)); err != nil {
		return storeErr(err)
	}
	return nil
}
