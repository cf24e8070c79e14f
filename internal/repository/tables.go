package repository

import (
	"errors"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/storage"
)

const (
	tableSessions       = "sessions"
	tableQuestions      = "questions"
	tableWrongEntries   = "wrong_entries"
	tableProgress       = "progress"
	tableUserDifficulty = "user_difficulty"
)

// Tables lists every collection the service owns with its primary key.
// Stores derive write filters from these specs.
func Tables() []storage.TableSpec {
	return []storage.TableSpec{
		{Name: tableSessions, KeyFields: []string{"sessionId", "userId"}},
		{Name: tableQuestions, KeyFields: []string{"questionId", "category"}},
		{Name: tableWrongEntries, KeyFields: []string{"userId", "timestamp"}},
		{Name: tableProgress, KeyFields: []string{"userId", "questionId"}},
		{Name: tableUserDifficulty, KeyFields: []string{"userId"}},
	}
}

// storeErr translates transport failures to stable codes. Not-found is left
// to the caller because its meaning depends on the entity.
func storeErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "store unavailable", err)
	case errors.Is(err, storage.ErrTimeout):
		return apperrors.Wrap(apperrors.CodeTimeout, "store deadline exceeded", err)
	}
	return err
}
