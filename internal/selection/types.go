package selection

import (
	"time"

	"adaptive-quiz-service/internal/models"
)

// Pick is one question chosen for serving, with its presentation order
// already decided.
type Pick struct {
	Question       *models.Question
	Order          []string
	Shuffled       bool
	FromWrongPool  bool
	RemainingTries int
	// Entry is set for wrong-pool picks so callers can correlate the
	// follow-up mutations with the served entry.
	Entry *models.WrongEntry
}

// PoolStats summarizes a user's active wrong pool for progress reporting.
type PoolStats struct {
	ActiveCount    int
	RemainingTotal int
	// Oldest and NextDueAt are the zero time when the pool is empty.
	Oldest    time.Time
	NextDueAt time.Time
}
