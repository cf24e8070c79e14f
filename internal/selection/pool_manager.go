package selection

import (
	"context"
	"time"

	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
)

// WrongPoolManager owns the lifecycle of per-user wrong-answer entries: add
// on a first miss, decrement toward mastery, reset on a repeat miss, evict
// once mastered.
type WrongPoolManager struct {
	entries *repository.WrongEntryRepository
	cfg     *config.EngineConfig
	now     func() time.Time
}

func NewWrongPoolManager(entries *repository.WrongEntryRepository, cfg *config.EngineConfig) *WrongPoolManager {
	return &WrongPoolManager{entries: entries, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source.
func (m *WrongPoolManager) SetClock(now func() time.Time) {
	m.now = now
}

// Add puts a freshly missed question into the pool with the full mastery
// requirement, the miss logged as the first attempt and the presentation
// order frozen for the retry. The write is guarded by an active-entry
// lookup, so a replayed submission returns the existing entry instead of
// creating a second active one.
func (m *WrongPoolManager) Add(ctx context.Context, userID, questionID, sessionID string, order []string) (*models.WrongEntry, error) {
	existing, err := m.entries.FindActiveByQuestion(ctx, userID, questionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := m.now().UTC()
	entry := &models.WrongEntry{
		UserID:            userID,
		Timestamp:         now,
		QuestionID:        questionID,
		SessionID:         sessionID,
		RemainingCorrect:  m.cfg.MasteryThreshold,
		FrozenChoiceOrder: order,
		Attempts:          []models.AttemptRecord{{Timestamp: now, Correct: false}},
		LastAttemptAt:     now,
	}
	if err := m.entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LookupActive returns the active entry for the question, nil when none.
func (m *WrongPoolManager) LookupActive(ctx context.Context, userID, questionID string) (*models.WrongEntry, error) {
	return m.entries.FindActiveByQuestion(ctx, userID, questionID)
}

// ListOldest returns up to limit active entries, oldest first. A limit of 0
// returns all of them.
func (m *WrongPoolManager) ListOldest(ctx context.Context, userID string, limit int) ([]*models.WrongEntry, error) {
	return m.entries.ListOldestActive(ctx, userID, limit)
}

// Decrement records a correct answer against the entry. At zero remaining
// the question is mastered and the entry evicted.
func (m *WrongPoolManager) Decrement(ctx context.Context, entry *models.WrongEntry) (int, error) {
	remaining := entry.RemainingCorrect - 1
	if remaining < 0 {
		remaining = 0
	}
	now := m.now().UTC()
	if remaining == 0 {
		if err := m.entries.Delete(ctx, entry); err != nil {
			return 0, err
		}
	} else if err := m.entries.RecordAttempt(ctx, entry, true, remaining, now); err != nil {
		return 0, err
	}
	entry.RemainingCorrect = remaining
	entry.LastAttemptAt = now
	entry.Attempts = append(entry.Attempts, models.AttemptRecord{Timestamp: now, Correct: true})
	return remaining, nil
}

// Reset restores the full mastery requirement after a repeat miss and
// freezes a new presentation order. The entry keeps its original timestamp
// so its position in the oldest-first queue stays put.
func (m *WrongPoolManager) Reset(ctx context.Context, entry *models.WrongEntry, order []string) error {
	now := m.now().UTC()
	if err := m.entries.Reset(ctx, entry, m.cfg.MasteryThreshold, order, now); err != nil {
		return err
	}
	entry.RemainingCorrect = m.cfg.MasteryThreshold
	entry.FrozenChoiceOrder = order
	entry.LastAttemptAt = now
	entry.Attempts = append(entry.Attempts, models.AttemptRecord{Timestamp: now, Correct: false})
	return nil
}

// FreezeOrder persists the shuffled order the first time an entry is
// re-presented, so every later appearance shows the identical permutation.
func (m *WrongPoolManager) FreezeOrder(ctx context.Context, entry *models.WrongEntry, order []string) error {
	if err := m.entries.SetFrozenOrder(ctx, entry, order); err != nil {
		return err
	}
	entry.FrozenChoiceOrder = order
	return nil
}

// Stats summarizes the user's active pool for progress reporting.
func (m *WrongPoolManager) Stats(ctx context.Context, userID string) (PoolStats, error) {
	entries, err := m.entries.ListOldestActive(ctx, userID, 0)
	if err != nil {
		return PoolStats{}, err
	}
	stats := PoolStats{ActiveCount: len(entries)}
	for _, e := range entries {
		stats.RemainingTotal += e.RemainingCorrect
		// Due when the age since the last attempt reaches the scheduled
		// interval, the same clock the selector's readiness runs on.
		due := e.LastAttemptAt.Add(time.Duration(expectedIntervalH(m.cfg.SpacedIntervalsHours, len(e.Attempts)) * float64(time.Hour)))
		if stats.NextDueAt.IsZero() || due.Before(stats.NextDueAt) {
			stats.NextDueAt = due
		}
	}
	if len(entries) > 0 {
		stats.Oldest = entries[0].Timestamp
	}
	return stats, nil
}
