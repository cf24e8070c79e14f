package adaptive

import (
	"context"
	"time"

	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
)

// Deadband around the target success rate inside which the user's target
// difficulty is left alone.
const successRateDeadband = 0.10

const (
	minTargetDifficulty = 0.1
	maxTargetDifficulty = 1.0
)

// Observed difficulty needs this many attempts before it overrides the
// authored level.
const minObservedAttempts = 10

// Answer times are normalized against this span when blended into the
// observed difficulty.
const timeNormalizationS = 120.0

// DifficultyModel recalibrates each user's target difficulty from a bounded
// window of recent results. Results accumulate until the window is full;
// the target is then adjusted once and the window cleared, so every result
// feeds exactly one adjustment.
type DifficultyModel struct {
	users *repository.UserDifficultyRepository
	cfg   *config.EngineConfig
	now   func() time.Time
}

func NewDifficultyModel(users *repository.UserDifficultyRepository, cfg *config.EngineConfig) *DifficultyModel {
	return &DifficultyModel{users: users, cfg: cfg, now: time.Now}
}

// Snapshot loads the user's difficulty state, falling back to the neutral
// starting state for users never seen before.
func (m *DifficultyModel) Snapshot(ctx context.Context, userID string) (*models.UserDifficulty, error) {
	state, err := m.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return models.NewUserDifficulty(userID), nil
	}
	return state, nil
}

// RecordResult appends one graded result to the window and persists the
// state. A full window triggers the target adjustment and is consumed.
func (m *DifficultyModel) RecordResult(ctx context.Context, state *models.UserDifficulty, correct bool) error {
	state.RecentResults = append(state.RecentResults, correct)
	if len(state.RecentResults) >= m.cfg.DifficultyWindow {
		state.TargetDifficulty = m.adjust(state.TargetDifficulty, state.RecentSuccessRate())
		state.RecentResults = nil
	}
	state.UpdatedAt = m.now().UTC()
	return m.users.Save(ctx, state)
}

// adjust nudges the target up by a full step when the user succeeds well
// above the configured rate and down by a half step when well below it.
func (m *DifficultyModel) adjust(target, rate float64) float64 {
	switch {
	case rate > m.cfg.TargetSuccessRate+successRateDeadband:
		target += m.cfg.DifficultyDelta
	case rate < m.cfg.TargetSuccessRate-successRateDeadband:
		target -= m.cfg.DifficultyDelta / 2
	}
	return clampFloat(target, minTargetDifficulty, maxTargetDifficulty)
}

// DeclaredDifficulty maps the authored 1..5 level onto the model scale.
func DeclaredDifficulty(level int) float64 {
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}
	return 0.1 + float64(level-1)*0.2
}

// ObservedDifficulty blends the failure rate with the normalized mean answer
// time. The second return is false when the sample is too small to trust.
func ObservedDifficulty(stats models.QuestionStats) (float64, bool) {
	if stats.Attempts < minObservedAttempts {
		return 0, false
	}
	timeFactor := clampFloat(stats.AvgTimeS()/timeNormalizationS, 0, 1)
	return 0.8*(1-stats.SuccessRate()) + 0.2*timeFactor, true
}

// QuestionDifficulty is the estimate the selector scores against: observed
// when the question has enough attempts, the authored level otherwise.
func QuestionDifficulty(q *models.Question) float64 {
	if d, ok := ObservedDifficulty(q.Stats); ok {
		return d
	}
	return DeclaredDifficulty(q.DeclaredDifficulty)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
