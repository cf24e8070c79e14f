package adaptive

import (
	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/models"
)

const defaultMasteryThreshold = 2

// Manager holds the pure answer-resolution rules: exact-set grading and the
// wrong-pool outcome table. It carries no storage; callers apply the
// mutations an Outcome demands.
type Manager struct {
	mastery int
}

// NewManager builds a Manager from the engine configuration. A nil config
// falls back to the default mastery threshold.
func NewManager(cfg *config.EngineConfig) *Manager {
	mastery := defaultMasteryThreshold
	if cfg != nil && cfg.MasteryThreshold > 0 {
		mastery = cfg.MasteryThreshold
	}
	return &Manager{mastery: mastery}
}

// MasteryThreshold is the number of consecutive correct answers a wrong-pool
// entry demands before it is evicted.
func (m *Manager) MasteryThreshold() int {
	return m.mastery
}

// Grade checks the submitted choice ids against the correct set. The
// selection is deduplicated first; grading is exact set equality, so a
// partial answer to a multiple_choice question is incorrect, never partially
// credited, and an id the question does not own simply fails the match.
func (m *Manager) Grade(q *models.Question, selected []string) (bool, error) {
	if len(selected) == 0 {
		return false, apperrors.InvalidAnswer("selected_choice_ids must not be empty")
	}
	picked := make(map[string]bool, len(selected))
	for _, id := range selected {
		picked[id] = true
	}
	correct := q.CorrectSet()
	if len(picked) != len(correct) {
		return false, nil
	}
	for id := range picked {
		if !correct[id] {
			return false, nil
		}
	}
	return true, nil
}

// Resolve applies the outcome table for one graded answer. prior is the
// active wrong entry the question had before this submission, nil when none.
func (m *Manager) Resolve(prior *models.WrongEntry, correct bool) Outcome {
	switch {
	case correct && prior == nil:
		return Outcome{Action: NextQuestion, PoolOp: PoolOpNone, FirstTime: true}
	case correct:
		remaining := prior.RemainingCorrect - 1
		if remaining <= 0 {
			return Outcome{Action: NextQuestion, PoolOp: PoolOpEvict}
		}
		return Outcome{Action: NextQuestion, PoolOp: PoolOpDecrement, Remaining: remaining}
	case prior == nil:
		return Outcome{Action: RetrySameQuestion, PoolOp: PoolOpAdd, Remaining: m.mastery, FirstTime: true}
	default:
		return Outcome{Action: RetrySameQuestion, PoolOp: PoolOpReset, Remaining: m.mastery}
	}
}
