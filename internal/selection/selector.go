package selection

import (
	"context"
	"math"
	"math/rand"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
)

// wrongPoolCandidates bounds how many oldest entries compete on readiness.
const wrongPoolCandidates = 5

// Exploration band multiplied into regular-pool scores.
const (
	exploreMin  = 0.8
	exploreSpan = 0.4
)

// Selector picks the next question for a session. A configurable share of
// draws revisits the wrong pool ordered by spaced-repetition readiness; the
// rest serves the unanswered pool question closest to the user's target
// difficulty.
type Selector struct {
	questions  *repository.QuestionRepository
	wrongPool  *WrongPoolManager
	difficulty *adaptive.DifficultyModel
	cfg        *config.EngineConfig
	rand       *rand.Rand
	now        func() time.Time
}

func NewSelector(questions *repository.QuestionRepository, wrongPool *WrongPoolManager, difficulty *adaptive.DifficultyModel, cfg *config.EngineConfig) *Selector {
	return &Selector{
		questions:  questions,
		wrongPool:  wrongPool,
		difficulty: difficulty,
		cfg:        cfg,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// Reseed replaces the random source with a fixed seed so draws and shuffles
// become deterministic.
func (s *Selector) Reseed(seed int64) {
	s.rand = rand.New(rand.NewSource(seed))
}

// SetClock replaces the time source.
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

// Next chooses the question to serve. A nil pick with a nil error means the
// session has nothing left: the base pool is drained and no wrong entries
// remain active.
func (s *Selector) Next(ctx context.Context, session *models.Session) (*Pick, error) {
	if !session.Serving() {
		return nil, apperrors.SessionNotServing(session.ID, string(session.Status))
	}
	entries, err := s.wrongPool.ListOldest(ctx, session.UserID, wrongPoolCandidates)
	if err != nil {
		return nil, err
	}
	if session.Progress.Cursor >= session.Config.PlannedTotal && len(entries) == 0 {
		return nil, nil
	}
	state, err := s.difficulty.Snapshot(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	// The draw happens before the availability check so a fixed seed yields
	// the same stream regardless of pool contents.
	r := s.rand.Float64()
	if r < s.cfg.WrongPoolProbability && len(entries) > 0 {
		return s.pickFromWrongPool(ctx, entries, state)
	}
	return s.pickFromRegularPool(ctx, session, entries, state)
}

func (s *Selector) pickFromWrongPool(ctx context.Context, entries []*models.WrongEntry, state *models.UserDifficulty) (*Pick, error) {
	best := s.mostReady(entries, state.RecentSuccessRate())
	question, err := s.questions.FindByID(ctx, best.QuestionID)
	if err != nil {
		return nil, err
	}
	order := best.FrozenChoiceOrder
	if len(order) == 0 {
		order = s.Shuffle(question)
		if err := s.wrongPool.FreezeOrder(ctx, best, order); err != nil {
			return nil, err
		}
	}
	return &Pick{
		Question:       question,
		Order:          order,
		Shuffled:       true,
		FromWrongPool:  true,
		RemainingTries: best.RemainingCorrect,
		Entry:          best,
	}, nil
}

func (s *Selector) pickFromRegularPool(ctx context.Context, session *models.Session, entries []*models.WrongEntry, state *models.UserDifficulty) (*Pick, error) {
	remaining := make([]string, 0, len(session.QuestionPool))
	for _, id := range session.QuestionPool {
		if !session.Progress.Answered(id) {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		if len(entries) > 0 {
			return s.pickFromWrongPool(ctx, entries, state)
		}
		return nil, nil
	}
	candidates, err := s.questions.BatchFind(ctx, remaining)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.QuestionNotFound(remaining[0])
	}
	best := s.bestMatch(candidates, state.TargetDifficulty)
	pick := &Pick{Question: best, Order: best.ChoiceOrder()}
	if session.Config.Settings.ShuffleChoices {
		pick.Order = s.Shuffle(best)
		pick.Shuffled = true
	}
	return pick, nil
}

// mostReady scores the candidates and returns the winner; ties go to the
// entry that entered the pool first.
func (s *Selector) mostReady(entries []*models.WrongEntry, recentSuccess float64) *models.WrongEntry {
	now := s.now().UTC()
	best := entries[0]
	bestScore := s.readiness(best, recentSuccess, now)
	for _, e := range entries[1:] {
		score := s.readiness(e, recentSuccess, now)
		if score > bestScore || (score == bestScore && e.Timestamp.Before(best.Timestamp)) {
			best, bestScore = e, score
		}
	}
	return best
}

// readiness is the spaced-repetition ordering score: elapsed time relative
// to the expected interval, capped at 2, plus a struggle bonus for users on
// a losing streak.
func (s *Selector) readiness(e *models.WrongEntry, recentSuccess float64, now time.Time) float64 {
	ageH := now.Sub(e.LastAttemptAt).Hours()
	due := math.Min(ageH/expectedIntervalH(s.cfg.SpacedIntervalsHours, len(e.Attempts)), 2.0)
	return due + math.Max(0, 1-recentSuccess)*0.5
}

// expectedIntervalH indexes the schedule by attempt count, clamped to the
// last element.
func expectedIntervalH(schedule []float64, attempts int) float64 {
	if len(schedule) == 0 {
		return 1
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// bestMatch scores each candidate by closeness to the target difficulty,
// with a uniform random factor mixed in for exploration.
func (s *Selector) bestMatch(candidates []*models.Question, target float64) *models.Question {
	best := candidates[0]
	bestScore := -1.0
	for _, q := range candidates {
		score := (1 - math.Abs(adaptive.QuestionDifficulty(q)-target)) * (exploreMin + exploreSpan*s.rand.Float64())
		if score > bestScore {
			best, bestScore = q, score
		}
	}
	return best
}

// Shuffle returns a fair permutation of the question's choice ids
// (Fisher-Yates via the selector's random source).
func (s *Selector) Shuffle(q *models.Question) []string {
	order := q.ChoiceOrder()
	s.rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
