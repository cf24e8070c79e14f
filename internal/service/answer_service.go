package service

import (
	"context"
	"log"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/event"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
	"adaptive-quiz-service/internal/selection"
)

const retryMessage = "Incorrect. Try again with the shuffled answers."

// AnswerService runs the answer pipeline: grade, mutate the wrong pool,
// append to progress, advance the session, recalibrate the difficulty
// target. The pool and progress steps are idempotent, so a client retrying
// after a Concurrent failure replays them safely.
type AnswerService struct {
	Sessions   *SessionService
	Questions  *repository.QuestionRepository
	Progress   *repository.ProgressRepository
	grader     *adaptive.Manager
	wrongPool  *selection.WrongPoolManager
	difficulty *adaptive.DifficultyModel
	selector   *selection.Selector
	events     *event.Publisher
	now        func() time.Time
}

func NewAnswerService(
	sessions *SessionService,
	questions *repository.QuestionRepository,
	progress *repository.ProgressRepository,
	grader *adaptive.Manager,
	wrongPool *selection.WrongPoolManager,
	difficulty *adaptive.DifficultyModel,
	selector *selection.Selector,
	events *event.Publisher,
) *AnswerService {
	return &AnswerService{
		Sessions:   sessions,
		Questions:  questions,
		Progress:   progress,
		grader:     grader,
		wrongPool:  wrongPool,
		difficulty: difficulty,
		selector:   selector,
		events:     events,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *AnswerService) SetClock(now func() time.Time) {
	s.now = now
}

// Submit grades one answer and applies its side effects in order. An
// incorrect answer returns the same question re-shuffled for an immediate
// retry; a correct one reports the advanced progress.
func (s *AnswerService) Submit(ctx context.Context, sessionID, userID, questionID string, selected []string, timeS int) (*adaptive.AnswerResult, error) {
	session, err := s.Sessions.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !session.Serving() {
		return nil, apperrors.SessionNotServing(session.ID, string(session.Status))
	}
	question, err := s.Questions.FindByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	correct, err := s.grader.Grade(question, selected)
	if err != nil {
		return nil, err
	}
	prior, err := s.wrongPool.LookupActive(ctx, userID, questionID)
	if err != nil {
		return nil, err
	}
	outcome := s.grader.Resolve(prior, correct)

	entry, err := s.applyPoolOp(ctx, session, question, prior, outcome)
	if err != nil {
		return nil, err
	}
	mastered := outcome.PoolOp == adaptive.PoolOpEvict

	if err := s.Progress.RecordAttempt(ctx, userID, questionID, sessionID, correct, timeS, mastered, s.now().UTC()); err != nil {
		return nil, err
	}
	// Question stats feed the observed-difficulty estimate; a lost update
	// only delays the estimate, so failures are logged and not surfaced.
	if err := s.Questions.RecordOutcome(ctx, question, correct, timeS); err != nil {
		log.Printf("answer: record outcome for %s failed: %v", questionID, err)
	}

	current := session
	if outcome.Advances() {
		current, err = s.Sessions.Advance(ctx, session, questionID, outcome.FirstTime, timeS)
		if err != nil {
			return nil, err
		}
	}

	state, err := s.difficulty.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.difficulty.RecordResult(ctx, state, correct); err != nil {
		return nil, err
	}

	progress, err := s.Sessions.progressIndicator(ctx, current, adaptive.PenaltyText(outcome.Remaining))
	if err != nil {
		return nil, err
	}
	result := &adaptive.AnswerResult{
		Correct:    correct,
		NextAction: outcome.Action,
		Progress:   progress,
	}
	if correct {
		if session.Config.Settings.ShowExplanation {
			result.Explanation = question.Explanation
		}
	} else {
		result.Question = questionView(question, entry.FrozenChoiceOrder, true, false, 0)
		result.Message = retryMessage
	}

	s.events.Publish(event.AnswerSubmitted, map[string]interface{}{
		"session_id":  sessionID,
		"user_id":     userID,
		"question_id": questionID,
		"correct":     correct,
		"next_action": string(outcome.Action),
		"time_s":      timeS,
	})
	if mastered {
		s.events.Publish(event.QuestionMastered, map[string]interface{}{
			"user_id":     userID,
			"question_id": questionID,
			"session_id":  sessionID,
		})
	}
	return result, nil
}

// applyPoolOp performs the wrong-pool mutation the outcome demands and
// returns the entry it acted on, nil when the pool is untouched. Add and
// reset freeze a fresh shuffle so the immediate retry presents a new order.
func (s *AnswerService) applyPoolOp(ctx context.Context, session *models.Session, question *models.Question, prior *models.WrongEntry, outcome adaptive.Outcome) (*models.WrongEntry, error) {
	switch outcome.PoolOp {
	case adaptive.PoolOpAdd:
		return s.wrongPool.Add(ctx, session.UserID, question.ID, session.ID, s.selector.Shuffle(question))
	case adaptive.PoolOpDecrement, adaptive.PoolOpEvict:
		if _, err := s.wrongPool.Decrement(ctx, prior); err != nil {
			return nil, err
		}
		return prior, nil
	case adaptive.PoolOpReset:
		if err := s.wrongPool.Reset(ctx, prior, s.selector.Shuffle(question)); err != nil {
			return nil, err
		}
		return prior, nil
	default:
		return nil, nil
	}
}
