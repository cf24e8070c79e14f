package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/event"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
	"adaptive-quiz-service/internal/selection"
)

// Seconds budgeted per planned question when the caller does not set an
// estimate of their own.
const estimatedSecondsPerQuestion = 90

// ServedQuestion pairs the next question with the session's progress
// snapshot. Question is nil when the session is complete.
type ServedQuestion struct {
	Action   adaptive.NextAction         `json:"next_action"`
	Question *adaptive.QuestionView      `json:"question,omitempty"`
	Progress *adaptive.ProgressIndicator `json:"progress"`
}

// SessionSummary is the reporting view of one session.
type SessionSummary struct {
	Session             *models.Session             `json:"session"`
	Progress            *adaptive.ProgressIndicator `json:"progress"`
	AvgTimePerQuestionS float64                     `json:"avg_time_per_question_s"`
	EstimatedRemainingS int                         `json:"estimated_remaining_s"`
}

// SessionService owns the session lifecycle: creation against the catalog,
// status transitions, the version-guarded progress advance and question
// serving through the selector.
type SessionService struct {
	Sessions  *repository.SessionRepository
	Questions *repository.QuestionRepository
	selector  *selection.Selector
	wrongPool *selection.WrongPoolManager
	events    *event.Publisher
	cfg       *config.EngineConfig
	rand      *rand.Rand
	now       func() time.Time
}

func NewSessionService(
	sessions *repository.SessionRepository,
	questions *repository.QuestionRepository,
	selector *selection.Selector,
	wrongPool *selection.WrongPoolManager,
	events *event.Publisher,
	cfg *config.EngineConfig,
) *SessionService {
	return &SessionService{
		Sessions:  sessions,
		Questions: questions,
		selector:  selector,
		wrongPool: wrongPool,
		events:    events,
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// Reseed replaces the random source used for pool sampling.
func (s *SessionService) Reseed(seed int64) {
	s.rand = rand.New(rand.NewSource(seed))
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates the config, builds the question pool from the catalog
// and persists the session in the created state.
func (s *SessionService) Create(ctx context.Context, userID string, cfg models.SessionConfig) (*models.Session, error) {
	if err := cfg.Validate(s.cfg.MaxSessionQuestions); err != nil {
		return nil, err
	}
	pool, err := s.buildPool(ctx, cfg.Sources)
	if err != nil {
		return nil, err
	}
	cfg.PlannedTotal = cfg.TotalQuestions()
	if cfg.EstimatedSeconds == 0 {
		cfg.EstimatedSeconds = cfg.PlannedTotal * estimatedSecondsPerQuestion
	}
	now := s.now().UTC()
	session := &models.Session{
		ID:           "sess-" + uuid.New().String(),
		UserID:       userID,
		Config:       cfg,
		QuestionPool: pool,
		Status:       models.SessionCreated,
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionDuration),
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.events.Publish(event.SessionCreated, s.sessionPayload(session))
	return session, nil
}

// buildPool resolves each source against the catalog and samples the
// requested count at random. Catalog ordering is unspecified, so the sample
// never depends on it. Only active questions are eligible.
func (s *SessionService) buildPool(ctx context.Context, sources []models.SessionSource) ([]string, error) {
	pool := make([]string, 0)
	seen := make(map[string]bool)
	for _, src := range sources {
		questions, err := s.Questions.Search(ctx, repository.QuestionFilter{
			Category:    src.Category,
			Provider:    src.Provider,
			Certificate: src.Certificate,
			Language:    src.Language,
			Status:      models.QuestionActive,
		}, 0)
		if err != nil {
			return nil, err
		}
		candidates := make([]string, 0, len(questions))
		for _, q := range questions {
			if src.Difficulty != 0 && q.DeclaredDifficulty != src.Difficulty {
				continue
			}
			if !seen[q.ID] {
				candidates = append(candidates, q.ID)
			}
		}
		if len(candidates) < src.QuestionCount {
			return nil, apperrors.InsufficientQuestions(src.QuestionCount, len(candidates))
		}
		s.rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		for _, id := range candidates[:src.QuestionCount] {
			seen[id] = true
			pool = append(pool, id)
		}
	}
	return pool, nil
}

// Get point-reads the session and applies lazy expiry: a serving or paused
// session past its deadline reads as expired, with a best-effort write-back.
// A losing write-back race still returns the expired view.
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	session, err := s.Sessions.Find(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !session.Expired(now) {
		return session, nil
	}
	write := *session
	write.Status = models.SessionExpired
	write.Version = session.Version + 1
	write.UpdatedAt = now
	ok, err := s.Sessions.UpdateVersioned(ctx, &write, session.Version)
	if err != nil {
		return nil, err
	}
	if ok {
		s.events.Publish(event.SessionExpired, s.sessionPayload(&write))
		return &write, nil
	}
	session.Status = models.SessionExpired
	return session, nil
}

func (s *SessionService) List(ctx context.Context, userID string, status models.SessionStatus, limit int) ([]*models.Session, error) {
	return s.Sessions.ListByUser(ctx, userID, status, limit)
}

// Transition moves the session to the requested status. Illegal moves fail
// fast with InvalidTransition; legal ones go through the version-guarded
// write and retry on conflict.
func (s *SessionService) Transition(ctx context.Context, sessionID, userID string, to models.SessionStatus) (*models.Session, error) {
	for attempt := 0; attempt < s.cfg.AdvanceRetryAttempts; attempt++ {
		session, err := s.Get(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if !session.CanTransition(to) {
			return nil, apperrors.InvalidTransition(string(session.Status), string(to))
		}
		from := session.Status
		write := *session
		write.Status = to
		write.Version = session.Version + 1
		write.UpdatedAt = s.now().UTC()
		ok, err := s.Sessions.UpdateVersioned(ctx, &write, session.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			s.publishTransition(from, &write)
			return &write, nil
		}
	}
	return nil, apperrors.Concurrent(sessionID, s.cfg.AdvanceRetryAttempts)
}

func (s *SessionService) publishTransition(from models.SessionStatus, session *models.Session) {
	payload := s.sessionPayload(session)
	switch session.Status {
	case models.SessionActive:
		if from == models.SessionPaused {
			s.events.Publish(event.SessionResumed, payload)
		} else {
			s.events.Publish(event.SessionStarted, payload)
		}
	case models.SessionPaused:
		s.events.Publish(event.SessionPaused, payload)
	case models.SessionCancelled:
		s.events.Publish(event.SessionCancelled, payload)
	case models.SessionCompleted:
		s.events.Publish(event.SessionCompleted, s.completionPayload(session))
	}
}

// NextQuestion serves the selector's pick for the session. When nothing is
// left to serve, the session is completed in the same call and the result
// carries no question.
func (s *SessionService) NextQuestion(ctx context.Context, sessionID, userID string) (*ServedQuestion, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	pick, err := s.selector.Next(ctx, session)
	if err != nil {
		return nil, err
	}
	if pick == nil {
		completed, err := s.completeServing(ctx, session)
		if err != nil {
			return nil, err
		}
		progress, err := s.progressIndicator(ctx, completed, "")
		if err != nil {
			return nil, err
		}
		return &ServedQuestion{Action: adaptive.SessionComplete, Progress: progress}, nil
	}
	penalty := ""
	if pick.FromWrongPool {
		penalty = adaptive.PenaltyText(pick.RemainingTries)
	}
	progress, err := s.progressIndicator(ctx, session, penalty)
	if err != nil {
		return nil, err
	}
	return &ServedQuestion{
		Action:   adaptive.NextQuestion,
		Question: questionView(pick.Question, pick.Order, pick.Shuffled, pick.FromWrongPool, pick.RemainingTries),
		Progress: progress,
	}, nil
}

// completeServing finalizes a drained session. Only serving sessions reach
// this point, and any advance has already promoted created to active, so the
// write is always a legal active to completed move. A losing race where
// another call completed it first is absorbed by the re-read.
func (s *SessionService) completeServing(ctx context.Context, session *models.Session) (*models.Session, error) {
	current := session
	for attempt := 0; attempt < s.cfg.AdvanceRetryAttempts; attempt++ {
		if current.Status == models.SessionCompleted {
			return current, nil
		}
		write := *current
		write.Status = models.SessionCompleted
		write.Version = current.Version + 1
		write.UpdatedAt = s.now().UTC()
		ok, err := s.Sessions.UpdateVersioned(ctx, &write, current.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			s.events.Publish(event.SessionCompleted, s.completionPayload(&write))
			return &write, nil
		}
		current, err = s.Sessions.Find(ctx, session.ID, session.UserID)
		if err != nil {
			return nil, err
		}
	}
	return nil, apperrors.Concurrent(session.ID, s.cfg.AdvanceRetryAttempts)
}

// Advance applies one answered question to the session under the version
// guard. The delta is recomputed from a fresh read on every retry, so a
// replayed submission or a lost race never double-counts: a question already
// in answered_ids, or outside the session's pool, only accrues time.
// firstTry reports whether the question had no active wrong entry before
// this submission; it decides which tally the advance credits.
func (s *SessionService) Advance(ctx context.Context, session *models.Session, questionID string, firstTry bool, timeS int) (*models.Session, error) {
	current := session
	for attempt := 0; attempt < s.cfg.AdvanceRetryAttempts; attempt++ {
		write := *current
		write.Progress.AnsweredIDs = append([]string(nil), current.Progress.AnsweredIDs...)
		applyAdvance(&write, questionID, firstTry, timeS)
		write.Version = current.Version + 1
		write.UpdatedAt = s.now().UTC()
		if write.Status == models.SessionCreated {
			write.Status = models.SessionActive
		}
		ok, err := s.Sessions.UpdateVersioned(ctx, &write, current.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return &write, nil
		}
		current, err = s.Sessions.Find(ctx, session.ID, session.UserID)
		if err != nil {
			return nil, err
		}
	}
	return nil, apperrors.Concurrent(session.ID, s.cfg.AdvanceRetryAttempts)
}

// applyAdvance folds one answered question into the progress. The cursor
// and tallies move once per pool question; repeats and questions served from
// another session's pool only accrue time.
func applyAdvance(session *models.Session, questionID string, firstTry bool, timeS int) {
	session.Progress.TimeSpentS += timeS
	if !session.InPool(questionID) || session.Progress.Answered(questionID) {
		return
	}
	session.Progress.AnsweredIDs = append(session.Progress.AnsweredIDs, questionID)
	session.Progress.Cursor++
	if firstTry {
		session.Progress.CorrectCount++
	} else {
		session.Progress.WrongCount++
	}
}

// Progress reports the session's progress indicator without serving.
func (s *SessionService) Progress(ctx context.Context, sessionID, userID string) (*adaptive.ProgressIndicator, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.progressIndicator(ctx, session, "")
}

// Summary builds the reporting view: progress plus pace estimates.
func (s *SessionService) Summary(ctx context.Context, sessionID, userID string) (*SessionSummary, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	progress, err := s.progressIndicator(ctx, session, "")
	if err != nil {
		return nil, err
	}
	summary := &SessionSummary{Session: session, Progress: progress}
	answered := session.Progress.Cursor
	if answered > 0 {
		summary.AvgTimePerQuestionS = float64(session.Progress.TimeSpentS) / float64(answered)
	}
	remaining := session.Config.PlannedTotal - answered + progress.AdditionalQuestions
	if remaining > 0 && answered > 0 {
		summary.EstimatedRemainingS = int(math.Round(summary.AvgTimePerQuestionS * float64(remaining)))
	} else if remaining > 0 {
		summary.EstimatedRemainingS = remaining * estimatedSecondsPerQuestion
	}
	return summary, nil
}

func (s *SessionService) progressIndicator(ctx context.Context, session *models.Session, penalty string) (*adaptive.ProgressIndicator, error) {
	stats, err := s.wrongPool.Stats(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	percent := session.Progress.CompletionPercent(session.Config.PlannedTotal)
	indicator := &adaptive.ProgressIndicator{
		CurrentQuestion:     session.Progress.Cursor,
		TotalQuestions:      session.Config.PlannedTotal,
		AdditionalQuestions: stats.RemainingTotal,
		CorrectAnswers:      session.Progress.CorrectCount,
		WrongAnswers:        session.Progress.WrongCount,
		WrongPoolSize:       stats.ActiveCount,
		PenaltyText:         penalty,
		CompletionPercent:   math.Round(percent*10) / 10,
	}
	if !stats.NextDueAt.IsZero() {
		due := stats.NextDueAt
		indicator.NextReviewAt = &due
	}
	return indicator, nil
}

func (s *SessionService) sessionPayload(session *models.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"status":     string(session.Status),
		"cursor":     session.Progress.Cursor,
		"planned":    session.Config.PlannedTotal,
	}
}

// completionPayload extends the lifecycle payload with the final tallies.
func (s *SessionService) completionPayload(session *models.Session) map[string]interface{} {
	payload := s.sessionPayload(session)
	payload["correct_count"] = session.Progress.CorrectCount
	payload["wrong_count"] = session.Progress.WrongCount
	payload["time_spent_s"] = session.Progress.TimeSpentS
	return payload
}

// questionView renders a question for serving in the decided order.
// Correctness flags stay on the server.
func questionView(q *models.Question, order []string, shuffled, fromWrongPool bool, remainingTries int) *adaptive.QuestionView {
	choices := q.ChoicesInOrder(order)
	views := make([]adaptive.ChoiceView, len(choices))
	for i, c := range choices {
		views[i] = adaptive.ChoiceView{ChoiceID: c.ID, Text: c.Text}
	}
	view := &adaptive.QuestionView{
		QuestionID:    q.ID,
		Prompt:        q.Prompt,
		Kind:          string(q.Kind),
		Language:      q.Language,
		Choices:       views,
		FromWrongPool: fromWrongPool,
		Shuffled:      shuffled,
	}
	if fromWrongPool {
		view.RemainingTries = remainingTries
	}
	return view
}
