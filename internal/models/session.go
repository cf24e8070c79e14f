package models

import (
	"fmt"
	"time"

	"adaptive-quiz-service/internal/apperrors"
)

type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
	SessionCancelled SessionStatus = "cancelled"
)

// sessionTransitions is the allowed-transitions table. Expiry is not listed;
// it is applied lazily on read when expires_at has passed.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionCreated: {SessionActive, SessionCancelled},
	SessionActive:  {SessionPaused, SessionCompleted, SessionCancelled},
	SessionPaused:  {SessionActive, SessionCancelled},
}

func validSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionCreated, SessionActive, SessionPaused, SessionCompleted, SessionExpired, SessionCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionExpired
}

// SessionSource selects questions from one slice of the catalog.
// Difficulty 0 means no difficulty filter.
type SessionSource struct {
	Category      string `json:"category"`
	Provider      string `json:"provider"`
	Certificate   string `json:"certificate"`
	Language      string `json:"language"`
	QuestionCount int    `json:"question_count"`
	Difficulty    int    `json:"difficulty,omitempty"`
}

type SessionSettings struct {
	ShuffleChoices  bool `json:"shuffle_choices"`
	ShowExplanation bool `json:"show_explanation"`
	TimeLimitS      int  `json:"time_limit_s,omitempty"`
}

type SessionConfig struct {
	Name             string          `json:"name"`
	Sources          []SessionSource `json:"sources"`
	Settings         SessionSettings `json:"settings"`
	PlannedTotal     int             `json:"planned_total"`
	EstimatedSeconds int             `json:"estimated_seconds"`
}

// SessionProgress tracks original-position advances. Retries of a wrong
// answer never move the cursor.
type SessionProgress struct {
	Cursor       int      `json:"cursor"`
	AnsweredIDs  []string `json:"answered_ids"`
	CorrectCount int      `json:"correct_count"`
	WrongCount   int      `json:"wrong_count"`
	TimeSpentS   int      `json:"time_spent_s"`
}

// Answered reports whether the question already advanced the cursor.
func (p *SessionProgress) Answered(questionID string) bool {
	for _, id := range p.AnsweredIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// CompletionPercent is derived for presentation only, never persisted.
func (p *SessionProgress) CompletionPercent(plannedTotal int) float64 {
	if plannedTotal == 0 {
		return 0
	}
	return float64(p.Cursor) / float64(plannedTotal) * 100
}

// Session is a user's attempt at a fixed question pool.
type Session struct {
	ID           string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	Config       SessionConfig   `json:"config"`
	QuestionPool []string        `json:"question_pool"`
	Progress     SessionProgress `json:"progress"`
	Status       SessionStatus   `json:"status"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// InPool reports whether the question belongs to the session's base pool.
func (s *Session) InPool(questionID string) bool {
	for _, id := range s.QuestionPool {
		if id == questionID {
			return true
		}
	}
	return false
}

// CanTransition checks the allowed-transitions table.
func (s *Session) CanTransition(to SessionStatus) bool {
	for _, allowed := range sessionTransitions[s.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Expired reports whether the session should be read as expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.Status.Terminal() && now.After(s.ExpiresAt)
}

// Serving reports whether questions may be selected or answered.
func (s *Session) Serving() bool {
	return s.Status == SessionCreated || s.Status == SessionActive
}

// Validate enforces the session creation constraints.
func (c *SessionConfig) Validate(maxQuestions int) error {
	if c.Name == "" {
		return apperrors.InvalidSessionConfig("name", "name is required")
	}
	if len(c.Name) > 100 {
		return apperrors.InvalidSessionConfig("name", "name must be at most 100 characters")
	}
	if len(c.Sources) == 0 {
		return apperrors.InvalidSessionConfig("sources", "at least one source is required")
	}
	if len(c.Sources) > 10 {
		return apperrors.InvalidSessionConfig("sources", "at most 10 sources are allowed")
	}
	total := 0
	for i, src := range c.Sources {
		if src.Category == "" {
			return apperrors.InvalidSessionConfig(fmt.Sprintf("sources[%d].category", i), "category is required")
		}
		if src.QuestionCount <= 0 {
			return apperrors.InvalidSessionConfig(fmt.Sprintf("sources[%d].question_count", i), "question_count must be positive")
		}
		if src.Difficulty < 0 || src.Difficulty > 5 {
			return apperrors.InvalidSessionConfig(fmt.Sprintf("sources[%d].difficulty", i), "difficulty must be between 1 and 5")
		}
		total += src.QuestionCount
	}
	if total > maxQuestions {
		return apperrors.InvalidSessionConfig("sources", fmt.Sprintf("total question count %d exceeds the maximum of %d", total, maxQuestions))
	}
	return nil
}

// TotalQuestions is the planned total derived from the sources.
func (c *SessionConfig) TotalQuestions() int {
	total := 0
	for _, src := range c.Sources {
		total += src.QuestionCount
	}
	return total
}
