package models

import "time"

// AttemptRecord is one row of a wrong entry's append-only attempt log.
type AttemptRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Correct   bool      `json:"correct"`
}

// WrongEntry is one record per (user, original miss event). Timestamp is the
// instant the question entered the wrong pool and is the immutable sort key;
// resets keep it so oldest-first ordering stays fair.
type WrongEntry struct {
	UserID            string          `json:"user_id"`
	Timestamp         time.Time       `json:"timestamp"`
	QuestionID        string          `json:"question_id"`
	SessionID         string          `json:"session_id"`
	RemainingCorrect  int             `json:"remaining_correct"`
	FrozenChoiceOrder []string        `json:"frozen_choice_order,omitempty"`
	Attempts          []AttemptRecord `json:"attempts"`
	LastAttemptAt     time.Time       `json:"last_attempt_at"`
}

// Active reports whether the entry still needs correct answers for mastery.
func (e *WrongEntry) Active() bool {
	return e.RemainingCorrect > 0
}
