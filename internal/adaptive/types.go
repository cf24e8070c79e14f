package adaptive

import (
	"fmt"
	"time"
)

// NextAction tells the caller what happens after a graded submission.
type NextAction string

const (
	NextQuestion      NextAction = "next_question"
	RetrySameQuestion NextAction = "retry_same_question"
	SessionComplete   NextAction = "session_complete"
)

// PoolOp is the wrong-pool mutation an outcome demands.
type PoolOp string

const (
	PoolOpNone      PoolOp = "none"
	PoolOpAdd       PoolOp = "add"
	PoolOpDecrement PoolOp = "decrement"
	PoolOpEvict     PoolOp = "evict"
	PoolOpReset     PoolOp = "reset"
)

// Outcome is the pure decision for one graded answer: which wrong-pool
// mutation to apply, the remaining-correct count after it, and whether the
// session cursor advances.
type Outcome struct {
	Action    NextAction
	PoolOp    PoolOp
	Remaining int
	// FirstTime is true when the question had no active wrong entry before
	// this submission.
	FirstTime bool
}

// Advances reports whether the outcome moves the session cursor.
func (o Outcome) Advances() bool {
	return o.Action == NextQuestion
}

// ChoiceView is one presented choice. Correctness never leaves the server.
type ChoiceView struct {
	ChoiceID string `json:"choice_id"`
	Text     string `json:"text"`
}

// QuestionView is a question as served to the user.
type QuestionView struct {
	QuestionID     string       `json:"question_id"`
	Prompt         string       `json:"prompt"`
	Kind           string       `json:"kind"`
	Language       string       `json:"language,omitempty"`
	Choices        []ChoiceView `json:"choices"`
	FromWrongPool  bool         `json:"from_wrong_pool"`
	RemainingTries int          `json:"remaining_tries,omitempty"`
	Shuffled       bool         `json:"shuffled"`
}

// ProgressIndicator summarizes where a session stands, including the extra
// workload owed to the wrong pool.
type ProgressIndicator struct {
	CurrentQuestion     int        `json:"current_question"`
	TotalQuestions      int        `json:"total_questions"`
	AdditionalQuestions int        `json:"additional_questions"`
	CorrectAnswers      int        `json:"correct_answers"`
	WrongAnswers        int        `json:"wrong_answers"`
	WrongPoolSize       int        `json:"wrong_pool_size"`
	NextReviewAt        *time.Time `json:"next_review_at,omitempty"`
	PenaltyText         string     `json:"penalty_text,omitempty"`
	CompletionPercent   float64    `json:"completion_percentage"`
}

// AnswerResult is the caller-visible outcome of one submission.
type AnswerResult struct {
	Correct     bool               `json:"correct"`
	NextAction  NextAction         `json:"next_action"`
	Progress    *ProgressIndicator `json:"progress,omitempty"`
	Question    *QuestionView      `json:"question,omitempty"`
	Explanation string             `json:"explanation,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// PenaltyText renders the indicator surfaced with wrong-pool outcomes.
// Empty when no tries remain.
func PenaltyText(remaining int) string {
	if remaining <= 0 {
		return ""
	}
	return fmt.Sprintf("(+1 Question @ %d Tries)", remaining)
}
