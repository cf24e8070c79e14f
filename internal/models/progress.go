package models

import "time"

// Progress is the per-(user, question) attempt aggregate. Tallies only ever
// increment; the record is retained after sessions end.
type Progress struct {
	UserID            string    `json:"user_id"`
	QuestionID        string    `json:"question_id"`
	SessionID         string    `json:"session_id"`
	AttemptsTotal     int       `json:"attempts_total"`
	AttemptsCorrect   int       `json:"attempts_correct"`
	AttemptsIncorrect int       `json:"attempts_incorrect"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastAttemptAt     time.Time `json:"last_attempt_at"`
	CumulativeTimeS   int       `json:"cumulative_time_s"`
	LastCorrect       bool      `json:"last_correct"`
	Mastered          bool      `json:"mastered"`
}

func (p *Progress) SuccessRate() float64 {
	if p.AttemptsTotal == 0 {
		return 0
	}
	return float64(p.AttemptsCorrect) / float64(p.AttemptsTotal)
}
