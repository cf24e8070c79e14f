package models

import "time"

// UserDifficulty is the per-user adaptive target plus the rolling window of
// recent results it is recalibrated from. The window is bounded by the
// difficulty window size and consumed whenever the target is re-evaluated.
type UserDifficulty struct {
	UserID           string    `json:"user_id"`
	TargetDifficulty float64   `json:"target_difficulty"`
	RecentResults    []bool    `json:"recent_results"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewUserDifficulty returns the starting state for a user never seen before.
func NewUserDifficulty(userID string) *UserDifficulty {
	return &UserDifficulty{
		UserID:           userID,
		TargetDifficulty: 0.5,
	}
}

// RecentSuccessRate is the success rate over the current window. With no
// observations yet it reports the neutral 0.5.
func (d *UserDifficulty) RecentSuccessRate() float64 {
	if len(d.RecentResults) == 0 {
		return 0.5
	}
	correct := 0
	for _, ok := range d.RecentResults {
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(d.RecentResults))
}
