package models

import (
	"fmt"
	"time"

	"adaptive-quiz-service/internal/apperrors"
)

type QuestionKind string

const (
	KindSingleChoice   QuestionKind = "single_choice"
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
	KindFillBlank      QuestionKind = "fill_blank"
)

type QuestionStatus string

const (
	QuestionDraft      QuestionStatus = "draft"
	QuestionActive     QuestionStatus = "active"
	QuestionDeprecated QuestionStatus = "deprecated"
	QuestionFlagged    QuestionStatus = "flagged"
)

// Choice is one selectable option. Insertion order is arbitrary but stable
// per question; presentation order is decided at serving time.
type Choice struct {
	ID      string `json:"choice_id"`
	Text    string `json:"text"`
	Correct bool   `json:"is_correct"`
}

// QuestionStats is the global attempt roll-up used by the difficulty model.
// It is maintained fire-and-forget by the answer pipeline and refreshed by
// the on-demand recomputation over the progress table.
type QuestionStats struct {
	Attempts   int `json:"attempts"`
	Correct    int `json:"correct"`
	TotalTimeS int `json:"total_time_s"`
}

// AvgTimeS returns the mean answer time in seconds, 0 when unattempted.
func (s QuestionStats) AvgTimeS() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.TotalTimeS) / float64(s.Attempts)
}

func (s QuestionStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Attempts)
}

// Question is immutable quiz content owned by the catalog.
type Question struct {
	ID                 string         `json:"question_id"`
	Category           string         `json:"category"`
	Provider           string         `json:"provider"`
	Certificate        string         `json:"certificate"`
	Language           string         `json:"language"`
	Prompt             string         `json:"prompt"`
	Kind               QuestionKind   `json:"kind"`
	Choices            []Choice       `json:"choices"`
	Explanation        string         `json:"explanation,omitempty"`
	DeclaredDifficulty int            `json:"declared_difficulty"`
	Status             QuestionStatus `json:"status"`
	Tags               []string       `json:"tags,omitempty"`
	Stats              QuestionStats  `json:"stats"`
	CreatedBy          string         `json:"created_by,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// CorrectSet returns the set of choice ids marked correct.
func (q *Question) CorrectSet() map[string]bool {
	set := make(map[string]bool)
	for _, c := range q.Choices {
		if c.Correct {
			set[c.ID] = true
		}
	}
	return set
}

// ChoiceByID returns the choice with the given id, nil when absent.
func (q *Question) ChoiceByID(id string) *Choice {
	for i := range q.Choices {
		if q.Choices[i].ID == id {
			return &q.Choices[i]
		}
	}
	return nil
}

// ChoiceOrder returns the stored choice ids in insertion order.
func (q *Question) ChoiceOrder() []string {
	ids := make([]string, len(q.Choices))
	for i, c := range q.Choices {
		ids[i] = c.ID
	}
	return ids
}

// ChoicesInOrder rebuilds the choice list following the given id order.
// Ids that do not belong to the question are skipped; ids missing from the
// order are appended in insertion order so a stale permutation still
// presents every choice exactly once.
func (q *Question) ChoicesInOrder(order []string) []Choice {
	out := make([]Choice, 0, len(q.Choices))
	seen := make(map[string]bool, len(q.Choices))
	for _, id := range order {
		if c := q.ChoiceByID(id); c != nil && !seen[id] {
			out = append(out, *c)
			seen[id] = true
		}
	}
	for _, c := range q.Choices {
		if !seen[c.ID] {
			out = append(out, c)
			seen[c.ID] = true
		}
	}
	return out
}

func validKind(k QuestionKind) bool {
	switch k {
	case KindSingleChoice, KindMultipleChoice, KindTrueFalse, KindFillBlank:
		return true
	}
	return false
}

func validQuestionStatus(s QuestionStatus) bool {
	switch s {
	case QuestionDraft, QuestionActive, QuestionDeprecated, QuestionFlagged:
		return true
	}
	return false
}

// Validate enforces the authoring constraints for catalog writes.
func (q *Question) Validate() error {
	if q.ID == "" {
		return apperrors.InvalidQuestion("question_id", "question_id is required")
	}
	if q.Category == "" {
		return apperrors.InvalidQuestion("category", "category is required")
	}
	if len(q.Prompt) < 10 || len(q.Prompt) > 1000 {
		return apperrors.InvalidQuestion("prompt", "prompt must be between 10 and 1000 characters")
	}
	if !validKind(q.Kind) {
		return apperrors.InvalidQuestion("kind", fmt.Sprintf("unknown question kind %q", q.Kind))
	}
	if !validQuestionStatus(q.Status) {
		return apperrors.InvalidQuestion("status", fmt.Sprintf("unknown question status %q", q.Status))
	}
	if len(q.Choices) < 2 || len(q.Choices) > 10 {
		return apperrors.InvalidQuestion("choices", "a question needs between 2 and 10 choices")
	}
	seen := make(map[string]bool, len(q.Choices))
	correct := 0
	for i, c := range q.Choices {
		if c.ID == "" {
			return apperrors.InvalidQuestion(fmt.Sprintf("choices[%d].choice_id", i), "choice_id is required")
		}
		if seen[c.ID] {
			return apperrors.InvalidQuestion(fmt.Sprintf("choices[%d].choice_id", i), "duplicate choice_id "+c.ID)
		}
		seen[c.ID] = true
		if c.Correct {
			correct++
		}
	}
	if correct == 0 {
		return apperrors.InvalidQuestion("choices", "at least one choice must be correct")
	}
	if q.Kind == KindSingleChoice && correct != 1 {
		return apperrors.InvalidQuestion("choices", "single_choice questions must have exactly one correct choice")
	}
	if q.DeclaredDifficulty < 1 || q.DeclaredDifficulty > 5 {
		return apperrors.InvalidQuestion("declared_difficulty", "declared_difficulty must be between 1 and 5")
	}
	return nil
}
