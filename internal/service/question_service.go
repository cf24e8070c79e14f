package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/cache"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
)

// Window of progress history folded into a recomputed difficulty estimate.
const difficultyLookback = 30 * 24 * time.Hour

// importChunkSize bounds one storage round trip during bulk import.
const importChunkSize = 25

// ImportReport summarizes a bulk import: which questions were written and
// which were rejected with the validation message.
type ImportReport struct {
	Imported int               `json:"imported"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// DifficultyEstimate is the recomputed difficulty of one question.
type DifficultyEstimate struct {
	QuestionID string               `json:"question_id"`
	Difficulty float64              `json:"difficulty"`
	Observed   bool                 `json:"observed"`
	Stats      models.QuestionStats `json:"stats"`
}

// QuestionService owns catalog authoring and the on-demand difficulty
// recomputation. Reads go through the question cache when one is wired.
type QuestionService struct {
	Repo     *repository.QuestionRepository
	Progress *repository.ProgressRepository
	cache    *cache.QuestionCache
	now      func() time.Time
}

func NewQuestionService(repo *repository.QuestionRepository, progress *repository.ProgressRepository, questionCache *cache.QuestionCache) *QuestionService {
	return &QuestionService{
		Repo:     repo,
		Progress: progress,
		cache:    questionCache,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *QuestionService) SetClock(now func() time.Time) {
	s.now = now
}

// ensureIDs mints ids for a question and any choices the author left blank.
func ensureIDs(q *models.Question) {
	if q.ID == "" {
		q.ID = "q-" + uuid.New().String()
	}
	for i := range q.Choices {
		if q.Choices[i].ID == "" {
			q.Choices[i].ID = "c-" + uuid.New().String()
		}
	}
}

// Create validates and writes one question. New questions land in draft
// unless the author sets a status explicitly; missing ids are minted.
func (s *QuestionService) Create(ctx context.Context, question *models.Question) error {
	if question.Status == "" {
		question.Status = models.QuestionDraft
	}
	ensureIDs(question)
	if err := question.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	question.CreatedAt = now
	question.UpdatedAt = now
	if err := s.Repo.Create(ctx, question); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, question.ID)
	return nil
}

func (s *QuestionService) Get(ctx context.Context, questionID string) (*models.Question, error) {
	if question, ok := s.cache.Get(ctx, questionID); ok {
		return question, nil
	}
	question, err := s.Repo.FindByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, question)
	return question, nil
}

func (s *QuestionService) Search(ctx context.Context, filter repository.QuestionFilter, limit int) ([]*models.Question, error) {
	return s.Repo.Search(ctx, filter, limit)
}

// Import writes a batch of questions in bounded chunks. Invalid questions
// are reported and skipped; they never abort the rest of the batch.
func (s *QuestionService) Import(ctx context.Context, questions []*models.Question) (*ImportReport, error) {
	report := &ImportReport{Rejected: make(map[string]string)}
	now := s.now().UTC()
	valid := make([]*models.Question, 0, len(questions))
	for i, q := range questions {
		if q.Status == "" {
			q.Status = models.QuestionDraft
		}
		supplied := q.ID != ""
		ensureIDs(q)
		if err := q.Validate(); err != nil {
			key := q.ID
			if !supplied {
				key = "#" + strconv.Itoa(i)
			}
			report.Rejected[key] = err.Error()
			continue
		}
		q.CreatedAt = now
		q.UpdatedAt = now
		valid = append(valid, q)
	}
	for start := 0; start < len(valid); start += importChunkSize {
		end := start + importChunkSize
		if end > len(valid) {
			end = len(valid)
		}
		for _, q := range valid[start:end] {
			if err := s.Repo.Create(ctx, q); err != nil {
				return report, err
			}
			s.cache.Invalidate(ctx, q.ID)
			report.Imported++
		}
	}
	if len(report.Rejected) == 0 {
		report.Rejected = nil
	}
	return report, nil
}

// UpdateStatus moves a question through its authoring lifecycle.
func (s *QuestionService) UpdateStatus(ctx context.Context, questionID string, status models.QuestionStatus) (*models.Question, error) {
	question, err := s.Repo.FindByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	question.Status = status
	if err := question.Validate(); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateStatus(ctx, question, status); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, questionID)
	return question, nil
}

// RecomputeDifficulty rebuilds the question's stats from recent progress
// history and refreshes the stored roll-up. The estimate falls back to the
// declared level until enough attempts accumulate.
func (s *QuestionService) RecomputeDifficulty(ctx context.Context, questionID string) (*DifficultyEstimate, error) {
	question, err := s.Repo.FindByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	since := s.now().UTC().Add(-difficultyLookback)
	history, err := s.Progress.FindByQuestion(ctx, questionID, since, 0)
	if err != nil {
		return nil, err
	}
	var stats models.QuestionStats
	for _, p := range history {
		stats.Attempts += p.AttemptsTotal
		stats.Correct += p.AttemptsCorrect
		stats.TotalTimeS += p.CumulativeTimeS
	}
	if err := s.Repo.RefreshStats(ctx, question, stats); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, questionID)
	estimate := &DifficultyEstimate{QuestionID: questionID, Stats: stats}
	if observed, ok := adaptive.ObservedDifficulty(stats); ok {
		estimate.Difficulty = observed
		estimate.Observed = true
	} else {
		estimate.Difficulty = adaptive.DeclaredDifficulty(question.DeclaredDifficulty)
	}
	return estimate, nil
}
