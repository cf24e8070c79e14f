package repository

import (
	"context"
	"errors"

	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/storage"
)

type QuestionRepository struct {
	store storage.Store
}

func NewQuestionRepository(store storage.Store) *QuestionRepository {
	return &QuestionRepository{store: store}
}

// QuestionFilter narrows a catalog search; empty fields are ignored.
type QuestionFilter struct {
	Category    string
	Provider    string
	Certificate string
	Language    string
	Status      models.QuestionStatus
}

func (f QuestionFilter) storageFilter() storage.Key {
	filter := storage.Key{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Provider != "" {
		filter["provider"] = f.Provider
	}
	if f.Certificate != "" {
		filter["certificate"] = f.Certificate
	}
	if f.Language != "" {
		filter["language"] = f.Language
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return filter
}

func (r *QuestionRepository) Create(ctx context.Context, question *models.Question) error {
	if err := r.store.Put(ctx, tableQuestions, models.EncodeQuestion(question)); err != nil {
		return storeErr(err)
	}
	return nil
}

// FindByID resolves a question by its unique id. The table key is
// (questionId, category), so the point read is a bounded query on the id
// alone.
func (r *QuestionRepository) FindByID(ctx context.Context, questionID string) (*models.Question, error) {
	recs, err := r.store.Query(ctx, tableQuestions, storage.Query{
		Filter: storage.Key{"questionId": questionID},
		Limit:  1,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if len(recs) == 0 {
		return nil, apperrors.QuestionNotFound(questionID)
	}
	question, err := models.DecodeQuestion(recs[0])
	if err != nil {
		return nil, apperrors.Corrupted("question", err)
	}
	return question, nil
}

// BatchFind resolves many questions in chunked round trips. Missing ids are
// skipped, not errors; callers compare lengths when absence matters.
func (r *QuestionRepository) BatchFind(ctx context.Context, questionIDs []string) ([]*models.Question, error) {
	keys := make([]storage.Key, len(questionIDs))
	for i, id := range questionIDs {
		keys[i] = storage.Key{"questionId": id}
	}
	recs, err := r.store.BatchGet(ctx, tableQuestions, keys)
	if err != nil {
		return nil, storeErr(err)
	}
	questions := make([]*models.Question, 0, len(recs))
	for _, rec := range recs {
		question, err := models.DecodeQuestion(rec)
		if err != nil {
			return nil, apperrors.Corrupted("question", err)
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func (r *QuestionRepository) Search(ctx context.Context, filter QuestionFilter, limit int) ([]*models.Question, error) {
	recs, err := r.store.Query(ctx, tableQuestions, storage.Query{
		Filter: filter.storageFilter(),
		Limit:  limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	questions := make([]*models.Question, 0, len(recs))
	for _, rec := range recs {
		question, err := models.DecodeQuestion(rec)
		if err != nil {
			return nil, apperrors.Corrupted("question", err)
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func questionKey(q *models.Question) storage.Key {
	return storage.Key{"questionId": q.ID, "category": q.Category}
}

// RecordOutcome folds one graded attempt into the question's rolled-up
// stats. The roll-up feeds the observed-difficulty estimate without a full
// scan of the progress table.
func (r *QuestionRepository) RecordOutcome(ctx context.Context, q *models.Question, correct bool, timeS int) error {
	correctInc := 0
	if correct {
		correctInc = 1
	}
	err := r.store.Update(ctx, tableQuestions, questionKey(q),
		storage.Mutation{Inc: storage.Item{
			"statAttempts":   1,
			"statCorrect":    correctInc,
			"statTotalTimeS": timeS,
		}}, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.QuestionNotFound(q.ID)
		}
		return storeErr(err)
	}
	return nil
}

// RefreshStats replaces the roll-up wholesale, used when the stats are
// recomputed from the progress table instead of folded in incrementally.
func (r *QuestionRepository) RefreshStats(ctx context.Context, q *models.Question, stats models.QuestionStats) error {
	err := r.store.Update(ctx, tableQuestions, questionKey(q),
		storage.Mutation{Set: storage.Item{
			"statAttempts":   stats.Attempts,
			"statCorrect":    stats.Correct,
			"statTotalTimeS": stats.TotalTimeS,
		}}, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.QuestionNotFound(q.ID)
		}
		return storeErr(err)
	}
	return nil
}

func (r *QuestionRepository) UpdateStatus(ctx context.Context, q *models.Question, status models.QuestionStatus) error {
	err := r.store.Update(ctx, tableQuestions, questionKey(q),
		storage.Mutation{Set: storage.Item{"status": string(status)}}, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.QuestionNotFound(q.ID)
		}
		return storeErr(err)
	}
	return nil
}

func (r *QuestionRepository) Delete(ctx context.Context, q *models.Question) error {
	if err := r.store.Delete(ctx, tableQuestions, questionKey(q)); err != nil {
		return storeErr(err)
	}
	return nil
}
