package adaptive

import (
	"context"
	"math"
	"testing"
	"time"

	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
	"adaptive-quiz-service/internal/storage"
)

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		MasteryThreshold:     2,
		WrongPoolProbability: 0.20,
		DifficultyWindow:     10,
		TargetSuccessRate:    0.75,
		DifficultyDelta:      0.15,
		SpacedIntervalsHours: []float64{1, 4, 24, 72, 168},
	}
}

func newTestModel(t *testing.T) (*DifficultyModel, *repository.UserDifficultyRepository) {
	t.Helper()
	store := storage.NewMemoryStore(repository.Tables()...)
	users := repository.NewUserDifficultyRepository(store)
	model := NewDifficultyModel(users, testEngineConfig())
	model.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return model, users
}

func recordResults(t *testing.T, model *DifficultyModel, state *models.UserDifficulty, correct bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := model.RecordResult(context.Background(), state, correct); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
}

func TestTargetAdjustsOncePerFullWindow(t *testing.T) {
	model, _ := newTestModel(t)
	state := models.NewUserDifficulty("u1")

	recordResults(t, model, state, true, 9)
	if state.TargetDifficulty != 0.5 {
		t.Errorf("Expected target unchanged at 0.5 before window fills, got %.3f", state.TargetDifficulty)
	}
	if len(state.RecentResults) != 9 {
		t.Errorf("Expected 9 buffered results, got %d", len(state.RecentResults))
	}

	recordResults(t, model, state, true, 1)
	if math.Abs(state.TargetDifficulty-0.65) > 1e-9 {
		t.Errorf("Expected target 0.65 after a perfect window, got %.3f", state.TargetDifficulty)
	}
	if len(state.RecentResults) != 0 {
		t.Errorf("Expected window consumed, got %d buffered results", len(state.RecentResults))
	}

	recordResults(t, model, state, false, 10)
	if math.Abs(state.TargetDifficulty-0.575) > 1e-9 {
		t.Errorf("Expected target 0.575 after a failed window, got %.3f", state.TargetDifficulty)
	}
}

func TestTargetDeadbandAndClamping(t *testing.T) {
	model, _ := newTestModel(t)

	testCases := []struct {
		name   string
		target float64
		rate   float64
		want   float64
	}{
		{"inside deadband high", 0.5, 0.80, 0.5},
		{"inside deadband low", 0.5, 0.70, 0.5},
		{"at upper edge", 0.5, 0.85, 0.5},
		{"above upper edge", 0.5, 0.90, 0.65},
		{"below lower edge", 0.5, 0.60, 0.425},
		{"clamped at ceiling", 0.95, 1.0, 1.0},
		{"clamped at floor", 0.12, 0.0, 0.1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := model.adjust(tc.target, tc.rate)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Expected target %.3f, got %.3f", tc.want, got)
			}
		})
	}
}

func TestRecordResultPersistsState(t *testing.T) {
	model, users := newTestModel(t)
	state := models.NewUserDifficulty("u1")

	recordResults(t, model, state, true, 3)

	stored, err := users.Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stored == nil {
		t.Fatal("Expected a persisted record")
	}
	if len(stored.RecentResults) != 3 {
		t.Errorf("Expected 3 stored results, got %d", len(stored.RecentResults))
	}
	if stored.TargetDifficulty != 0.5 {
		t.Errorf("Expected stored target 0.5, got %.3f", stored.TargetDifficulty)
	}
}

func TestSnapshotDefaultsForNewUsers(t *testing.T) {
	model, _ := newTestModel(t)

	state, err := model.Snapshot(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state.TargetDifficulty != 0.5 {
		t.Errorf("Expected starting target 0.5, got %.3f", state.TargetDifficulty)
	}
	if state.RecentSuccessRate() != 0.5 {
		t.Errorf("Expected neutral success rate 0.5, got %.3f", state.RecentSuccessRate())
	}
}

func TestDeclaredDifficultyMapping(t *testing.T) {
	testCases := []struct {
		level int
		want  float64
	}{
		{1, 0.1},
		{2, 0.3},
		{3, 0.5},
		{4, 0.7},
		{5, 0.9},
		{0, 0.1},
		{9, 0.9},
	}

	for _, tc := range testCases {
		if got := DeclaredDifficulty(tc.level); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("DeclaredDifficulty(%d): expected %.2f, got %.2f", tc.level, tc.want, got)
		}
	}
}

func TestObservedDifficultyBlend(t *testing.T) {
	// 60% success over 20 attempts, 60s average answer time.
	stats := models.QuestionStats{Attempts: 20, Correct: 12, TotalTimeS: 1200}
	got, ok := ObservedDifficulty(stats)
	if !ok {
		t.Fatal("Expected enough attempts for an observed estimate")
	}
	want := 0.8*0.4 + 0.2*0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %.3f, got %.3f", want, got)
	}

	if _, ok := ObservedDifficulty(models.QuestionStats{Attempts: 9, Correct: 9}); ok {
		t.Error("Expected too few attempts to produce an estimate")
	}

	// Pathologically slow questions saturate the time factor at 1.
	slow := models.QuestionStats{Attempts: 10, Correct: 10, TotalTimeS: 10000}
	got, _ = ObservedDifficulty(slow)
	if math.Abs(got-0.2) > 1e-9 {
		t.Errorf("Expected saturated time factor to yield 0.2, got %.3f", got)
	}
}

func TestQuestionDifficultyFallsBackToDeclared(t *testing.T) {
	question := &models.Question{DeclaredDifficulty: 4, Stats: models.QuestionStats{Attempts: 3, Correct: 1}}
	if got := QuestionDifficulty(question); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("Expected declared fallback 0.7, got %.3f", got)
	}

	question.Stats = models.QuestionStats{Attempts: 50, Correct: 10, TotalTimeS: 0}
	if got := QuestionDifficulty(question); math.Abs(got-0.64) > 1e-9 {
		t.Errorf("Expected observed estimate 0.64, got %.3f", got)
	}
}
