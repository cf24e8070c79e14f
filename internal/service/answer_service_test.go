package service

import (
	"context"
	"math"
	"testing"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/apperrors"
	"adaptive-quiz-service/internal/models"
)

func TestPerfectRunCompletesWithoutWrongEntries(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t,
		catalogQuestion("q1", "networking", 3),
		catalogQuestion("q2", "networking", 3),
		catalogQuestion("q3", "networking", 3),
	)
	ctx := context.Background()

	session := h.createSession(t, drillConfig(3))

	for i := 0; i < 3; i++ {
		served, err := h.sessions.NextQuestion(ctx, session.ID, "u1")
		if err != nil {
			t.Fatalf("Serve %d: unexpected error: %v", i, err)
		}
		if served.Action != adaptive.NextQuestion || served.Question == nil {
			t.Fatalf("Serve %d: expected a question, got %+v", i, served)
		}
		result, err := h.answers.Submit(ctx, session.ID, "u1", served.Question.QuestionID, []string{"a"}, 10)
		if err != nil {
			t.Fatalf("Submit %d: unexpected error: %v", i, err)
		}
		if !result.Correct || result.NextAction != adaptive.NextQuestion {
			t.Fatalf("Submit %d: expected a correct advance, got %+v", i, result)
		}
		if result.Question != nil || result.Message != "" {
			t.Errorf("Submit %d: expected no retry payload, got %+v", i, result)
		}
		if result.Progress.CurrentQuestion != i+1 || result.Progress.CorrectAnswers != i+1 {
			t.Errorf("Submit %d: expected cursor %d, got %+v", i, i+1, result.Progress)
		}
		if result.Progress.PenaltyText != "" {
			t.Errorf("Submit %d: expected no penalty, got %q", i, result.Progress.PenaltyText)
		}
	}

	served, err := h.sessions.NextQuestion(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if served.Action != adaptive.SessionComplete {
		t.Fatalf("Expected completion, got %+v", served)
	}

	final, err := h.sessions.Get(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if final.Status != models.SessionCompleted {
		t.Errorf("Expected completed, got %s", final.Status)
	}
	if final.Progress.Cursor != 3 || final.Progress.CorrectCount != 3 || final.Progress.WrongCount != 0 {
		t.Errorf("Expected a clean 3/3/0, got %+v", final.Progress)
	}
	if final.Progress.TimeSpentS != 30 {
		t.Errorf("Expected 30s spent, got %d", final.Progress.TimeSpentS)
	}
	if len(final.Progress.AnsweredIDs) != final.Progress.Cursor {
		t.Errorf("Expected answered ids to match the cursor, got %v", final.Progress.AnsweredIDs)
	}

	entries, err := h.pool.ListOldest(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no wrong entries, got %d", len(entries))
	}
}

func TestMissRetryThenMasteryDrainsTheWrongPool(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()

	session := h.createSession(t, drillConfig(1))
	if _, err := h.sessions.NextQuestion(ctx, session.ID, "u1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Miss: the question enters the pool and comes straight back shuffled.
	result, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"b"}, 20)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Correct || result.NextAction != adaptive.RetrySameQuestion {
		t.Fatalf("Expected an incorrect retry, got %+v", result)
	}
	if result.Message != "Incorrect. Try again with the shuffled answers." {
		t.Errorf("Unexpected retry message %q", result.Message)
	}
	if result.Question == nil || result.Question.QuestionID != "q1" || !result.Question.Shuffled {
		t.Fatalf("Expected the same question reshuffled, got %+v", result.Question)
	}
	if result.Question.FromWrongPool {
		t.Error("Expected the immediate retry to stay a regular serve")
	}
	if result.Progress.CurrentQuestion != 0 {
		t.Errorf("Expected the cursor to hold at 0, got %d", result.Progress.CurrentQuestion)
	}
	if result.Progress.PenaltyText != "(+1 Question @ 2 Tries)" {
		t.Errorf("Unexpected penalty text %q", result.Progress.PenaltyText)
	}
	if result.Progress.WrongPoolSize != 1 || result.Progress.AdditionalQuestions != 2 {
		t.Errorf("Expected pool size 1 owing 2, got %+v", result.Progress)
	}

	entry, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if entry == nil || entry.RemainingCorrect != 2 {
		t.Fatalf("Expected an entry needing 2 correct, got %+v", entry)
	}
	if len(entry.FrozenChoiceOrder) != 4 {
		t.Fatalf("Expected a frozen order, got %v", entry.FrozenChoiceOrder)
	}
	for i, c := range result.Question.Choices {
		if c.ChoiceID != entry.FrozenChoiceOrder[i] {
			t.Fatalf("Expected the retry in the frozen order %v, got %+v", entry.FrozenChoiceOrder, result.Question.Choices)
		}
	}

	// Correct on the retry: one requirement down, the cursor advances and
	// the miss is what the session tally credits.
	result, err = h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a"}, 15)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Correct || result.NextAction != adaptive.NextQuestion {
		t.Fatalf("Expected a correct advance, got %+v", result)
	}
	if result.Progress.CurrentQuestion != 1 || result.Progress.WrongAnswers != 1 || result.Progress.CorrectAnswers != 0 {
		t.Errorf("Expected cursor 1 crediting the miss, got %+v", result.Progress)
	}
	if result.Progress.PenaltyText != "(+1 Question @ 1 Tries)" {
		t.Errorf("Unexpected penalty text %q", result.Progress.PenaltyText)
	}
	if result.Progress.AdditionalQuestions != 1 {
		t.Errorf("Expected 1 correct still owed, got %d", result.Progress.AdditionalQuestions)
	}

	// The base pool is drained but the entry still owes one correct, so the
	// next serve comes from the wrong pool in the frozen order.
	served, err := h.sessions.NextQuestion(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if served.Action != adaptive.NextQuestion || served.Question == nil || !served.Question.FromWrongPool {
		t.Fatalf("Expected a wrong-pool serve, got %+v", served)
	}
	if served.Question.RemainingTries != 1 {
		t.Errorf("Expected 1 remaining try, got %d", served.Question.RemainingTries)
	}
	for i, c := range served.Question.Choices {
		if c.ChoiceID != entry.FrozenChoiceOrder[i] {
			t.Fatalf("Expected the frozen order to repeat, got %+v", served.Question.Choices)
		}
	}

	// The final correct evicts the entry; the cursor does not move again.
	result, err = h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a"}, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Correct {
		t.Fatal("Expected a correct answer")
	}
	if result.Progress.CurrentQuestion != 1 {
		t.Errorf("Expected the cursor to hold at 1, got %d", result.Progress.CurrentQuestion)
	}
	if result.Progress.WrongPoolSize != 0 || result.Progress.AdditionalQuestions != 0 {
		t.Errorf("Expected an empty pool, got %+v", result.Progress)
	}
	if result.Progress.PenaltyText != "" {
		t.Errorf("Expected no penalty text, got %q", result.Progress.PenaltyText)
	}

	gone, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gone != nil {
		t.Errorf("Expected the entry evicted, got %+v", gone)
	}

	record, err := h.progress.Find(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if record == nil || !record.Mastered {
		t.Fatalf("Expected a mastered progress record, got %+v", record)
	}
	if record.AttemptsTotal != 3 || record.AttemptsCorrect != 2 || record.AttemptsIncorrect != 1 {
		t.Errorf("Expected 3 attempts with 2 correct, got %+v", record)
	}
	if record.CumulativeTimeS != 45 {
		t.Errorf("Expected 45s cumulative, got %d", record.CumulativeTimeS)
	}

	served, err = h.sessions.NextQuestion(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if served.Action != adaptive.SessionComplete {
		t.Fatalf("Expected completion, got %+v", served)
	}
}

func TestRepeatMissResetsTheEntry(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()

	session := h.createSession(t, drillConfig(1))
	if _, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"c"}, 5); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	first, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if first == nil {
		t.Fatal("Expected an active entry after the miss")
	}

	h.clock.Advance(time.Minute)
	result, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"d"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.NextAction != adaptive.RetrySameQuestion {
		t.Fatalf("Expected another retry, got %+v", result)
	}

	reset, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reset.RemainingCorrect != 2 {
		t.Errorf("Expected the requirement back at 2, got %d", reset.RemainingCorrect)
	}
	if len(reset.Attempts) != 2 {
		t.Errorf("Expected 2 logged attempts, got %d", len(reset.Attempts))
	}
	if !reset.Timestamp.Equal(first.Timestamp) {
		t.Error("Expected the reset to keep the entry's queue position")
	}
	if !reset.LastAttemptAt.After(first.LastAttemptAt) {
		t.Error("Expected last_attempt_at to move forward")
	}
	for i, c := range result.Question.Choices {
		if c.ChoiceID != reset.FrozenChoiceOrder[i] {
			t.Fatalf("Expected the re-frozen order %v, got %+v", reset.FrozenChoiceOrder, result.Question.Choices)
		}
	}

	entries, err := h.pool.ListOldest(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected a single entry for the question, got %d", len(entries))
	}
}

func TestSubmitReplayNeverDoubleCounts(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t,
		catalogQuestion("q1", "networking", 3),
		catalogQuestion("q2", "networking", 3),
	)
	ctx := context.Background()

	session := h.createSession(t, drillConfig(2))
	target := session.QuestionPool[0]

	if _, err := h.answers.Submit(ctx, session.ID, "u1", target, []string{"a"}, 10); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	replay, err := h.answers.Submit(ctx, session.ID, "u1", target, []string{"a"}, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !replay.Correct {
		t.Fatal("Expected the replay to grade identically")
	}
	if replay.Progress.CurrentQuestion != 1 || replay.Progress.CorrectAnswers != 1 {
		t.Errorf("Expected the cursor to stay at 1, got %+v", replay.Progress)
	}

	final, err := h.sessions.Get(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if final.Progress.Cursor != 1 {
		t.Errorf("Expected cursor 1, got %d", final.Progress.Cursor)
	}
	if final.Progress.TimeSpentS != 20 {
		t.Errorf("Expected both submissions to accrue time, got %d", final.Progress.TimeSpentS)
	}

	record, err := h.progress.Find(ctx, "u1", target)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if record.AttemptsTotal != 2 {
		t.Errorf("Expected 2 attempts on record, got %d", record.AttemptsTotal)
	}
}

func TestSubmitRejectsEmptySelection(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	session := h.createSession(t, drillConfig(1))

	_, err := h.answers.Submit(context.Background(), session.ID, "u1", "q1", nil, 5)
	if !apperrors.IsCode(err, apperrors.CodeInvalidAnswer) {
		t.Errorf("Expected %s, got %v", apperrors.CodeInvalidAnswer, err)
	}
}

func TestSubmitRequiresAServingSession(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()

	session := h.createSession(t, drillConfig(1))
	if _, err := h.sessions.Transition(ctx, session.ID, "u1", models.SessionActive); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := h.sessions.Transition(ctx, session.ID, "u1", models.SessionPaused); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a"}, 5)
	if !apperrors.IsCode(err, apperrors.CodeSessionNotServing) {
		t.Errorf("Expected %s, got %v", apperrors.CodeSessionNotServing, err)
	}
}

func TestSubmitUnknownQuestionFails(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	session := h.createSession(t, drillConfig(1))

	_, err := h.answers.Submit(context.Background(), session.ID, "u1", "q-missing", []string{"a"}, 5)
	if !apperrors.IsCode(err, apperrors.CodeQuestionNotFound) {
		t.Errorf("Expected %s, got %v", apperrors.CodeQuestionNotFound, err)
	}
}

func TestMultiSelectOnSingleChoiceIsIncorrect(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()
	session := h.createSession(t, drillConfig(1))

	result, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a", "b"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Correct {
		t.Fatal("Expected exact-set grading to fail a multi-select")
	}
	entry, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if entry == nil {
		t.Error("Expected the miss to enter the wrong pool")
	}
}

func TestExplanationFollowsTheSessionSetting(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()

	plain := h.createSession(t, drillConfig(1))
	result, err := h.answers.Submit(ctx, plain.ID, "u1", "q1", []string{"a"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Correct || result.Explanation != "" {
		t.Errorf("Expected a correct answer without explanation, got %+v", result)
	}

	cfg := drillConfig(1)
	cfg.Settings.ShowExplanation = true
	gated := h.createSession(t, cfg)
	result, err = h.answers.Submit(ctx, gated.ID, "u1", "q1", []string{"a"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Explanation != "Routing happens at the network layer." {
		t.Errorf("Expected the explanation with the setting on, got %q", result.Explanation)
	}

	// A miss returns the retry payload instead.
	third := h.createSession(t, cfg)
	result, err = h.answers.Submit(ctx, third.ID, "u1", "q1", []string{"b"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Explanation != "" {
		t.Error("Expected no explanation on a miss")
	}
}

func TestMasteryThresholdOneEvictsAfterASingleCorrect(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MasteryThreshold = 1
	h := newServiceHarnessWith(t, cfg)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()
	session := h.createSession(t, drillConfig(1))

	if _, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"b"}, 5); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	entry, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if entry == nil || entry.RemainingCorrect != 1 {
		t.Fatalf("Expected an entry needing 1 correct, got %+v", entry)
	}

	result, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a"}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Correct || result.NextAction != adaptive.NextQuestion {
		t.Fatalf("Expected a correct advance, got %+v", result)
	}
	gone, err := h.pool.LookupActive(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gone != nil {
		t.Errorf("Expected eviction after one correct, got %+v", gone)
	}

	record, err := h.progress.Find(ctx, "u1", "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !record.Mastered {
		t.Error("Expected the mastery flag")
	}
}

func TestTargetDifficultyRecalibratesAfterTheWindow(t *testing.T) {
	h := newServiceHarness(t)
	h.seed(t, catalogQuestion("q1", "networking", 3))
	ctx := context.Background()
	session := h.createSession(t, drillConfig(1))

	for i := 0; i < 10; i++ {
		if _, err := h.answers.Submit(ctx, session.ID, "u1", "q1", []string{"a"}, 2); err != nil {
			t.Fatalf("Submit %d: unexpected error: %v", i, err)
		}
	}

	state, err := h.users.Find(ctx, "u1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state == nil {
		t.Fatal("Expected a persisted difficulty state")
	}
	if math.Abs(state.TargetDifficulty-0.65) > 1e-9 {
		t.Errorf("Expected the target raised to 0.65, got %.3f", state.TargetDifficulty)
	}
	if len(state.RecentResults) != 0 {
		t.Errorf("Expected the window consumed, got %d results", len(state.RecentResults))
	}

	q, err := h.questions.FindByID(ctx, "q1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if q.Stats.Attempts != 10 || q.Stats.Correct != 10 {
		t.Errorf("Expected 10 recorded outcomes, got %+v", q.Stats)
	}
	if q.Stats.TotalTimeS != 20 {
		t.Errorf("Expected 20s accumulated, got %d", q.Stats.TotalTimeS)
	}
}
