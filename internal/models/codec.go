package models

import (
	"fmt"
	"strconv"
	"time"
)

// SchemaVersion is stamped on every encoded record so stored data can be
// migrated later. Decoders reject any other version as corrupted.
const SchemaVersion = 1

// TimeLayout is ISO-8601 UTC with fixed-width nanoseconds. The fixed width
// keeps lexicographic order equal to chronological order, which the store
// relies on for timestamp sort keys and range filters.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EncodeTime renders a timestamp in the persisted wire format.
func EncodeTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// DecodeTime parses the persisted wire format.
func DecodeTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// EncodeDecimal renders a persisted fraction as a fixed four-place decimal
// string so aggregates round-trip without binary float drift.
func EncodeDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// DecodeError reports the exact field that failed to decode. It marks the
// stored record as corrupted; there is no automatic recovery.
type DecodeError struct {
	Entity  string
	Path    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s: %s", e.Entity, e.Path, e.Message)
}

// recordReader walks a stored record, remembering the first field error.
type recordReader struct {
	entity string
	prefix string
	rec    map[string]any
	err    **DecodeError
}

func newRecordReader(entity string, rec map[string]any) *recordReader {
	var err *DecodeError
	return &recordReader{entity: entity, rec: rec, err: &err}
}

func (r *recordReader) path(field string) string {
	if r.prefix == "" {
		return field
	}
	return r.prefix + "." + field
}

func (r *recordReader) fail(field, msg string) {
	if *r.err == nil {
		*r.err = &DecodeError{Entity: r.entity, Path: r.path(field), Message: msg}
	}
}

func (r *recordReader) firstErr() *DecodeError {
	if *r.err != nil {
		return *r.err
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func (r *recordReader) str(field string) string {
	v, ok := r.rec[field]
	if !ok {
		r.fail(field, "missing required field")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected string")
		return ""
	}
	return s
}

func (r *recordReader) optStr(field string) string {
	v, ok := r.rec[field]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected string")
		return ""
	}
	return s
}

func (r *recordReader) intAt(field string) int {
	return int(r.int64At(field))
}

func (r *recordReader) int64At(field string) int64 {
	v, ok := r.rec[field]
	if !ok {
		r.fail(field, "missing required field")
		return 0
	}
	n, ok := asInt64(v)
	if !ok {
		r.fail(field, "expected integer")
		return 0
	}
	return n
}

func (r *recordReader) optInt(field string) int {
	v, ok := r.rec[field]
	if !ok || v == nil {
		return 0
	}
	n, ok := asInt64(v)
	if !ok {
		r.fail(field, "expected integer")
		return 0
	}
	return int(n)
}

func (r *recordReader) boolAt(field string) bool {
	v, ok := r.rec[field]
	if !ok {
		r.fail(field, "missing required field")
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(field, "expected bool")
		return false
	}
	return b
}

func (r *recordReader) optBool(field string) bool {
	v, ok := r.rec[field]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(field, "expected bool")
		return false
	}
	return b
}

func (r *recordReader) timeAt(field string) time.Time {
	s := r.str(field)
	if s == "" {
		return time.Time{}
	}
	t, err := DecodeTime(s)
	if err != nil {
		r.fail(field, "invalid timestamp "+strconv.Quote(s))
		return time.Time{}
	}
	return t
}

func (r *recordReader) decimalAt(field string) float64 {
	s := r.str(field)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(field, "invalid decimal "+strconv.Quote(s))
		return 0
	}
	return v
}

func (r *recordReader) sliceAt(field string) []any {
	v, ok := r.rec[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.([]any)
	if !ok {
		r.fail(field, "expected array")
		return nil
	}
	return s
}

func (r *recordReader) strsAt(field string) []string {
	raw := r.sliceAt(field)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			r.fail(field, fmt.Sprintf("expected string at index %d", i))
			return nil
		}
		out[i] = s
	}
	return out
}

func (r *recordReader) boolsAt(field string) []bool {
	raw := r.sliceAt(field)
	if len(raw) == 0 {
		return nil
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		b, ok := v.(bool)
		if !ok {
			r.fail(field, fmt.Sprintf("expected bool at index %d", i))
			return nil
		}
		out[i] = b
	}
	return out
}

// sub descends into a nested document, extending the error path.
func (r *recordReader) sub(field string) *recordReader {
	v, ok := r.rec[field]
	if !ok {
		r.fail(field, "missing required field")
		return &recordReader{entity: r.entity, prefix: r.path(field), rec: map[string]any{}, err: r.err}
	}
	m, ok := v.(map[string]any)
	if !ok {
		r.fail(field, "expected document")
		return &recordReader{entity: r.entity, prefix: r.path(field), rec: map[string]any{}, err: r.err}
	}
	return &recordReader{entity: r.entity, prefix: r.path(field), rec: m, err: r.err}
}

// elem wraps one element of an array field as a nested reader.
func (r *recordReader) elem(field string, i int, v any) *recordReader {
	path := fmt.Sprintf("%s[%d]", r.path(field), i)
	m, ok := v.(map[string]any)
	if !ok {
		r.fail(field, fmt.Sprintf("expected document at index %d", i))
		return &recordReader{entity: r.entity, prefix: path, rec: map[string]any{}, err: r.err}
	}
	return &recordReader{entity: r.entity, prefix: path, rec: m, err: r.err}
}

func (r *recordReader) checkSchema() {
	v, ok := r.rec["schemaVersion"]
	if !ok {
		r.fail("schemaVersion", "missing required field")
		return
	}
	n, ok := asInt64(v)
	if !ok || n != SchemaVersion {
		r.fail("schemaVersion", fmt.Sprintf("unsupported schema version %v", v))
	}
}

func encodeStrs(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func encodeBools(s []bool) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// --- Question ---

func EncodeQuestion(q *Question) map[string]any {
	choices := make([]any, len(q.Choices))
	for i, c := range q.Choices {
		choices[i] = map[string]any{
			"choiceId":  c.ID,
			"text":      c.Text,
			"isCorrect": c.Correct,
		}
	}
	return map[string]any{
		"schemaVersion":      SchemaVersion,
		"questionId":         q.ID,
		"category":           q.Category,
		"provider":           q.Provider,
		"certificate":        q.Certificate,
		"language":           q.Language,
		"prompt":             q.Prompt,
		"kind":               string(q.Kind),
		"choices":            choices,
		"explanation":        q.Explanation,
		"declaredDifficulty": q.DeclaredDifficulty,
		"status":             string(q.Status),
		"tags":               encodeStrs(q.Tags),
		"statAttempts":       q.Stats.Attempts,
		"statCorrect":        q.Stats.Correct,
		"statTotalTimeS":     q.Stats.TotalTimeS,
		"createdBy":          q.CreatedBy,
		"createdAt":          EncodeTime(q.CreatedAt),
		"updatedAt":          EncodeTime(q.UpdatedAt),
	}
}

func DecodeQuestion(rec map[string]any) (*Question, error) {
	r := newRecordReader("question", rec)
	r.checkSchema()
	q := &Question{
		ID:                 r.str("questionId"),
		Category:           r.str("category"),
		Provider:           r.optStr("provider"),
		Certificate:        r.optStr("certificate"),
		Language:           r.optStr("language"),
		Prompt:             r.str("prompt"),
		Kind:               QuestionKind(r.str("kind")),
		Explanation:        r.optStr("explanation"),
		DeclaredDifficulty: r.intAt("declaredDifficulty"),
		Status:             QuestionStatus(r.str("status")),
		Tags:               r.strsAt("tags"),
		CreatedBy:          r.optStr("createdBy"),
		CreatedAt:          r.timeAt("createdAt"),
		UpdatedAt:          r.timeAt("updatedAt"),
	}
	q.Stats = QuestionStats{
		Attempts:   r.optInt("statAttempts"),
		Correct:    r.optInt("statCorrect"),
		TotalTimeS: r.optInt("statTotalTimeS"),
	}
	for i, v := range r.sliceAt("choices") {
		cr := r.elem("choices", i, v)
		q.Choices = append(q.Choices, Choice{
			ID:      cr.str("choiceId"),
			Text:    cr.str("text"),
			Correct: cr.boolAt("isCorrect"),
		})
	}
	if err := r.firstErr(); err != nil {
		return nil, err
	}
	if !validKind(q.Kind) {
		return nil, &DecodeError{Entity: "question", Path: "kind", Message: fmt.Sprintf("unknown tag %q", q.Kind)}
	}
	if !validQuestionStatus(q.Status) {
		return nil, &DecodeError{Entity: "question", Path: "status", Message: fmt.Sprintf("unknown tag %q", q.Status)}
	}
	if len(q.Choices) == 0 {
		return nil, &DecodeError{Entity: "question", Path: "choices", Message: "missing required field"}
	}
	return q, nil
}

// --- Session ---

func EncodeSession(s *Session) map[string]any {
	sources := make([]any, len(s.Config.Sources))
	for i, src := range s.Config.Sources {
		sources[i] = map[string]any{
			"category":      src.Category,
			"provider":      src.Provider,
			"certificate":   src.Certificate,
			"language":      src.Language,
			"questionCount": src.QuestionCount,
			"difficulty":    src.Difficulty,
		}
	}
	return map[string]any{
		"schemaVersion": SchemaVersion,
		"sessionId":     s.ID,
		"userId":        s.UserID,
		"config": map[string]any{
			"name":    s.Config.Name,
			"sources": sources,
			"settings": map[string]any{
				"shuffleChoices":  s.Config.Settings.ShuffleChoices,
				"showExplanation": s.Config.Settings.ShowExplanation,
				"timeLimitS":      s.Config.Settings.TimeLimitS,
			},
			"plannedTotal":     s.Config.PlannedTotal,
			"estimatedSeconds": s.Config.EstimatedSeconds,
		},
		"questionPool": encodeStrs(s.QuestionPool),
		"progress": map[string]any{
			"cursor":       s.Progress.Cursor,
			"answeredIds":  encodeStrs(s.Progress.AnsweredIDs),
			"correctCount": s.Progress.CorrectCount,
			"wrongCount":   s.Progress.WrongCount,
			"timeSpentS":   s.Progress.TimeSpentS,
		},
		"status":         string(s.Status),
		"version":        s.Version,
		"createdAt":      EncodeTime(s.CreatedAt),
		"updatedAt":      EncodeTime(s.UpdatedAt),
		"expiresAt":      EncodeTime(s.ExpiresAt),
		"expiresAtEpoch": s.ExpiresAt.UTC().Unix(),
	}
}

func DecodeSession(rec map[string]any) (*Session, error) {
	r := newRecordReader("session", rec)
	r.checkSchema()
	s := &Session{
		ID:           r.str("sessionId"),
		UserID:       r.str("userId"),
		QuestionPool: r.strsAt("questionPool"),
		Status:       SessionStatus(r.str("status")),
		Version:      r.int64At("version"),
		CreatedAt:    r.timeAt("createdAt"),
		UpdatedAt:    r.timeAt("updatedAt"),
		ExpiresAt:    r.timeAt("expiresAt"),
	}
	cfg := r.sub("config")
	s.Config.Name = cfg.str("name")
	s.Config.PlannedTotal = cfg.intAt("plannedTotal")
	s.Config.EstimatedSeconds = cfg.optInt("estimatedSeconds")
	for i, v := range cfg.sliceAt("sources") {
		sr := cfg.elem("sources", i, v)
		s.Config.Sources = append(s.Config.Sources, SessionSource{
			Category:      sr.str("category"),
			Provider:      sr.optStr("provider"),
			Certificate:   sr.optStr("certificate"),
			Language:      sr.optStr("language"),
			QuestionCount: sr.intAt("questionCount"),
			Difficulty:    sr.optInt("difficulty"),
		})
	}
	settings := cfg.sub("settings")
	s.Config.Settings = SessionSettings{
		ShuffleChoices:  settings.optBool("shuffleChoices"),
		ShowExplanation: settings.optBool("showExplanation"),
		TimeLimitS:      settings.optInt("timeLimitS"),
	}
	progress := r.sub("progress")
	s.Progress = SessionProgress{
		Cursor:       progress.intAt("cursor"),
		AnsweredIDs:  progress.strsAt("answeredIds"),
		CorrectCount: progress.intAt("correctCount"),
		WrongCount:   progress.intAt("wrongCount"),
		TimeSpentS:   progress.intAt("timeSpentS"),
	}
	if err := r.firstErr(); err != nil {
		return nil, err
	}
	if !validSessionStatus(s.Status) {
		return nil, &DecodeError{Entity: "session", Path: "status", Message: fmt.Sprintf("unknown tag %q", s.Status)}
	}
	if s.Version < 0 {
		return nil, &DecodeError{Entity: "session", Path: "version", Message: "version must be non-negative"}
	}
	return s, nil
}

// --- WrongEntry ---

func EncodeWrongEntry(e *WrongEntry) map[string]any {
	attempts := make([]any, len(e.Attempts))
	for i, a := range e.Attempts {
		attempts[i] = map[string]any{
			"timestamp": EncodeTime(a.Timestamp),
			"correct":   a.Correct,
		}
	}
	return map[string]any{
		"schemaVersion":     SchemaVersion,
		"userId":            e.UserID,
		"timestamp":         EncodeTime(e.Timestamp),
		"questionId":        e.QuestionID,
		"sessionId":         e.SessionID,
		"remainingCorrect":  e.RemainingCorrect,
		"frozenChoiceOrder": encodeStrs(e.FrozenChoiceOrder),
		"attempts":          attempts,
		"lastAttemptAt":     EncodeTime(e.LastAttemptAt),
	}
}

// EncodeAttempt renders one attempt-log row; it is also used when appending
// to the stored array without rewriting the whole record.
func EncodeAttempt(a AttemptRecord) map[string]any {
	return map[string]any{
		"timestamp": EncodeTime(a.Timestamp),
		"correct":   a.Correct,
	}
}

func DecodeWrongEntry(rec map[string]any) (*WrongEntry, error) {
	r := newRecordReader("wrong_entry", rec)
	r.checkSchema()
	e := &WrongEntry{
		UserID:            r.str("userId"),
		Timestamp:         r.timeAt("timestamp"),
		QuestionID:        r.str("questionId"),
		SessionID:         r.str("sessionId"),
		RemainingCorrect:  r.intAt("remainingCorrect"),
		FrozenChoiceOrder: r.strsAt("frozenChoiceOrder"),
		LastAttemptAt:     r.timeAt("lastAttemptAt"),
	}
	for i, v := range r.sliceAt("attempts") {
		ar := r.elem("attempts", i, v)
		e.Attempts = append(e.Attempts, AttemptRecord{
			Timestamp: ar.timeAt("timestamp"),
			Correct:   ar.boolAt("correct"),
		})
	}
	if err := r.firstErr(); err != nil {
		return nil, err
	}
	if e.RemainingCorrect < 0 {
		return nil, &DecodeError{Entity: "wrong_entry", Path: "remainingCorrect", Message: "must be non-negative"}
	}
	return e, nil
}

// --- Progress ---

func EncodeProgress(p *Progress) map[string]any {
	return map[string]any{
		"schemaVersion":     SchemaVersion,
		"userId":            p.UserID,
		"questionId":        p.QuestionID,
		"sessionId":         p.SessionID,
		"attemptsTotal":     p.AttemptsTotal,
		"attemptsCorrect":   p.AttemptsCorrect,
		"attemptsIncorrect": p.AttemptsIncorrect,
		"firstSeenAt":       EncodeTime(p.FirstSeenAt),
		"lastAttemptAt":     EncodeTime(p.LastAttemptAt),
		"cumulativeTimeS":   p.CumulativeTimeS,
		"lastCorrect":       p.LastCorrect,
		"mastered":          p.Mastered,
	}
}

func DecodeProgress(rec map[string]any) (*Progress, error) {
	r := newRecordReader("progress", rec)
	r.checkSchema()
	p := &Progress{
		UserID:            r.str("userId"),
		QuestionID:        r.str("questionId"),
		SessionID:         r.optStr("sessionId"),
		AttemptsTotal:     r.intAt("attemptsTotal"),
		AttemptsCorrect:   r.intAt("attemptsCorrect"),
		AttemptsIncorrect: r.intAt("attemptsIncorrect"),
		FirstSeenAt:       r.timeAt("firstSeenAt"),
		LastAttemptAt:     r.timeAt("lastAttemptAt"),
		CumulativeTimeS:   r.intAt("cumulativeTimeS"),
		LastCorrect:       r.optBool("lastCorrect"),
		Mastered:          r.optBool("mastered"),
	}
	if err := r.firstErr(); err != nil {
		return nil, err
	}
	if p.AttemptsTotal < 0 || p.AttemptsCorrect < 0 || p.AttemptsIncorrect < 0 {
		return nil, &DecodeError{Entity: "progress", Path: "attemptsTotal", Message: "tallies must be non-negative"}
	}
	return p, nil
}

// --- UserDifficulty ---

func EncodeUserDifficulty(d *UserDifficulty) map[string]any {
	return map[string]any{
		"schemaVersion":    SchemaVersion,
		"userId":           d.UserID,
		"targetDifficulty": EncodeDecimal(d.TargetDifficulty),
		"recentResults":    encodeBools(d.RecentResults),
		"updatedAt":        EncodeTime(d.UpdatedAt),
	}
}

func DecodeUserDifficulty(rec map[string]any) (*UserDifficulty, error) {
	r := newRecordReader("user_difficulty", rec)
	r.checkSchema()
	d := &UserDifficulty{
		UserID:           r.str("userId"),
		TargetDifficulty: r.decimalAt("targetDifficulty"),
		RecentResults:    r.boolsAt("recentResults"),
		UpdatedAt:        r.timeAt("updatedAt"),
	}
	if err := r.firstErr(); err != nil {
		return nil, err
	}
	if d.TargetDifficulty < 0.1 || d.TargetDifficulty > 1.0 {
		return nil, &DecodeError{Entity: "user_difficulty", Path: "targetDifficulty", Message: "target out of range"}
	}
	return d, nil
}
