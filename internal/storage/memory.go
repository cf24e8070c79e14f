package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is a Store kept entirely in process memory. It implements the
// same semantics as the backed store, including conditional updates, and is
// what the engine runs on under test. Reads return deep copies so callers
// never alias stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	specs  map[string][]string
	tables map[string]*memTable
}

type memTable struct {
	byKey map[string]int
	rows  []memRow
}

type memRow struct {
	ckey string
	item Item
}

func NewMemoryStore(tables ...TableSpec) *MemoryStore {
	s := &MemoryStore{
		specs:  make(map[string][]string, len(tables)),
		tables: make(map[string]*memTable, len(tables)),
	}
	for _, t := range tables {
		s.specs[t.Name] = t.KeyFields
		s.tables[t.Name] = &memTable{byKey: make(map[string]int)}
	}
	return s
}

func (s *MemoryStore) table(name string) (*memTable, []string, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, nil, fmt.Errorf("storage: unknown table %q", name)
	}
	return t, s.specs[name], nil
}

func canonicalScalar(v any) string {
	if n, ok := asKeyInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func canonicalKey(fields []string, source map[string]any) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := source[f]
		if !ok {
			return "", fmt.Errorf("storage: missing key field %q", f)
		}
		parts = append(parts, f+"="+canonicalScalar(v))
	}
	return strings.Join(parts, ";"), nil
}

func asKeyInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func valueEq(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues orders two scalars of the same shape; numbers numerically,
// strings bytewise (fixed-width timestamps sort chronologically this way).
func compareValues(a, b any) int {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case Item:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = copyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = copyValue(vv)
		}
		return out
	default:
		return v
	}
}

func copyItem(item Item) Item {
	return Item(copyValue(map[string]any(item)).(map[string]any))
}

func matchesFilter(item Item, filter Key) bool {
	for f, want := range filter {
		got, ok := item[f]
		if !ok || !valueEq(got, want) {
			return false
		}
	}
	return true
}

func matchesRange(item Item, r *Range) bool {
	if r == nil {
		return true
	}
	v, ok := item[r.Field]
	if !ok {
		return false
	}
	if r.GT != nil && compareValues(v, r.GT) <= 0 {
		return false
	}
	if r.GTE != nil && compareValues(v, r.GTE) < 0 {
		return false
	}
	if r.LT != nil && compareValues(v, r.LT) >= 0 {
		return false
	}
	if r.LTE != nil && compareValues(v, r.LTE) > 0 {
		return false
	}
	return true
}

func applyMutation(item Item, m Mutation, inserting bool) {
	if inserting {
		for k, v := range m.SetOnInsert {
			item[k] = copyValue(v)
		}
	}
	for k, v := range m.Set {
		item[k] = copyValue(v)
	}
	for k, v := range m.Inc {
		cur, curNum := asNumber(item[k])
		if !curNum {
			cur = 0
		}
		add, _ := asNumber(v)
		if _, isInt := asKeyInt64(v); isInt {
			curInt, _ := asKeyInt64(item[k])
			addInt, _ := asKeyInt64(v)
			item[k] = curInt + addInt
			continue
		}
		item[k] = cur + add
	}
	for k, v := range m.Push {
		arr, _ := item[k].([]any)
		item[k] = append(arr, copyValue(v))
	}
}

func (s *MemoryStore) Get(ctx context.Context, table string, key Key) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, fields, err := s.table(table)
	if err != nil {
		return nil, err
	}
	ckey, err := canonicalKey(fields, key)
	if err != nil {
		return nil, err
	}
	idx, ok := t.byKey[ckey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(t.rows[idx].item), nil
}

func (s *MemoryStore) Put(ctx context.Context, table string, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, fields, err := s.table(table)
	if err != nil {
		return err
	}
	ckey, err := canonicalKey(fields, item)
	if err != nil {
		return err
	}
	stored := copyItem(item)
	if idx, ok := t.byKey[ckey]; ok {
		t.rows[idx].item = stored
		return nil
	}
	t.byKey[ckey] = len(t.rows)
	t.rows = append(t.rows, memRow{ckey: ckey, item: stored})
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, table string, key Key, m Mutation, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, fields, err := s.table(table)
	if err != nil {
		return err
	}
	ckey, err := canonicalKey(fields, key)
	if err != nil {
		return err
	}
	idx, ok := t.byKey[ckey]
	if !ok {
		if !upsert {
			return ErrNotFound
		}
		item := Item{}
		for k, v := range key {
			item[k] = copyValue(v)
		}
		applyMutation(item, m, true)
		t.byKey[ckey] = len(t.rows)
		t.rows = append(t.rows, memRow{ckey: ckey, item: item})
		return nil
	}
	applyMutation(t.rows[idx].item, m, false)
	return nil
}

func (s *MemoryStore) UpdateConditional(ctx context.Context, table string, key Key, m Mutation, predicate Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, fields, err := s.table(table)
	if err != nil {
		return false, err
	}
	ckey, err := canonicalKey(fields, key)
	if err != nil {
		return false, err
	}
	idx, ok := t.byKey[ckey]
	if !ok {
		return false, ErrNotFound
	}
	if !matchesFilter(t.rows[idx].item, predicate) {
		return false, nil
	}
	applyMutation(t.rows[idx].item, m, false)
	return true, nil
}

func (s *MemoryStore) Query(ctx context.Context, table string, q Query) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, _, err := s.table(table)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, row := range t.rows {
		if !matchesFilter(row.item, q.Filter) || !matchesRange(row.item, q.Range) {
			continue
		}
		out = append(out, copyItem(row.item))
	}
	if q.SortField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i][q.SortField], out[j][q.SortField])
			if q.Ascending {
				return c < 0
			}
			return c > 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) BatchGet(ctx context.Context, table string, keys []Key) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, _, err := s.table(table)
	if err != nil {
		return nil, err
	}
	var out []Item
	for start := 0; start < len(keys); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		for _, key := range keys[start:end] {
			for _, row := range t.rows {
				if matchesFilter(row.item, key) {
					out = append(out, copyItem(row.item))
				}
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, table string, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, fields, err := s.table(table)
	if err != nil {
		return err
	}
	ckey, err := canonicalKey(fields, key)
	if err != nil {
		return err
	}
	idx, ok := t.byKey[ckey]
	if !ok {
		return nil
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	delete(t.byKey, ckey)
	for i := idx; i < len(t.rows); i++ {
		t.byKey[t.rows[i].ckey] = i
	}
	return nil
}
