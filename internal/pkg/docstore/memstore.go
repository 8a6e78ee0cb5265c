package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore 进程内 Store 实现，供单元测试与本地联调使用。
// 与线上实现保持同一套原子语义：哨兵字段、批量写、事务整体加锁，
// 订阅按 at-least-once 重复投递查询结果。
type MemStore struct {
	mu        sync.Mutex
	data      map[string]map[string]Doc
	listeners map[int]*memListener
	nextLid   int
	writeErr  error
	now       func() time.Time
}

type memListener struct {
	collection string
	query      Query
	fn         func([]*Snapshot)
}

func NewMemStore() *MemStore {
	return &MemStore{
		data:      make(map[string]map[string]Doc),
		listeners: make(map[int]*memListener),
		now:       time.Now,
	}
}

// SetWriteErr 注入写失败，err 为 nil 时恢复正常（模拟断网场景）
func (s *MemStore) SetWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *MemStore) Create(ctx context.Context, collection string, data Doc) (string, error) {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	col := s.col(collection)
	doc := Doc{}
	s.applyFields(doc, data)
	col[id] = doc
	notify := s.collect(collection)
	s.mu.Unlock()
	notify()
	return id, nil
}

func (s *MemStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(collection, id), nil
}

func (s *MemStore) Set(ctx context.Context, path string, data Doc, merge bool) error {
	return s.write(path, func(collection, id string) {
		col := s.col(collection)
		doc, ok := col[id]
		if !ok || !merge {
			doc = Doc{}
			col[id] = doc
		}
		s.applyFields(doc, data)
	})
}

func (s *MemStore) Update(ctx context.Context, path string, fields Doc) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.writeErr != nil {
		err = s.writeErr
		s.mu.Unlock()
		return err
	}
	doc, ok := s.col(collection)[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.applyFields(doc, fields)
	notify := s.collect(collection)
	s.mu.Unlock()
	notify()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	return s.write(path, func(collection, id string) {
		delete(s.col(collection), id)
	})
}

func (s *MemStore) Find(ctx context.Context, collection string, q Query) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(collection, q), nil
}

func (s *MemStore) Listen(collection string, q Query, fn func([]*Snapshot)) (Unsubscribe, error) {
	s.mu.Lock()
	lid := s.nextLid
	s.nextLid++
	s.listeners[lid] = &memListener{collection: collection, query: q, fn: fn}
	initial := s.findLocked(collection, q)
	s.mu.Unlock()

	// 初始快照投递一次
	go fn(initial)

	return func() {
		s.mu.Lock()
		delete(s.listeners, lid)
		s.mu.Unlock()
	}, nil
}

func (s *MemStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	tx := &memTxn{store: s}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	touched := tx.apply()
	notifies := make([]func(), 0, len(touched))
	for c := range touched {
		notifies = append(notifies, s.collect(c))
	}
	s.mu.Unlock()
	for _, n := range notifies {
		n()
	}
	return nil
}

func (s *MemStore) Batch() Batch {
	return &memBatch{store: s}
}

// ---- 内部 ----

func (s *MemStore) write(path string, apply func(collection, id string)) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.writeErr != nil {
		err = s.writeErr
		s.mu.Unlock()
		return err
	}
	apply(collection, id)
	notify := s.collect(collection)
	s.mu.Unlock()
	notify()
	return nil
}

func (s *MemStore) col(collection string) map[string]Doc {
	col, ok := s.data[collection]
	if !ok {
		col = make(map[string]Doc)
		s.data[collection] = col
	}
	return col
}

func (s *MemStore) snapshotLocked(collection, id string) *Snapshot {
	doc, ok := s.col(collection)[id]
	snap := &Snapshot{ID: id, Path: JoinPath(collection, id), Exists: ok}
	if ok {
		snap.Data = deepCopy(doc).(Doc)
	}
	return snap
}

func (s *MemStore) findLocked(collection string, q Query) []*Snapshot {
	var res []*Snapshot
	for id, doc := range s.col(collection) {
		if !matches(doc, q) {
			continue
		}
		res = append(res, &Snapshot{
			ID:     id,
			Path:   JoinPath(collection, id),
			Exists: true,
			Data:   deepCopy(doc).(Doc),
		})
	}
	if q.OrderBy != "" {
		sort.Slice(res, func(i, j int) bool {
			less := compareValues(lookup(res[i].Data, q.OrderBy), lookup(res[j].Data, q.OrderBy)) < 0
			if q.Desc {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res
}

// collect 在锁内捕获所有匹配监听器的查询结果，返回锁外执行的投递闭包
func (s *MemStore) collect(collection string) func() {
	type delivery struct {
		fn    func([]*Snapshot)
		snaps []*Snapshot
	}
	var ds []delivery
	for _, l := range s.listeners {
		if l.collection != collection {
			continue
		}
		ds = append(ds, delivery{fn: l.fn, snaps: s.findLocked(collection, l.query)})
	}
	return func() {
		for _, d := range ds {
			d.fn(d.snaps)
		}
	}
}

func matches(doc Doc, q Query) bool {
	for field, want := range q.Filters {
		got := lookup(doc, field)
		// 数组字段按成员匹配（与 Mongo 查询语义一致）
		if arr := asSlice(got); arr != nil {
			hit := false
			for _, e := range arr {
				if valueEqual(e, want) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
			continue
		}
		if !valueEqual(got, want) {
			return false
		}
	}
	for field, candidates := range q.StatusIn {
		got := lookup(doc, field)
		hit := false
		for _, c := range candidates {
			if valueEqual(got, c) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// applyFields 把字段（可能携带哨兵、可能是点分嵌套路径）合并进文档
func (s *MemStore) applyFields(doc Doc, fields Doc) {
	for path, v := range fields {
		parent, key := descend(doc, path)
		switch op := v.(type) {
		case UnionOp:
			parent[key] = unionInto(parent[key], op.Values)
		case RemoveOp:
			parent[key] = removeFrom(parent[key], op.Values)
		case IncrementOp:
			parent[key] = asInt64(parent[key]) + op.Delta
		case ServerTimestampOp:
			parent[key] = s.now()
		case DeleteFieldOp:
			delete(parent, key)
		default:
			parent[key] = deepCopy(v)
		}
	}
}

// descend 沿点分路径下钻，自动补全中间 map，返回末级容器与字段名
func descend(doc Doc, path string) (Doc, string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(Doc)
		if !ok {
			if m, isMap := cur[p].(map[string]any); isMap {
				next = Doc(m)
			} else {
				next = Doc{}
			}
			cur[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

func lookup(doc Doc, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		switch m := cur.(type) {
		case Doc:
			cur = m[p]
		case map[string]any:
			cur = m[p]
		default:
			return nil
		}
	}
	return cur
}

func unionInto(existing any, values []any) []any {
	arr := asSlice(existing)
	for _, v := range values {
		dup := false
		for _, e := range arr {
			if valueEqual(e, v) {
				dup = true
				break
			}
		}
		if !dup {
			arr = append(arr, deepCopy(v))
		}
	}
	return arr
}

func removeFrom(existing any, values []any) []any {
	arr := asSlice(existing)
	out := arr[:0]
	for _, e := range arr {
		drop := false
		for _, v := range values {
			if valueEqual(e, v) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, e)
		}
	}
	return out
}

func asSlice(v any) []any {
	switch arr := v.(type) {
	case nil:
		return nil
	case []any:
		return arr
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func valueEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if isNumeric(a) && isNumeric(b) {
		return asInt64(a) == asInt64(b)
	}
	return a == b
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float64:
		return true
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		bv, _ := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	}
	if isNumeric(a) && isNumeric(b) {
		ai, bi := asInt64(a), asInt64(b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return 0
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case Doc:
		out := Doc{}
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := Doc{}
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// ---- 事务 ----

type memTxn struct {
	store *MemStore
	ops   []func() string // 返回触达的 collection
}

func (t *memTxn) Get(path string) (*Snapshot, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	return t.store.snapshotLocked(collection, id), nil
}

func (t *memTxn) Set(path string, data Doc, merge bool) {
	t.ops = append(t.ops, func() string {
		collection, id, err := SplitPath(path)
		if err != nil {
			return ""
		}
		col := t.store.col(collection)
		doc, ok := col[id]
		if !ok || !merge {
			doc = Doc{}
			col[id] = doc
		}
		t.store.applyFields(doc, data)
		return collection
	})
}

func (t *memTxn) Update(path string, fields Doc) {
	t.ops = append(t.ops, func() string {
		collection, id, err := SplitPath(path)
		if err != nil {
			return ""
		}
		if doc, ok := t.store.col(collection)[id]; ok {
			t.store.applyFields(doc, fields)
		}
		return collection
	})
}

func (t *memTxn) Delete(path string) {
	t.ops = append(t.ops, func() string {
		collection, id, err := SplitPath(path)
		if err != nil {
			return ""
		}
		delete(t.store.col(collection), id)
		return collection
	})
}

func (t *memTxn) apply() map[string]struct{} {
	touched := make(map[string]struct{})
	for _, op := range t.ops {
		if c := op(); c != "" {
			touched[c] = struct{}{}
		}
	}
	return touched
}

// ---- 批量写 ----

type memBatch struct {
	store *MemStore
	ops   []func(tx Txn)
}

func (b *memBatch) Set(path string, data Doc, merge bool) {
	b.ops = append(b.ops, func(tx Txn) { tx.Set(path, data, merge) })
}

func (b *memBatch) Update(path string, fields Doc) {
	b.ops = append(b.ops, func(tx Txn) { tx.Update(path, fields) })
}

func (b *memBatch) Delete(path string) {
	b.ops = append(b.ops, func(tx Txn) { tx.Delete(path) })
}

func (b *memBatch) Commit(ctx context.Context) error {
	return b.store.RunTransaction(ctx, func(tx Txn) error {
		for _, op := range b.ops {
			op(tx)
		}
		return nil
	})
}
