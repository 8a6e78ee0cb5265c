package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemStoreCreateGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	id, err := store.Create(ctx, "messages", Doc{"body": "hello", "sender_id": "e1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}

	snap, err := store.Get(ctx, JoinPath("messages", id))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snap.Exists {
		t.Fatal("document should exist")
	}
	if snap.Data["body"] != "hello" {
		t.Fatalf("body = %v, want hello", snap.Data["body"])
	}

	if _, err = store.Get(ctx, "messages/no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing doc: err = %v, want ErrNotFound", err)
	}
}

func TestMemStoreUnionIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, "messages", Doc{"read_by": []any{}})
	path := JoinPath("messages", id)

	for i := 0; i < 3; i++ {
		if err := store.Update(ctx, path, Doc{"read_by": Union("e1")}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if err := store.Update(ctx, path, Doc{"read_by": Union("e2")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := store.Get(ctx, path)
	readBy, _ := snap.Data["read_by"].([]any)
	if len(readBy) != 2 {
		t.Fatalf("read_by = %v, want 2 distinct members", readBy)
	}
}

func TestMemStoreRemoveAndIncrement(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, "calls", Doc{
		"participants": []any{"e1", "e2", "e3"},
		"unread":       int64(2),
	})
	path := JoinPath("calls", id)

	if err := store.Update(ctx, path, Doc{
		"participants": Remove("e2"),
		"unread":       Increment(3),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := store.Get(ctx, path)
	parts, _ := snap.Data["participants"].([]any)
	if len(parts) != 2 {
		t.Fatalf("participants = %v, want e2 removed", parts)
	}
	if snap.Data["unread"] != int64(5) {
		t.Fatalf("unread = %v, want 5", snap.Data["unread"])
	}
}

func TestMemStoreDottedPathAndDeleteField(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, "conversations", Doc{"unread": Doc{}})
	path := JoinPath("conversations", id)

	if err := store.Update(ctx, path, Doc{"unread.e1": Increment(1)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Update(ctx, path, Doc{"unread.e1": DeleteField()}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := store.Get(ctx, path)
	unread, ok := snap.Data["unread"].(Doc)
	if !ok {
		unreadMap, ok2 := snap.Data["unread"].(map[string]any)
		if !ok2 {
			t.Fatalf("unread has unexpected type %T", snap.Data["unread"])
		}
		if _, exists := unreadMap["e1"]; exists {
			t.Fatal("unread.e1 should be deleted")
		}
		return
	}
	if _, exists := unread["e1"]; exists {
		t.Fatal("unread.e1 should be deleted")
	}
}

func TestMemStoreServerTimestamp(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	before := time.Now()
	id, _ := store.Create(ctx, "calls", Doc{"created_at": ServerTimestamp()})

	snap, _ := store.Get(ctx, JoinPath("calls", id))
	ts, ok := snap.Data["created_at"].(time.Time)
	if !ok {
		t.Fatalf("created_at has type %T, want time.Time", snap.Data["created_at"])
	}
	if ts.Before(before.Add(-time.Second)) {
		t.Fatalf("created_at = %v looks stale", ts)
	}
}

func TestMemStoreFindFilters(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	_, _ = store.Create(ctx, "conversations", Doc{"participants": []any{"e1", "e2"}, "type": "direct"})
	_, _ = store.Create(ctx, "conversations", Doc{"participants": []any{"e1", "e3", "e4"}, "type": "group"})
	_, _ = store.Create(ctx, "conversations", Doc{"participants": []any{"e5", "e6"}, "type": "direct"})

	// 数组字段的等值过滤按成员匹配
	snaps, err := store.Find(ctx, "conversations", Query{
		Filters: map[string]any{"participants": "e1"},
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d conversations for e1, want 2", len(snaps))
	}

	snaps, _ = store.Find(ctx, "conversations", Query{
		StatusIn: map[string][]any{"type": {"group"}},
	})
	if len(snaps) != 1 {
		t.Fatalf("got %d group conversations, want 1", len(snaps))
	}
}

func TestMemStoreFindOrder(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, _ = store.Create(ctx, "messages", Doc{
			"conversation_id": "c1",
			"sent_at":         base.Add(time.Duration(2-i) * time.Minute),
		})
	}

	snaps, err := store.Find(ctx, "messages", Query{
		Filters: map[string]any{"conversation_id": "c1"},
		OrderBy: "sent_at",
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].Data["sent_at"].(time.Time)
		cur := snaps[i].Data["sent_at"].(time.Time)
		if cur.Before(prev) {
			t.Fatal("results not in ascending sent_at order")
		}
	}
}

func TestMemStoreListenDeliversUpdates(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	var mu sync.Mutex
	var last []*Snapshot
	deliveries := make(chan struct{}, 16)

	unsub, err := store.Listen("messages", Query{
		Filters: map[string]any{"conversation_id": "c1"},
	}, func(snaps []*Snapshot) {
		mu.Lock()
		last = snaps
		mu.Unlock()
		deliveries <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer unsub()

	// 初始投递
	waitDelivery(t, deliveries)

	_, _ = store.Create(ctx, "messages", Doc{"conversation_id": "c1", "body": "hi"})
	waitDelivery(t, deliveries)

	mu.Lock()
	n := len(last)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("listener saw %d docs, want 1", n)
	}
}

func TestMemStoreWriteErrInjection(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	injected := errors.New("网络不可用")
	store.SetWriteErr(injected)

	if _, err := store.Create(ctx, "messages", Doc{"body": "x"}); !errors.Is(err, injected) {
		t.Fatalf("Create err = %v, want injected", err)
	}

	store.SetWriteErr(nil)
	if _, err := store.Create(ctx, "messages", Doc{"body": "x"}); err != nil {
		t.Fatalf("Create after clearing: %v", err)
	}
}

func TestMemStoreTransactionConditionalWrite(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, "calls", Doc{"status": "ringing"})
	path := JoinPath("calls", id)

	// 条件满足才写入
	err := store.RunTransaction(ctx, func(tx Txn) error {
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		if snap.Data["status"] != "ringing" {
			return nil
		}
		tx.Update(path, Doc{"status": "active"})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	snap, _ := store.Get(ctx, path)
	if snap.Data["status"] != "active" {
		t.Fatalf("status = %v, want active", snap.Data["status"])
	}

	// 回滚：回调出错时暂存写入不落盘
	boom := errors.New("boom")
	err = store.RunTransaction(ctx, func(tx Txn) error {
		tx.Update(path, Doc{"status": "ended"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction err = %v, want boom", err)
	}
	snap, _ = store.Get(ctx, path)
	if snap.Data["status"] != "active" {
		t.Fatalf("status = %v after rollback, want active", snap.Data["status"])
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path    string
		col     string
		id      string
		wantErr bool
	}{
		{"messages/m1", "messages", "m1", false},
		{"calls/abc-def", "calls", "abc-def", false},
		{"messages", "", "", true},
		{"a/b/c", "a", "b/c", false},
		{"messages/", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		col, id, err := SplitPath(tt.path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SplitPath(%q): expected error", tt.path)
			}
			continue
		}
		if err != nil || col != tt.col || id != tt.id {
			t.Errorf("SplitPath(%q) = (%q, %q, %v), want (%q, %q)", tt.path, col, id, err, tt.col, tt.id)
		}
	}
}

func waitDelivery(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("listener delivery timed out")
	}
}
