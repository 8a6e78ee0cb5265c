package service

import (
	"context"
	"testing"
	"time"

	"Crewline/internal/api/dto"
)

func tlMsg(localID, id, status, body string, sentAt time.Time) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID:      id,
		LocalID: localID,
		Status:  status,
		Body:    body,
		SentAt:  sentAt,
	}
}

func TestInsertDateSeparators(t *testing.T) {
	loc := time.UTC
	d1 := time.Date(2026, 8, 30, 9, 0, 0, 0, loc)
	d2 := time.Date(2026, 8, 31, 10, 0, 0, 0, loc)
	msgs := []*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "早", d1),
		tlMsg("l2", "m2", "sent", "午", d1.Add(3*time.Hour)),
		tlMsg("l3", "m3", "sent", "次日", d2),
	}

	items := InsertDateSeparators(msgs, loc)
	wantKeys := []string{"sep:2026-08-30", "l1", "l2", "sep:2026-08-31", "l3"}
	if len(items) != len(wantKeys) {
		t.Fatalf("条目数 = %d, want %d", len(items), len(wantKeys))
	}
	for i, want := range wantKeys {
		if items[i].Key != want {
			t.Errorf("items[%d].Key = %q, want %q", i, items[i].Key, want)
		}
	}
	if items[0].Kind != ItemDateSeparator || items[0].Date != "2026-08-30" {
		t.Errorf("首条应为 2026-08-30 分隔符, got %+v", items[0])
	}
	if items[1].Kind != ItemMessage || items[1].Message != msgs[0] {
		t.Error("分隔符后应为第一条消息")
	}
}

func TestInsertDateSeparatorsEmpty(t *testing.T) {
	if items := InsertDateSeparators(nil, time.UTC); len(items) != 0 {
		t.Fatalf("空消息流不应产生条目, got %d", len(items))
	}
}

func TestItemKeyPrefersLocalID(t *testing.T) {
	at := time.Now()
	items := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
		tlMsg("", "m2", "sent", "b", at),
	}, time.UTC)
	if items[1].Key != "l1" {
		t.Errorf("有 LocalID 时 Key = %q, want l1", items[1].Key)
	}
	if items[2].Key != "m2" {
		t.Errorf("无 LocalID 时 Key = %q, want m2", items[2].Key)
	}
}

func TestDiffTimelineInsertAtTail(t *testing.T) {
	loc := time.UTC
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, loc)
	old := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
	}, loc)
	new := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
		tlMsg("l2", "m2", "sent", "b", at.Add(time.Minute)),
	}, loc)

	ops := DiffTimeline(old, new)
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1", len(ops))
	}
	if ops[0].Type != OpInsert || ops[0].Index != 2 || ops[0].Item.Key != "l2" {
		t.Errorf("尾部追加 op = %+v", ops[0])
	}
}

func TestDiffTimelineRemove(t *testing.T) {
	loc := time.UTC
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, loc)
	old := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
		tlMsg("l2", "m2", "sent", "b", at.Add(time.Minute)),
		tlMsg("l3", "m3", "sent", "c", at.Add(2*time.Minute)),
	}, loc)
	new := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
		tlMsg("l3", "m3", "sent", "c", at.Add(2*time.Minute)),
	}, loc)

	ops := DiffTimeline(old, new)
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1: %+v", len(ops), ops)
	}
	if ops[0].Type != OpRemove || ops[0].Index != 2 {
		t.Errorf("中部删除 op = %+v", ops[0])
	}
}

func TestDiffTimelineStatusTransitionIsUpdate(t *testing.T) {
	loc := time.UTC
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, loc)
	// PENDING 消息还没有服务端 ID，落库后补全，身份由 LocalID 维持
	old := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "", "pending", "a", at),
	}, loc)
	new := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
	}, loc)

	ops := DiffTimeline(old, new)
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1: %+v", len(ops), ops)
	}
	if ops[0].Type != OpUpdate || ops[0].Index != 1 {
		t.Errorf("状态流转应产出就地 update, got %+v", ops[0])
	}
	if ops[0].Item.Message.Status != "sent" {
		t.Errorf("update 应携带新内容, status = %q", ops[0].Item.Message.Status)
	}
}

func TestDiffTimelineReactionChangeIsUpdate(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	a := tlMsg("l1", "m1", "sent", "a", at)
	b := tlMsg("l1", "m1", "sent", "a", at)
	b.Reactions = map[string][]string{"👍": {"e2"}}
	old := InsertDateSeparators([]*dto.MessageDTO{a}, time.UTC)
	new := InsertDateSeparators([]*dto.MessageDTO{b}, time.UTC)

	ops := DiffTimeline(old, new)
	if len(ops) != 1 || ops[0].Type != OpUpdate {
		t.Fatalf("表情变化应产出 update, got %+v", ops)
	}
}

func TestDiffTimelineReactionMembershipChange(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	a := tlMsg("l1", "m1", "sent", "a", at)
	a.Reactions = map[string][]string{"👍": {"e1"}}
	b := tlMsg("l1", "m1", "sent", "a", at)
	b.Reactions = map[string][]string{"👍": {"e2"}}
	old := InsertDateSeparators([]*dto.MessageDTO{a}, time.UTC)
	new := InsertDateSeparators([]*dto.MessageDTO{b}, time.UTC)

	// 集合大小不变但成员更换，仍须产出 update
	ops := DiffTimeline(old, new)
	if len(ops) != 1 || ops[0].Type != OpUpdate {
		t.Fatalf("同尺寸成员变化应产出 update, got %+v", ops)
	}
}

func TestDiffTimelineReadByOrderInsensitive(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	a := tlMsg("l1", "m1", "sent", "a", at)
	a.ReadBy = []string{"e2", "e3"}
	b := tlMsg("l1", "m1", "sent", "a", at)
	b.ReadBy = []string{"e3", "e2"}
	old := InsertDateSeparators([]*dto.MessageDTO{a}, time.UTC)
	new := InsertDateSeparators([]*dto.MessageDTO{b}, time.UTC)

	if ops := DiffTimeline(old, new); len(ops) != 0 {
		t.Fatalf("仅顺序不同的回执集合不应产出操作, got %+v", ops)
	}
}

func TestDiffTimelineIdentical(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	items := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
	}, time.UTC)
	if ops := DiffTimeline(items, items); len(ops) != 0 {
		t.Fatalf("相同时间线不应产出操作, got %+v", ops)
	}
}

func TestDiffTimelineAsync(t *testing.T) {
	at := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	old := InsertDateSeparators(nil, time.UTC)
	new := InsertDateSeparators([]*dto.MessageDTO{
		tlMsg("l1", "m1", "sent", "a", at),
	}, time.UTC)

	select {
	case ops := <-DiffTimelineAsync(context.Background(), old, new):
		if len(ops) != 2 {
			t.Fatalf("ops = %d, want 2 (分隔符 + 消息)", len(ops))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("异步差分超时")
	}
}
