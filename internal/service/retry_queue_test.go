package service

import (
	"errors"
	"testing"
	"time"

	"Crewline/internal/model"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.n); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

// fakeTimer 手动触发的定时器工厂，记录每次调度的延迟
type fakeTimer struct {
	delays  []time.Duration
	pending func()
}

func (f *fakeTimer) afterFn(d time.Duration, fn func()) func() bool {
	f.delays = append(f.delays, d)
	f.pending = fn
	return func() bool { f.pending = nil; return true }
}

func (f *fakeTimer) trigger(t *testing.T) {
	t.Helper()
	fn := f.pending
	if fn == nil {
		t.Fatal("没有待触发的重试定时器")
	}
	f.pending = nil
	fn()
}

func newTestQueue(attempt func(msg *model.Message) error, abandon func(msg *model.Message)) (*retryQueue, *fakeTimer) {
	q := newRetryQueue(attempt, abandon)
	ft := &fakeTimer{}
	q.afterFn = ft.afterFn
	return q, ft
}

func TestRetryQueueSucceedsAndRemoves(t *testing.T) {
	var attempts int
	q, ft := newTestQueue(func(msg *model.Message) error {
		attempts++
		return nil
	}, nil)

	msg := &model.Message{LocalID: "m1"}
	q.Enqueue(msg)
	if !q.Pending("m1") {
		t.Fatal("Enqueue 后任务应在队列中")
	}
	if len(ft.delays) != 1 || ft.delays[0] != time.Second {
		t.Fatalf("首次重试延迟 = %v, want 1s", ft.delays)
	}

	ft.trigger(t)
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if q.Pending("m1") {
		t.Fatal("成功后任务应被移除")
	}
}

func TestRetryQueueBacksOffUntilAbandon(t *testing.T) {
	var attempts int
	var abandoned *model.Message
	q, ft := newTestQueue(func(msg *model.Message) error {
		attempts++
		return errors.New("still offline")
	}, func(msg *model.Message) {
		abandoned = msg
	})

	msg := &model.Message{LocalID: "m1"}
	q.Enqueue(msg)
	for i := 0; i < retryMaxAttempts; i++ {
		ft.trigger(t)
	}

	if attempts != retryMaxAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, retryMaxAttempts)
	}
	wantDelays := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	if len(ft.delays) != len(wantDelays) {
		t.Fatalf("调度次数 = %d, want %d", len(ft.delays), len(wantDelays))
	}
	for i, want := range wantDelays {
		if ft.delays[i] != want {
			t.Errorf("第 %d 次延迟 = %v, want %v", i+1, ft.delays[i], want)
		}
	}
	if abandoned == nil || abandoned.LocalID != "m1" {
		t.Fatal("耗尽后应回调 abandon")
	}
	if q.Pending("m1") {
		t.Fatal("耗尽后任务应被移除")
	}
}

func TestRetryQueueCancelAbsorbsFiredTimer(t *testing.T) {
	var attempts int
	q, ft := newTestQueue(func(msg *model.Message) error {
		attempts++
		return nil
	}, nil)

	q.Enqueue(&model.Message{LocalID: "m1"})
	q.Cancel("m1")
	if q.Pending("m1") {
		t.Fatal("Cancel 后任务不应在队列中")
	}
	// stop 已清掉 pending，即使定时器并发触发也是 no-op
	if ft.pending != nil {
		ft.trigger(t)
	}
	q.fire("m1")
	if attempts != 0 {
		t.Fatalf("已取消任务不应触发 attempt, attempts = %d", attempts)
	}

	// 重复 Cancel 幂等
	q.Cancel("m1")
}

func TestRetryQueueEnqueueIsIdempotent(t *testing.T) {
	q, ft := newTestQueue(func(msg *model.Message) error { return errors.New("fail") }, nil)
	msg := &model.Message{LocalID: "m1"}
	q.Enqueue(msg)
	q.Enqueue(msg)
	if len(ft.delays) != 1 {
		t.Fatalf("重复 Enqueue 不应重复调度, delays = %v", ft.delays)
	}
}

func TestRetryQueueCloseDropsAll(t *testing.T) {
	q, _ := newTestQueue(func(msg *model.Message) error { return errors.New("fail") }, nil)
	q.Enqueue(&model.Message{LocalID: "m1"})
	q.Enqueue(&model.Message{LocalID: "m2"})
	q.Close()
	if q.Pending("m1") || q.Pending("m2") {
		t.Fatal("Close 后队列应为空")
	}
}
