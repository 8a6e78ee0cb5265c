package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
	"Crewline/internal/pkg/media"
	"Crewline/internal/repository"
)

// multiTimer 手动触发的多定时器工厂，按延迟挑选要触发的定时器
type schedTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

type multiTimer struct {
	mu     sync.Mutex
	timers []*schedTimer
}

func (m *multiTimer) afterFn(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &schedTimer{d: d, fn: f}
	m.timers = append(m.timers, st)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if st.stopped || st.fired {
			return false
		}
		st.stopped = true
		return true
	}
}

// fire 触发第一只延迟匹配且未触发未取消的定时器
func (m *multiTimer) fire(t *testing.T, d time.Duration) {
	t.Helper()
	m.mu.Lock()
	var target *schedTimer
	for _, st := range m.timers {
		if st.d == d && !st.fired && !st.stopped {
			target = st
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		t.Fatalf("没有延迟为 %v 的待触发定时器", d)
	}
	target.fired = true
	target.fn()
}

func (m *multiTimer) pending(d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.timers {
		if st.d == d && !st.fired && !st.stopped {
			return true
		}
	}
	return false
}

type captureNotifier struct {
	mu     sync.Mutex
	events []*model.NotificationEvent
}

func (n *captureNotifier) Notify(ctx context.Context, ev *model.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) kindsFor(recipientID string) []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.NotificationKind
	for _, ev := range n.events {
		if ev.RecipientID == recipientID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

type callFixture struct {
	*chatFixture
	callRepo repository.CallRepo
	notifier *captureNotifier
}

// callClient 模拟一个终端进程：独立的会话登记处与引擎工厂
type callClient struct {
	svc     CallService
	timer   *multiTimer
	engines []*media.FakeEngine
	joinErr error
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	cf := newChatFixture(t)
	return &callFixture{
		chatFixture: cf,
		callRepo:    repository.NewCallRepo(cf.store),
		notifier:    &captureNotifier{},
	}
}

func (f *callFixture) client(t *testing.T) *callClient {
	t.Helper()
	c := &callClient{timer: &multiTimer{}}
	empRepo := &fakeEmpRepo{names: map[string]string{"e1": "张三", "e2": "李四"}}
	newEngine := func() media.Engine {
		e := media.NewFakeEngine()
		e.JoinErr = c.joinErr
		c.engines = append(c.engines, e)
		return e
	}
	c.svc = NewCallService(f.callRepo, f.convRepo, empRepo, f.svc, f.publisher,
		f.notifier, NewCallRegistry(), newEngine)
	impl := c.svc.(*callServiceImpl)
	impl.afterFn = c.timer.afterFn
	return c
}

func (c *callClient) lastEngine(t *testing.T) *media.FakeEngine {
	t.Helper()
	if len(c.engines) == 0 {
		t.Fatal("还没有创建过引擎实例")
	}
	return c.engines[len(c.engines)-1]
}

func TestCreateCall(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	got, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID,
		Media:          "audio",
		Participants:   []string{"e2"},
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if got.Status != string(model.CallRinging) {
		t.Errorf("status = %q, want ringing", got.Status)
	}
	if len(got.ActiveParticipants) != 1 || got.ActiveParticipants[0] != "e1" {
		t.Errorf("active = %v, want [e1]", got.ActiveParticipants)
	}
	if !caller.lastEngine(t).Joined {
		t.Error("主叫应已加入媒体频道")
	}
	if !strings.HasPrefix(got.ChannelID, convID+"-") {
		t.Errorf("频道名应由会话 id 派生, got %q", got.ChannelID)
	}

	// 被叫收到 CALL 信令，主叫自己不收
	found := false
	for _, ev := range f.publisher.eventsFor("e2") {
		if ev.Type == "CALL" {
			found = true
		}
	}
	if !found {
		t.Error("e2 应收到 CALL 事件")
	}

	// 同会话不允许第二路非终态通话
	other := f.client(t)
	if _, err = other.svc.CreateCall(context.Background(), "e2", &dto.CreateCallReq{
		ConversationID: convID,
		Media:          "audio",
		Participants:   []string{"e1"},
	}); !errors.Is(err, ErrCallOngoing) {
		t.Fatalf("err = %v, want ErrCallOngoing", err)
	}
}

func TestCreateCallJoinFailure(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)
	caller.joinErr = errors.New("sdk down")

	_, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID,
		Media:          "audio",
		Participants:   []string{"e2"},
	})
	if !errors.Is(err, ErrChannelJoin) {
		t.Fatalf("err = %v, want ErrChannelJoin", err)
	}

	// 入会失败的通话转 CANCELLED 并在宽限期后删除
	calls, err := f.callRepo.FindByStatus(context.Background(), model.CallCancelled)
	if err != nil || len(calls) != 1 {
		t.Fatalf("应有 1 条 cancelled 通话, got %d, err %v", len(calls), err)
	}
	caller.timer.fire(t, callGraceDelete)
	if _, err = caller.svc.GetCall(context.Background(), calls[0].ID); !errors.Is(err, ErrCallMissing) {
		t.Fatalf("宽限删除后 err = %v, want ErrCallMissing", err)
	}
	// 会话登记处已清空，后续还能发起新通话
	if caller.svc.(*callServiceImpl).registry.Active() != nil {
		t.Error("入会失败后登记处应为空")
	}
}

func TestAnswerCall(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller, callee := f.client(t), f.client(t)

	created, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID,
		Media:          "video",
		Participants:   []string{"e2"},
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	got, err := callee.svc.AnswerCall(context.Background(), "e2", created.ID)
	if err != nil {
		t.Fatalf("AnswerCall: %v", err)
	}
	if got.Status != string(model.CallActive) {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.StartedAt.IsZero() {
		t.Error("应答后 started_at 应落表")
	}
	if !contains(got.ActiveParticipants, "e1") || !contains(got.ActiveParticipants, "e2") {
		t.Errorf("active = %v, want 双方在席", got.ActiveParticipants)
	}
	if !callee.lastEngine(t).Joined {
		t.Error("被叫应已加入媒体频道")
	}
}

func TestAnswerCallTerminal(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller, callee := f.client(t), f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	if err := caller.svc.EndCall(context.Background(), "e1", created.ID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if _, err := callee.svc.AnswerCall(context.Background(), "e2", created.ID); !errors.Is(err, ErrCallTerminal) {
		t.Fatalf("err = %v, want ErrCallTerminal", err)
	}
}

func TestRingTimeout(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	caller.timer.fire(t, callRingTimeout)

	call, err := f.callRepo.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.Status != model.CallMissed {
		t.Errorf("status = %q, want missed", call.Status)
	}
	if kinds := f.notifier.kindsFor("e2"); len(kinds) != 1 || kinds[0] != model.NotifyMissedCall {
		t.Errorf("e2 通知 = %v, want [missed_call]", kinds)
	}
	if kinds := f.notifier.kindsFor("e1"); len(kinds) != 0 {
		t.Errorf("主叫不应收到未接通知, got %v", kinds)
	}

	// 单聊摘要是归属主叫的普通消息
	msgs, _ := f.msgRepo.History(context.Background(), convID, 0)
	if len(msgs) != 1 || msgs[0].System != nil {
		t.Fatalf("单聊摘要应为普通消息, msgs = %+v", msgs)
	}
	if msgs[0].SenderID != "e1" || msgs[0].Body != "未接听" {
		t.Errorf("摘要 sender = %q body = %q", msgs[0].SenderID, msgs[0].Body)
	}

	caller.timer.fire(t, callGraceDelete)
	if _, err = caller.svc.GetCall(context.Background(), created.ID); !errors.Is(err, ErrCallMissing) {
		t.Fatalf("宽限删除后 err = %v, want ErrCallMissing", err)
	}
}

func TestRingTimeoutAfterAnswerIsNoop(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller, callee := f.client(t), f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	if _, err := callee.svc.AnswerCall(context.Background(), "e2", created.ID); err != nil {
		t.Fatalf("AnswerCall: %v", err)
	}

	// 定时器照常触发，条件写吸收
	caller.timer.fire(t, callRingTimeout)
	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallActive {
		t.Errorf("已接通的通话不应被超时改写, status = %q", call.Status)
	}
}

func TestDeclineDirectMarksMissed(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller, callee := f.client(t), f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	if err := callee.svc.DeclineCall(context.Background(), "e2", created.ID); err != nil {
		t.Fatalf("DeclineCall: %v", err)
	}
	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallMissed {
		t.Errorf("单聊拒接后 status = %q, want missed", call.Status)
	}
	if kinds := f.notifier.kindsFor("e2"); len(kinds) != 1 || kinds[0] != model.NotifyMissedCall {
		t.Errorf("拒接也应记未接通知, got %v", kinds)
	}
}

func TestDeclineGroupRemovesOnlySelf(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "group", "e1", "e2", "e3")
	caller, c2, c3 := f.client(t), f.client(t), f.client(t)

	created, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2", "e3"},
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	if err = c2.svc.DeclineCall(context.Background(), "e2", created.ID); err != nil {
		t.Fatalf("DeclineCall e2: %v", err)
	}
	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallRinging {
		t.Errorf("其他被叫仍在响铃, status = %q", call.Status)
	}
	if contains(call.Participants, "e2") {
		t.Errorf("e2 应已移出, participants = %v", call.Participants)
	}

	// 最后一名被叫拒接后人数收缩到 1，整场结束
	if err = c3.svc.DeclineCall(context.Background(), "e3", created.ID); err != nil {
		t.Fatalf("DeclineCall e3: %v", err)
	}
	call, _ = f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallEnded {
		t.Errorf("收缩到 1 人后 status = %q, want ended", call.Status)
	}

	// 群通话摘要走系统消息
	msgs, _ := f.msgRepo.History(context.Background(), convID, 0)
	if len(msgs) != 1 || msgs[0].System == nil || msgs[0].System.Kind != "call_missed" {
		t.Fatalf("群摘要应为系统消息, msgs = %+v", msgs)
	}
}

func TestCancelCall(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})

	if err := caller.svc.CancelCall(context.Background(), "e2", created.ID); !errors.Is(err, UnauthorizedError) {
		t.Fatalf("非主叫撤回 err = %v, want UnauthorizedError", err)
	}
	if err := caller.svc.CancelCall(context.Background(), "e1", created.ID); err != nil {
		t.Fatalf("CancelCall: %v", err)
	}
	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallCancelled {
		t.Errorf("status = %q, want cancelled", call.Status)
	}
	if kinds := f.notifier.kindsFor("e2"); len(kinds) != 1 || kinds[0] != model.NotifyMissedCall {
		t.Errorf("撤回应给未接方发未接通知, got %v", kinds)
	}
	if err := caller.svc.CancelCall(context.Background(), "e1", created.ID); !errors.Is(err, ErrCallTerminal) {
		t.Fatalf("重复撤回 err = %v, want ErrCallTerminal", err)
	}
}

func TestEndCallWritesSummary(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller, callee := f.client(t), f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	if _, err := callee.svc.AnswerCall(context.Background(), "e2", created.ID); err != nil {
		t.Fatalf("AnswerCall: %v", err)
	}
	if err := callee.svc.EndCall(context.Background(), "e2", created.ID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallEnded {
		t.Errorf("status = %q, want ended", call.Status)
	}
	msgs, _ := f.msgRepo.History(context.Background(), convID, 0)
	if len(msgs) != 1 || msgs[0].System != nil {
		t.Fatalf("单聊摘要应为普通消息, msgs = %+v", msgs)
	}
	if msgs[0].SenderID != "e2" || !strings.HasPrefix(msgs[0].Body, "语音通话时长 ") {
		t.Errorf("摘要 sender = %q body = %q", msgs[0].SenderID, msgs[0].Body)
	}

	// 对端重复挂断吸收为清理 no-op
	if err := caller.svc.EndCall(context.Background(), "e1", created.ID); err != nil {
		t.Fatalf("重复挂断应为 no-op, err = %v", err)
	}
}

func TestLeaveCallDirectEqualsEnd(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	if err := caller.svc.LeaveCall(context.Background(), "e1", created.ID); err != nil {
		t.Fatalf("LeaveCall: %v", err)
	}
	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallEnded {
		t.Errorf("单聊离席即挂断, status = %q", call.Status)
	}
}

func TestControls(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	// 无活动会话
	if got := caller.svc.Controls(); got.AudioMuted || got.VideoOn {
		t.Errorf("无会话时应返回零值开关, got %+v", got)
	}
	if _, err := caller.svc.ToggleMute(context.Background()); !errors.Is(err, ErrCallMissing) {
		t.Fatalf("err = %v, want ErrCallMissing", err)
	}

	if _, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	got, err := caller.svc.ToggleMute(context.Background())
	if err != nil {
		t.Fatalf("ToggleMute: %v", err)
	}
	if !got.AudioMuted {
		t.Error("静音开关应打开")
	}
	if got, err = caller.svc.ToggleVideo(context.Background()); err != nil || !got.VideoOn {
		t.Errorf("语音通话中开视频: video = %v, err = %v", got.VideoOn, err)
	}
	if got, err = caller.svc.SwitchCamera(context.Background()); err != nil || got.FrontCamera {
		t.Errorf("切换后应为后置镜头: front = %v, err = %v", got.FrontCamera, err)
	}
}

func TestReconnectExhaustionEndsCall(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	impl := caller.svc.(*callServiceImpl)
	sess := impl.registry.Active()
	if sess == nil {
		t.Fatal("主叫应有活动会话")
	}
	sessTimer := &multiTimer{}
	sess.afterFn = sessTimer.afterFn

	// 引擎已在频道内，重连 JoinChannel 均告失败，调度耗尽后逃生挂断
	caller.lastEngine(t).FireConnState(media.ConnFailed, 0)
	for sessTimer.pending(reconnectInterval) {
		sessTimer.fire(t, reconnectInterval)
	}

	call, err := f.callRepo.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.Status != model.CallEnded {
		t.Errorf("重连耗尽后 status = %q, want ended", call.Status)
	}
	if impl.registry.Active() != nil {
		t.Error("逃生挂断后登记处应为空")
	}
}

func TestReconnectResetOnConnected(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	if _, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	sess := caller.svc.(*callServiceImpl).registry.Active()
	sessTimer := &multiTimer{}
	sess.afterFn = sessTimer.afterFn

	engine := caller.lastEngine(t)
	engine.FireConnState(media.ConnFailed, 0)
	if !sessTimer.pending(reconnectInterval) {
		t.Fatal("断开后应调度重连")
	}
	engine.FireConnState(media.ConnConnected, 0)

	sess.mu.Lock()
	reconnects := sess.reconnects
	sess.mu.Unlock()
	if reconnects != 0 {
		t.Errorf("恢复连接后重连计数应清零, got %d", reconnects)
	}
	if sessTimer.pending(reconnectInterval) {
		t.Error("恢复连接后排队中的重连应取消")
	}
}

func TestReconnectOnDisconnected(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	if _, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	sess := caller.svc.(*callServiceImpl).registry.Active()
	sessTimer := &multiTimer{}
	sess.afterFn = sessTimer.afterFn

	// 普通断开与 FAILED 一样要触发重连调度
	caller.lastEngine(t).FireConnState(media.ConnDisconnected, 0)
	if !sessTimer.pending(reconnectInterval) {
		t.Fatal("DISCONNECTED 后应调度重连")
	}
}

func TestGroupShrinkUnderConcurrentDeclines(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "group", "e1", "e2", "e3", "e4")
	caller := f.client(t)

	created, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2", "e3", "e4"},
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	// 三名被叫并发拒接，事务保证只有最后一笔触发收缩结束
	var wg sync.WaitGroup
	for _, uid := range []string{"e2", "e3", "e4"} {
		wg.Add(1)
		c := f.client(t)
		go func(uid string) {
			defer wg.Done()
			if err := c.svc.DeclineCall(context.Background(), uid, created.ID); err != nil {
				t.Errorf("DeclineCall %s: %v", uid, err)
			}
		}(uid)
	}
	wg.Wait()

	call, err := f.callRepo.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call.Status != model.CallEnded {
		t.Errorf("并发拒接后 status = %q, want ended", call.Status)
	}
	if len(call.Participants) != 1 || call.Participants[0] != "e1" {
		t.Errorf("participants = %v, want [e1]", call.Participants)
	}
}

func TestRemoteJoinedActivatesRinging(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	created, _ := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	})
	caller.lastEngine(t).FireRemoteJoined("e2")

	call, _ := f.callRepo.Get(context.Background(), created.ID)
	if call.Status != model.CallActive {
		t.Errorf("远端入会后 status = %q, want active", call.Status)
	}
	if call.StartedAt.IsZero() {
		t.Error("接通时刻应落表")
	}
}

func TestBanner(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	caller := f.client(t)

	// 无通话时横幅不可见
	b, err := caller.svc.Banner(context.Background(), "e1", convID)
	if err != nil || b.Visible {
		t.Fatalf("无通话横幅 = %+v, err = %v", b, err)
	}

	if _, err = caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2"},
	}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	b, err = caller.svc.Banner(context.Background(), "e2", convID)
	if err != nil {
		t.Fatalf("Banner: %v", err)
	}
	if !b.Visible || b.StatusText != "邀请你加入通话" || !b.CanJoin || b.CanEnd {
		t.Errorf("被叫横幅 = %+v", b)
	}
}

func TestBuildBanner(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	base := model.Call{
		ID:                 "c1",
		CallerID:           "e1",
		Participants:       []string{"e1", "e2"},
		ActiveParticipants: []string{"e1"},
		Media:              model.CallAudio,
	}

	ringing := base
	ringing.Status = model.CallRinging
	active := base
	active.Status = model.CallActive
	active.ActiveParticipants = []string{"e1", "e2"}
	active.StartedAt = now.Add(-65 * time.Second)
	ended := base
	ended.Status = model.CallEnded

	tests := []struct {
		name     string
		call     *model.Call
		viewerID string
		visible  bool
		text     string
		canJoin  bool
		canEnd   bool
		duration string
	}{
		{"主叫响铃中", &ringing, "e1", true, "等待接听...", false, true, ""},
		{"被叫响铃中", &ringing, "e2", true, "邀请你加入通话", true, false, ""},
		{"通话中在席", &active, "e2", true, "通话中", false, true, "01:05"},
		{"终态不可见", &ended, "e1", false, "", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := buildBanner(tt.call, tt.viewerID, now)
			if b.Visible != tt.visible || b.StatusText != tt.text ||
				b.CanJoin != tt.canJoin || b.CanEnd != tt.canEnd || b.Duration != tt.duration {
				t.Errorf("buildBanner = %+v", b)
			}
		})
	}
}

func TestFormatCallDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{5 * time.Second, "00:05"},
		{65 * time.Second, "01:05"},
		{59*time.Minute + 59*time.Second, "59:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
	}
	for _, tt := range tests {
		if got := formatCallDuration(tt.d); got != tt.want {
			t.Errorf("formatCallDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParticipantNames(t *testing.T) {
	f := newCallFixture(t)
	convID := f.createConv(t, "group", "e1", "e2", "e9")
	caller := f.client(t)

	created, err := caller.svc.CreateCall(context.Background(), "e1", &dto.CreateCallReq{
		ConversationID: convID, Media: "audio", Participants: []string{"e2", "e9"},
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	names, err := caller.svc.ParticipantNames(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("ParticipantNames: %v", err)
	}
	got := map[string]string{}
	for _, n := range names {
		got[n.UserID] = n.Name
	}
	if got["e2"] != "李四" {
		t.Errorf("e2 = %q, want 李四", got["e2"])
	}
	// 查不到的回落为工号
	if got["e9"] != "e9" {
		t.Errorf("e9 = %q, want e9", got["e9"])
	}
}
