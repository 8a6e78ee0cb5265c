package service

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
	"Crewline/internal/pkg/docstore"
	"Crewline/internal/pkg/media"
	"Crewline/internal/repository"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// 响铃超时，超时后通话转 MISSED 并扇出未接通知
	callRingTimeout = 30 * time.Second
	// 终态通话文档的删除宽限期，宽限期内各端完成最终 UI 收敛
	callGraceDelete = 2 * time.Second
)

// CallService 通话信令协调核心：状态机迁移、会话登记、摘要消息与未接通知
type CallService interface {
	CreateCall(ctx context.Context, callerID string, req *dto.CreateCallReq) (*dto.CallDTO, error)
	AnswerCall(ctx context.Context, userID, callID string) (*dto.CallDTO, error)
	DeclineCall(ctx context.Context, userID, callID string) error
	CancelCall(ctx context.Context, callerID, callID string) error
	LeaveCall(ctx context.Context, userID, callID string) error
	EndCall(ctx context.Context, userID, callID string) error
	GetCall(ctx context.Context, callID string) (*dto.CallDTO, error)
	Banner(ctx context.Context, viewerID, convID string) (*dto.CallBannerDTO, error)
	WatchConversation(convID string, fn func(*model.Call)) (docstore.Unsubscribe, error)
	Controls() *dto.CallControlsDTO
	ToggleMute(ctx context.Context) (*dto.CallControlsDTO, error)
	ToggleVideo(ctx context.Context) (*dto.CallControlsDTO, error)
	SwitchCamera(ctx context.Context) (*dto.CallControlsDTO, error)
	ParticipantNames(ctx context.Context, callID string) ([]*dto.ParticipantNameDTO, error)
}

type callServiceImpl struct {
	callRepo repository.CallRepo
	convRepo repository.ConversationRepo
	empRepo  repository.EmployeeRepo

	chat      ChatService
	publisher EventPublisher
	notifier  Notifier
	registry  *CallRegistry

	// 每次通话都新建引擎实例，线上为 RTC SDK 适配器
	newEngine func() media.Engine

	afterFn func(d time.Duration, f func()) func() bool
	now     func() time.Time
}

func NewCallService(callRepo repository.CallRepo, convRepo repository.ConversationRepo,
	empRepo repository.EmployeeRepo, chat ChatService, publisher EventPublisher,
	notifier Notifier, registry *CallRegistry, newEngine func() media.Engine) CallService {
	return &callServiceImpl{
		callRepo:  callRepo,
		convRepo:  convRepo,
		empRepo:   empRepo,
		chat:      chat,
		publisher: publisher,
		notifier:  notifier,
		registry:  registry,
		newEngine: newEngine,
		afterFn: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now: time.Now,
	}
}

// CreateCall 发起通话：同一会话同一时刻只允许一个非终态通话。
// 文档先落 RINGING，主叫随即加入媒体频道等待被叫。
func (s *callServiceImpl) CreateCall(ctx context.Context, callerID string, req *dto.CreateCallReq) (*dto.CallDTO, error) {
	if callerID == "" || req == nil || req.ConversationID == "" {
		return nil, ErrParamInvalid
	}
	conv, err := s.convRepo.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, convErr(err)
	}
	if !conv.HasParticipant(callerID) {
		return nil, ErrNotMember
	}
	if _, err = s.callRepo.FindOngoingByConversation(ctx, conv.ID); err == nil {
		return nil, ErrCallOngoing
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	participants := req.Participants
	if !contains(participants, callerID) {
		participants = append(participants, callerID)
	}

	call := &model.Call{
		ConversationID:     conv.ID,
		CallerID:           callerID,
		Participants:       participants,
		ActiveParticipants: []string{callerID},
		Media:              model.CallMedia(req.Media),
		Status:             model.CallRinging,
		ChannelID:          channelID(conv.ID),
	}

	sess := newCallSession("", call.ChannelID, callerID, call.Media, s.newEngine())
	if err = s.registry.Begin(sess); err != nil {
		return nil, err
	}

	id, err := s.callRepo.Create(ctx, call)
	if err != nil {
		s.registry.End(sess.CallID)
		return nil, errors.Wrap(err, "create call doc")
	}
	call.ID = id
	sess.CallID = id
	s.wireSession(sess)

	if err = sess.join(); err != nil {
		s.registry.End(id)
		if _, uerr := s.callRepo.UpdateStatusIf(ctx, id, []model.CallStatus{model.CallRinging},
			model.CallCancelled, docstore.Doc{"ended_at": docstore.ServerTimestamp()}); uerr != nil {
			log.Warn("入会失败后取消通话失败", "callID", id, "err", uerr)
		}
		s.scheduleGraceDelete(id)
		return nil, err
	}

	// 被叫超时未接转 MISSED，定时器不随本端退出取消，以存储端条件写为准
	s.afterFn(callRingTimeout, func() { s.ringTimeout(id) })

	s.announce(ctx, conv, call)
	return toCallDTO(call), nil
}

// AnswerCall 应答：加入频道并把通话迁到 ACTIVE。
// 迁移是条件写，多端并发应答只有第一笔落 started_at。
func (s *callServiceImpl) AnswerCall(ctx context.Context, userID, callID string) (*dto.CallDTO, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !contains(call.Participants, userID) {
		return nil, ErrNotMember
	}
	if call.Status.Terminal() {
		return nil, ErrCallTerminal
	}

	sess := newCallSession(callID, call.ChannelID, userID, call.Media, s.newEngine())
	if err = s.registry.Begin(sess); err != nil {
		return nil, err
	}
	s.wireSession(sess)

	if err = sess.join(); err != nil {
		s.registry.End(callID)
		return nil, err
	}

	if _, err = s.callRepo.UpdateStatusIf(ctx, callID, []model.CallStatus{model.CallRinging},
		model.CallActive, docstore.Doc{"started_at": docstore.ServerTimestamp()}); err != nil {
		log.Warn("应答状态迁移失败", "callID", callID, "err", err)
	}
	if err = s.callRepo.MarkActiveParticipant(ctx, callID, userID, true); err != nil {
		log.Warn("登记在线成员失败", "callID", callID, "err", err)
	}

	call, err = s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	return toCallDTO(call), nil
}

// DeclineCall 拒接。单聊拒接记为 MISSED 并通知主叫；群聊只把自己移出，不影响其他人响铃。
func (s *callServiceImpl) DeclineCall(ctx context.Context, userID, callID string) error {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if !contains(call.Participants, userID) {
		return ErrNotMember
	}
	if s.isGroupCall(ctx, call) {
		_, ended, err := s.callRepo.RemoveParticipant(ctx, callID, userID)
		if err != nil {
			return err
		}
		if ended {
			s.finishCall(ctx, call, userID)
		}
		return nil
	}

	changed, err := s.callRepo.UpdateStatusIf(ctx, callID, []model.CallStatus{model.CallRinging},
		model.CallMissed, docstore.Doc{"ended_at": docstore.ServerTimestamp()})
	if err != nil {
		return err
	}
	if changed {
		s.notifyMissed(ctx, call)
		s.finishCall(ctx, call, userID)
	}
	return nil
}

// CancelCall 主叫在接通前撤回，转 CANCELLED 并给未接方发未接通知
func (s *callServiceImpl) CancelCall(ctx context.Context, callerID, callID string) error {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.CallerID != callerID {
		return UnauthorizedError
	}
	changed, err := s.callRepo.UpdateStatusIf(ctx, callID, []model.CallStatus{model.CallRinging},
		model.CallCancelled, docstore.Doc{"ended_at": docstore.ServerTimestamp()})
	if err != nil {
		return err
	}
	if !changed {
		return ErrCallTerminal
	}
	s.notifyMissed(ctx, call)
	s.finishCall(ctx, call, callerID)
	return nil
}

// LeaveCall 离席。群聊移出自己，人数收缩到 1 时整场结束；单聊等同挂断。
func (s *callServiceImpl) LeaveCall(ctx context.Context, userID, callID string) error {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if !s.isGroupCall(ctx, call) {
		return s.EndCall(ctx, userID, callID)
	}

	if sess := s.registry.End(callID); sess != nil {
		sess.leave()
	}
	_, ended, err := s.callRepo.RemoveParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if ended {
		s.postSummary(ctx, call, userID, s.now())
		s.scheduleGraceDelete(callID)
	}
	return nil
}

// EndCall 挂断：RINGING/ACTIVE 均可迁 ENDED。
// 从未接通（still RINGING）的挂断同时发未接通知。
func (s *callServiceImpl) EndCall(ctx context.Context, userID, callID string) error {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if !contains(call.Participants, userID) {
		return ErrNotMember
	}
	changed, err := s.callRepo.UpdateStatusIf(ctx, callID,
		[]model.CallStatus{model.CallRinging, model.CallActive},
		model.CallEnded, docstore.Doc{"ended_at": docstore.ServerTimestamp()})
	if err != nil {
		return err
	}
	if !changed {
		// 已由对端或超时逻辑终结，本端只做会话清理
		if sess := s.registry.End(callID); sess != nil {
			sess.leave()
		}
		return nil
	}
	if call.Status == model.CallRinging && call.CallerID == userID {
		s.notifyMissed(ctx, call)
	}
	s.finishCall(ctx, call, userID)
	return nil
}

func (s *callServiceImpl) GetCall(ctx context.Context, callID string) (*dto.CallDTO, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	return toCallDTO(call), nil
}

// Banner 会话页通话横幅：非终态通话可见，文案与按钮随状态与视角变化
func (s *callServiceImpl) Banner(ctx context.Context, viewerID, convID string) (*dto.CallBannerDTO, error) {
	call, err := s.callRepo.FindOngoingByConversation(ctx, convID)
	if errors.Is(err, docstore.ErrNotFound) {
		return &dto.CallBannerDTO{Visible: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return buildBanner(call, viewerID, s.now()), nil
}

// buildBanner 纯函数便于测试，Duration 由调用侧周期性刷新
func buildBanner(call *model.Call, viewerID string, now time.Time) *dto.CallBannerDTO {
	b := &dto.CallBannerDTO{
		Visible: !call.Status.Terminal(),
		CallID:  call.ID,
		Media:   string(call.Media),
	}
	if !b.Visible {
		return &dto.CallBannerDTO{Visible: false}
	}
	inCall := contains(call.ActiveParticipants, viewerID)
	switch call.Status {
	case model.CallRinging:
		if call.CallerID == viewerID {
			b.StatusText = "等待接听..."
		} else {
			b.StatusText = "邀请你加入通话"
		}
	case model.CallActive:
		b.StatusText = "通话中"
		if !call.StartedAt.IsZero() {
			b.Duration = formatCallDuration(now.Sub(call.StartedAt))
		}
	}
	b.CanJoin = !inCall && contains(call.Participants, viewerID)
	b.CanEnd = inCall
	return b
}

func (s *callServiceImpl) WatchConversation(convID string, fn func(*model.Call)) (docstore.Unsubscribe, error) {
	return s.callRepo.Listen(convID, func(calls []*model.Call) {
		if len(calls) == 0 {
			fn(nil)
			return
		}
		// 非终态优先，其余取最新一条供终态 UI 收敛
		var latest *model.Call
		for _, c := range calls {
			if !c.Status.Terminal() {
				fn(c)
				return
			}
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
		fn(latest)
	})
}

func (s *callServiceImpl) Controls() *dto.CallControlsDTO {
	sess := s.registry.Active()
	if sess == nil {
		return &dto.CallControlsDTO{}
	}
	muted, video, front := sess.controls()
	return &dto.CallControlsDTO{
		AudioMuted:  muted,
		VideoOn:     video,
		SpeakerOn:   true,
		FrontCamera: front,
	}
}

func (s *callServiceImpl) ToggleMute(ctx context.Context) (*dto.CallControlsDTO, error) {
	sess := s.registry.Active()
	if sess == nil {
		return nil, ErrCallMissing
	}
	muted, _, _ := sess.controls()
	newMuted, err := sess.setMute(!muted)
	if err != nil {
		return nil, err
	}
	if err = s.callRepo.SetTrack(ctx, sess.CallID, sess.UserID, false, !newMuted); err != nil {
		log.Warn("同步音频开关位失败", "callID", sess.CallID, "err", err)
	}
	return s.Controls(), nil
}

func (s *callServiceImpl) ToggleVideo(ctx context.Context) (*dto.CallControlsDTO, error) {
	sess := s.registry.Active()
	if sess == nil {
		return nil, ErrCallMissing
	}
	_, video, _ := sess.controls()
	newVideo, err := sess.setVideo(!video)
	if err != nil {
		return nil, err
	}
	if err = s.callRepo.SetTrack(ctx, sess.CallID, sess.UserID, true, newVideo); err != nil {
		log.Warn("同步视频开关位失败", "callID", sess.CallID, "err", err)
	}
	return s.Controls(), nil
}

func (s *callServiceImpl) SwitchCamera(ctx context.Context) (*dto.CallControlsDTO, error) {
	sess := s.registry.Active()
	if sess == nil {
		return nil, ErrCallMissing
	}
	if err := sess.switchCamera(); err != nil {
		return nil, err
	}
	return s.Controls(), nil
}

// ParticipantNames 批量解析参与者展示名，查不到的回落为工号
func (s *callServiceImpl) ParticipantNames(ctx context.Context, callID string) ([]*dto.ParticipantNameDTO, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	names, err := s.empRepo.GetDisplayNames(ctx, call.Participants)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.ParticipantNameDTO, 0, len(call.Participants))
	for _, uid := range call.Participants {
		name := names[uid]
		if name == "" {
			name = uid
		}
		out = append(out, &dto.ParticipantNameDTO{UserID: uid, Name: name})
	}
	return out, nil
}

// ---- 内部 ----

func (s *callServiceImpl) loadCall(ctx context.Context, callID string) (*model.Call, error) {
	if callID == "" {
		return nil, ErrParamInvalid
	}
	call, err := s.callRepo.Get(ctx, callID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrCallMissing
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

// isGroupCall 群通话语义跟随会话类型而非参与者存量：
// 群通话收缩到两人后，拒接/离席仍是移出自己而不是挂断整场
func (s *callServiceImpl) isGroupCall(ctx context.Context, call *model.Call) bool {
	conv, err := s.convRepo.Get(ctx, call.ConversationID)
	if err != nil {
		// 会话查不到时退回参与者数量判定
		return call.IsGroup()
	}
	return conv.Type == model.ConversationGroup
}

// wireSession 挂接引擎事件到信令侧
func (s *callServiceImpl) wireSession(sess *CallSession) {
	callID := sess.CallID
	sess.onExhausted = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.EndCall(ctx, sess.UserID, callID); err != nil {
			log.Error("重连耗尽后挂断失败", "callID", callID, "err", err)
		}
	}
	sess.engine.SetEventHandler(media.EventHandler{
		OnJoinSuccess: func(localUID string) {
			log.Info("已加入媒体频道", "callID", callID, "uid", localUID)
		},
		OnRemoteUserJoined: func(uid string) {
			// 主叫侧看到首个远端即认为接通，条件写保证只生效一次
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.callRepo.UpdateStatusIf(ctx, callID, []model.CallStatus{model.CallRinging},
				model.CallActive, docstore.Doc{"started_at": docstore.ServerTimestamp()}); err != nil {
				log.Warn("远端入会状态迁移失败", "callID", callID, "err", err)
			}
		},
		OnRemoteUserLeft: func(uid string, reason int) {
			log.Info("远端离开媒体频道", "callID", callID, "uid", uid, "reason", reason)
		},
		OnConnectionStateChanged: sess.onConnState,
		OnError:                  sess.onEngineErr,
	})
}

// ringTimeout 响铃超时回调：仍在 RINGING 才转 MISSED
func (s *callServiceImpl) ringTimeout(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	call, err := s.callRepo.Get(ctx, callID)
	if err != nil {
		return
	}
	changed, err := s.callRepo.UpdateStatusIf(ctx, callID, []model.CallStatus{model.CallRinging},
		model.CallMissed, docstore.Doc{"ended_at": docstore.ServerTimestamp()})
	if err != nil || !changed {
		return
	}
	s.notifyMissed(ctx, call)
	s.finishCall(ctx, call, "")
}

// finishCall 终态后的收尾：退出媒体会话、写摘要消息、调度宽限删除
func (s *callServiceImpl) finishCall(ctx context.Context, call *model.Call, endedBy string) {
	if sess := s.registry.End(call.ID); sess != nil {
		sess.leave()
	}
	s.postSummary(ctx, call, endedBy, s.now())
	s.scheduleGraceDelete(call.ID)
}

// postSummary 向会话写入通话摘要。
// 群通话写系统消息；单聊以挂断方名义写普通消息，客户端按侧边气泡渲染。
// 结束人可知时归属结束人，否则归属主叫。
func (s *callServiceImpl) postSummary(ctx context.Context, call *model.Call, endedBy string, endedAt time.Time) {
	subject := endedBy
	if subject == "" {
		subject = call.CallerID
	}
	mediaLabel := "语音通话"
	if call.Media == model.CallVideo {
		mediaLabel = "视频通话"
	}
	body := "未接听"
	kind := "call_missed"
	if !call.StartedAt.IsZero() {
		kind = "call_ended"
		body = mediaLabel + "时长 " + formatCallDuration(endedAt.Sub(call.StartedAt))
	} else if endedBy == call.CallerID && endedBy != "" {
		kind = "call_cancelled"
		body = "已取消"
	}

	if s.isGroupCall(ctx, call) {
		ev := &model.SystemEvent{Kind: kind, SubjectID: subject, ActorID: endedBy}
		if err := s.chat.SendSystemMessage(ctx, call.ConversationID, ev, body); err != nil {
			log.Warn("通话摘要系统消息写入失败", "callID", call.ID, "err", err)
		}
		return
	}
	if _, err := s.chat.SendMessage(ctx, subject, &dto.SendMessageReq{
		ConversationID: call.ConversationID,
		Body:           body,
	}); err != nil {
		log.Warn("通话摘要消息写入失败", "callID", call.ID, "err", err)
	}
}

// notifyMissed 给从未接入的被叫扇出未接来电通知
func (s *callServiceImpl) notifyMissed(ctx context.Context, call *model.Call) {
	if s.notifier == nil {
		return
	}
	for _, p := range call.Participants {
		if p == call.CallerID || contains(call.ActiveParticipants, p) {
			continue
		}
		ev := &model.NotificationEvent{
			Kind:           model.NotifyMissedCall,
			RecipientID:    p,
			ConversationID: call.ConversationID,
			CallID:         call.ID,
			SenderID:       call.CallerID,
			Media:          string(call.Media),
			CreatedAt:      s.now(),
		}
		if err := s.notifier.Notify(ctx, ev); err != nil {
			log.Warn("未接来电通知投递失败", "userID", p, "callID", call.ID, "err", err)
		}
	}
}

// scheduleGraceDelete 宽限期后删除终态通话文档。
// 定时器不可取消，删除失败只记录，残留文档由定时清理任务兜底。
func (s *callServiceImpl) scheduleGraceDelete(callID string) {
	s.afterFn(callGraceDelete, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.callRepo.Delete(ctx, callID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			log.Warn("通话文档宽限删除失败", "callID", callID, "err", err)
		}
	})
}

// announce 通话信令事件推给所有被叫
func (s *callServiceImpl) announce(ctx context.Context, conv *model.Conversation, call *model.Call) {
	if s.publisher == nil {
		return
	}
	event := &dto.ChatEventDTO{
		Type:           "CALL",
		ConversationID: conv.ID,
		Payload:        toCallDTO(call),
	}
	for _, p := range call.Participants {
		if p == call.CallerID {
			continue
		}
		if err := s.publisher.PublishToUser(ctx, p, event); err != nil {
			log.Warn("通话信令推送失败", "userID", p, "callID", call.ID, "err", err)
		}
	}
}

func toCallDTO(call *model.Call) *dto.CallDTO {
	return &dto.CallDTO{
		ID:                 call.ID,
		ConversationID:     call.ConversationID,
		CallerID:           call.CallerID,
		Participants:       call.Participants,
		ActiveParticipants: call.ActiveParticipants,
		Media:              string(call.Media),
		Status:             string(call.Status),
		ChannelID:          call.ChannelID,
		CreatedAt:          call.CreatedAt,
		StartedAt:          call.StartedAt,
		EndedAt:            call.EndedAt,
		VideoOn:            call.VideoOn,
		AudioOn:            call.AudioOn,
	}
}

// channelID 由会话 id 派生媒体频道名，随机后缀区分同会话的前后两场通话
func channelID(convID string) string {
	return convID + "-" + uuid.NewString()[:8]
}

// formatCallDuration mm:ss，超一小时为 hh:mm:ss
func formatCallDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h, m, sec := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
