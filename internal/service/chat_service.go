package service

import (
	"context"
	log "log/slog"
	"regexp"
	"sync"
	"time"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
	"Crewline/internal/pkg/docstore"
	"Crewline/internal/repository"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

// PreviewFetcher 链接预览抓取端，失败时消息照常发送
type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (*model.LinkPreview, error)
}

// ChatService 消息投递引擎：发送管线、指数退避重试、会话元数据维护、
// 表情回应与输入中信号。
type ChatService interface {
	CreateConversation(ctx context.Context, creatorID string, req *dto.CreateConversationReq) (string, error)
	GetConversationList(ctx context.Context, userID string) ([]*dto.ConversationDTO, error)
	GetChatHistory(ctx context.Context, userID, convID string, limit int) ([]*dto.MessageDTO, error)
	SendMessage(ctx context.Context, senderID string, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	RetryMessage(ctx context.Context, senderID, localID string) (*dto.MessageDTO, error)
	SendSystemMessage(ctx context.Context, convID string, ev *model.SystemEvent, body string) error
	AddReaction(ctx context.Context, userID string, req *dto.ReactionReq) error
	RemoveReaction(ctx context.Context, userID string, req *dto.ReactionReq) error
	SetTyping(ctx context.Context, userID, convID string) error
	Close()
}

type chatServiceImpl struct {
	convRepo  repository.ConversationRepo
	msgRepo   repository.MessageRepo
	empRepo   repository.EmployeeRepo
	publisher EventPublisher
	preview   PreviewFetcher

	queue *retryQueue

	// 发送失败等待重试/手动重试的消息，key 为 LocalID
	mu      sync.Mutex
	pending map[string]*model.Message

	now func() time.Time
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// 输入中信号的判定窗口：时间戳超过 3 秒视为已停止输入
const typingWindow = 3 * time.Second

func NewChatService(convRepo repository.ConversationRepo, msgRepo repository.MessageRepo,
	empRepo repository.EmployeeRepo, publisher EventPublisher, preview PreviewFetcher) ChatService {
	s := &chatServiceImpl{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		empRepo:   empRepo,
		publisher: publisher,
		preview:   preview,
		pending:   make(map[string]*model.Message),
		now:       time.Now,
	}
	s.queue = newRetryQueue(s.retryAttempt, s.retryAbandoned)
	return s
}

// CreateConversation 创建会话，创建者自动并入成员
func (s *chatServiceImpl) CreateConversation(ctx context.Context, creatorID string, req *dto.CreateConversationReq) (string, error) {
	if creatorID == "" || len(req.Participants) == 0 {
		return "", ErrParamInvalid
	}
	participants := req.Participants
	found := false
	for _, p := range participants {
		if p == creatorID {
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, creatorID)
	}
	if model.ConversationType(req.Type) == model.ConversationDirect && len(participants) != 2 {
		return "", ErrParamInvalid
	}
	return s.convRepo.Create(ctx, &model.Conversation{
		Type:         model.ConversationType(req.Type),
		Title:        req.Title,
		CreatorID:    creatorID,
		Participants: participants,
	})
}

// GetConversationList 会话列表：未读数取自读者自己的计数器，
// 输入中文案按 3 秒窗口现算
func (s *chatServiceImpl) GetConversationList(ctx context.Context, userID string) ([]*dto.ConversationDTO, error) {
	if userID == "" {
		return nil, ErrParamInvalid
	}
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.ConversationDTO, 0, len(convs))
	for _, conv := range convs {
		res = append(res, s.toConversationDTO(ctx, conv, userID))
	}
	return res, nil
}

func (s *chatServiceImpl) GetChatHistory(ctx context.Context, userID, convID string, limit int) ([]*dto.MessageDTO, error) {
	if userID == "" || convID == "" {
		return nil, ErrParamInvalid
	}
	conv, err := s.convRepo.Get(ctx, convID)
	if err != nil {
		return nil, convErr(err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotMember
	}
	msgs, err := s.msgRepo.History(ctx, convID, limit)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, toMessageDTO(m))
	}
	return res, nil
}

// SendMessage 发送消息。
// 先置 PENDING 供调用方乐观渲染，落库成功后置 SENT 并在单个原子批次里
// 更新会话预览与未读扇出；失败置 FAILED 并进入退避重试队列，
// 失败结果如实返回，绝不静默丢弃。
func (s *chatServiceImpl) SendMessage(ctx context.Context, senderID string, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if req == nil || senderID == "" || req.ConversationID == "" {
		return nil, ErrParamInvalid
	}
	if req.Body == "" && req.File == nil {
		return nil, ErrParamInvalid
	}

	conv, err := s.convRepo.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, convErr(err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotMember
	}

	msg := s.buildMessage(senderID, req)
	s.enrichPreview(ctx, msg)

	if err = s.deliver(context.WithoutCancel(ctx), msg); err != nil {
		msg.Status = model.MessageFailed
		s.mu.Lock()
		s.pending[msg.LocalID] = msg
		s.mu.Unlock()
		s.queue.Enqueue(msg)
		log.Warn("消息落库失败，进入重试队列", "localID", msg.LocalID, "err", err)
		return toMessageDTO(msg), ErrMessageDeliver
	}
	return toMessageDTO(msg), nil
}

// RetryMessage 手动重试：无条件重置尝试计数并立即重发，绕过退避冷却
func (s *chatServiceImpl) RetryMessage(ctx context.Context, senderID, localID string) (*dto.MessageDTO, error) {
	if senderID == "" || localID == "" {
		return nil, ErrParamInvalid
	}
	s.mu.Lock()
	msg, ok := s.pending[localID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrMessageNotFailed
	}
	if msg.SenderID != senderID {
		return nil, UnauthorizedError
	}

	// 取消排队中的自动重试，计数随新任务归零
	s.queue.Cancel(localID)
	msg.Status = model.MessagePending

	if err := s.deliver(context.WithoutCancel(ctx), msg); err != nil {
		msg.Status = model.MessageFailed
		s.queue.Enqueue(msg)
		return toMessageDTO(msg), ErrMessageDeliver
	}
	return toMessageDTO(msg), nil
}

// SendSystemMessage 写入系统消息（群通话结束、成员变更等事件）
func (s *chatServiceImpl) SendSystemMessage(ctx context.Context, convID string, ev *model.SystemEvent, body string) error {
	if convID == "" || ev == nil {
		return ErrParamInvalid
	}
	msg := &model.Message{
		LocalID:        uuid.NewString(),
		ConversationID: convID,
		SenderID:       ev.SubjectID,
		Body:           body,
		Type:           model.MessageSystem,
		Status:         model.MessagePending,
		SentAt:         s.now(),
		System:         ev,
		ReadBy:         []string{},
		Reactions:      map[string][]string{},
	}
	return s.deliver(ctx, msg)
}

// AddReaction 幂等表情回应
func (s *chatServiceImpl) AddReaction(ctx context.Context, userID string, req *dto.ReactionReq) error {
	if userID == "" || req == nil || req.MessageID == "" || req.Emoji == "" {
		return ErrParamInvalid
	}
	return msgErr(s.msgRepo.AddReaction(ctx, req.MessageID, req.Emoji, userID))
}

func (s *chatServiceImpl) RemoveReaction(ctx context.Context, userID string, req *dto.ReactionReq) error {
	if userID == "" || req == nil || req.MessageID == "" || req.Emoji == "" {
		return ErrParamInvalid
	}
	return msgErr(s.msgRepo.RemoveReaction(ctx, req.MessageID, req.Emoji, userID))
}

// SetTyping 刷新输入中时间戳并即时推送给其他成员
func (s *chatServiceImpl) SetTyping(ctx context.Context, userID, convID string) error {
	if userID == "" || convID == "" {
		return ErrParamInvalid
	}
	conv, err := s.convRepo.Get(ctx, convID)
	if err != nil {
		return convErr(err)
	}
	if !conv.HasParticipant(userID) {
		return ErrNotMember
	}
	if err = s.convRepo.SetTyping(ctx, convID, userID); err != nil {
		return err
	}
	s.fanOut(ctx, conv, userID, &dto.ChatEventDTO{
		Type:           "TYPING",
		ConversationID: convID,
		Payload:        userID,
	})
	return nil
}

func (s *chatServiceImpl) Close() {
	s.queue.Close()
}

// ---- 内部 ----

func (s *chatServiceImpl) buildMessage(senderID string, req *dto.SendMessageReq) *model.Message {
	msgType := model.MessageType(req.Type)
	switch msgType {
	case model.MessageImage, model.MessageFile:
	default:
		msgType = model.MessageText
	}
	msg := &model.Message{
		LocalID:        uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Body:           req.Body,
		Type:           msgType,
		Status:         model.MessagePending, // 任何 I/O 之前先置 PENDING
		SentAt:         s.now(),
		ReadBy:         []string{},
		Reactions:      map[string][]string{},
	}
	if req.ReplyTo != nil {
		msg.ReplyTo = &model.ReplyRef{}
		_ = copier.Copy(msg.ReplyTo, req.ReplyTo)
	}
	if req.File != nil {
		msg.File = &model.FilePayload{}
		_ = copier.Copy(msg.File, req.File)
	}
	return msg
}

// enrichPreview 文本消息携带 URL 时补充链接预览，失败不阻塞发送
func (s *chatServiceImpl) enrichPreview(ctx context.Context, msg *model.Message) {
	if s.preview == nil || msg.Type != model.MessageText {
		return
	}
	url := urlPattern.FindString(msg.Body)
	if url == "" {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	preview, err := s.preview.Fetch(fetchCtx, url)
	if err != nil {
		log.Debug("链接预览抓取失败", "url", url, "err", err)
		return
	}
	msg.Preview = preview
}

// deliver 落库 + 会话元数据扇出 + 实时推送。重试路径复用同一条管线。
func (s *chatServiceImpl) deliver(ctx context.Context, msg *model.Message) error {
	conv, err := s.convRepo.Get(ctx, msg.ConversationID)
	if err != nil {
		return errors.Wrap(err, "load conversation")
	}

	msg.Status = model.MessageSent
	id, err := s.msgRepo.Save(ctx, msg)
	if err != nil {
		msg.Status = model.MessagePending
		return errors.Wrap(err, "save message")
	}
	msg.ID = id

	s.mu.Lock()
	delete(s.pending, msg.LocalID)
	s.mu.Unlock()

	// 元数据与未读扇出：单原子批次。失败只记录，消息本体已成功投递。
	if err = s.convRepo.ApplySendEffects(ctx, conv, msg); err != nil {
		log.Error("会话元数据扇出失败", "convID", conv.ID, "msgID", msg.ID, "err", err)
	}

	s.fanOut(ctx, conv, "", &dto.ChatEventDTO{
		Type:           "MESSAGE",
		ConversationID: conv.ID,
		Payload:        toMessageDTO(msg),
	})
	return nil
}

// retryAttempt 重试队列回调：到点后重新走投递管线
func (s *chatServiceImpl) retryAttempt(msg *model.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.deliver(ctx, msg)
	if err != nil {
		msg.Status = model.MessageFailed
	}
	return err
}

// retryAbandoned 尝试耗尽：消息永久停留在 FAILED，等待手动重试
func (s *chatServiceImpl) retryAbandoned(msg *model.Message) {
	msg.Status = model.MessageFailed
}

func (s *chatServiceImpl) fanOut(ctx context.Context, conv *model.Conversation, skipUserID string, event *dto.ChatEventDTO) {
	if s.publisher == nil {
		return
	}
	for _, p := range conv.Participants {
		if p == skipUserID {
			continue
		}
		if err := s.publisher.PublishToUser(ctx, p, event); err != nil {
			log.Warn("实时事件推送失败", "userID", p, "type", event.Type, "err", err)
		}
	}
}

func (s *chatServiceImpl) toConversationDTO(ctx context.Context, conv *model.Conversation, viewerID string) *dto.ConversationDTO {
	d := &dto.ConversationDTO{
		ID:           conv.ID,
		Type:         string(conv.Type),
		Title:        conv.Title,
		Participants: conv.Participants,
		LastText:     conv.Last.Text,
		LastSenderID: conv.Last.SenderID,
		LastSentAt:   conv.Last.SentAt,
		UnreadCount:  conv.Unread[viewerID],
	}
	d.TypingText = s.typingText(ctx, conv, viewerID)
	return d
}

// typingText 计算输入中文案，时间戳超窗的条目视为已停止
func (s *chatServiceImpl) typingText(ctx context.Context, conv *model.Conversation, viewerID string) string {
	var typing []string
	deadline := s.now().Add(-typingWindow)
	for uid, ts := range conv.Typing {
		if uid != viewerID && ts.After(deadline) {
			typing = append(typing, uid)
		}
	}
	if len(typing) == 0 {
		return ""
	}
	names, err := s.empRepo.GetDisplayNames(ctx, typing)
	if err != nil || len(names) == 0 {
		return "正在输入..."
	}
	for _, uid := range typing {
		if name, ok := names[uid]; ok {
			return name + " 正在输入..."
		}
	}
	return "正在输入..."
}

func toMessageDTO(msg *model.Message) *dto.MessageDTO {
	d := &dto.MessageDTO{
		ID:             msg.ID,
		LocalID:        msg.LocalID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Type:           string(msg.Type),
		Status:         string(msg.Status),
		SentAt:         msg.SentAt,
		ReadBy:         msg.ReadBy,
		Reactions:      msg.Reactions,
	}
	if msg.System != nil {
		d.System = &dto.SystemEventDTO{}
		_ = copier.Copy(d.System, msg.System)
	}
	if msg.ReplyTo != nil {
		d.ReplyTo = &dto.ReplyDTO{}
		_ = copier.Copy(d.ReplyTo, msg.ReplyTo)
	}
	if msg.File != nil {
		d.File = &dto.FileDTO{}
		_ = copier.Copy(d.File, msg.File)
	}
	if msg.Preview != nil {
		d.Preview = &dto.LinkPreviewDTO{}
		_ = copier.Copy(d.Preview, msg.Preview)
	}
	return d
}

func convErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrConversationMissing
	}
	return err
}

func msgErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrMessageMissing
	}
	return err
}
