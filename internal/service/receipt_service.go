package service

import (
	"context"
	log "log/slog"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
	"Crewline/internal/repository"
)

// ReadStatus 已读状态展示值
type ReadStatus string

const (
	ReadStatusUnread  ReadStatus = "unread"
	ReadStatusPartial ReadStatus = "partial"
	ReadStatusRead    ReadStatus = "read"
)

// ReceiptService 已读回执：批量标记与展示状态归集
type ReceiptService interface {
	MarkAsRead(ctx context.Context, readerID string, req *dto.MarkAsReadReq) error
	DisplayStatus(conv *model.Conversation, msg *model.Message, viewerID string) ReadStatus
}

type receiptServiceImpl struct {
	convRepo  repository.ConversationRepo
	msgRepo   repository.MessageRepo
	publisher EventPublisher
}

func NewReceiptService(convRepo repository.ConversationRepo, msgRepo repository.MessageRepo,
	publisher EventPublisher) ReceiptService {
	return &receiptServiceImpl{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		publisher: publisher,
	}
}

// MarkAsRead 把会话内未读消息标记为已读。
// 自己发的、已含自己回执的消息先过滤掉；MessageIDs 缺省时取全量历史候选。
// 全部写入走单个原子批次，含读者未读数钉 0。
func (s *receiptServiceImpl) MarkAsRead(ctx context.Context, readerID string, req *dto.MarkAsReadReq) error {
	if readerID == "" || req == nil || req.ConversationID == "" {
		return ErrParamInvalid
	}
	conv, err := s.convRepo.Get(ctx, req.ConversationID)
	if err != nil {
		return convErr(err)
	}
	if !conv.HasParticipant(readerID) {
		return ErrNotMember
	}

	targets, err := s.collectTargets(ctx, conv.ID, readerID, req.MessageIDs)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		// 没有待标记消息也要把未读数压回 0，会话入口的角标以计数器为准
		return s.msgRepo.MarkRead(ctx, conv.ID, readerID, nil)
	}

	if err = s.msgRepo.MarkRead(ctx, conv.ID, readerID, targets); err != nil {
		return err
	}

	s.broadcast(ctx, conv, readerID, targets)
	return nil
}

// DisplayStatus 消息已读展示规则。
// 单聊只看对端一人；群聊对端全员已读为 read，部分为 partial。
// 只有自己发出的消息才有展示意义，他人消息一律 read。
func (s *receiptServiceImpl) DisplayStatus(conv *model.Conversation, msg *model.Message, viewerID string) ReadStatus {
	if msg.SenderID != viewerID {
		return ReadStatusRead
	}
	others := 0
	for _, p := range conv.Participants {
		if p != msg.SenderID {
			others++
		}
	}
	if others == 0 {
		return ReadStatusRead
	}
	readers := 0
	for _, uid := range msg.ReadBy {
		if uid != msg.SenderID {
			readers++
		}
	}
	switch {
	case readers == 0:
		return ReadStatusUnread
	case readers >= others:
		return ReadStatusRead
	case conv.Type == model.ConversationGroup:
		return ReadStatusPartial
	default:
		return ReadStatusUnread
	}
}

// collectTargets 过滤出真正需要写回执的消息 id
func (s *receiptServiceImpl) collectTargets(ctx context.Context, convID, readerID string, ids []string) ([]string, error) {
	msgs, err := s.msgRepo.History(ctx, convID, 0)
	if err != nil {
		return nil, err
	}
	requested := map[string]bool{}
	for _, id := range ids {
		requested[id] = true
	}
	var targets []string
	for _, m := range msgs {
		if len(ids) > 0 && !requested[m.ID] {
			continue
		}
		if m.SenderID == readerID || m.HasRead(readerID) {
			continue
		}
		targets = append(targets, m.ID)
	}
	return targets, nil
}

func (s *receiptServiceImpl) broadcast(ctx context.Context, conv *model.Conversation, readerID string, msgIDs []string) {
	if s.publisher == nil {
		return
	}
	event := &dto.ChatEventDTO{
		Type:           "READ_RECEIPT",
		ConversationID: conv.ID,
		Payload: map[string]any{
			"reader_id":   readerID,
			"message_ids": msgIDs,
		},
	}
	for _, p := range conv.Participants {
		if p == readerID {
			continue
		}
		if err := s.publisher.PublishToUser(ctx, p, event); err != nil {
			log.Warn("已读回执推送失败", "userID", p, "err", err)
		}
	}
}
