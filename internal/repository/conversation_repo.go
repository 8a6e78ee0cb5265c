package repository

import (
	"context"

	"Crewline/internal/model"
	"Crewline/internal/pkg/docstore"
)

type ConversationRepo interface {
	Create(ctx context.Context, conv *model.Conversation) (string, error)
	Get(ctx context.Context, convID string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	Listen(userID string, fn func([]*model.Conversation)) (docstore.Unsubscribe, error)
	ApplySendEffects(ctx context.Context, conv *model.Conversation, msg *model.Message) error
	SetTyping(ctx context.Context, convID, userID string) error
}

type conversationRepoImpl struct {
	store docstore.Store
}

func NewConversationRepo(store docstore.Store) ConversationRepo {
	return &conversationRepoImpl{store: store}
}

func (s *conversationRepoImpl) Create(ctx context.Context, conv *model.Conversation) (string, error) {
	unread := docstore.Doc{}
	for _, p := range conv.Participants {
		unread[p] = int64(0)
	}
	return s.store.Create(ctx, ColConversations, docstore.Doc{
		"type":         string(conv.Type),
		"title":        conv.Title,
		"creator_id":   conv.CreatorID,
		"participants": toAnySlice(conv.Participants),
		"last":         docstore.Doc{},
		"unread":       unread,
	})
}

func (s *conversationRepoImpl) Get(ctx context.Context, convID string) (*model.Conversation, error) {
	snap, err := s.store.Get(ctx, docstore.JoinPath(ColConversations, convID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, docstore.ErrNotFound
	}
	return conversationFromSnapshot(snap), nil
}

// ListForUser 拉取用户参与的所有会话，按最新消息时间倒序
func (s *conversationRepoImpl) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	snaps, err := s.store.Find(ctx, ColConversations, docstore.Query{
		Filters: map[string]any{"participants": userID},
		OrderBy: "last.sent_at",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Conversation, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, conversationFromSnapshot(snap))
	}
	return out, nil
}

func (s *conversationRepoImpl) Listen(userID string, fn func([]*model.Conversation)) (docstore.Unsubscribe, error) {
	return s.store.Listen(ColConversations, docstore.Query{
		Filters: map[string]any{"participants": userID},
		OrderBy: "last.sent_at",
		Desc:    true,
	}, func(snaps []*docstore.Snapshot) {
		out := make([]*model.Conversation, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, conversationFromSnapshot(snap))
		}
		fn(out)
	})
}

// ApplySendEffects 消息落库成功后的会话元数据更新：
// 最新消息预览 + 未读扇出（发送者钉 0，其余成员原子 +1），单批次提交，
// 避免失败时出现部分成员计数更新的半状态。
func (s *conversationRepoImpl) ApplySendEffects(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	fields := docstore.Doc{
		"last.text":      previewText(msg),
		"last.sender_id": msg.SenderID,
		"last.sent_at":   msg.SentAt,
	}
	for _, p := range conv.Participants {
		if p == msg.SenderID {
			fields["unread."+p] = int64(0)
		} else {
			fields["unread."+p] = docstore.Increment(1)
		}
	}
	batch := s.store.Batch()
	batch.Update(docstore.JoinPath(ColConversations, conv.ID), fields)
	return batch.Commit(ctx)
}

// SetTyping 刷新输入中时间戳，读取方按 3 秒超时判定
func (s *conversationRepoImpl) SetTyping(ctx context.Context, convID, userID string) error {
	return s.store.Update(ctx, docstore.JoinPath(ColConversations, convID), docstore.Doc{
		"typing." + userID: docstore.ServerTimestamp(),
	})
}

func previewText(msg *model.Message) string {
	switch msg.Type {
	case model.MessageImage:
		return "[图片]"
	case model.MessageFile:
		return "[文件]"
	default:
		return msg.Body
	}
}

func conversationFromSnapshot(snap *docstore.Snapshot) *model.Conversation {
	d := snap.Data
	last := docSub(d, "last")
	return &model.Conversation{
		ID:           snap.ID,
		Type:         model.ConversationType(docString(d, "type")),
		Title:        docString(d, "title"),
		CreatorID:    docString(d, "creator_id"),
		Participants: docStrings(d, "participants"),
		Last: model.LastMessage{
			Text:     docString(last, "text"),
			SenderID: docString(last, "sender_id"),
			SentAt:   docTime(last, "sent_at"),
		},
		Unread: docInt64Map(d, "unread"),
		Typing: docTimeMap(d, "typing"),
	}
}
