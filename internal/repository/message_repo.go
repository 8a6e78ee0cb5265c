package repository

import (
	"context"

	"Crewline/internal/model"
	"Crewline/internal/pkg/docstore"
)

type MessageRepo interface {
	Save(ctx context.Context, msg *model.Message) (string, error)
	Get(ctx context.Context, msgID string) (*model.Message, error)
	History(ctx context.Context, convID string, limit int) ([]*model.Message, error)
	Listen(convID string, fn func([]*model.Message)) (docstore.Unsubscribe, error)
	AddReaction(ctx context.Context, msgID, emoji, userID string) error
	RemoveReaction(ctx context.Context, msgID, emoji, userID string) error
	MarkRead(ctx context.Context, convID, readerID string, msgIDs []string) error
}

type messageRepoImpl struct {
	store docstore.Store
}

func NewMessageRepo(store docstore.Store) MessageRepo {
	return &messageRepoImpl{store: store}
}

// Save 持久化消息，返回存储端分配的 id
func (s *messageRepoImpl) Save(ctx context.Context, msg *model.Message) (string, error) {
	return s.store.Create(ctx, ColMessages, messageToDoc(msg))
}

func (s *messageRepoImpl) Get(ctx context.Context, msgID string) (*model.Message, error) {
	snap, err := s.store.Get(ctx, docstore.JoinPath(ColMessages, msgID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, docstore.ErrNotFound
	}
	return messageFromSnapshot(snap), nil
}

// History 按发送时间升序拉取会话消息
func (s *messageRepoImpl) History(ctx context.Context, convID string, limit int) ([]*model.Message, error) {
	snaps, err := s.store.Find(ctx, ColMessages, docstore.Query{
		Filters: map[string]any{"conversation_id": convID},
		OrderBy: "sent_at",
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return messagesFromSnapshots(snaps), nil
}

// Listen 订阅会话消息流。底层为 at-least-once 投递，消费方需幂等。
func (s *messageRepoImpl) Listen(convID string, fn func([]*model.Message)) (docstore.Unsubscribe, error) {
	return s.store.Listen(ColMessages, docstore.Query{
		Filters: map[string]any{"conversation_id": convID},
		OrderBy: "sent_at",
	}, func(snaps []*docstore.Snapshot) {
		fn(messagesFromSnapshots(snaps))
	})
}

// AddReaction 幂等集合加：同一用户重复添加为 no-op
func (s *messageRepoImpl) AddReaction(ctx context.Context, msgID, emoji, userID string) error {
	return s.store.Update(ctx, docstore.JoinPath(ColMessages, msgID), docstore.Doc{
		"reactions." + emoji: docstore.Union(userID),
	})
}

// RemoveReaction 幂等集合减：移除不存在的用户为 no-op
func (s *messageRepoImpl) RemoveReaction(ctx context.Context, msgID, emoji, userID string) error {
	return s.store.Update(ctx, docstore.JoinPath(ColMessages, msgID), docstore.Doc{
		"reactions." + emoji: docstore.Remove(userID),
	})
}

// MarkRead 单次原子批量：每条消息 read_by 并入 readerID 并刷新兼容字段，
// 同时把读者在会话上的未读计数钉为 0。read_by 只做集合并集，
// 并发读者各自并入自己的 id，不会互相覆盖。
func (s *messageRepoImpl) MarkRead(ctx context.Context, convID, readerID string, msgIDs []string) error {
	batch := s.store.Batch()
	for _, id := range msgIDs {
		batch.Update(docstore.JoinPath(ColMessages, id), docstore.Doc{
			"read_by": docstore.Union(readerID),
			// 旧客户端兼容字段，last-writer-wins 可接受
			"is_read": true,
			"read_at": docstore.ServerTimestamp(),
		})
	}
	batch.Update(docstore.JoinPath(ColConversations, convID), docstore.Doc{
		"unread." + readerID: int64(0),
	})
	return batch.Commit(ctx)
}

// ---- 映射 ----

func messageToDoc(msg *model.Message) docstore.Doc {
	doc := docstore.Doc{
		"local_id":        msg.LocalID,
		"conversation_id": msg.ConversationID,
		"sender_id":       msg.SenderID,
		"body":            msg.Body,
		"type":            string(msg.Type),
		"status":          string(msg.Status),
		"sent_at":         msg.SentAt,
		"read_by":         toAnySlice(msg.ReadBy),
	}
	reactions := docstore.Doc{}
	for emoji, users := range msg.Reactions {
		reactions[emoji] = toAnySlice(users)
	}
	doc["reactions"] = reactions
	if msg.System != nil {
		doc["system"] = docstore.Doc{
			"kind":       msg.System.Kind,
			"subject_id": msg.System.SubjectID,
			"actor_id":   msg.System.ActorID,
		}
	}
	if msg.ReplyTo != nil {
		doc["reply_to"] = docstore.Doc{
			"message_id":     msg.ReplyTo.MessageID,
			"preview_text":   msg.ReplyTo.PreviewText,
			"preview_sender": msg.ReplyTo.PreviewSender,
		}
	}
	if msg.File != nil {
		doc["file"] = docstore.Doc{
			"url":       msg.File.URL,
			"name":      msg.File.Name,
			"mime_type": msg.File.MimeType,
			"size":      msg.File.Size,
		}
	}
	if msg.Preview != nil {
		doc["preview"] = docstore.Doc{
			"url":       msg.Preview.URL,
			"title":     msg.Preview.Title,
			"image_url": msg.Preview.ImageURL,
		}
	}
	return doc
}

func messageFromSnapshot(snap *docstore.Snapshot) *model.Message {
	d := snap.Data
	msg := &model.Message{
		ID:             snap.ID,
		LocalID:        docString(d, "local_id"),
		ConversationID: docString(d, "conversation_id"),
		SenderID:       docString(d, "sender_id"),
		Body:           docString(d, "body"),
		Type:           model.MessageType(docString(d, "type")),
		Status:         model.MessageStatus(docString(d, "status")),
		SentAt:         docTime(d, "sent_at"),
		ReadBy:         docStrings(d, "read_by"),
		Reactions:      docStringsMap(d, "reactions"),
	}
	if sys := docSub(d, "system"); sys != nil {
		msg.System = &model.SystemEvent{
			Kind:      docString(sys, "kind"),
			SubjectID: docString(sys, "subject_id"),
			ActorID:   docString(sys, "actor_id"),
		}
	}
	if rep := docSub(d, "reply_to"); rep != nil {
		msg.ReplyTo = &model.ReplyRef{
			MessageID:     docString(rep, "message_id"),
			PreviewText:   docString(rep, "preview_text"),
			PreviewSender: docString(rep, "preview_sender"),
		}
	}
	if f := docSub(d, "file"); f != nil {
		size, _ := f["size"].(int64)
		msg.File = &model.FilePayload{
			URL:      docString(f, "url"),
			Name:     docString(f, "name"),
			MimeType: docString(f, "mime_type"),
			Size:     size,
		}
	}
	if p := docSub(d, "preview"); p != nil {
		msg.Preview = &model.LinkPreview{
			URL:      docString(p, "url"),
			Title:    docString(p, "title"),
			ImageURL: docString(p, "image_url"),
		}
	}
	return msg
}

func messagesFromSnapshots(snaps []*docstore.Snapshot) []*model.Message {
	out := make([]*model.Message, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, messageFromSnapshot(snap))
	}
	return out
}
