package model

import "time"

// ConversationType 会话类型
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// LastMessage 会话列表展示用的冗余最新消息预览
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Conversation 会话文档。
// Unread 中正在查看会话的读者计数恒为 0，其余成员每条新消息 +1；
// Typing 为瞬态字段，读取方按 3 秒超时判定失效。
type Conversation struct {
	ID           string               `json:"id"`
	Type         ConversationType     `json:"type"`
	Title        string               `json:"title,omitempty"` // 仅群聊
	CreatorID    string               `json:"creator_id"`
	Participants []string             `json:"participants"`
	Last         LastMessage          `json:"last"`
	Unread       map[string]int64     `json:"unread"`
	Typing       map[string]time.Time `json:"typing,omitempty"`
}

// HasParticipant 判断用户是否为会话成员
func (s *Conversation) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}
