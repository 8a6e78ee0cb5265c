package model

import "time"

// MessageStatus 消息生命周期状态。
// 状态只允许 PENDING->SENT 或 PENDING->FAILED->(重试)->PENDING；
// SENT 之后消息本体不可变，仅 read_by 与 reactions 可追加。
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// MessageType 消息类型
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
)

// SystemEvent 系统消息负载（入群、退群、群通话等事件）
type SystemEvent struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subject_id"`
	ActorID   string `json:"actor_id,omitempty"`
}

// ReplyRef 回复引用，缓存被回复消息的预览以免二次查询
type ReplyRef struct {
	MessageID     string `json:"message_id"`
	PreviewText   string `json:"preview_text"`
	PreviewSender string `json:"preview_sender"`
}

// FilePayload 附件负载
type FilePayload struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// LinkPreview 文本消息中 URL 的预览信息
type LinkPreview struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message 会话消息文档
type Message struct {
	ID             string              `json:"id"`       // 存储端分配
	LocalID        string              `json:"local_id"` // 发送端本地 id，入库前的乐观渲染标识
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Body           string              `json:"body"` // 可为空（纯附件消息）
	Type           MessageType         `json:"type"`
	Status         MessageStatus       `json:"status"`
	SentAt         time.Time           `json:"sent_at"`
	System         *SystemEvent        `json:"system,omitempty"`
	ReplyTo        *ReplyRef           `json:"reply_to,omitempty"`
	File           *FilePayload        `json:"file,omitempty"`
	Preview        *LinkPreview        `json:"preview,omitempty"`
	ReadBy         []string            `json:"read_by"`   // 已读用户 id 集合，元素唯一
	Reactions      map[string][]string `json:"reactions"` // emoji -> 用户 id 集合
}

// HasRead 判断用户是否已读
func (s *Message) HasRead(userID string) bool {
	for _, id := range s.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
