package dto

import "time"

// CreateConversationReq 创建会话请求体
type CreateConversationReq struct {
	Type         string   `json:"type" binding:"required,oneof=direct group"`
	Title        string   `json:"title"`
	Participants []string `json:"participants" binding:"required,min=1"`
}

// SendMessageReq 发送消息请求体。Body 与 File 至少其一非空。
type SendMessageReq struct {
	ConversationID string    `json:"conversation_id" binding:"required"`
	Body           string    `json:"body"`
	Type           string    `json:"type"` // text / image / file，缺省 text
	ReplyTo        *ReplyDTO `json:"reply_to"`
	File           *FileDTO  `json:"file"`
}

// ReplyDTO 回复引用
type ReplyDTO struct {
	MessageID     string `json:"message_id"`
	PreviewText   string `json:"preview_text"`
	PreviewSender string `json:"preview_sender"`
}

// FileDTO 附件负载
type FileDTO struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// SystemEventDTO 系统消息负载
type SystemEventDTO struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subject_id"`
	ActorID   string `json:"actor_id,omitempty"`
}

// LinkPreviewDTO 链接预览
type LinkPreviewDTO struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string              `json:"id,omitempty"`
	LocalID        string              `json:"local_id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Body           string              `json:"body"`
	Type           string              `json:"type"`
	Status         string              `json:"status"` // pending / sent / failed
	SentAt         time.Time           `json:"sent_at"`
	System         *SystemEventDTO     `json:"system,omitempty"`
	ReplyTo        *ReplyDTO           `json:"reply_to,omitempty"`
	File           *FileDTO            `json:"file,omitempty"`
	Preview        *LinkPreviewDTO     `json:"preview,omitempty"`
	ReadBy         []string            `json:"read_by"`
	Reactions      map[string][]string `json:"reactions"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title,omitempty"`
	Participants []string  `json:"participants"`
	LastText     string    `json:"last_text"`
	LastSenderID string    `json:"last_sender_id"`
	LastSentAt   time.Time `json:"last_sent_at"`
	UnreadCount  int64     `json:"unread_count"`
	TypingText   string    `json:"typing_text,omitempty"`
}

// ReactionReq 表情回应请求
type ReactionReq struct {
	MessageID string `json:"message_id" binding:"required"`
	Emoji     string `json:"emoji" binding:"required"`
}

// MarkAsReadReq 标记已读请求
type MarkAsReadReq struct {
	ConversationID string   `json:"conversation_id" binding:"required"`
	MessageIDs     []string `json:"message_ids"` // 缺省为全量候选
}

// TypingReq 输入中信号
type TypingReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// ChatEventDTO 推送到 WebSocket 的统一事件载体
type ChatEventDTO struct {
	Type           string `json:"type"` // MESSAGE / READ_RECEIPT / TYPING / CALL
	ConversationID string `json:"conversation_id,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}
