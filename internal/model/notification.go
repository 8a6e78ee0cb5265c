package model

import "time"

// NotificationKind 通知事件类型
type NotificationKind string

const (
	NotifyMissedCall NotificationKind = "missed_call"
	NotifyNewMessage NotificationKind = "new_message"
)

// NotificationEvent 投递到 Kafka 的通知事件，由推送 worker 消费后
// 转发到推送网关。内容文案的拼装不在本服务职责内。
type NotificationEvent struct {
	Kind           NotificationKind `json:"kind"`
	RecipientID    string           `json:"recipient_id"`
	ConversationID string           `json:"conversation_id"`
	CallID         string           `json:"call_id,omitempty"`
	SenderID       string           `json:"sender_id,omitempty"`
	Media          string           `json:"media,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
