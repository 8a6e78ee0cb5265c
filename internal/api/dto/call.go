package dto

import "time"

// CreateCallReq 发起通话请求
type CreateCallReq struct {
	ConversationID string   `json:"conversation_id" binding:"required"`
	Media          string   `json:"media" binding:"required,oneof=audio video"`
	Participants   []string `json:"participants" binding:"required,min=1"`
}

// CallActionReq 通话操作（应答 / 拒接 / 离席 / 挂断）
type CallActionReq struct {
	CallID string `json:"call_id" binding:"required"`
}

// CallDTO 通话文档响应
type CallDTO struct {
	ID                 string          `json:"id"`
	ConversationID     string          `json:"conversation_id"`
	CallerID           string          `json:"caller_id"`
	Participants       []string        `json:"participants"`
	ActiveParticipants []string        `json:"active_participants"`
	Media              string          `json:"media"`
	Status             string          `json:"status"`
	ChannelID          string          `json:"channel_id"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          time.Time       `json:"started_at,omitempty"`
	EndedAt            time.Time       `json:"ended_at,omitempty"`
	VideoOn            map[string]bool `json:"video_on"`
	AudioOn            map[string]bool `json:"audio_on"`
}

// CallBannerDTO 通话横幅视图模型：会话页顶部的通话状态条
type CallBannerDTO struct {
	Visible    bool   `json:"visible"`
	CallID     string `json:"call_id,omitempty"`
	Media      string `json:"media,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	CanJoin    bool   `json:"can_join"`
	CanEnd     bool   `json:"can_end"`
	Duration   string `json:"duration,omitempty"` // ACTIVE 状态下每秒滴答
}

// CallControlsDTO 本地媒体开关状态
type CallControlsDTO struct {
	AudioMuted  bool `json:"audio_muted"`
	VideoOn     bool `json:"video_on"`
	SpeakerOn   bool `json:"speaker_on"`
	FrontCamera bool `json:"front_camera"`
}

// ParticipantNameDTO 远端参与者展示名解析结果
type ParticipantNameDTO struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}
