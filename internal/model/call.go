package model

import "time"

// CallStatus 通话信令状态机：RINGING -> ACTIVE -> {ENDED | MISSED | CANCELLED}。
// 终态不可再迁出；终态文档在宽限期后由清理逻辑删除，删除失败不视为错误。
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallActive    CallStatus = "active"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
	CallCancelled CallStatus = "cancelled"
)

// Terminal 是否为终态
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed || s == CallCancelled
}

// CallMedia 通话媒体类型
type CallMedia string

const (
	CallAudio CallMedia = "audio"
	CallVideo CallMedia = "video"
)

// Call 通话信令文档，同一会话同一时刻至多一个非终态通话（应用层保证）。
// 各参与方状态机并发读写本文档，所有状态迁移必须是条件化/幂等写。
type Call struct {
	ID                 string          `json:"id"`
	ConversationID     string          `json:"conversation_id"`
	CallerID           string          `json:"caller_id"`
	Participants       []string        `json:"participants"`
	ActiveParticipants []string        `json:"active_participants"` // 群通话在线成员
	Media              CallMedia       `json:"media"`
	Status             CallStatus      `json:"status"`
	ChannelID          string          `json:"channel_id"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          time.Time       `json:"started_at,omitempty"`
	EndedAt            time.Time       `json:"ended_at,omitempty"`
	VideoOn            map[string]bool `json:"video_on"`
	AudioOn            map[string]bool `json:"audio_on"`
}

// IsGroup 是否群通话
func (s *Call) IsGroup() bool { return len(s.Participants) > 2 }
