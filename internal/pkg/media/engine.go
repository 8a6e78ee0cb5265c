package media

// 实时音视频引擎抽象。线上由 RTC 厂商 SDK 适配实现，
// 核心层只依赖本接口与事件回调，测试用 FakeEngine。

// ConnState 媒体通道连接状态
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFailed
)

// 通道错误码分类。Transient 类错误触发重连调度，其余直接上抛。
const (
	CodeJoinRejected = 17  // 加入被拒
	CodeTokenExpired = 109 // token 过期
	NetworkErrMin    = 1001
	NetworkErrMax    = 1999
)

// IsTransientErr 判断错误码是否属于可自动重连的瞬态错误
func IsTransientErr(code int) bool {
	if code == CodeJoinRejected || code == CodeTokenExpired {
		return true
	}
	return code >= NetworkErrMin && code <= NetworkErrMax
}

// TrackState 远端音视频轨道状态
type TrackState int

const (
	TrackStopped TrackState = iota
	TrackStarting
	TrackDecoding
	TrackFrozen
)

// EventHandler 引擎事件回调。所有回调都可能被重复触发，处理方需幂等。
type EventHandler struct {
	OnJoinSuccess             func(localUID string)
	OnRemoteUserJoined        func(uid string)
	OnRemoteUserLeft          func(uid string, reason int)
	OnRemoteVideoStateChanged func(uid string, state TrackState)
	OnRemoteAudioStateChanged func(uid string, state TrackState)
	OnNetworkQuality          func(uid string, tx, rx int)
	OnConnectionStateChanged  func(state ConnState, reason int)
	OnError                   func(code int)
}

// Engine 媒体会话引擎
type Engine interface {
	SetEventHandler(h EventHandler)
	EnableVideo() error
	EnableAudio() error
	StartPreview() error
	StopPreview() error
	JoinChannel(channelID, uid string) error
	LeaveChannel() error
	MuteLocalAudio(mute bool) error
	EnableLocalVideo(enable bool) error
	SwitchCamera() error
}
