package service

import (
	log "log/slog"
	"sync"
	"time"

	"Crewline/internal/model"
	"Crewline/internal/pkg/media"
)

const (
	reconnectInterval    = 3 * time.Second
	reconnectMaxAttempts = 5
)

// CallSession 单次通话的媒体侧状态：引擎句柄、本地开关位、重连调度。
// 进程内同一时刻至多一个会话，由 CallRegistry 托管。
type CallSession struct {
	CallID    string
	ChannelID string
	UserID    string
	Media     model.CallMedia

	engine media.Engine

	mu          sync.Mutex
	audioMuted  bool
	videoOn     bool
	frontCamera bool
	connState   media.ConnState
	reconnects  int
	stopRetry   func() bool
	closed      bool

	// 重连彻底失败时的逃生回调，由服务层挂接（结束通话 + 清理会话）
	onExhausted func()

	afterFn func(d time.Duration, f func()) func() bool
}

func newCallSession(callID, channelID, userID string, m model.CallMedia, engine media.Engine) *CallSession {
	return &CallSession{
		CallID:      callID,
		ChannelID:   channelID,
		UserID:      userID,
		Media:       m,
		engine:      engine,
		videoOn:     m == model.CallVideo,
		frontCamera: true,
		afterFn: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// join 初始化引擎并进入频道
func (s *CallSession) join() error {
	if err := s.engine.EnableAudio(); err != nil {
		return err
	}
	if s.Media == model.CallVideo {
		if err := s.engine.EnableVideo(); err != nil {
			return err
		}
		if err := s.engine.StartPreview(); err != nil {
			return err
		}
	}
	if err := s.engine.JoinChannel(s.ChannelID, s.UserID); err != nil {
		return ErrChannelJoin
	}
	return nil
}

// leave 退出频道并停掉本地轨道，可重复调用
func (s *CallSession) leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stopRetry
	s.stopRetry = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s.Media == model.CallVideo {
		_ = s.engine.StopPreview()
	}
	if err := s.engine.LeaveChannel(); err != nil {
		log.Warn("退出媒体频道失败", "callID", s.CallID, "err", err)
	}
}

// onConnState 连接状态回调：连上即清零重连计数，断开则启动重连调度
func (s *CallSession) onConnState(state media.ConnState, reason int) {
	s.mu.Lock()
	s.connState = state
	switch state {
	case media.ConnConnected:
		s.reconnects = 0
		if s.stopRetry != nil {
			s.stopRetry()
			s.stopRetry = nil
		}
		s.mu.Unlock()
	case media.ConnDisconnected, media.ConnFailed:
		s.mu.Unlock()
		s.scheduleReconnect()
	default:
		s.mu.Unlock()
	}
}

// onEngineErr 瞬态错误走重连，其余错误只记录，由远端状态收敛兜底
func (s *CallSession) onEngineErr(code int) {
	if media.IsTransientErr(code) {
		s.scheduleReconnect()
		return
	}
	log.Error("媒体引擎错误", "callID", s.CallID, "code", code)
}

// scheduleReconnect 固定间隔重连，尝试耗尽触发逃生回调
func (s *CallSession) scheduleReconnect() {
	s.mu.Lock()
	if s.closed || s.stopRetry != nil {
		s.mu.Unlock()
		return
	}
	if s.reconnects >= reconnectMaxAttempts {
		exhausted := s.onExhausted
		s.mu.Unlock()
		log.Error("媒体重连尝试耗尽", "callID", s.CallID)
		if exhausted != nil {
			exhausted()
		}
		return
	}
	s.reconnects++
	s.stopRetry = s.afterFn(reconnectInterval, s.retryJoin)
	s.mu.Unlock()
}

func (s *CallSession) retryJoin() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopRetry = nil
	attempt := s.reconnects
	s.mu.Unlock()

	log.Info("媒体频道重连", "callID", s.CallID, "attempt", attempt)
	if err := s.engine.JoinChannel(s.ChannelID, s.UserID); err != nil {
		s.scheduleReconnect()
	}
}

// setMute 本地静音开关，返回当前状态
func (s *CallSession) setMute(mute bool) (bool, error) {
	if err := s.engine.MuteLocalAudio(mute); err != nil {
		return s.audioMuted, err
	}
	s.mu.Lock()
	s.audioMuted = mute
	s.mu.Unlock()
	return mute, nil
}

func (s *CallSession) setVideo(on bool) (bool, error) {
	if err := s.engine.EnableLocalVideo(on); err != nil {
		return s.videoOn, err
	}
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
	return on, nil
}

func (s *CallSession) switchCamera() error {
	if err := s.engine.SwitchCamera(); err != nil {
		return err
	}
	s.mu.Lock()
	s.frontCamera = !s.frontCamera
	s.mu.Unlock()
	return nil
}

func (s *CallSession) controls() (audioMuted, videoOn, frontCamera bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted, s.videoOn, s.frontCamera
}

// CallRegistry 进程内通话会话登记处：同一时刻至多一个活动会话
type CallRegistry struct {
	mu     sync.Mutex
	active *CallSession
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{}
}

// Begin 登记新会话，已有活动会话时拒绝
func (r *CallRegistry) Begin(sess *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrCallOngoing
	}
	r.active = sess
	return nil
}

// Active 当前活动会话，无则 nil
func (r *CallRegistry) Active() *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// End 注销指定会话。callID 不匹配时是 no-op，吸收迟到的清理。
func (r *CallRegistry) End(callID string) *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.CallID != callID {
		return nil
	}
	sess := r.active
	r.active = nil
	return sess
}
