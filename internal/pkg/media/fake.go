package media

import (
	"errors"
	"sync"
)

// FakeEngine 测试替身：记录调用并允许测试侧主动触发事件
type FakeEngine struct {
	mu sync.Mutex

	handler EventHandler

	Joined      bool
	ChannelID   string
	LocalUID    string
	JoinCount   int
	LeaveCount  int
	AudioMuted  bool
	VideoOn     bool
	CameraFlips int

	JoinErr error
}

func NewFakeEngine() *FakeEngine { return &FakeEngine{VideoOn: true} }

func (s *FakeEngine) SetEventHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *FakeEngine) EnableVideo() error  { return nil }
func (s *FakeEngine) EnableAudio() error  { return nil }
func (s *FakeEngine) StartPreview() error { return nil }
func (s *FakeEngine) StopPreview() error  { return nil }

func (s *FakeEngine) JoinChannel(channelID, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JoinCount++
	if s.JoinErr != nil {
		return s.JoinErr
	}
	if s.Joined {
		return errors.New("already joined")
	}
	s.Joined = true
	s.ChannelID = channelID
	s.LocalUID = uid
	return nil
}

func (s *FakeEngine) LeaveChannel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LeaveCount++
	s.Joined = false
	s.ChannelID = ""
	return nil
}

func (s *FakeEngine) MuteLocalAudio(mute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioMuted = mute
	return nil
}

func (s *FakeEngine) EnableLocalVideo(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VideoOn = enable
	return nil
}

func (s *FakeEngine) SwitchCamera() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CameraFlips++
	return nil
}

// ---- 事件触发（测试侧调用）----

func (s *FakeEngine) snapshot() EventHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *FakeEngine) FireJoinSuccess(uid string) {
	if h := s.snapshot(); h.OnJoinSuccess != nil {
		h.OnJoinSuccess(uid)
	}
}

func (s *FakeEngine) FireRemoteJoined(uid string) {
	if h := s.snapshot(); h.OnRemoteUserJoined != nil {
		h.OnRemoteUserJoined(uid)
	}
}

func (s *FakeEngine) FireRemoteLeft(uid string, reason int) {
	if h := s.snapshot(); h.OnRemoteUserLeft != nil {
		h.OnRemoteUserLeft(uid, reason)
	}
}

func (s *FakeEngine) FireConnState(state ConnState, reason int) {
	if h := s.snapshot(); h.OnConnectionStateChanged != nil {
		h.OnConnectionStateChanged(state, reason)
	}
}

func (s *FakeEngine) FireError(code int) {
	if h := s.snapshot(); h.OnError != nil {
		h.OnError(code)
	}
}

func (s *FakeEngine) FireRemoteVideoState(uid string, state TrackState) {
	if h := s.snapshot(); h.OnRemoteVideoStateChanged != nil {
		h.OnRemoteVideoStateChanged(uid, state)
	}
}

func (s *FakeEngine) FireRemoteAudioState(uid string, state TrackState) {
	if h := s.snapshot(); h.OnRemoteAudioStateChanged != nil {
		h.OnRemoteAudioStateChanged(uid, state)
	}
}
