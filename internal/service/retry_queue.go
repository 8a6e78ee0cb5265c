package service

import (
	log "log/slog"
	"sync"
	"time"

	"Crewline/internal/model"
)

// 消息重试策略：1s 起步逐次翻倍，30s 封顶，5 次后放弃，
// 消息保持 FAILED 等待手动重试。
const (
	retryBaseDelay   = time.Second
	retryMaxDelay    = 30 * time.Second
	retryMaxAttempts = 5
)

// backoffDelay 第 n 次（n 从 1 开始）计划重试的延迟
func backoffDelay(n int) time.Duration {
	d := retryBaseDelay << (n - 1)
	if d > retryMaxDelay || d <= 0 {
		return retryMaxDelay
	}
	return d
}

// retryTask 仅存在于内存的重试任务，成功或尝试耗尽后销毁
type retryTask struct {
	msg      *model.Message
	attempts int
	stop     func() bool
}

// retryQueue 每条失败消息一个任务的延迟重试队列。
// 取消通过从队列移除实现：已触发但已取消的尝试是 no-op。
type retryQueue struct {
	mu      sync.Mutex
	tasks   map[string]*retryTask
	attempt func(msg *model.Message) error
	abandon func(msg *model.Message)

	// 测试侧可替换的定时器工厂，返回 stop 句柄
	afterFn func(d time.Duration, f func()) func() bool
}

func newRetryQueue(attempt func(msg *model.Message) error, abandon func(msg *model.Message)) *retryQueue {
	return &retryQueue{
		tasks:   make(map[string]*retryTask),
		attempt: attempt,
		abandon: abandon,
		afterFn: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Enqueue 登记失败消息，调度第一次重试
func (s *retryQueue) Enqueue(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[msg.LocalID]; ok {
		return
	}
	task := &retryTask{msg: msg}
	s.tasks[msg.LocalID] = task
	s.scheduleLocked(task)
}

// Cancel 移除任务，幂等。已触发的定时器在执行时发现任务缺失即放弃。
func (s *retryQueue) Cancel(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[localID]; ok {
		if task.stop != nil {
			task.stop()
		}
		delete(s.tasks, localID)
	}
}

// Pending 任务是否在队列中
func (s *retryQueue) Pending(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[localID]
	return ok
}

// Close 清空全部任务
func (s *retryQueue) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if task.stop != nil {
			task.stop()
		}
		delete(s.tasks, id)
	}
}

func (s *retryQueue) scheduleLocked(task *retryTask) {
	n := task.attempts + 1
	task.stop = s.afterFn(backoffDelay(n), func() { s.fire(task.msg.LocalID) })
}

func (s *retryQueue) fire(localID string) {
	s.mu.Lock()
	task, ok := s.tasks[localID]
	if !ok {
		// 已取消，触发即 no-op
		s.mu.Unlock()
		return
	}
	task.attempts++
	s.mu.Unlock()

	err := s.attempt(task.msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok = s.tasks[localID]; !ok {
		return
	}
	if err == nil {
		delete(s.tasks, localID)
		return
	}
	if task.attempts >= retryMaxAttempts {
		delete(s.tasks, localID)
		log.Warn("消息重试次数耗尽", "localID", localID, "attempts", task.attempts)
		if s.abandon != nil {
			s.abandon(task.msg)
		}
		return
	}
	s.scheduleLocked(task)
}
