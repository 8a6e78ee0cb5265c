package job

import (
	"context"
	log "log/slog"
	"time"

	"Crewline/internal/model"
	"Crewline/internal/pkg/consts"
	"Crewline/internal/pkg/docstore"
	"Crewline/internal/pkg/redis"
	"Crewline/internal/repository"
)

// 响铃文档超过该时长仍未接通视为发起端已失联
const staleRingingAge = 2 * time.Minute

// CallJanitorJob 兜底清理通话文档：
// 终态残留（宽限删除失败）直接删除，失联的 RINGING 先转 MISSED 再等下一轮删除。
type CallJanitorJob struct {
	callRepo repository.CallRepo
}

func NewCallJanitorJob(callRepo repository.CallRepo) *CallJanitorJob {
	return &CallJanitorJob{callRepo: callRepo}
}

func (s *CallJanitorJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 多实例部署只允许一个实例执行清理
	locked, err := redis.TryLock(ctx, consts.CallJanitorLock, "1", time.Minute, 1)
	if err != nil || !locked {
		return
	}
	defer redis.UnLock(ctx, consts.CallJanitorLock, "1")

	s.sweepTerminal(ctx)
	s.sweepStaleRinging(ctx)
	s.sweepAbandoned(ctx)
}

func (s *CallJanitorJob) sweepTerminal(ctx context.Context) {
	calls, err := s.callRepo.FindByStatus(ctx, model.CallEnded, model.CallMissed, model.CallCancelled)
	if err != nil {
		log.Error("janitor 扫描终态通话失败", "err", err)
		return
	}
	for _, call := range calls {
		if err = s.callRepo.Delete(ctx, call.ID); err != nil {
			log.Error("janitor 删除终态通话失败", "callID", call.ID, "err", err)
			continue
		}
		log.Info("janitor 清理终态通话", "callID", call.ID, "status", call.Status)
	}
}

func (s *CallJanitorJob) sweepStaleRinging(ctx context.Context) {
	calls, err := s.callRepo.FindByStatus(ctx, model.CallRinging)
	if err != nil {
		log.Error("janitor 扫描响铃通话失败", "err", err)
		return
	}
	deadline := time.Now().Add(-staleRingingAge)
	for _, call := range calls {
		if call.CreatedAt.IsZero() || call.CreatedAt.After(deadline) {
			continue
		}
		changed, err := s.callRepo.UpdateStatusIf(ctx, call.ID,
			[]model.CallStatus{model.CallRinging}, model.CallMissed,
			docstore.Doc{"ended_at": docstore.ServerTimestamp()})
		if err != nil {
			log.Error("janitor 迁移失联通话失败", "callID", call.ID, "err", err)
			continue
		}
		if changed {
			log.Info("janitor 标记失联通话为未接", "callID", call.ID)
		}
	}
}

// sweepAbandoned 在席成员清空的 ACTIVE 通话视为全员失联，强制转 ENDED
func (s *CallJanitorJob) sweepAbandoned(ctx context.Context) {
	calls, err := s.callRepo.FindByStatus(ctx, model.CallActive)
	if err != nil {
		log.Error("janitor 扫描进行中通话失败", "err", err)
		return
	}
	for _, call := range calls {
		if len(call.ActiveParticipants) > 0 {
			continue
		}
		changed, err := s.callRepo.UpdateStatusIf(ctx, call.ID,
			[]model.CallStatus{model.CallActive}, model.CallEnded,
			docstore.Doc{"ended_at": docstore.ServerTimestamp()})
		if err != nil {
			log.Error("janitor 结束失联通话失败", "callID", call.ID, "err", err)
			continue
		}
		if changed {
			log.Info("janitor 强制结束全员离线通话", "callID", call.ID)
		}
	}
}
