package repository

import (
	"context"

	"Crewline/internal/model"
	"Crewline/internal/pkg/docstore"
)

type CallRepo interface {
	Create(ctx context.Context, call *model.Call) (string, error)
	Get(ctx context.Context, callID string) (*model.Call, error)
	Delete(ctx context.Context, callID string) error
	FindOngoingByConversation(ctx context.Context, convID string) (*model.Call, error)
	FindByStatus(ctx context.Context, statuses ...model.CallStatus) ([]*model.Call, error)
	Listen(convID string, fn func([]*model.Call)) (docstore.Unsubscribe, error)
	UpdateStatusIf(ctx context.Context, callID string, from []model.CallStatus, to model.CallStatus, extra docstore.Doc) (bool, error)
	RemoveParticipant(ctx context.Context, callID, userID string) (remaining int, ended bool, err error)
	SetTrack(ctx context.Context, callID, userID string, video, on bool) error
	MarkActiveParticipant(ctx context.Context, callID, userID string, joined bool) error
}

type callRepoImpl struct {
	store docstore.Store
}

func NewCallRepo(store docstore.Store) CallRepo {
	return &callRepoImpl{store: store}
}

func (s *callRepoImpl) Create(ctx context.Context, call *model.Call) (string, error) {
	video := docstore.Doc{}
	audio := docstore.Doc{}
	for _, p := range call.Participants {
		video[p] = call.Media == model.CallVideo
		audio[p] = true
	}
	return s.store.Create(ctx, ColCalls, docstore.Doc{
		"conversation_id":     call.ConversationID,
		"caller_id":           call.CallerID,
		"participants":        toAnySlice(call.Participants),
		"active_participants": toAnySlice(call.ActiveParticipants),
		"media":               string(call.Media),
		"status":              string(call.Status),
		"channel_id":          call.ChannelID,
		"created_at":          docstore.ServerTimestamp(),
		"video_on":            video,
		"audio_on":            audio,
	})
}

func (s *callRepoImpl) Get(ctx context.Context, callID string) (*model.Call, error) {
	snap, err := s.store.Get(ctx, docstore.JoinPath(ColCalls, callID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, docstore.ErrNotFound
	}
	return callFromSnapshot(snap), nil
}

func (s *callRepoImpl) Delete(ctx context.Context, callID string) error {
	return s.store.Delete(ctx, docstore.JoinPath(ColCalls, callID))
}

// FindOngoingByConversation 查询会话当前的非终态通话，不存在时返回 ErrNotFound。
// 同一会话至多一个非终态通话由 CreateCall 侧保证。
func (s *callRepoImpl) FindOngoingByConversation(ctx context.Context, convID string) (*model.Call, error) {
	snaps, err := s.store.Find(ctx, ColCalls, docstore.Query{
		Filters: map[string]any{"conversation_id": convID},
		StatusIn: map[string][]any{
			"status": {string(model.CallRinging), string(model.CallActive)},
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, docstore.ErrNotFound
	}
	return callFromSnapshot(snaps[0]), nil
}

func (s *callRepoImpl) FindByStatus(ctx context.Context, statuses ...model.CallStatus) ([]*model.Call, error) {
	in := make([]any, len(statuses))
	for i, st := range statuses {
		in[i] = string(st)
	}
	snaps, err := s.store.Find(ctx, ColCalls, docstore.Query{
		StatusIn: map[string][]any{"status": in},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Call, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, callFromSnapshot(snap))
	}
	return out, nil
}

func (s *callRepoImpl) Listen(convID string, fn func([]*model.Call)) (docstore.Unsubscribe, error) {
	return s.store.Listen(ColCalls, docstore.Query{
		Filters: map[string]any{"conversation_id": convID},
	}, func(snaps []*docstore.Snapshot) {
		out := make([]*model.Call, 0, len(snaps))
		for _, snap := range snaps {
			out = append(out, callFromSnapshot(snap))
		}
		fn(out)
	})
}

// UpdateStatusIf 条件化状态迁移：当前状态在 from 集合内才写入 to。
// 终态绝不迁出；重复写入同一目标状态是无害 no-op。返回是否实际发生迁移。
func (s *callRepoImpl) UpdateStatusIf(ctx context.Context, callID string, from []model.CallStatus, to model.CallStatus, extra docstore.Doc) (bool, error) {
	changed := false
	err := s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		snap, err := tx.Get(docstore.JoinPath(ColCalls, callID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return nil
		}
		cur := model.CallStatus(docString(snap.Data, "status"))
		if cur == to {
			return nil // 冗余写，吸收
		}
		if cur.Terminal() {
			return nil
		}
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil
		}
		fields := docstore.Doc{"status": string(to)}
		for k, v := range extra {
			fields[k] = v
		}
		tx.Update(snap.Path, fields)
		changed = true
		return nil
	})
	return changed, err
}

// RemoveParticipant 群通话离席：单事务读-改-写，并发离席不会丢更新。
// 剩余人数 <= 1 时同事务内迁移到 ENDED 并落 ended_at。
func (s *callRepoImpl) RemoveParticipant(ctx context.Context, callID, userID string) (int, bool, error) {
	remaining := 0
	ended := false
	err := s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		snap, err := tx.Get(docstore.JoinPath(ColCalls, callID))
		if err != nil {
			return err
		}
		if !snap.Exists {
			return nil
		}
		parts := docStrings(snap.Data, "participants")
		kept := parts[:0]
		for _, p := range parts {
			if p != userID {
				kept = append(kept, p)
			}
		}
		remaining = len(kept)
		fields := docstore.Doc{
			"participants":        docstore.Remove(userID),
			"active_participants": docstore.Remove(userID),
		}
		if remaining <= 1 && !model.CallStatus(docString(snap.Data, "status")).Terminal() {
			fields["status"] = string(model.CallEnded)
			fields["ended_at"] = docstore.ServerTimestamp()
			ended = true
		}
		tx.Update(snap.Path, fields)
		return nil
	})
	return remaining, ended, err
}

// SetTrack 更新参与者的音/视频开关位
func (s *callRepoImpl) SetTrack(ctx context.Context, callID, userID string, video, on bool) error {
	field := "audio_on." + userID
	if video {
		field = "video_on." + userID
	}
	return s.store.Update(ctx, docstore.JoinPath(ColCalls, callID), docstore.Doc{field: on})
}

// MarkActiveParticipant 维护群通话在线成员集合
func (s *callRepoImpl) MarkActiveParticipant(ctx context.Context, callID, userID string, joined bool) error {
	op := docstore.Remove(userID)
	if joined {
		op = docstore.Union(userID)
	}
	return s.store.Update(ctx, docstore.JoinPath(ColCalls, callID), docstore.Doc{
		"active_participants": op,
	})
}

func callFromSnapshot(snap *docstore.Snapshot) *model.Call {
	d := snap.Data
	return &model.Call{
		ID:                 snap.ID,
		ConversationID:     docString(d, "conversation_id"),
		CallerID:           docString(d, "caller_id"),
		Participants:       docStrings(d, "participants"),
		ActiveParticipants: docStrings(d, "active_participants"),
		Media:              model.CallMedia(docString(d, "media")),
		Status:             model.CallStatus(docString(d, "status")),
		ChannelID:          docString(d, "channel_id"),
		CreatedAt:          docTime(d, "created_at"),
		StartedAt:          docTime(d, "started_at"),
		EndedAt:            docTime(d, "ended_at"),
		VideoOn:            docBoolMap(d, "video_on"),
		AudioOn:            docBoolMap(d, "audio_on"),
	}
}
