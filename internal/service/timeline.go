package service

import (
	"context"
	"time"

	"Crewline/internal/api/dto"
)

// TimelineItemKind 时间线条目类型
type TimelineItemKind string

const (
	ItemMessage       TimelineItemKind = "message"
	ItemDateSeparator TimelineItemKind = "date_separator"
)

// TimelineItem 时间线条目：消息或日期分隔符二选一
type TimelineItem struct {
	Kind    TimelineItemKind `json:"kind"`
	Key     string           `json:"key"`
	Message *dto.MessageDTO  `json:"message,omitempty"`
	Date    string           `json:"date,omitempty"`
}

// TimelineOpType 差分操作类型
type TimelineOpType string

const (
	OpInsert TimelineOpType = "insert"
	OpRemove TimelineOpType = "remove"
	OpUpdate TimelineOpType = "update"
)

// TimelineOp 把旧时间线变换为新时间线的单步操作，
// Index 均以旧时间线坐标系为基准、按操作顺序依次生效
type TimelineOp struct {
	Type  TimelineOpType `json:"type"`
	Index int            `json:"index"`
	Item  *TimelineItem  `json:"item,omitempty"`
}

// InsertDateSeparators 按自然日切分消息流。
// 消息须已按 sent_at 升序排好，跨天处插入分隔符。
func InsertDateSeparators(msgs []*dto.MessageDTO, loc *time.Location) []*TimelineItem {
	if loc == nil {
		loc = time.Local
	}
	items := make([]*TimelineItem, 0, len(msgs)+4)
	var lastDay string
	for _, m := range msgs {
		day := m.SentAt.In(loc).Format("2006-01-02")
		if day != lastDay {
			items = append(items, &TimelineItem{
				Kind: ItemDateSeparator,
				Key:  "sep:" + day,
				Date: day,
			})
			lastDay = day
		}
		items = append(items, &TimelineItem{
			Kind:    ItemMessage,
			Key:     itemKey(m),
			Message: m,
		})
	}
	return items
}

// itemKey 消息身份：服务端 ID 优先，未落库时退回 LocalID，
// 保证同一条消息从 PENDING 到 SENT 身份不漂移
func itemKey(m *dto.MessageDTO) string {
	if m.LocalID != "" {
		return m.LocalID
	}
	return m.ID
}

// DiffTimeline 最长公共子序列差分。
// 身份相同但内容变化（状态流转、已读、表情）产出 update 而非删增，
// 客户端据此做就地刷新避免列表闪烁。
func DiffTimeline(old, new []*TimelineItem) []*TimelineOp {
	n, m := len(old), len(new)

	// lcs[i][j] = old[i:] 与 new[j:] 的最长公共子序列长度
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if sameIdentity(old[i], new[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []*TimelineOp
	i, j := 0, 0
	cursor := 0 // 应用已产出操作后的当前坐标
	for i < n && j < m {
		switch {
		case sameIdentity(old[i], new[j]):
			if !sameContent(old[i], new[j]) {
				ops = append(ops, &TimelineOp{Type: OpUpdate, Index: cursor, Item: new[j]})
			}
			i++
			j++
			cursor++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, &TimelineOp{Type: OpRemove, Index: cursor})
			i++
		default:
			ops = append(ops, &TimelineOp{Type: OpInsert, Index: cursor, Item: new[j]})
			j++
			cursor++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, &TimelineOp{Type: OpRemove, Index: cursor})
	}
	for ; j < m; j++ {
		ops = append(ops, &TimelineOp{Type: OpInsert, Index: cursor, Item: new[j]})
		cursor++
	}
	return ops
}

// DiffTimelineAsync 后台算差分，长列表不阻塞调用方。
// ctx 取消时结果通道直接关闭。
func DiffTimelineAsync(ctx context.Context, old, new []*TimelineItem) <-chan []*TimelineOp {
	out := make(chan []*TimelineOp, 1)
	go func() {
		defer close(out)
		ops := DiffTimeline(old, new)
		select {
		case out <- ops:
		case <-ctx.Done():
		}
	}()
	return out
}

func sameIdentity(a, b *TimelineItem) bool {
	return a.Kind == b.Kind && a.Key == b.Key
}

// sameContent 身份相同前提下比较可变内容
func sameContent(a, b *TimelineItem) bool {
	if a.Kind == ItemDateSeparator {
		return a.Date == b.Date
	}
	x, y := a.Message, b.Message
	if x == nil || y == nil {
		return x == y
	}
	if x.ID != y.ID || x.Status != y.Status || x.Body != y.Body {
		return false
	}
	if !sameMembers(x.ReadBy, y.ReadBy) || len(x.Reactions) != len(y.Reactions) {
		return false
	}
	for emoji, users := range x.Reactions {
		if !sameMembers(users, y.Reactions[emoji]) {
			return false
		}
	}
	return true
}

// sameMembers 集合相等，元素顺序无关
func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
