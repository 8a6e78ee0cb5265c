package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
)

type receiptFixture struct {
	*chatFixture
	receipts ReceiptService
}

func newReceiptFixture(t *testing.T) *receiptFixture {
	t.Helper()
	f := newChatFixture(t)
	return &receiptFixture{
		chatFixture: f,
		receipts:    NewReceiptService(f.convRepo, f.msgRepo, f.publisher),
	}
}

func (f *receiptFixture) send(t *testing.T, convID, senderID, body string) *dto.MessageDTO {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), senderID, &dto.SendMessageReq{
		ConversationID: convID,
		Body:           body,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	return msg
}

func TestMarkAsReadAll(t *testing.T) {
	f := newReceiptFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	m1 := f.send(t, convID, "e1", "一")
	m2 := f.send(t, convID, "e1", "二")
	mine := f.send(t, convID, "e2", "我的")

	err := f.receipts.MarkAsRead(context.Background(), "e2", &dto.MarkAsReadReq{ConversationID: convID})
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}

	for _, id := range []string{m1.ID, m2.ID} {
		msg, err := f.msgRepo.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !msg.HasRead("e2") {
			t.Errorf("消息 %s 应含 e2 回执, read_by = %v", id, msg.ReadBy)
		}
	}
	// 自己发的不写回执
	own, _ := f.msgRepo.Get(context.Background(), mine.ID)
	if own.HasRead("e2") {
		t.Error("自己发的消息不应写回执")
	}

	conv, _ := f.convRepo.Get(context.Background(), convID)
	if conv.Unread["e2"] != 0 {
		t.Errorf("读者未读数应钉 0, got %d", conv.Unread["e2"])
	}

	// 对端收到 READ_RECEIPT，读者自己不收
	found := false
	for _, ev := range f.publisher.eventsFor("e1") {
		if ev.Type == "READ_RECEIPT" {
			found = true
		}
	}
	if !found {
		t.Error("e1 应收到 READ_RECEIPT 事件")
	}
	for _, ev := range f.publisher.eventsFor("e2") {
		if ev.Type == "READ_RECEIPT" {
			t.Error("读者自己不应收到 READ_RECEIPT")
		}
	}
}

func TestMarkAsReadSubsetAndIdempotent(t *testing.T) {
	f := newReceiptFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	m1 := f.send(t, convID, "e1", "一")
	m2 := f.send(t, convID, "e1", "二")

	ctx := context.Background()
	err := f.receipts.MarkAsRead(ctx, "e2", &dto.MarkAsReadReq{
		ConversationID: convID,
		MessageIDs:     []string{m1.ID},
	})
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	got1, _ := f.msgRepo.Get(ctx, m1.ID)
	got2, _ := f.msgRepo.Get(ctx, m2.ID)
	if !got1.HasRead("e2") || got2.HasRead("e2") {
		t.Errorf("仅指定消息应写回执: m1=%v m2=%v", got1.ReadBy, got2.ReadBy)
	}

	// 重复标记幂等，回执集合不重复
	if err = f.receipts.MarkAsRead(ctx, "e2", &dto.MarkAsReadReq{
		ConversationID: convID,
		MessageIDs:     []string{m1.ID},
	}); err != nil {
		t.Fatalf("MarkAsRead again: %v", err)
	}
	got1, _ = f.msgRepo.Get(ctx, m1.ID)
	if len(got1.ReadBy) != 1 {
		t.Errorf("read_by = %v, want 单元素", got1.ReadBy)
	}
}

func TestMarkAsReadNoTargetsStillPinsUnread(t *testing.T) {
	f := newReceiptFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	// e2 自己发消息会把 e1 未读 +1，e2 自己钉 0；此处反向验证空候选路径
	f.send(t, convID, "e2", "只有我的消息")

	err := f.receipts.MarkAsRead(context.Background(), "e2", &dto.MarkAsReadReq{ConversationID: convID})
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	conv, _ := f.convRepo.Get(context.Background(), convID)
	if conv.Unread["e2"] != 0 {
		t.Errorf("空候选也应钉 0, got %d", conv.Unread["e2"])
	}
}

func TestMarkAsReadConcurrentReadersUnion(t *testing.T) {
	f := newReceiptFixture(t)
	convID := f.createConv(t, "group", "e1", "e2", "e3")
	msg := f.send(t, convID, "e1", "并发已读")

	// 多名读者并发标记，集合并集不丢回执
	var wg sync.WaitGroup
	for _, reader := range []string{"e2", "e3"} {
		wg.Add(1)
		go func(reader string) {
			defer wg.Done()
			if err := f.receipts.MarkAsRead(context.Background(), reader, &dto.MarkAsReadReq{
				ConversationID: convID,
			}); err != nil {
				t.Errorf("MarkAsRead %s: %v", reader, err)
			}
		}(reader)
	}
	wg.Wait()

	got, err := f.msgRepo.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.HasRead("e2") || !got.HasRead("e3") {
		t.Errorf("并发标记不应丢回执, read_by = %v", got.ReadBy)
	}
	if len(got.ReadBy) != 2 {
		t.Errorf("read_by = %v, want 恰好两名读者", got.ReadBy)
	}
}

func TestMarkAsReadMembership(t *testing.T) {
	f := newReceiptFixture(t)
	convID := f.createConv(t, "direct", "e1", "e2")
	err := f.receipts.MarkAsRead(context.Background(), "e3", &dto.MarkAsReadReq{ConversationID: convID})
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("err = %v, want ErrNotMember", err)
	}
	err = f.receipts.MarkAsRead(context.Background(), "e1", &dto.MarkAsReadReq{ConversationID: "missing"})
	if !errors.Is(err, ErrConversationMissing) {
		t.Fatalf("err = %v, want ErrConversationMissing", err)
	}
}

func TestDisplayStatus(t *testing.T) {
	svc := NewReceiptService(nil, nil, nil)
	direct := &model.Conversation{Type: model.ConversationDirect, Participants: []string{"e1", "e2"}}
	group := &model.Conversation{Type: model.ConversationGroup, Participants: []string{"e1", "e2", "e3", "e4"}}

	tests := []struct {
		name     string
		conv     *model.Conversation
		sender   string
		readBy   []string
		viewerID string
		want     ReadStatus
	}{
		{"他人消息一律 read", direct, "e2", nil, "e1", ReadStatusRead},
		{"单聊对端未读", direct, "e1", nil, "e1", ReadStatusUnread},
		{"单聊对端已读", direct, "e1", []string{"e2"}, "e1", ReadStatusRead},
		{"群聊无人已读", group, "e1", nil, "e1", ReadStatusUnread},
		{"群聊部分已读", group, "e1", []string{"e2"}, "e1", ReadStatusPartial},
		{"群聊全员已读", group, "e1", []string{"e2", "e3", "e4"}, "e1", ReadStatusRead},
		{"发送者自己的回执不计入", group, "e1", []string{"e1", "e2"}, "e1", ReadStatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &model.Message{SenderID: tt.sender, ReadBy: tt.readBy}
			if got := svc.DisplayStatus(tt.conv, msg, tt.viewerID); got != tt.want {
				t.Errorf("DisplayStatus = %q, want %q", got, tt.want)
			}
		})
	}
}
