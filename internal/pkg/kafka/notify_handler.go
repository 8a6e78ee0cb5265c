package kafka

import (
	"Crewline/internal/api/config"
	"Crewline/internal/model"
	"context"
	"fmt"
	log "log/slog"

	"github.com/IBM/sarama"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

// NotifyHandler 消费通知事件并转发到推送网关
type NotifyHandler struct {
	client *resty.Client
	cfg    config.PushConfig
}

func NewNotifyHandler(cfg config.PushConfig) *NotifyHandler {
	return &NotifyHandler{
		client: resty.New(),
		cfg:    cfg,
	}
}

func (s *NotifyHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (s *NotifyHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (s *NotifyHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	return pullMessageBatch(session, claim, s.handle)
}

func (s *NotifyHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev model.NotificationEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// 格式非法的事件重试也无意义，记录后吞掉
		log.Error("通知事件反序列化失败", "offset", msg.Offset, "err", err)
		return nil
	}

	if !s.cfg.Enable {
		log.Info("推送网关未启用，跳过投递", "kind", ev.Kind, "recipient", ev.RecipientID)
		return nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.cfg.Token).
		SetBody(&ev).
		Post(s.cfg.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode())
	}

	log.Info("通知已投递到推送网关", "kind", ev.Kind, "recipient", ev.RecipientID)
	return nil
}
