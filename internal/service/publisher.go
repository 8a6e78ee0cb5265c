package service

import (
	"context"

	"Crewline/internal/api/dto"
	"Crewline/internal/model"
	"Crewline/internal/pkg/consts"
	"Crewline/internal/pkg/redis"

	"github.com/goccy/go-json"
)

// EventPublisher 在线实时事件发布端。WS 网关订阅用户个人频道，
// 服务侧把消息 / 回执 / 输入中 / 通话事件推给各参与者。
type EventPublisher interface {
	PublishToUser(ctx context.Context, userID string, event *dto.ChatEventDTO) error
}

type redisPublisher struct{}

// NewRedisPublisher 基于 Redis pub/sub 的发布端
func NewRedisPublisher() EventPublisher {
	return &redisPublisher{}
}

func (s *redisPublisher) PublishToUser(ctx context.Context, userID string, event *dto.ChatEventDTO) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return redis.Publish(ctx, consts.IMUserKey+userID, data)
}

// Notifier 离线通知出口。事件写入 Kafka，推送 worker 消费后转发推送网关。
type Notifier interface {
	Notify(ctx context.Context, ev *model.NotificationEvent) error
}
