package kafka

import (
	"Crewline/internal/api/config"
	"Crewline/internal/model"
	"context"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// NotifyProducer 把通知事件写入 Kafka，由推送 worker 异步消费。
// 同步生产者，收到 broker ack 才返回。
type NotifyProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewNotifyProducer(cfg *config.Config) (*NotifyProducer, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &NotifyProducer{
		producer: producer,
		topic:    cfg.KafkaNotify.Topic,
	}, nil
}

// Notify 投递一条通知事件，按接收人分区保证单人有序
func (s *NotifyProducer) Notify(ctx context.Context, ev *model.NotificationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.RecipientID),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (s *NotifyProducer) Close() error {
	return s.producer.Close()
}
