package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig 描述判定写入的 Kafka 集群。
type KafkaConfig struct {
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	ClientID string   `json:"client_id"`
}

// KafkaSink 以地址为 key 同步写入判定，同一地址的判定落在同一分区。
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSink 连接 Kafka 并创建同步生产者。
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka topic 不能为空")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("未配置 kafka broker")
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("创建 kafka 生产者失败: %w", err)
	}
	return newKafkaSink(producer, topic), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, producer: producer}
}

// Publish 实现 Sink。SyncProducer 不接收 ctx，只在发送前检查。
func (s *KafkaSink) Publish(ctx context.Context, v Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化判定失败: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(v.Address),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("risk_level"), Value: []byte(v.Level)},
			{Key: []byte("source"), Value: []byte(v.Source)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("写入 kafka 失败: %w", err)
	}
	return nil
}

// Close 实现 Sink。
func (s *KafkaSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

var _ Sink = (*KafkaSink)(nil)
