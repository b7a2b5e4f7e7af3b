package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// A KafkaPublisher writes every summary as a message keyed by run ID.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher that writes to a topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.LeastBytes{},
		},
	}
}

// Publish writes the summary.
func (p *KafkaPublisher) Publish(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.RunID),
		Value: data,
		Time:  time.Now(),
	})
}

// Close flushes the pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
