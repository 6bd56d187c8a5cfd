package producer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

// Producer owns one Kafka writer per configured topic. Messages are keyed by
// session id so every chunk of a session lands on the same partition.
type Producer struct {
	writers map[string]*kafka.Writer
}

func New(cfg config.KafkaConfig) *Producer {
	writers := make(map[string]*kafka.Writer, len(cfg.Topics))
	for name, topic := range cfg.Topics {
		writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		}
	}
	return &Producer{writers: writers}
}

// PublishEnvelope writes a raw session envelope to the raw topic.
func (p *Producer) PublishEnvelope(ctx context.Context, env envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	return p.writers["raw"].WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.SessionID),
		Value: data,
	})
}

// PublishSemantic writes a compressed session to the semantic topic.
func (p *Producer) PublishSemantic(ctx context.Context, sessionID string, payload []byte) error {
	return p.writers["semantic"].WriteMessages(ctx, kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
	})
}

func (p *Producer) Close() error {
	for _, w := range p.writers {
		w.Close()
	}
	return nil
}
