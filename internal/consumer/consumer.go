package consumer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

// Processor handles one raw envelope. Flush is called on shutdown so buffered
// work reaches storage before the reader closes.
type Processor interface {
	Process(ctx context.Context, env envelope.Envelope) error
	Flush()
}

// Consumer reads raw session envelopes from Kafka and hands them to a
// Processor.
type Consumer struct {
	reader    *kafka.Reader
	processor Processor
}

func New(cfg config.KafkaConfig, processor Processor) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topics["raw"],
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		reader:    reader,
		processor: processor,
	}
}

// Start consumes until the context is cancelled. Malformed messages and
// failed sessions are logged and committed; one bad payload never wedges the
// partition.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group", c.reader.Config().GroupID).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			env, err := envelope.Unmarshal(msg.Value)
			if err != nil {
				log.Error().
					Err(err).
					Int("bytes", len(msg.Value)).
					Msg("Failed to parse envelope")
				c.commit(ctx, msg)
				continue
			}

			if err := c.processor.Process(ctx, env); err != nil {
				log.Error().
					Err(err).
					Str("session_id", env.SessionID).
					Str("project_id", env.ProjectID).
					Str("source", string(env.Source)).
					Msg("Failed to process session")
			}

			c.commit(ctx, msg)
		}
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error().Err(err).Msg("Failed to commit message")
	}
}

// Close flushes the processor and closes the reader.
func (c *Consumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}
