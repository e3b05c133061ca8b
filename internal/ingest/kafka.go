// Package ingest feeds external content into the memory engine: Kafka
// conversation batches and markdown note directories.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/pkg/types"
)

// ConversationSink receives conversation batches; the memory engine
// satisfies it.
type ConversationSink interface {
	IngestConversation(ctx context.Context, sessionKey, userID string, messages []types.Message) error
}

// ConversationBatch is the wire format of one Kafka message.
type ConversationBatch struct {
	SessionKey string          `json:"sessionKey"`
	UserID     string          `json:"userId"`
	Messages   []types.Message `json:"messages"`
}

// ConsumerConfig configures the Kafka conversation consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads conversation batches from Kafka and hands them to the
// engine. Offsets commit only after a successful ingest, so a crashed
// consumer redelivers; episodic inserts make redelivery visible as
// duplicate rows rather than lost data.
type Consumer struct {
	reader *kafka.Reader
	sink   ConversationSink
	log    *logrus.Entry
}

// NewConsumer creates a consumer in the given consumer group.
func NewConsumer(cfg ConsumerConfig, sink ConversationSink) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     time.Second,
			StartOffset: kafka.FirstOffset,
		}),
		sink: sink,
		log:  logging.Component("ingest"),
	}
}

// Run consumes until the context is cancelled. Malformed messages are
// committed and skipped; ingest failures leave the offset uncommitted for
// redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithField("topic", c.reader.Config().Topic).Info("kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ingest: fetch failed: %w", err)
		}

		var batch ConversationBatch
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("skipping malformed conversation batch")
			c.commit(ctx, msg)
			continue
		}

		if err := c.sink.IngestConversation(ctx, batch.SessionKey, batch.UserID, batch.Messages); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"session_key": batch.SessionKey,
				"user_id":     batch.UserID,
				"offset":      msg.Offset,
			}).Error("conversation ingest failed, offset left uncommitted")
			continue
		}

		c.commit(ctx, msg)
	}
}

// Close shuts the reader down; a blocked Run returns after this.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.WithError(err).WithField("offset", msg.Offset).Warn("offset commit failed")
	}
}
