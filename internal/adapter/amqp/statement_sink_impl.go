package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// DefaultQueue is the queue statements are published to when none is configured.
const DefaultQueue = "crawl_statements"

// Channel is the subset of *amqp.Channel used by the sink.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// StatementSinkImpl publishes one persistent message per statement to a durable queue.
type StatementSinkImpl struct {
	ch    Channel
	queue string
}

// NewStatementSink declares the queue and returns a sink publishing to it.
func NewStatementSink(ch Channel, queue string) (*StatementSinkImpl, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &StatementSinkImpl{ch: ch, queue: queue}, nil
}

// Write publishes the valid statements of a run in order.
func (s *StatementSinkImpl) Write(ctx context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error {
	for _, msg := range entity.NewStatementMessages(meta, statements) {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode statement %d: %w", msg.Seq, err)
		}

		err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s-%d", msg.RunID, msg.Seq),
			Timestamp:    msg.CrawledAt,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish statement %d of run %s: %w", msg.Seq, meta.RunID, err)
		}
	}
	return nil
}

// Close closes the underlying channel.
func (s *StatementSinkImpl) Close() error {
	return s.ch.Close()
}
