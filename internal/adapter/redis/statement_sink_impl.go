package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// DefaultStatementKey is the list statements are pushed to when no key is configured.
const DefaultStatementKey = "orchestrator:statements"

// StatementSinkImpl pushes statements onto a Redis list consumed as a FIFO queue (LPUSH / RPOP).
type StatementSinkImpl struct {
	client redis.UniversalClient
	key    string
}

// NewStatementSink creates a new instance of StatementSinkImpl.
func NewStatementSink(client redis.UniversalClient, key string) *StatementSinkImpl {
	if key == "" {
		key = DefaultStatementKey
	}
	return &StatementSinkImpl{client: client, key: key}
}

// Write pushes every valid statement of a run in one MULTI/EXEC transaction so a run lands whole or not at all.
func (s *StatementSinkImpl) Write(ctx context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error {
	msgs := entity.NewStatementMessages(meta, statements)
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode statement %d: %w", m.Seq, err)
		}
		values[i] = data
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push statements for run %s: %w", meta.RunID, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *StatementSinkImpl) Close() error {
	return nil
}
