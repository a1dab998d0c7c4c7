package repository

import (
	"context"

	"github.com/user/crawl-orchestrator/internal/entity"
)

//go:generate mockgen -source=statement_sink.go -destination=mocks/mock_statement_sink.go -package=mocks

// StatementSink receives the valid SQL statements produced by one completed run.
type StatementSink interface {
	Write(ctx context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error
	Close() error
}
