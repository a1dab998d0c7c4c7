package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// StatementSinkImpl executes generated statements against PostgreSQL.
type StatementSinkImpl struct {
	db  *pgxpool.Pool
	ddl string
}

// NewStatementSink creates a sink. ddl, when non-empty, is executed by EnsureTable.
func NewStatementSink(db *pgxpool.Pool, ddl string) *StatementSinkImpl {
	return &StatementSinkImpl{db: db, ddl: ddl}
}

// EnsureTable creates the destination table if it does not exist.
func (s *StatementSinkImpl) EnsureTable(ctx context.Context) error {
	if s.ddl == "" {
		return nil
	}
	if _, err := s.db.Exec(ctx, s.ddl); err != nil {
		return fmt.Errorf("ensure destination table: %w", err)
	}
	return nil
}

// Write inserts every valid statement of a run within a single transaction,
// using the parameterized form so values never pass through string concatenation.
func (s *StatementSinkImpl) Write(ctx context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, st := range statements {
		if !st.Valid {
			continue
		}
		batch.Queue(st.Query, st.Args...)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert statements for run %s: %w", meta.RunID, err)
	}

	return tx.Commit(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *StatementSinkImpl) Close() error {
	return nil
}
