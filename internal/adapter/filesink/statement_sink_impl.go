package filesink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// RunFileName is the file written into the run's output directory when no path is configured.
const RunFileName = "inserts.sql"

// StatementSinkImpl appends statement text to a .sql file.
type StatementSinkImpl struct {
	mu   sync.Mutex
	path string
}

// NewStatementSink creates a sink appending to path. With an empty path every run is
// written to inserts.sql inside its own output directory.
func NewStatementSink(path string) *StatementSinkImpl {
	return &StatementSinkImpl{path: path}
}

func (s *StatementSinkImpl) target(meta entity.RunMeta) string {
	if s.path != "" {
		return s.path
	}
	return filepath.Join(meta.OutputDir, RunFileName)
}

// Write appends the valid statements of a run, preceded by a provenance comment.
func (s *StatementSinkImpl) Write(ctx context.Context, meta entity.RunMeta, statements []entity.SQLStatement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.target(meta)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sink directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open sink file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "-- run %s for %s\n", meta.RunID, meta.URL)
	for _, st := range statements {
		if !st.Valid {
			continue
		}
		w.WriteString(st.Text)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write sink file: %w", err)
	}
	return f.Close()
}

// Close is a no-op; files are opened per write.
func (s *StatementSinkImpl) Close() error {
	return nil
}
