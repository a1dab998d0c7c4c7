package entity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoExport is returned when a finished run left no export file behind.
	ErrNoExport = errors.New("no crawl export found")
	// ErrInterrupted marks runs that were in progress when the orchestrator stopped.
	ErrInterrupted = errors.New("run interrupted by orchestrator shutdown")
)

// ConfigError is a fatal configuration problem detected at load time.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RunLaunchError means the crawler executable could not be started.
type RunLaunchError struct {
	URL string
	Err error
}

func (e *RunLaunchError) Error() string {
	return fmt.Sprintf("launch crawler for %s: %v", e.URL, e.Err)
}

func (e *RunLaunchError) Unwrap() error { return e.Err }

// RunTimeoutError means the crawler exceeded its allotted time and was killed.
type RunTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("crawl of %s exceeded timeout %s", e.URL, e.Timeout)
}

// ExitError means the crawler terminated unsuccessfully.
type ExitError struct {
	URL    string
	Status ExitStatus
}

func (e *ExitError) Error() string {
	if e.Status.Err != nil {
		return fmt.Sprintf("crawler for %s failed: %v", e.URL, e.Status.Err)
	}
	return fmt.Sprintf("crawler for %s exited with code %d", e.URL, e.Status.Code)
}

func (e *ExitError) Unwrap() error { return e.Status.Err }

// IngestError means a crawl export was missing, unreadable or malformed.
type IngestError struct {
	Path string
	Line int
	Err  error
}

func (e *IngestError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ingest %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// RowConversionError means a single row value could not be coerced to its column type.
type RowConversionError struct {
	Column string
	Field  string
	Value  string
	Type   ColumnType
	Err    error
}

func (e *RowConversionError) Error() string {
	return fmt.Sprintf("column %s: cannot convert %s=%q to %s: %v", e.Column, e.Field, e.Value, e.Type, e.Err)
}

func (e *RowConversionError) Unwrap() error { return e.Err }

// SinkError means generated statements could not be handed to the statement sink.
type SinkError struct {
	RunID string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink statements of run %s: %v", e.RunID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ErrorType classifies an error for metrics labels.
func ErrorType(err error) string {
	var (
		launchErr  *RunLaunchError
		timeoutErr *RunTimeoutError
		exitErr    *ExitError
		ingestErr  *IngestError
		rowErr     *RowConversionError
		sinkErr    *SinkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &launchErr):
		return "launch"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &exitErr):
		return "exit"
	case errors.As(err, &ingestErr):
		return "ingest"
	case errors.As(err, &rowErr):
		return "row_conversion"
	case errors.As(err, &sinkErr):
		return "sink"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	}
	return "unknown"
}
