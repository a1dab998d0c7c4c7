package repository

import (
	"context"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// ProcessRunner launches the external crawler without waiting for it.
type ProcessRunner interface {
	// Start launches cmd and returns immediately.
	Start(ctx context.Context, cmd entity.CrawlCommand) (Process, error)
}

// Process is a handle on a launched crawler.
type Process interface {
	// Poll reports the exit status if the process has terminated. It never blocks.
	Poll() (entity.ExitStatus, bool)
	// Kill terminates the process.
	Kill() error
	// PID returns the operating system process id.
	PID() int
}
