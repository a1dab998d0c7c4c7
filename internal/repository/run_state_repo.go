package repository

import (
	"context"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// RunStateRepository persists per-target run state across orchestrator restarts.
type RunStateRepository interface {
	// Load returns every stored record keyed by target url.
	Load(ctx context.Context) (map[string]entity.RunRecord, error)
	// Save creates or replaces the record for record.URL.
	Save(ctx context.Context, record entity.RunRecord) error
}
