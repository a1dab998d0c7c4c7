package usecase

import (
	"context"
	"errors"

	"github.com/user/crawl-orchestrator/internal/entity"
)

var (
	ErrTargetNotFound = errors.New("target is not in the active schedule")
)

// SnapshotProvider exposes the live per-target status, implemented by Dispatcher.
type SnapshotProvider interface {
	Snapshot() []entity.TargetStatus
}

// TargetStatusQuery answers status requests about scheduled targets.
type TargetStatusQuery interface {
	List(ctx context.Context, state entity.TargetState) ([]entity.TargetStatus, error)
	GetStatus(ctx context.Context, url string) (*entity.TargetStatus, error)
}

type targetStatusUseCase struct {
	provider SnapshotProvider
}

// NewTargetStatusQuery creates a new TargetStatusQuery use case.
func NewTargetStatusQuery(provider SnapshotProvider) TargetStatusQuery {
	return &targetStatusUseCase{provider: provider}
}

// List returns every target, or only targets in state when state is non-empty.
func (uc *targetStatusUseCase) List(ctx context.Context, state entity.TargetState) ([]entity.TargetStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := uc.provider.Snapshot()
	if state == "" {
		return all, nil
	}

	filtered := make([]entity.TargetStatus, 0, len(all))
	for _, s := range all {
		if s.State == state {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

func (uc *targetStatusUseCase) GetStatus(ctx context.Context, url string) (*entity.TargetStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range uc.provider.Snapshot() {
		if s.URL == url {
			return &s, nil
		}
	}
	return nil, ErrTargetNotFound
}
