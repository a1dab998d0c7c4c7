package response

import (
	"time"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// TargetStatusResponse is a DTO for a scheduled target, mirroring entity.TargetStatus.
type TargetStatusResponse struct {
	URL        string     `json:"url"`
	Frequency  string     `json:"frequency"`
	State      string     `json:"state"` // "idle", "due", "running"
	NextDueAt  time.Time  `json:"next_due_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status"`
	LastError  string     `json:"last_error,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
}

type TargetListResponse struct {
	Count   int                    `json:"count"`
	Targets []TargetStatusResponse `json:"targets"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func NewTargetStatusResponse(s entity.TargetStatus) TargetStatusResponse {
	return TargetStatusResponse{
		URL:        s.URL,
		Frequency:  string(s.Frequency),
		State:      string(s.State),
		NextDueAt:  s.NextDueAt,
		LastRunAt:  s.LastRunAt,
		LastStatus: string(s.LastStatus),
		LastError:  s.LastError,
		RunID:      s.RunID,
	}
}

func NewTargetListResponse(statuses []entity.TargetStatus) TargetListResponse {
	targets := make([]TargetStatusResponse, len(statuses))
	for i, s := range statuses {
		targets[i] = NewTargetStatusResponse(s)
	}
	return TargetListResponse{Count: len(targets), Targets: targets}
}
