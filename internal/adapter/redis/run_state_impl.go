package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/pkg/utils"
)

const runStateKey = "orchestrator:runs"

// RunStateRepoImpl provides a concrete implementation for the RunStateRepository interface using a Redis hash.
type RunStateRepoImpl struct {
	client redis.UniversalClient
}

// NewRunStateRepo creates a new instance of RunStateRepoImpl.
func NewRunStateRepo(client redis.UniversalClient) *RunStateRepoImpl {
	return &RunStateRepoImpl{client: client}
}

// field creates a consistent hash field for a given URL by hashing it.
func (r *RunStateRepoImpl) field(url string) string {
	return utils.HashURL(url)
}

// Load reads every record with a single HGETALL.
func (r *RunStateRepoImpl) Load(ctx context.Context) (map[string]entity.RunRecord, error) {
	raw, err := r.client.HGetAll(ctx, runStateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}

	records := make(map[string]entity.RunRecord, len(raw))
	for field, value := range raw {
		var rec entity.RunRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("decode run state field %s: %w", field, err)
		}
		records[rec.URL] = rec
	}
	return records, nil
}

// Save replaces the record for record.URL. HSET on a single field is atomic.
func (r *RunStateRepoImpl) Save(ctx context.Context, record entity.RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode run state for %s: %w", record.URL, err)
	}
	return r.client.HSet(ctx, runStateKey, r.field(record.URL), data).Err()
}
