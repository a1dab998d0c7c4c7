// Package filestate persists run state in a local JSON file.
package filestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/crawl-orchestrator/internal/entity"
)

const stateVersion = 1

type stateFile struct {
	Version int                         `json:"version"`
	Targets map[string]entity.RunRecord `json:"targets"`
}

// RunStateRepoImpl implements repository.RunStateRepository on a JSON file.
// Every Save rewrites the file atomically, so a crash never leaves a torn state file.
type RunStateRepoImpl struct {
	path string

	mu     sync.Mutex
	loaded bool
	state  map[string]entity.RunRecord
}

// NewRunStateRepo creates a file-backed store at path. The file is created on first Save.
func NewRunStateRepo(path string) *RunStateRepoImpl {
	return &RunStateRepoImpl{path: path}
}

// Load reads every record from disk.
func (r *RunStateRepoImpl) Load(ctx context.Context) (map[string]entity.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.read(); err != nil {
		return nil, err
	}
	out := make(map[string]entity.RunRecord, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out, nil
}

// Save stores record and flushes the whole state file. A failed Save leaves both the file and
// the in-memory state as they were.
func (r *RunStateRepoImpl) Save(ctx context.Context, record entity.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		if err := r.read(); err != nil {
			return err
		}
	}

	next := make(map[string]entity.RunRecord, len(r.state)+1)
	for k, v := range r.state {
		next[k] = v
	}
	next[record.URL] = record
	if err := r.write(next); err != nil {
		return err
	}
	r.state = next
	return nil
}

func (r *RunStateRepoImpl) read() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.state = make(map[string]entity.RunRecord)
		r.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file %s: %w", r.path, err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("decode state file %s: %w", r.path, err)
	}
	if sf.Version != stateVersion {
		return fmt.Errorf("state file %s has unsupported version %d", r.path, sf.Version)
	}
	if sf.Targets == nil {
		sf.Targets = make(map[string]entity.RunRecord)
	}
	r.state = sf.Targets
	r.loaded = true
	return nil
}

// write replaces the state file with targets. The in-memory state is left untouched.
func (r *RunStateRepoImpl) write(targets map[string]entity.RunRecord) error {
	data, err := json.MarshalIndent(stateFile{Version: stateVersion, Targets: targets}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
