package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"go.uber.org/zap"
)

// Checkpoint is a resumable snapshot of a run.
type Checkpoint struct {
	ID        string          `json:"id"`
	SessionID int64           `json:"session_id"`
	State     agent.State     `json:"state"`
	Config    agent.RunConfig `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// Info summarizes a checkpoint for listings.
func (c *Checkpoint) Info() CheckpointInfo {
	return CheckpointInfo{
		ID:        c.ID,
		SessionID: c.SessionID,
		RunID:     c.State.RunID,
		Goal:      c.State.Task.Goal,
		Status:    c.State.Status,
		Iteration: c.State.Iteration,
		CreatedAt: c.CreatedAt,
	}
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	ID        string       `json:"id"`
	SessionID int64        `json:"session_id"`
	RunID     string       `json:"run_id"`
	Goal      string       `json:"goal"`
	Status    agent.Status `json:"status"`
	Iteration int          `json:"iteration"`
	CreatedAt time.Time    `json:"created_at"`
}

// CheckpointStore is a key-addressable checkpoint store.
//
// Put overwrites any checkpoint with the same id atomically. Get returns
// an error wrapping agent.ErrNotFound when the id is absent or the stored
// record is corrupt.
type CheckpointStore interface {
	Put(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, id string) (*Checkpoint, error)
	List(ctx context.Context) ([]CheckpointInfo, error)
}

const checkpointExt = ".ckpt.json"

// FileCheckpointStore keeps one file per checkpoint in a directory.
type FileCheckpointStore struct {
	dir    string
	mu     sync.Mutex
	logger *logging.Logger
}

// NewFileCheckpointStore creates the directory if needed.
func NewFileCheckpointStore(dir string, logger *logging.Logger) (*FileCheckpointStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileCheckpointStore{dir: dir, logger: logger}, nil
}

func (s *FileCheckpointStore) path(id string) string {
	return filepath.Join(s.dir, id+checkpointExt)
}

func (s *FileCheckpointStore) Put(_ context.Context, cp *Checkpoint) error {
	if err := validateID(cp.ID); err != nil {
		return err
	}
	data, err := seal(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(cp.ID), data)
}

func (s *FileCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", id, agent.ErrNotFound)
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := unseal(data, &cp); err != nil {
		s.logger.Warn(ctx, "unreadable checkpoint treated as absent",
			zap.String("checkpoint_id", id), zap.Error(err))
		return nil, fmt.Errorf("checkpoint %s is corrupt: %w", id, agent.ErrNotFound)
	}
	return &cp, nil
}

// List returns readable checkpoints, newest first.
func (s *FileCheckpointStore) List(ctx context.Context) ([]CheckpointInfo, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*"+checkpointExt))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]CheckpointInfo, 0, len(files))
	for _, f := range files {
		id := strings.TrimSuffix(filepath.Base(f), checkpointExt)
		cp, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, cp.Info())
	}
	sortInfos(out)
	return out, nil
}

func sortInfos(infos []CheckpointInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
