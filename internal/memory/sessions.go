package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"go.uber.org/zap"
)

// SessionCounter issues monotonically increasing session ids.
type SessionCounter interface {
	Next(ctx context.Context) (int64, error)
}

// SessionIndex maps conversation ids to their latest checkpoint.
type SessionIndex interface {
	Bind(ctx context.Context, conversationID, checkpointID string) error
	Lookup(ctx context.Context, conversationID string) (string, error)
}

type counterState struct {
	Last int64 `json:"last"`
}

// FileSessionCounter persists the last issued id in a file.
type FileSessionCounter struct {
	path   string
	seed   func(context.Context) (int64, error)
	logger *logging.Logger
	mu     sync.Mutex
}

// NewFileSessionCounter stores its state at path. When the file is
// missing or corrupt, seed supplies the highest id known elsewhere.
func NewFileSessionCounter(path string, seed func(context.Context) (int64, error), logger *logging.Logger) (*FileSessionCounter, error) {
	if path == "" {
		return nil, errors.New("session counter path is required")
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileSessionCounter{path: path, seed: seed, logger: logger}, nil
}

// Next returns the next id and persists it before returning.
func (c *FileSessionCounter) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st counterState
	data, err := os.ReadFile(c.path)
	switch {
	case err == nil:
		if uerr := unseal(data, &st); uerr != nil {
			c.logger.Warn(ctx, "session counter corrupt, reseeding", zap.Error(uerr))
			st.Last = 0
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return 0, fmt.Errorf("read session counter: %w", err)
	}

	if c.seed != nil {
		seeded, err := c.seed(ctx)
		if err != nil {
			return 0, fmt.Errorf("seed session counter: %w", err)
		}
		if seeded > st.Last {
			st.Last = seeded
		}
	}

	st.Last++
	out, err := seal(st)
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(c.path, out); err != nil {
		return 0, fmt.Errorf("persist session counter: %w", err)
	}
	return st.Last, nil
}

// FileSessionIndex keeps the conversation map in one checksummed file.
type FileSessionIndex struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewFileSessionIndex stores its map at path.
func NewFileSessionIndex(path string, logger *logging.Logger) (*FileSessionIndex, error) {
	if path == "" {
		return nil, errors.New("session index path is required")
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileSessionIndex{path: path, logger: logger}, nil
}

// read returns an empty map for a corrupt file. The corrupt bytes are kept
// beside it with a .corrupt suffix before the next Bind replaces them.
func (x *FileSessionIndex) read(ctx context.Context) (map[string]string, error) {
	m := map[string]string{}
	data, err := os.ReadFile(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	if uerr := unseal(data, &m); uerr != nil {
		backup := x.path + ".corrupt"
		if werr := writeFileAtomic(backup, data); werr != nil {
			x.logger.Warn(ctx, "session index backup failed", zap.String("path", backup), zap.Error(werr))
		}
		x.logger.Warn(ctx, "session index corrupt, conversation bindings reset",
			zap.String("path", x.path), zap.String("backup", backup), zap.Error(uerr))
		return map[string]string{}, nil
	}
	return m, nil
}

func (x *FileSessionIndex) Bind(ctx context.Context, conversationID, checkpointID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	m, err := x.read(ctx)
	if err != nil {
		return err
	}
	m[conversationID] = checkpointID
	data, err := seal(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(x.path, data)
}

func (x *FileSessionIndex) Lookup(ctx context.Context, conversationID string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, err := x.read(ctx)
	if err != nil {
		return "", err
	}
	id, ok := m[conversationID]
	if !ok {
		return "", fmt.Errorf("conversation %s: %w", conversationID, agent.ErrNotFound)
	}
	return id, nil
}
