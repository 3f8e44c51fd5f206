package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCheckpointStore keeps checkpoints as Redis string values and a
// sorted set index ordered by creation time.
type RedisCheckpointStore struct {
	rdb    *redis.Client
	prefix string
	logger *logging.Logger
}

// NewRedisCheckpointStore connects to redisURL and verifies the connection.
func NewRedisCheckpointStore(ctx context.Context, redisURL, prefix string, logger *logging.Logger) (*RedisCheckpointStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "agentloop"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisCheckpointStore{rdb: rdb, prefix: prefix, logger: logger}, nil
}

// Close releases the connection pool.
func (s *RedisCheckpointStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisCheckpointStore) key(id string) string {
	return s.prefix + ":checkpoint:" + id
}

func (s *RedisCheckpointStore) indexKey() string {
	return s.prefix + ":checkpoints"
}

func (s *RedisCheckpointStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validateID(cp.ID); err != nil {
		return err
	}
	data, err := seal(cp)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(cp.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(cp.CreatedAt.UnixNano()), Member: cp.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", id, agent.ErrNotFound)
	}
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint %s: %w", id, err)
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
func (s *RedisCheckpointStore) List(ctx context.Context) ([]CheckpointInfo, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list checkpoints: %w", err)
	}
	out := make([]CheckpointInfo, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, cp.Info())
	}
	sortInfos(out)
	return out, nil
}

// Next issues a session id with INCR, so concurrent processes sharing
// the server never reuse an id.
func (s *RedisCheckpointStore) Next(ctx context.Context) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.prefix+":session_counter").Result()
	if err != nil {
		return 0, fmt.Errorf("redis next session id: %w", err)
	}
	return id, nil
}

func (s *RedisCheckpointStore) Bind(ctx context.Context, conversationID, checkpointID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if err := s.rdb.HSet(ctx, s.prefix+":conversations", conversationID, checkpointID).Err(); err != nil {
		return fmt.Errorf("redis bind conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Lookup(ctx context.Context, conversationID string) (string, error) {
	id, err := s.rdb.HGet(ctx, s.prefix+":conversations", conversationID).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("conversation %s: %w", conversationID, agent.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis lookup conversation %s: %w", conversationID, err)
	}
	return id, nil
}
