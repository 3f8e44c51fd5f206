package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisCheckpointStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	store, err := NewRedisCheckpointStore(ctx, "redis://"+endpoint, "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base := time.Now().UTC()
	require.NoError(t, store.Put(ctx, &Checkpoint{ID: "a", SessionID: 1, State: *sampleState(), CreatedAt: base}))
	require.NoError(t, store.Put(ctx, &Checkpoint{ID: "b", SessionID: 2, State: *sampleState(), CreatedAt: base.Add(time.Second)}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SessionID)
	assert.Equal(t, 2, got.State.Iteration)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, agent.ErrNotFound)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b", infos[0].ID)

	first, err := store.Next(ctx)
	require.NoError(t, err)
	second, err := store.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	_, err = store.Lookup(ctx, "conv")
	assert.ErrorIs(t, err, agent.ErrNotFound)
	require.NoError(t, store.Bind(ctx, "conv", "b"))
	id, err := store.Lookup(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}
