package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func sampleState() *agent.State {
	s := agent.NewState("run-1", 7, agent.Task{Goal: "list /tmp", Type: "filesystem"})
	s.Iteration = 2
	s.Status = agent.StatusExecuting
	s.Actions = []agent.ActionRecord{{
		Iteration: 1,
		Call:      &agent.ToolCall{Tool: "list_dir", Arguments: map[string]any{"path": "/tmp"}},
		Result:    agent.ToolResult{Content: "a.txt"},
		Outcome:   agent.OutcomeSuccess,
	}}
	s.Reflections = []agent.ReflectionRecord{{Iteration: 1, Assessment: agent.AssessmentInProgress, CalibratedConfidence: 0.4}}
	s.RecordError(agent.SourceExecutor, "run_shell", "boom")
	return s
}

func TestFileCheckpointStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	cp := &Checkpoint{ID: "cp-1", SessionID: 7, State: *sampleState(), Config: agent.DefaultRunConfig(), CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Put(ctx, cp))

	got, err := store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.Equal(t, cp.Config, got.Config)
	assert.Equal(t, cp.State.Iteration, got.State.Iteration)
	assert.Equal(t, cp.State.ToolErrors, got.State.ToolErrors)
	assert.Equal(t, cp.State.Reflections, got.State.Reflections)

	// Overwrite in place.
	cp.State.Iteration = 3
	require.NoError(t, store.Put(ctx, cp))
	got, err = store.Get(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.State.Iteration)
}

func TestFileCheckpointStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, agent.ErrNotFound)

	_, err = store.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, agent.ErrNotFound)

	assert.Error(t, store.Put(ctx, &Checkpoint{ID: "bad/id"}))
}

func TestFileCheckpointStore_CorruptIsNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tl := logging.NewTestLogger()
	store, err := NewFileCheckpointStore(dir, tl.Logger)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, &Checkpoint{ID: "cp-1", State: *sampleState()}))

	path := filepath.Join(dir, "cp-1"+checkpointExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the payload so the checksum no longer matches.
	data[len(data)-10] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = store.Get(ctx, "cp-1")
	assert.ErrorIs(t, err, agent.ErrNotFound)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err = store.Get(ctx, "cp-1")
	assert.ErrorIs(t, err, agent.ErrNotFound)
	tl.AssertLogged(t, zapcore.WarnLevel, "unreadable checkpoint")
}

func TestFileCheckpointStore_List(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileCheckpointStore(dir, nil)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, &Checkpoint{ID: "old", State: *sampleState(), CreatedAt: base}))
	require.NoError(t, store.Put(ctx, &Checkpoint{ID: "new", State: *sampleState(), CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk"+checkpointExt), []byte("x"), 0600))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new", infos[0].ID)
	assert.Equal(t, "old", infos[1].ID)
	assert.Equal(t, "list /tmp", infos[0].Goal)
}

func TestEnvelope(t *testing.T) {
	data, err := seal(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, unseal(data, &out))
	assert.Equal(t, 1, out["a"])

	bad := []byte(`{"checksum":"00","payload":{"a":1}}`)
	assert.ErrorIs(t, unseal(bad, &out), errChecksum)
}

func TestWriteFileAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.json")
	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
