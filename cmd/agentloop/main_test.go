package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand_Heuristic(t *testing.T) {
	memDir := t.TempDir()
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "notes.txt"), []byte("hello"), 0o600))
	t.Setenv("AGENTLOOP_MEMORY_DIR", memDir)
	t.Setenv("AGENTLOOP_LOGGING_LEVEL", "error")

	out, err := execute(t, "run", "--type", "filesystem", "--root", work, "--quiet", "List the files in "+work)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:     complete")
	assert.Contains(t, out, "Iterations: 1")

	out, err = execute(t, "checkpoint", "list", "--json")
	require.NoError(t, err)
	var infos []memory.CheckpointInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, agent.StatusComplete, infos[0].Status)

	out, err = execute(t, "checkpoint", "show", infos[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"list_dir"`)

	out, err = execute(t, "episodes", "search", "--type", "filesystem", "--json=false", "list files")
	require.NoError(t, err)
	assert.Contains(t, out, "[filesystem]")
}

func TestResumeCommand_RequiresTarget(t *testing.T) {
	t.Setenv("AGENTLOOP_MEMORY_DIR", t.TempDir())
	_, err := execute(t, "resume")
	assert.Error(t, err)
}

func TestPrintResult_Waiting(t *testing.T) {
	res := &agent.Result{
		Status:       agent.StatusWaitingForClarification,
		Reason:       agent.ReasonClarificationNeeded,
		Iterations:   2,
		CheckpointID: "cp-1",
		Summary:      "Task paused.",
		Reflections:  []agent.ReflectionRecord{{NextAction: "Which directory?"}},
		Warnings:     []string{"checkpoint failed: disk full"},
	}
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, false))
	out := buf.String()
	assert.Contains(t, out, "Reason:     clarification_needed")
	assert.Contains(t, out, "The agent asks: Which directory?")
	assert.Contains(t, out, "agentloop resume --checkpoint cp-1")
	assert.Contains(t, out, "warning: checkpoint failed: disk full")

	buf.Reset()
	require.NoError(t, printResult(&buf, res, true))
	var decoded agent.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "cp-1", decoded.CheckpointID)
}

func TestPrintEpisodes_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printEpisodes(&buf, nil, false))
	assert.Equal(t, "No episodes found.\n", buf.String())

	buf.Reset()
	require.NoError(t, printCheckpoints(&buf, nil, false))
	assert.Equal(t, "No checkpoints found.\n", buf.String())
}

func TestServeCommand_Flags(t *testing.T) {
	// serve falls back to server.roots; run keeps its own default.
	assert.Equal(t, "[]", serveCmd.Flags().Lookup("root").DefValue)
	assert.Equal(t, "[.]", runCmd.Flags().Lookup("root").DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("port"))
}
