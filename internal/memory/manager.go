package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentloop/internal/memory"

// Limits bounds how much guidance LoadAll returns.
type Limits struct {
	MaxPatterns int
	MaxEpisodes int
}

// DefaultLimits returns the default guidance limits.
func DefaultLimits() Limits {
	return Limits{MaxPatterns: 5, MaxEpisodes: 3}
}

// Options wires a Manager. Checkpoints, Outcomes and Counter are required.
type Options struct {
	Checkpoints CheckpointStore
	Outcomes    *OutcomeLog
	Episodes    *EpisodeIndex
	Preferences *Preferences
	Counter     SessionCounter
	Limits      Limits
	Logger      *logging.Logger
}

// Manager is the single entry point to agent memory.
type Manager struct {
	checkpoints CheckpointStore
	outcomes    *OutcomeLog
	episodes    *EpisodeIndex
	preferences *Preferences
	counter     SessionCounter
	limits      Limits
	logger      *logging.Logger
	tracer      trace.Tracer
}

// NewManager validates and assembles a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if opts.Outcomes == nil {
		return nil, errors.New("outcome log is required")
	}
	if opts.Counter == nil {
		return nil, errors.New("session counter is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Limits.MaxPatterns < 0 || opts.Limits.MaxEpisodes < 0 {
		return nil, errors.New("limits must be >= 0")
	}
	return &Manager{
		checkpoints: opts.Checkpoints,
		outcomes:    opts.Outcomes,
		episodes:    opts.Episodes,
		preferences: opts.Preferences,
		counter:     opts.Counter,
		limits:      opts.Limits,
		logger:      opts.Logger.Named("memory"),
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// Files are the file-backed components rooted at one directory.
type Files struct {
	Checkpoints *FileCheckpointStore
	Outcomes    *OutcomeLog
	Episodes    *EpisodeIndex
	Counter     *FileSessionCounter
	Sessions    *FileSessionIndex
}

// OpenFiles creates file-backed memory components under dir:
//
//	dir/checkpoints/   one file per checkpoint
//	dir/outcomes/      append-only session records
//	dir/episodes/      chromem episode index
//	dir/session_counter
//	dir/conversations.json
func OpenFiles(dir string, logger *logging.Logger) (*Files, error) {
	if dir == "" {
		return nil, errors.New("memory directory is required")
	}
	checkpoints, err := NewFileCheckpointStore(filepath.Join(dir, "checkpoints"), logger)
	if err != nil {
		return nil, err
	}
	outcomes, err := NewOutcomeLog(filepath.Join(dir, "outcomes"), logger)
	if err != nil {
		return nil, err
	}
	episodes, err := NewEpisodeIndex(filepath.Join(dir, "episodes"))
	if err != nil {
		return nil, err
	}
	counter, err := NewFileSessionCounter(filepath.Join(dir, "session_counter"), outcomes.MaxSessionID, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := NewFileSessionIndex(filepath.Join(dir, "conversations.json"), logger)
	if err != nil {
		return nil, err
	}
	return &Files{
		Checkpoints: checkpoints,
		Outcomes:    outcomes,
		Episodes:    episodes,
		Counter:     counter,
		Sessions:    sessions,
	}, nil
}

// LoadAll gathers guidance for a task. It always returns usable guidance;
// the error reports sources that could not be read.
func (m *Manager) LoadAll(ctx context.Context, taskType, task string) (*Guidance, error) {
	ctx, span := m.tracer.Start(ctx, "memory.load_all")
	defer span.End()
	span.SetAttributes(attribute.String("task_type", taskType))

	g := &Guidance{TaskType: taskType, Accuracy: Accuracy{TaskType: taskType}}
	var errs []error

	success, failure, err := m.outcomes.Patterns(ctx, taskType, m.limits.MaxPatterns)
	if err != nil {
		errs = append(errs, fmt.Errorf("patterns: %w", err))
	}
	g.SuccessPatterns, g.FailurePatterns = success, failure

	if acc, err := m.outcomes.Accuracy(ctx, taskType); err != nil {
		errs = append(errs, fmt.Errorf("accuracy: %w", err))
	} else {
		g.Accuracy = acc
	}

	if m.episodes != nil && m.limits.MaxEpisodes > 0 {
		eps, err := m.episodes.Search(ctx, taskType, task, m.limits.MaxEpisodes)
		if err != nil {
			errs = append(errs, fmt.Errorf("episodes: %w", err))
		}
		g.Episodes = eps
	}

	if m.preferences != nil {
		g.Preferences = m.preferences.Hints(taskType)
	}

	span.SetAttributes(
		attribute.Int("success_patterns", len(g.SuccessPatterns)),
		attribute.Int("failure_patterns", len(g.FailurePatterns)),
		attribute.Int("episodes", len(g.Episodes)),
	)
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn(ctx, "guidance partially loaded", zap.Error(err))
	}
	return g, err
}

// SaveCheckpoint stores state under checkpointID, allocating an id when
// it is empty, and returns the id used. Failures wrap agent.ErrPersistence.
func (m *Manager) SaveCheckpoint(ctx context.Context, sessionID int64, state *agent.State, cfg agent.RunConfig, checkpointID string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "memory.save_checkpoint")
	defer span.End()

	if state == nil {
		return "", fmt.Errorf("%w: nil state", agent.ErrPersistence)
	}
	if checkpointID == "" {
		checkpointID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("checkpoint_id", checkpointID),
		attribute.Int64("session_id", sessionID),
		attribute.Int("iteration", state.Iteration),
	)

	cp := &Checkpoint{
		ID:        checkpointID,
		SessionID: sessionID,
		State:     *state,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.checkpoints.Put(ctx, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: save checkpoint %s: %v", agent.ErrPersistence, checkpointID, err)
	}

	m.logger.Debug(ctx, "checkpoint saved",
		zap.String("checkpoint_id", checkpointID),
		zap.Int("iteration", state.Iteration),
		zap.String("status", string(state.Status)))
	return checkpointID, nil
}

// LoadCheckpoint returns the stored state and config. Absent or corrupt
// checkpoints yield an error wrapping agent.ErrNotFound.
func (m *Manager) LoadCheckpoint(ctx context.Context, checkpointID string) (*agent.State, agent.RunConfig, error) {
	ctx, span := m.tracer.Start(ctx, "memory.load_checkpoint")
	defer span.End()
	span.SetAttributes(attribute.String("checkpoint_id", checkpointID))

	cp, err := m.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, agent.ErrNotFound) {
			return nil, agent.RunConfig{}, err
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, agent.RunConfig{}, fmt.Errorf("%w: %v", agent.ErrPersistence, err)
	}
	state := cp.State
	if state.ToolErrors == nil {
		state.ToolErrors = make(map[string]int)
	}
	return &state, cp.Config, nil
}

// ListCheckpoints returns stored checkpoints, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context) ([]CheckpointInfo, error) {
	return m.checkpoints.List(ctx)
}

// RecordSession appends the outcome of a finished session and indexes it
// as an episode. The outcome log write is the durable part; an indexing
// failure is logged and does not fail the call.
func (m *Manager) RecordSession(ctx context.Context, taskType string, rec SessionRecord) error {
	ctx, span := m.tracer.Start(ctx, "memory.record_session")
	defer span.End()

	rec.TaskType = taskType
	rec, err := m.outcomes.Append(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: record session: %v", agent.ErrPersistence, err)
	}
	span.SetAttributes(
		attribute.String("record_id", rec.ID),
		attribute.String("status", string(rec.Status)),
	)

	if m.episodes != nil {
		ep := Episode{
			ID:         rec.ID,
			SessionID:  rec.SessionID,
			TaskType:   taskType,
			Goal:       rec.Goal,
			Outcome:    string(rec.Status),
			Summary:    rec.Summary,
			Learnings:  rec.Learnings,
			RecordedAt: rec.RecordedAt,
		}
		if err := m.episodes.Add(ctx, ep); err != nil {
			span.RecordError(err)
			m.logger.Warn(ctx, "episode indexing failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	m.logger.Info(ctx, "session recorded",
		zap.String("record_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int("iterations", rec.Iterations))
	return nil
}

// SearchEpisodes exposes episode search for tooling.
func (m *Manager) SearchEpisodes(ctx context.Context, taskType, query string, k int) ([]ScoredEpisode, error) {
	if m.episodes == nil {
		return nil, nil
	}
	return m.episodes.Search(ctx, taskType, query, k)
}

// Sessions returns recorded sessions for a task type, newest first.
func (m *Manager) Sessions(ctx context.Context, taskType string) ([]SessionRecord, error) {
	return m.outcomes.ForTaskType(ctx, taskType)
}

// NextSessionID returns a new monotonically increasing session id.
func (m *Manager) NextSessionID(ctx context.Context) (int64, error) {
	id, err := m.counter.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", agent.ErrPersistence, err)
	}
	return id, nil
}

// ToolsUsed lists distinct tools called in actions, sorted.
func ToolsUsed(actions []agent.ActionRecord) []string {
	seen := map[string]bool{}
	for _, a := range actions {
		if a.Call != nil {
			seen[a.Call.Tool] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
