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
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionRecord is the immutable outcome of one finished session.
type SessionRecord struct {
	ID              string           `json:"id"`
	SessionID       int64            `json:"session_id"`
	RunID           string           `json:"run_id"`
	TaskType        string           `json:"task_type"`
	Goal            string           `json:"goal"`
	Status          agent.Status     `json:"status"`
	Reason          agent.StopReason `json:"reason"`
	Iterations      int              `json:"iterations"`
	FinalConfidence float64          `json:"final_confidence"`
	ToolsUsed       []string         `json:"tools_used,omitempty"`
	ErrorCount      int              `json:"error_count"`
	Summary         string           `json:"summary"`
	Learnings       []string         `json:"learnings,omitempty"`
	RecordedAt      time.Time        `json:"recorded_at"`
}

// Succeeded reports whether the session completed its task.
func (r SessionRecord) Succeeded() bool {
	return r.Status == agent.StatusComplete
}

// Evaluated reports whether the session reached a verdict that can score
// the agent's confidence. Aborted and paused sessions cannot.
func (r SessionRecord) Evaluated() bool {
	return r.Status == agent.StatusComplete || r.Status == agent.StatusFailed
}

// Accuracy summarizes past sessions of a task type for calibration.
type Accuracy struct {
	TaskType  string `json:"task_type"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
	// MeanConfidence is the mean final confidence the agent reported.
	MeanConfidence float64 `json:"mean_confidence"`
}

// Samples is the number of evaluated sessions.
func (a Accuracy) Samples() int {
	return a.Successes + a.Failures
}

// SuccessRate is the Beta(1+successes, 1+failures) posterior mean.
func (a Accuracy) SuccessRate() float64 {
	alpha := 1.0 + float64(a.Successes)
	beta := 1.0 + float64(a.Failures)
	return alpha / (alpha + beta)
}

const outcomeExt = ".outcome.json"

// OutcomeLog is an append-only log of session records, one file each.
// Existing records are never rewritten.
type OutcomeLog struct {
	dir    string
	logger *logging.Logger

	mu      sync.RWMutex
	loaded  bool
	records []SessionRecord
}

// NewOutcomeLog opens the log directory, creating it if needed.
func NewOutcomeLog(dir string, logger *logging.Logger) (*OutcomeLog, error) {
	if dir == "" {
		return nil, errors.New("outcome log directory is required")
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OutcomeLog{dir: dir, logger: logger}, nil
}

// Append writes rec as a new record. ID and RecordedAt are filled when empty.
func (l *OutcomeLog) Append(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if err := validateID(rec.ID); err != nil {
		return rec, err
	}
	data, err := seal(rec)
	if err != nil {
		return rec, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return rec, err
	}

	name := fmt.Sprintf("%020d-%s%s", rec.RecordedAt.UnixNano(), rec.ID, outcomeExt)
	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err == nil {
		return rec, fmt.Errorf("outcome record %s already exists", rec.ID)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return rec, fmt.Errorf("append outcome: %w", err)
	}
	l.records = append(l.records, rec)
	return rec, nil
}

// Records returns all readable records in append order.
func (l *OutcomeLog) Records(ctx context.Context) ([]SessionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]SessionRecord, len(l.records))
	copy(out, l.records)
	return out, nil
}

// ForTaskType returns records of one task type, newest first.
func (l *OutcomeLog) ForTaskType(ctx context.Context, taskType string) ([]SessionRecord, error) {
	all, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	var out []SessionRecord
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TaskType == taskType {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Accuracy computes calibration inputs for a task type.
func (l *OutcomeLog) Accuracy(ctx context.Context, taskType string) (Accuracy, error) {
	recs, err := l.ForTaskType(ctx, taskType)
	if err != nil {
		return Accuracy{TaskType: taskType}, err
	}
	acc := Accuracy{TaskType: taskType}
	sum := 0.0
	for _, r := range recs {
		if !r.Evaluated() {
			continue
		}
		if r.Succeeded() {
			acc.Successes++
		} else {
			acc.Failures++
		}
		sum += r.FinalConfidence
	}
	if n := acc.Samples(); n > 0 {
		acc.MeanConfidence = sum / float64(n)
	}
	return acc, nil
}

// Patterns returns up to limit distinct summaries of successful and of
// failed sessions for a task type, newest first.
func (l *OutcomeLog) Patterns(ctx context.Context, taskType string, limit int) (success, failure []string, err error) {
	recs, err := l.ForTaskType(ctx, taskType)
	if err != nil {
		return nil, nil, err
	}
	seenS, seenF := map[string]bool{}, map[string]bool{}
	for _, r := range recs {
		switch {
		case r.Succeeded() && len(success) < limit:
			p := successPattern(r)
			if !seenS[p] {
				seenS[p] = true
				success = append(success, p)
			}
		case r.Status == agent.StatusFailed && len(failure) < limit:
			p := failurePattern(r)
			if !seenF[p] {
				seenF[p] = true
				failure = append(failure, p)
			}
		}
	}
	return success, failure, nil
}

func successPattern(r SessionRecord) string {
	tools := "no tools"
	if len(r.ToolsUsed) > 0 {
		tools = strings.Join(r.ToolsUsed, ", ")
	}
	return fmt.Sprintf("%q completed in %d iteration(s) using %s", r.Goal, r.Iterations, tools)
}

func failurePattern(r SessionRecord) string {
	p := fmt.Sprintf("%q failed (%s) after %d iteration(s)", r.Goal, r.Reason, r.Iterations)
	if len(r.Learnings) > 0 {
		p += ": " + r.Learnings[0]
	}
	return p
}

// MaxSessionID returns the highest session id in the log.
func (l *OutcomeLog) MaxSessionID(ctx context.Context) (int64, error) {
	recs, err := l.Records(ctx)
	if err != nil {
		return 0, err
	}
	var highest int64
	for _, r := range recs {
		if r.SessionID > highest {
			highest = r.SessionID
		}
	}
	return highest, nil
}

func (l *OutcomeLog) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(l.dir, "*"+outcomeExt))
	if err != nil {
		return fmt.Errorf("list outcome records: %w", err)
	}
	sort.Strings(files)

	records := make([]SessionRecord, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			l.logger.Warn(ctx, "skipping unreadable outcome record", zap.String("file", f), zap.Error(err))
			continue
		}
		var rec SessionRecord
		if err := unseal(data, &rec); err != nil {
			l.logger.Warn(ctx, "skipping corrupt outcome record", zap.String("file", f), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	l.records = records
	l.loaded = true
	return nil
}
