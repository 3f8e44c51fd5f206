package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"go.uber.org/zap"
)

// Preference is one user hint. An empty TaskTypes applies to every task.
type Preference struct {
	Hint      string   `toml:"hint"`
	TaskTypes []string `toml:"task_types"`
}

type preferencesFile struct {
	Preference []Preference `toml:"preference"`
}

// Preferences holds user hints loaded from a TOML file:
//
//	[[preference]]
//	hint = "Prefer read-only tools"
//	task_types = ["filesystem"]
//
// A missing file yields no hints.
type Preferences struct {
	path   string
	logger *logging.Logger

	mu    sync.RWMutex
	prefs []Preference

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// LoadPreferences reads path. An empty path yields an empty set.
func LoadPreferences(path string, logger *logging.Logger) (*Preferences, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Preferences{path: path, logger: logger}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the file. On error the previous hints are kept.
func (p *Preferences) Reload() error {
	if p.path == "" {
		return nil
	}
	var f preferencesFile
	if _, err := toml.DecodeFile(p.path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.set(nil)
			return nil
		}
		return fmt.Errorf("parse preferences %s: %w", p.path, err)
	}
	valid := f.Preference[:0]
	for _, pref := range f.Preference {
		pref.Hint = strings.TrimSpace(pref.Hint)
		if pref.Hint != "" {
			valid = append(valid, pref)
		}
	}
	p.set(valid)
	return nil
}

func (p *Preferences) set(prefs []Preference) {
	p.mu.Lock()
	p.prefs = prefs
	p.mu.Unlock()
}

// Hints returns the hints that apply to taskType, in file order.
func (p *Preferences) Hints(taskType string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, pref := range p.prefs {
		if len(pref.TaskTypes) == 0 || contains(pref.TaskTypes, taskType) {
			out = append(out, pref.Hint)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Watch reloads the file whenever it changes until ctx is done or Close
// is called. The parent directory is watched so editors that replace the
// file by rename are seen.
func (p *Preferences) Watch(ctx context.Context) error {
	if p.path == "" {
		return errors.New("no preferences file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = w
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.watch(ctx)
	return nil
}

func (p *Preferences) watch(ctx context.Context) {
	defer close(p.done)
	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := p.Reload(); err != nil {
				p.logger.Warn(ctx, "preferences reload failed, keeping previous hints", zap.Error(err))
				continue
			}
			p.logger.Debug(ctx, "preferences reloaded", zap.String("path", p.path))
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn(ctx, "preferences watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (p *Preferences) Close() error {
	if p.watcher == nil {
		return nil
	}
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}
	err := p.watcher.Close()
	<-p.done
	return err
}
