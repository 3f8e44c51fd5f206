package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/config"
	"github.com/fyrsmithlabs/agentloop/internal/executor"
	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/fyrsmithlabs/agentloop/internal/orchestrator"
	"github.com/fyrsmithlabs/agentloop/internal/reflection"
	"github.com/fyrsmithlabs/agentloop/internal/telemetry"
)

// app holds everything a command needs. Close releases it in reverse
// order of construction.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	memory   *memory.Manager
	sessions memory.SessionIndex
	model    llm.Completer
	closers  []func() error
}

// openApp loads configuration and wires memory and logging. Commands that
// need a model or tools ask for them separately.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	for _, reason := range tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Logs {
		logger = logger.WithOTel(global.GetLoggerProvider())
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers,
		func() error {
			_ = logger.Sync() // best effort; stderr sync fails on some platforms
			return nil
		},
		func() error { return tel.Shutdown(context.Background()) },
	)

	if err := a.openMemory(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openMemory(ctx context.Context) error {
	mc := a.cfg.Memory
	files, err := memory.OpenFiles(mc.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open memory directory: %w", err)
	}

	opts := memory.Options{
		Checkpoints: files.Checkpoints,
		Outcomes:    files.Outcomes,
		Episodes:    files.Episodes,
		Counter:     files.Counter,
		Limits:      memory.Limits{MaxPatterns: mc.MaxPatterns, MaxEpisodes: mc.MaxEpisodes},
		Logger:      a.logger,
	}
	a.sessions = files.Sessions

	if mc.CheckpointBackend == "redis" {
		a.logger.Info(ctx, "using redis checkpoint backend",
			logging.Secret("redis_url", mc.RedisURL),
			zap.String("key_prefix", mc.RedisKeyPrefix))
		store, err := memory.NewRedisCheckpointStore(ctx, mc.RedisURL.Value(), mc.RedisKeyPrefix, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect checkpoint backend: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		opts.Checkpoints = store
		opts.Counter = store
		a.sessions = store
	}

	if mc.PreferencesFile != "" {
		prefs, err := memory.LoadPreferences(mc.PreferencesFile, a.logger)
		if err != nil {
			return fmt.Errorf("failed to load preferences: %w", err)
		}
		if mc.WatchPreferences {
			if err := prefs.Watch(ctx); err != nil {
				a.logger.Warn(ctx, "preferences will not reload", zap.Error(err))
			} else {
				a.closers = append(a.closers, prefs.Close)
			}
		}
		opts.Preferences = prefs
	}

	m, err := memory.NewManager(opts)
	if err != nil {
		return err
	}
	a.memory = m
	return nil
}

// openModel builds the configured completer. Provider "none" returns nil,
// which makes planning and reflection heuristic.
func (a *app) openModel() (llm.Completer, error) {
	lc := a.cfg.LLM
	if lc.Provider != "none" {
		a.logger.Info(context.Background(), "model provider configured",
			zap.String("provider", lc.Provider),
			zap.String("model", lc.Model),
			logging.Secret("api_key", lc.APIKey))
	}
	switch lc.Provider {
	case "anthropic":
		client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
			BaseURL:           lc.BaseURL,
			Model:             lc.Model,
			APIKey:            lc.APIKey.Value(),
			RequestsPerMinute: lc.RequestsPerMinute,
			Burst:             lc.Burst,
			MaxRetries:        lc.MaxRetries,
			Timeout:           lc.Timeout.Duration(),
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		model, err := openai.New(
			openai.WithToken(lc.APIKey.Value()),
			openai.WithModel(lc.Model),
			openai.WithBaseURL(lc.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		adapter, err := llm.NewLangChain(model)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, nil
	}
}

// openTools registers the builtins under roots and, when mcpCommand is
// set, the tools of an MCP server started as a subprocess.
func (a *app) openTools(ctx context.Context, roots []string, mcpCommand string) (agent.Executor, error) {
	reg := executor.NewRegistry()
	if err := executor.RegisterBuiltins(reg, roots...); err != nil {
		return nil, err
	}
	if mcpCommand == "" {
		return reg, nil
	}

	fields := strings.Fields(mcpCommand)
	transport := &mcp.CommandTransport{Command: exec.Command(fields[0], fields[1:]...)}
	remote, err := executor.ConnectMCP(ctx, executor.MCPConfig{Name: "agentloop", Version: version}, transport, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, remote.Close)
	return executor.NewMulti(reg, remote), nil
}

func (a *app) orchestrator(model llm.Completer, onProgress orchestrator.ProgressCallback) (*orchestrator.Orchestrator, error) {
	mc := a.cfg.Memory
	redactor, err := a.cfg.Secrets.Redactor()
	if err != nil {
		return nil, err
	}
	if redactor == nil {
		a.logger.Warn(context.Background(), "tool output redaction is disabled")
	}
	return orchestrator.New(orchestrator.Options{
		Memory:     a.memory,
		Sessions:   a.sessions,
		Model:      model,
		Calibrator: reflection.NewBetaCalibrator(mc.MinSamples, mc.PriorStrength),
		Redactor:   redactor,
		Config:     a.cfg.RunConfig(),
		OnProgress: onProgress,
		Logger:     a.logger,
	})
}

// serveMetrics exposes /metrics until the returned stop func is called.
func (a *app) serveMetrics(ctx context.Context) func() {
	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn(ctx, "metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info(ctx, "metrics endpoint started", zap.String("addr", addr))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// Close runs closers in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
