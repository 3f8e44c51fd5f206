// Package config provides configuration loading for agentloop.
//
// Values come from built-in defaults, then an optional YAML file, then
// AGENTLOOP_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/secrets"
)

// Config holds the complete agentloop configuration.
type Config struct {
	Agent     AgentConfig     `koanf:"agent"`
	Memory    MemoryConfig    `koanf:"memory"`
	LLM       LLMConfig       `koanf:"llm"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Secrets   SecretsConfig   `koanf:"secrets"`
}

// AgentConfig holds the run budgets and thresholds.
type AgentConfig struct {
	MaxIterations            int      `koanf:"max_iterations"`
	CheckpointInterval       int      `koanf:"checkpoint_interval"`
	ErrorThreshold           int      `koanf:"error_threshold"`
	DiagnosticThreshold      int      `koanf:"diagnostic_threshold"`
	CompletionThreshold      float64  `koanf:"completion_threshold"`
	MinPlanConfidence        float64  `koanf:"min_plan_confidence"`
	ReflectionWindow         int      `koanf:"reflection_window"`
	TimeBudget               Duration `koanf:"time_budget"`
	StepTimeout              Duration `koanf:"step_timeout"`
	TolerateCheckpointErrors bool     `koanf:"tolerate_checkpoint_errors"`
}

// MemoryConfig holds persistence settings.
type MemoryConfig struct {
	Dir               string  `koanf:"dir"`
	CheckpointBackend string  `koanf:"checkpoint_backend"` // file | redis
	RedisURL          Secret  `koanf:"redis_url"`
	RedisKeyPrefix    string  `koanf:"redis_key_prefix"`
	MaxPatterns       int     `koanf:"max_patterns"`
	MaxEpisodes       int     `koanf:"max_episodes"`
	PreferencesFile   string  `koanf:"preferences_file"`
	WatchPreferences  bool    `koanf:"watch_preferences"`
	MinSamples        int     `koanf:"calibration_min_samples"`
	PriorStrength     float64 `koanf:"calibration_prior_strength"`
}

// LLMConfig holds language model settings.
type LLMConfig struct {
	Provider          string   `koanf:"provider"` // none | anthropic | openai
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	Burst             int      `koanf:"burst"`
	MaxRetries        int      `koanf:"max_retries"`
	Timeout           Duration `koanf:"timeout"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// ServerConfig controls the HTTP API started by "agentloop serve".
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Roots are the directories the builtin filesystem tools may read.
	Roots           []string `koanf:"roots"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SecretsConfig controls redaction of tool output. Redaction is on unless
// disabled; extra rules add to the built-in set.
type SecretsConfig struct {
	DisableRedaction bool           `koanf:"disable_redaction"`
	Replacement      string         `koanf:"replacement"`
	AllowList        []string       `koanf:"allow_list"`
	ExtraRules       []secrets.Rule `koanf:"extra_rules"`
	// Gitleaks adds the gitleaks rule set; it is slower to start.
	Gitleaks bool `koanf:"gitleaks"`
}

// Redactor builds the configured redactor, or nil when redaction is off.
func (s SecretsConfig) Redactor() (*secrets.Redactor, error) {
	if s.DisableRedaction {
		return nil, nil
	}
	return secrets.New(s.options())
}

func (s SecretsConfig) options() secrets.Options {
	return secrets.Options{
		ExtraRules:  s.ExtraRules,
		AllowList:   s.AllowList,
		Replacement: s.Replacement,
		Gitleaks:    s.Gitleaks,
	}
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// TelemetryConfig controls OTLP export of traces, metrics and logs.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc | http/protobuf
	Insecure        bool     `koanf:"insecure"`
	CAFile          string   `koanf:"ca_file"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// Logs tees log entries into the OpenTelemetry log pipeline.
	Logs bool `koanf:"logs"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	a := &cfg.Agent
	if a.MaxIterations == 0 {
		a.MaxIterations = 10
	}
	if a.CheckpointInterval == 0 {
		a.CheckpointInterval = 3
	}
	if a.ErrorThreshold == 0 {
		a.ErrorThreshold = 3
	}
	if a.DiagnosticThreshold == 0 {
		a.DiagnosticThreshold = 2
	}
	if a.CompletionThreshold == 0 {
		a.CompletionThreshold = 0.7
	}
	if a.MinPlanConfidence == 0 {
		a.MinPlanConfidence = 0.5
	}
	if a.ReflectionWindow == 0 {
		a.ReflectionWindow = 5
	}
	if a.StepTimeout == 0 {
		a.StepTimeout = Duration(2 * time.Minute)
	}

	m := &cfg.Memory
	if m.Dir == "" {
		m.Dir = ".agentloop"
	}
	if m.CheckpointBackend == "" {
		m.CheckpointBackend = "file"
	}
	if m.RedisKeyPrefix == "" {
		m.RedisKeyPrefix = "agentloop"
	}
	if m.MaxPatterns == 0 {
		m.MaxPatterns = 5
	}
	if m.MaxEpisodes == 0 {
		m.MaxEpisodes = 3
	}
	if m.MinSamples == 0 {
		m.MinSamples = 3
	}
	if m.PriorStrength == 0 {
		m.PriorStrength = 5
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = "none"
	}
	if l.BaseURL == "" {
		switch l.Provider {
		case "openai":
			l.BaseURL = "https://api.openai.com/v1"
		default:
			l.BaseURL = "https://api.anthropic.com"
		}
	}
	if l.Model == "" {
		switch l.Provider {
		case "openai":
			l.Model = "gpt-4o-mini"
		default:
			l.Model = "claude-3-5-haiku-latest"
		}
	}
	if l.RequestsPerMinute == 0 {
		l.RequestsPerMinute = 50
	}
	if l.Burst == 0 {
		l.Burst = 5
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 3
	}
	if l.Timeout == 0 {
		l.Timeout = Duration(60 * time.Second)
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.ServiceName == "" {
		t.ServiceName = "agentloop"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1
	}
	if t.ExportInterval == 0 {
		t.ExportInterval = Duration(15 * time.Second)
	}
	if t.ShutdownTimeout == 0 {
		t.ShutdownTimeout = Duration(5 * time.Second)
	}

	srv := &cfg.Server
	if srv.Host == "" {
		srv.Host = "localhost"
	}
	if srv.Port == 0 {
		srv.Port = 9090
	}
	if len(srv.Roots) == 0 {
		srv.Roots = []string{"."}
	}
	if srv.ShutdownTimeout == 0 {
		srv.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	a := c.Agent
	if a.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be >= 1, got %d", a.MaxIterations))
	}
	if a.CheckpointInterval < 1 {
		errs = append(errs, fmt.Errorf("agent.checkpoint_interval must be >= 1, got %d", a.CheckpointInterval))
	}
	if a.ErrorThreshold < 1 {
		errs = append(errs, fmt.Errorf("agent.error_threshold must be >= 1, got %d", a.ErrorThreshold))
	}
	if a.DiagnosticThreshold < 1 {
		errs = append(errs, fmt.Errorf("agent.diagnostic_threshold must be >= 1, got %d", a.DiagnosticThreshold))
	}
	if a.CompletionThreshold <= 0 || a.CompletionThreshold > 1 {
		errs = append(errs, fmt.Errorf("agent.completion_threshold must be in (0, 1], got %v", a.CompletionThreshold))
	}
	if a.MinPlanConfidence < 0 || a.MinPlanConfidence > 1 {
		errs = append(errs, fmt.Errorf("agent.min_plan_confidence must be in [0, 1], got %v", a.MinPlanConfidence))
	}
	if a.ReflectionWindow < 1 {
		errs = append(errs, fmt.Errorf("agent.reflection_window must be >= 1, got %d", a.ReflectionWindow))
	}

	switch c.Memory.CheckpointBackend {
	case "file":
	case "redis":
		if !c.Memory.RedisURL.IsSet() {
			errs = append(errs, errors.New("memory.redis_url is required for the redis checkpoint backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.checkpoint_backend must be 'file' or 'redis', got %q", c.Memory.CheckpointBackend))
	}
	if c.Memory.MaxPatterns < 0 || c.Memory.MaxEpisodes < 0 {
		errs = append(errs, errors.New("memory limits must be >= 0"))
	}

	switch c.LLM.Provider {
	case "none":
	case "anthropic", "openai":
		if !c.LLM.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("llm.api_key is required for the %s provider", c.LLM.Provider))
		}
		if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("llm.base_url is invalid: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be 'none', 'anthropic' or 'openai', got %q", c.LLM.Provider))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in [0, 65535], got %d", c.Server.Port))
	}

	// Compile the patterns only; the gitleaks rule set is loaded on use.
	secretOpts := c.Secrets.options()
	secretOpts.Gitleaks = false
	if _, err := secrets.New(secretOpts); err != nil {
		errs = append(errs, fmt.Errorf("secrets: %w", err))
	}

	if c.Telemetry.Enabled {
		errs = append(errs, c.Telemetry.validate()...)
	}

	return errors.Join(errs...)
}

func (t TelemetryConfig) validate() []error {
	var errs []error
	if t.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if t.Protocol != "grpc" && t.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", t.Protocol))
	}
	// Plaintext export is only allowed to the local collector.
	if t.Insecure && !isLocalEndpoint(t.Endpoint) {
		errs = append(errs, errors.New("telemetry.insecure is only allowed for localhost endpoints"))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be in [0, 1], got %v", t.SampleRate))
	}
	if t.ExportInterval.Duration() <= 0 || t.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("telemetry durations must be positive"))
	}
	return errs
}

// isLocalEndpoint reports whether a host:port or URL endpoint names the
// loopback interface.
func isLocalEndpoint(endpoint string) bool {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RunConfig converts the agent section into the budgets of one run.
func (c *Config) RunConfig() agent.RunConfig {
	a := c.Agent
	return agent.RunConfig{
		MaxIterations:            a.MaxIterations,
		CheckpointInterval:       a.CheckpointInterval,
		ErrorThreshold:           a.ErrorThreshold,
		DiagnosticThreshold:      a.DiagnosticThreshold,
		CompletionThreshold:      a.CompletionThreshold,
		MinPlanConfidence:        a.MinPlanConfidence,
		ReflectionWindow:         a.ReflectionWindow,
		TimeBudget:               a.TimeBudget.Duration(),
		StepTimeout:              a.StepTimeout.Duration(),
		TolerateCheckpointErrors: a.TolerateCheckpointErrors,
	}
}
