package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Recorder    RecorderConfig    `yaml:"recorder"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Store       StoreConfig       `yaml:"store"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// RecorderConfig holds capture scheduling and retention settings.
type RecorderConfig struct {
	Interval       time.Duration `yaml:"interval"`        // between cycles
	ScreenshotDir  string        `yaml:"screenshot_dir"`
	CaptureCommand string        `yaml:"capture_command"` // template with {path}; empty = platform default
	KeepLastN      int           `yaml:"keep_last_n"`     // screenshots retained by cleanup
	RetentionDays  int           `yaml:"retention_days"`  // activity records retained by cleanup
	CaptureTimeout time.Duration `yaml:"capture_timeout"` // capture_now wait bound
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`  // graceful stop bound on exit
}

// AnalysisConfig holds the multimodal analysis service settings.
type AnalysisConfig struct {
	BaseURL           string               `yaml:"base_url"`
	APIKey            string               `yaml:"api_key"`
	Model             string               `yaml:"model"`
	SummaryModel      string               `yaml:"summary_model"` // text model for time-range summaries
	ConnTimeout       time.Duration        `yaml:"conn_timeout"`
	RespTimeout       time.Duration        `yaml:"resp_timeout"`
	RequestsPerMinute int                  `yaml:"requests_per_minute"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the analysis service.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// StoreConfig holds activity log settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// MaintenanceConfig holds off-cycle maintenance scheduling. When enabled,
// prune and screenshot retention also run while no session is recording.
type MaintenanceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
}

// GatewayConfig holds the WebSocket control gateway settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.lookback. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".lookback")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Recorder: RecorderConfig{
			Interval:       180 * time.Second,
			ScreenshotDir:  filepath.Join(dataDir, "screenshots"),
			KeepLastN:      50,
			RetentionDays:  30,
			CaptureTimeout: 30 * time.Second,
			ShutdownGrace:  5 * time.Second,
		},
		Analysis: AnalysisConfig{
			BaseURL:           "https://dashscope.aliyuncs.com/api/v1",
			Model:             "qwen3-vl-plus",
			SummaryModel:      "qwen-plus",
			ConnTimeout:       30 * time.Second,
			RespTimeout:       120 * time.Second,
			RequestsPerMinute: 30,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "activity.db"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8391",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			// stdout carries framed messages; logs must stay on stderr.
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps LOOKBACK_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOOKBACK_API_KEY"); v != "" {
		cfg.Analysis.APIKey = v
	}
	if v := os.Getenv("LOOKBACK_MODEL"); v != "" {
		cfg.Analysis.Model = v
	}
	if v := os.Getenv("LOOKBACK_ANALYSIS_BASE_URL"); v != "" {
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv("LOOKBACK_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Recorder.Interval = time.Duration(secs) * time.Second
		} else if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Recorder.Interval = d
		}
	}
	if v := os.Getenv("LOOKBACK_SCREENSHOT_DIR"); v != "" {
		cfg.Recorder.ScreenshotDir = v
	}
	if v := os.Getenv("LOOKBACK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LOOKBACK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOOKBACK_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("LOOKBACK_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
		if cfg.Tracer.Exporter == "" || cfg.Tracer.Exporter == "noop" {
			cfg.Tracer.Exporter = "stdout"
		}
	}
	if v := os.Getenv("LOOKBACK_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Enabled = true
		cfg.Gateway.Addr = v
	}
}

// Validate checks configuration invariants.
func Validate(cfg *Config) error {
	if cfg.Recorder.Interval <= 0 {
		return fmt.Errorf("config: recorder.interval must be positive, got %v", cfg.Recorder.Interval)
	}
	if cfg.Recorder.KeepLastN < 0 {
		return fmt.Errorf("config: recorder.keep_last_n must not be negative, got %d", cfg.Recorder.KeepLastN)
	}
	if cfg.Recorder.RetentionDays < 0 {
		return fmt.Errorf("config: recorder.retention_days must not be negative, got %d", cfg.Recorder.RetentionDays)
	}
	if cfg.Recorder.CaptureTimeout <= 0 {
		return fmt.Errorf("config: recorder.capture_timeout must be positive, got %v", cfg.Recorder.CaptureTimeout)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("config: store.path must not be empty")
	}
	if cfg.Gateway.Enabled && cfg.Gateway.Addr == "" {
		return fmt.Errorf("config: gateway.addr must be set when the gateway is enabled")
	}
	if cfg.Maintenance.Enabled && cfg.Maintenance.Schedule == "" {
		return fmt.Errorf("config: maintenance.schedule must be set when maintenance is enabled")
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unsupported logger.format %q", cfg.Logger.Format)
	}
	return nil
}
