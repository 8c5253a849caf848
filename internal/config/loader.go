package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// Load merges defaults, the YAML config file and environment overrides, in
// that precedence order. A missing config file is not an error.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	if err := applyFile(&cfg, options); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, options.envLookup); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, opts loadOptions) error {
	path := opts.configPath
	if path == "" {
		if value, ok := opts.envLookup("CONDUCTOR_CONFIG"); ok && value != "" {
			path = value
		}
	}
	if path == "" {
		home, err := opts.homeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".conductor.yaml")
	}

	data, err := opts.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup EnvLookup) error {
	var errs []string

	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && value != "" {
			*dst = value
		}
	}
	strs := func(key string, dst *[]string) {
		if value, ok := lookup(key); ok && value != "" {
			var out []string
			for _, part := range strings.Split(value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*dst = out
		}
	}
	num := func(key string, dst *int) {
		if value, ok := lookup(key); ok && value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = parsed
		}
	}
	boolean := func(key string, dst *bool) {
		if value, ok := lookup(key); ok && value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration) {
		if value, ok := lookup(key); ok && value != "" {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = parsed
		}
	}
	ratio := func(key string, dst *float64) {
		if value, ok := lookup(key); ok && value != "" {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = parsed
		}
	}

	str("CONDUCTOR_ADDR", &cfg.Server.Addr)
	strs("CONDUCTOR_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	str("CONDUCTOR_LOG_LEVEL", &cfg.Logging.Level)

	num("CONDUCTOR_MAX_CONCURRENT", &cfg.Registry.MaxConcurrent)
	duration("CONDUCTOR_RETENTION_WINDOW", &cfg.Registry.RetentionWindow)
	duration("CONDUCTOR_SWEEP_INTERVAL", &cfg.Registry.SweepInterval)

	boolean("CONDUCTOR_CHAT_ENABLED", &cfg.Orchestrator.ChatEnabled)
	strs("CONDUCTOR_DEFAULT_OBSERVERS", &cfg.Orchestrator.DefaultObservers)
	duration("CONDUCTOR_RESPONSE_TIMEOUT", &cfg.Orchestrator.ResponseTimeout)
	duration("CONDUCTOR_RELEASE_DELAY", &cfg.Orchestrator.ReleaseDelay)
	num("CONDUCTOR_OUTPUT_PREVIEW_LIMIT", &cfg.Orchestrator.OutputPreviewLimit)

	str("CONDUCTOR_WORK_DIR", &cfg.Backend.WorkDir)
	str("CONDUCTOR_SHELL", &cfg.Backend.Shell)
	duration("CONDUCTOR_EXECUTION_TIMEOUT", &cfg.Backend.DefaultTimeout)

	str("CONDUCTOR_WORKSPACE_URL", &cfg.Workspace.BaseURL)
	str("CONDUCTOR_WORKSPACE_TOKEN", &cfg.Workspace.AuthToken)
	duration("CONDUCTOR_WORKSPACE_TIMEOUT", &cfg.Workspace.Timeout)

	str("CONDUCTOR_CHAT_URL", &cfg.Chat.BaseURL)
	str("CONDUCTOR_CHAT_TOKEN", &cfg.Chat.AuthToken)
	duration("CONDUCTOR_CHAT_TIMEOUT", &cfg.Chat.Timeout)

	str("CONDUCTOR_NOTIFY_URL", &cfg.Notify.BaseURL)
	str("CONDUCTOR_NOTIFY_TOKEN", &cfg.Notify.AuthToken)
	duration("CONDUCTOR_NOTIFY_TIMEOUT", &cfg.Notify.Timeout)

	boolean("CONDUCTOR_TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("CONDUCTOR_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("CONDUCTOR_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	ratio("CONDUCTOR_TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Registry.MaxConcurrent <= 0 {
		return fmt.Errorf("registry max_concurrent must be positive, got %d", cfg.Registry.MaxConcurrent)
	}
	if cfg.Registry.RetentionWindow <= 0 {
		return fmt.Errorf("registry retention_window must be positive, got %s", cfg.Registry.RetentionWindow)
	}
	if cfg.Registry.SweepInterval <= 0 {
		return fmt.Errorf("registry sweep_interval must be positive, got %s", cfg.Registry.SweepInterval)
	}
	if cfg.Orchestrator.ChatEnabled && cfg.Chat.BaseURL == "" {
		return fmt.Errorf("chat is enabled but no chat base_url is configured")
	}
	switch cfg.Tracing.Exporter {
	case "", "otlp-http", "zipkin":
	default:
		return fmt.Errorf("unknown tracing exporter %q", cfg.Tracing.Exporter)
	}
	return nil
}
