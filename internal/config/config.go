package config

import (
	"time"
)

// Config is the full runtime configuration for the conductor service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Registry     RegistryConfig     `yaml:"registry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Backend      BackendConfig      `yaml:"backend"`
	Workspace    EndpointConfig     `yaml:"workspace"`
	Chat         EndpointConfig     `yaml:"chat"`
	Notify       EndpointConfig     `yaml:"notify"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RegistryConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RetentionWindow time.Duration `yaml:"retention_window"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type OrchestratorConfig struct {
	ChatEnabled        bool          `yaml:"chat_enabled"`
	DefaultObservers   []string      `yaml:"default_observers"`
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
	ReleaseDelay       time.Duration `yaml:"release_delay"`
	OutputPreviewLimit int           `yaml:"output_preview_limit"`
}

type BackendConfig struct {
	WorkDir        string        `yaml:"work_dir"`
	Shell          string        `yaml:"shell"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// EndpointConfig describes one external collaborator HTTP service. An empty
// base URL disables the collaborator.
type EndpointConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http or zipkin
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8844",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Registry: RegistryConfig{
			MaxConcurrent:   5,
			RetentionWindow: 30 * time.Minute,
			SweepInterval:   5 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			ChatEnabled:        false,
			ResponseTimeout:    30 * time.Second,
			ReleaseDelay:       time.Minute,
			OutputPreviewLimit: 2000,
		},
		Backend: BackendConfig{
			WorkDir:        "./conductor-tasks",
			Shell:          "sh",
			DefaultTimeout: 10 * time.Minute,
		},
		Workspace: EndpointConfig{Timeout: 10 * time.Second},
		Chat:      EndpointConfig{Timeout: 10 * time.Second},
		Notify:    EndpointConfig{Timeout: 10 * time.Second},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			SampleRatio: 1.0,
		},
	}
}
