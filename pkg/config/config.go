package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/xnode/pkg/engine"
	"github.com/cuemby/xnode/pkg/state"
	"github.com/cuemby/xnode/pkg/supervisor"
	"github.com/cuemby/xnode/pkg/xtls"
)

// Config holds the node agent configuration
type Config struct {
	// APIPort is the port of the health, readiness and metrics server
	APIPort int `yaml:"apiPort"`

	// InternalPort serves the engine config on loopback
	InternalPort int `yaml:"internalPort"`

	Engine     EngineConfig     `yaml:"engine"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`

	// ExtractionConcurrency bounds the parallel user extraction per start
	ExtractionConcurrency int `yaml:"extractionConcurrency"`
}

// EngineConfig locates the engine and its admin API
type EngineConfig struct {
	Binary              string        `yaml:"binary"`
	APIHost             string        `yaml:"apiHost"`
	APIPort             int           `yaml:"apiPort"`
	CallTimeout         time.Duration `yaml:"callTimeout"`
	HealthCheckAttempts int           `yaml:"healthCheckAttempts"`
	HealthCheckDelay    time.Duration `yaml:"healthCheckDelay"`
}

// SupervisorConfig locates supervisord and the engine program
type SupervisorConfig struct {
	Socket      string        `yaml:"socket"`
	ProcessName string        `yaml:"processName"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LogConfig selects log verbosity and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		APIPort:      3000,
		InternalPort: 61001,
		Engine: EngineConfig{
			Binary:              "/usr/local/bin/xray",
			APIHost:             xtls.DefaultHost,
			APIPort:             xtls.DefaultPort,
			CallTimeout:         xtls.DefaultCallTimeout,
			HealthCheckAttempts: engine.DefaultHealthCheckAttempts,
			HealthCheckDelay:    engine.DefaultHealthCheckDelay,
		},
		Supervisor: SupervisorConfig{
			Socket:      supervisor.DefaultSocketPath,
			ProcessName: supervisor.DefaultProcessName,
			Timeout:     supervisor.DefaultTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
		ExtractionConcurrency: state.DefaultConcurrency,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"APP_PORT", &c.APIPort},
		{"INTERNAL_REST_PORT", &c.InternalPort},
		{"XTLS_API_PORT", &c.Engine.APIPort},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"XTLS_IP", &c.Engine.APIHost},
		{"XRAY_BINARY", &c.Engine.Binary},
		{"SUPERVISOR_SOCKET", &c.Supervisor.Socket},
		{"LOG_LEVEL", &c.Log.Level},
	}
	for _, e := range strs {
		if v, ok := lookup(e.key); ok && v != "" {
			*e.dst = v
		}
	}
	return nil
}

// Validate checks the configuration for values the node cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("apiPort %d out of range", c.APIPort))
	}
	if c.InternalPort <= 0 || c.InternalPort > 65535 {
		errs = append(errs, fmt.Errorf("internalPort %d out of range", c.InternalPort))
	}
	if c.Engine.APIPort <= 0 || c.Engine.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("engine.apiPort %d out of range", c.Engine.APIPort))
	}
	if c.Engine.HealthCheckAttempts <= 0 {
		errs = append(errs, errors.New("engine.healthCheckAttempts must be positive"))
	}
	if c.Engine.HealthCheckDelay < 0 {
		errs = append(errs, errors.New("engine.healthCheckDelay must not be negative"))
	}
	if c.ExtractionConcurrency <= 0 {
		errs = append(errs, errors.New("extractionConcurrency must be positive"))
	}
	if c.Supervisor.ProcessName == "" {
		errs = append(errs, errors.New("supervisor.processName is required"))
	}

	return errors.Join(errs...)
}
