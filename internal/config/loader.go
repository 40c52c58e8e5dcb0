package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the boot configuration at configPath.
// A file that does not exist is not an error here: the worker boots from
// Defaults() and validation decides whether that is enough to run.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return finish(Defaults())
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := VerifyChecksumFile(absPath, data); err != nil {
		return nil, err
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.Digest = Blake3Hex(data)

	return finish(cfg)
}

// LoadReader parses a boot configuration from r. A nil reader yields the defaults.
func LoadReader(r io.Reader) (*Config, error) {
	if r == nil {
		return finish(Defaults())
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Digest = Blake3Hex(data)
	return finish(cfg)
}

func parse(data []byte) (*Config, error) {
	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Worker.PingInterval == 0 {
		cfg.Worker.PingInterval = defaults.Worker.PingInterval
	}
	if cfg.Worker.ExitTimeout == 0 {
		cfg.Worker.ExitTimeout = defaults.Worker.ExitTimeout
	}
	if cfg.Worker.LogLevel == "" {
		cfg.Worker.LogLevel = defaults.Worker.LogLevel
	}
	if cfg.Worker.LogFormat == "" {
		cfg.Worker.LogFormat = defaults.Worker.LogFormat
	}
	if cfg.Environment == nil {
		cfg.Environment = make(map[string]string)
	}
	if cfg.Provider.Config == nil {
		cfg.Provider.Config = make(map[string]any)
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs structural validation. Whether the provider name is
// registered is checked at resolution time, not here.
func validate(cfg *Config) error {
	if cfg.Worker.PingInterval < 0 {
		return fmt.Errorf("worker.ping_interval must be positive")
	}
	if cfg.Worker.ExitTimeout < 0 {
		return fmt.Errorf("worker.exit_timeout must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Worker.LogLevel] {
		return fmt.Errorf("worker.log_level must be one of: debug, info, warn, error (got %q)", cfg.Worker.LogLevel)
	}
	if cfg.Worker.LogFormat != "json" && cfg.Worker.LogFormat != "text" {
		return fmt.Errorf("worker.log_format must be json or text (got %q)", cfg.Worker.LogFormat)
	}

	if cfg.Workload.ReadFromStdin && len(cfg.Workload.Selectors) > 0 {
		return fmt.Errorf("workload.selectors and workload.read_from_stdin are mutually exclusive")
	}

	for key, value := range cfg.Environment {
		if key == "" {
			return fmt.Errorf("environment: empty variable name")
		}
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("environment.%s: environment variable ${%s} is not set", key, matches[1])
		}
	}

	return nil
}
