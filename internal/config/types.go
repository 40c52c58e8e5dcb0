package config

import "time"

// Config is the boot configuration handed to a forked worker by its parent.
type Config struct {
	Worker      WorkerConfig      `yaml:"worker"`
	Provider    ProviderConfig    `yaml:"provider"`
	Workload    WorkloadConfig    `yaml:"workload,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`

	// SourcePath is the absolute path the config was read from ("" when no file existed).
	SourcePath string `yaml:"-"`
	// Digest is the BLAKE3 hex digest of the raw boot file.
	Digest string `yaml:"-"`
}

// WorkerConfig defines process-level timers and ambient settings.
type WorkerConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	ExitTimeout     time.Duration `yaml:"exit_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	PIDFile         string        `yaml:"pid_file,omitempty"`
	MetricsTextfile string        `yaml:"metrics_textfile,omitempty"`
}

// ProviderConfig selects and configures the execution context provider.
type ProviderConfig struct {
	Name           string         `yaml:"name"`
	TrimStackTrace *bool          `yaml:"trim_stack_trace,omitempty"`
	Config         map[string]any `yaml:"config,omitempty"`
}

// TrimStack reports whether failure stacks are trimmed before encoding. Defaults to true.
func (p ProviderConfig) TrimStack() bool {
	if p.TrimStackTrace == nil {
		return true
	}
	return *p.TrimStackTrace
}

// WorkloadConfig describes which tests the provider runs.
type WorkloadConfig struct {
	// Selectors is the forked test set. Passed to the provider as-is.
	Selectors []string `yaml:"selectors,omitempty"`
	// ReadFromStdin makes the provider pull selectors from the parent one at a time.
	ReadFromStdin bool `yaml:"read_from_stdin,omitempty"`
}

const (
	// DefaultPingInterval is how often the watchdog expects a ping.
	DefaultPingInterval = 20 * time.Second
	// DefaultExitTimeout bounds a cooperative exit before the process is halted.
	DefaultExitTimeout = 30 * time.Second
)

// Defaults returns a Config with the worker defaults and no provider.
func Defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			PingInterval: DefaultPingInterval,
			ExitTimeout:  DefaultExitTimeout,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		Environment: make(map[string]string),
	}
}
