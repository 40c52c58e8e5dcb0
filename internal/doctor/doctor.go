// Package doctor validates a forkboot boot configuration without running it.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/forkboot/internal/config"
	"github.com/mattjoyce/forkboot/internal/lock"
	"github.com/mattjoyce/forkboot/internal/provider"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid" yaml:"valid"`
	Errors   []Issue `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category" yaml:"category"`
	Message  string `json:"message" yaml:"message"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
}

// minSaneInterval flags timers short enough to be a unit mistake.
const minSaneInterval = time.Second

var unresolvedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a loaded config against the provider registry.
type Doctor struct {
	cfg      *config.Config
	registry *provider.Registry
	lookPath func(string) (string, error)
	checkFS  func(string) error
}

// New creates a Doctor from a loaded config and provider registry.
func New(cfg *config.Config, registry *provider.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry, lookPath: exec.LookPath, checkFS: lock.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateWorker(r)
	d.validateProvider(r)
	d.validateProcessCommand(r)
	d.validateOutputs(r)
	d.warnEmptyWorkload(r)
	d.warnUnresolvedVars(r)
	d.warnHeldPIDFile(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateWorker(r *Result) {
	w := d.cfg.Worker
	if w.PingInterval <= 0 {
		d.addError(r, "worker", "worker.ping_interval", "ping_interval must be positive")
	} else if w.PingInterval < minSaneInterval {
		d.addWarning(r, "worker", "worker.ping_interval",
			fmt.Sprintf("ping_interval %s is very short; the parent must ping faster than this", w.PingInterval))
	}
	if w.ExitTimeout <= 0 {
		d.addError(r, "worker", "worker.exit_timeout", "exit_timeout must be positive")
	} else if w.ExitTimeout < minSaneInterval {
		d.addWarning(r, "worker", "worker.exit_timeout",
			fmt.Sprintf("exit_timeout %s leaves exit hooks almost no time", w.ExitTimeout))
	}
}

func (d *Doctor) validateProvider(r *Result) {
	name := d.cfg.Provider.Name
	if name == "" {
		d.addError(r, "provider", "provider.name",
			fmt.Sprintf("provider.name is required (registered: %s)", strings.Join(d.registry.Names(), ", ")))
		return
	}
	if _, ok := d.registry.Get(name); !ok {
		d.addError(r, "provider", "provider.name",
			fmt.Sprintf("provider %q is not registered (registered: %s)", name, strings.Join(d.registry.Names(), ", ")))
		return
	}
	if err := d.registry.Validate(name, d.cfg.Provider.Config); err != nil {
		d.addError(r, "provider", "provider.config", err.Error())
	}
}

// validateProcessCommand checks that the process provider's command can be found.
func (d *Doctor) validateProcessCommand(r *Result) {
	if d.cfg.Provider.Name != "process" {
		return
	}
	command, _ := d.cfg.Provider.Config["command"].(string)
	if command == "" {
		return
	}
	if _, err := d.lookPath(command); err != nil {
		d.addError(r, "provider", "provider.config.command",
			fmt.Sprintf("command %q not found: %v", command, err))
	}
	if dir, _ := d.cfg.Provider.Config["dir"].(string); dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			d.addError(r, "provider", "provider.config.dir", fmt.Sprintf("working directory %q does not exist", dir))
		}
	}
}

func (d *Doctor) validateOutputs(r *Result) {
	if path := d.cfg.Worker.MetricsTextfile; path != "" {
		if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
			d.addError(r, "worker", "worker.metrics_textfile",
				fmt.Sprintf("directory for %q does not exist", path))
		}
	}
}

func (d *Doctor) warnEmptyWorkload(r *Result) {
	if d.cfg.Workload.ReadFromStdin || len(d.cfg.Workload.Selectors) > 0 {
		return
	}
	d.addWarning(r, "workload", "workload.selectors",
		"no selectors and read_from_stdin is false; the provider runs with an empty test set")
}

// warnUnresolvedVars reports ${VAR} references left in provider config
// after interpolation.
func (d *Doctor) warnUnresolvedVars(r *Result) {
	var walk func(field string, v any)
	walk = func(field string, v any) {
		switch t := v.(type) {
		case string:
			for _, m := range unresolvedVar.FindAllStringSubmatch(t, -1) {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		case []any:
			for i, item := range t {
				walk(fmt.Sprintf("%s[%d]", field, i), item)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(field+"."+k, t[k])
			}
		}
	}
	walk("provider.config", d.cfg.Provider.Config)
}

// warnHeldPIDFile warns when another worker currently owns the pid file or
// when the file sits where flock cannot be trusted.
func (d *Doctor) warnHeldPIDFile(r *Result) {
	path := d.cfg.Worker.PIDFile
	if path == "" {
		return
	}
	if err := d.checkFS(path); err != nil {
		d.addWarning(r, "worker", "worker.pid_file", err.Error())
	}

	held, err := lock.Held(path)
	if err != nil {
		d.addError(r, "worker", "worker.pid_file", err.Error())
		return
	}
	if !held {
		return
	}
	msg := "pid file is held by another worker"
	if pid, perr := lock.ReadPID(path); perr == nil {
		msg = fmt.Sprintf("pid file is held by running worker %d", pid)
	}
	d.addWarning(r, "worker", "worker.pid_file", msg)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FormatYAML returns the result as YAML.
func FormatYAML(r *Result) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
