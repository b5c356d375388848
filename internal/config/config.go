// Package config loads and validates the YAML hat/loop configuration
// consumed by the core (spec.md §1 places the schema design itself out
// of scope; this package fixes the Go shape of its output).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ralph-run/ralph/internal/hat"
	"github.com/ralph-run/ralph/internal/ralphapi"
)

// Config is the validated, defaulted result of loading a loop's YAML
// configuration file.
type Config struct {
	StartTopic        string        `yaml:"start_topic"`
	CompletionPromise string        `yaml:"completion_promise"`
	Backend           string        `yaml:"backend"` // "claude" | "amp" | "opencode"
	BackendBinary     string        `yaml:"backend_binary"`

	MaxIterations int           `yaml:"max_iterations"`
	MaxRuntime    time.Duration `yaml:"max_runtime"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	AskHumanTimeout time.Duration `yaml:"ask_human_timeout"`

	ParallelEnabled bool `yaml:"parallel_enabled"`
	Exclusive       bool `yaml:"-"` // set from --exclusive flag, not config file
	AutoMerge       bool `yaml:"auto_merge"`

	Role string `yaml:"role"` // "" (primary/worktree) | "merge" — DESIGN.md recursion guard

	RouterQueueCapacity int `yaml:"router_queue_capacity"`

	AILoopCheckInterval int  `yaml:"ai_loop_check_interval"`
	EnableAILoopCheck    bool `yaml:"enable_ai_loop_check"`

	Budget BudgetConfig `yaml:"budget"`

	Hats []hat.Hat `yaml:"hats"`
}

// BudgetConfig configures the cost/budget tracker (SPEC_FULL.md §2.16).
type BudgetConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MaxTokensPerHour  int64   `yaml:"max_tokens_per_hour"`
	MaxCostPerHour    float64 `yaml:"max_cost_per_hour"`
	InputTokenCost    float64 `yaml:"input_token_cost_per_million"`
	OutputTokenCost   float64 `yaml:"output_token_cost_per_million"`
	PersistStatePath  string  `yaml:"persist_state_path"`
}

// Default returns a Config with spec.md-sensible defaults applied.
func Default() Config {
	return Config{
		StartTopic:          "task.start",
		CompletionPromise:   "DONE",
		Backend:             "claude",
		MaxIterations:       0, // 0 = unlimited
		MaxRuntime:          0,
		IdleTimeout:         5 * time.Minute,
		AskHumanTimeout:     10 * time.Minute,
		ParallelEnabled:     true,
		AutoMerge:           true,
		RouterQueueCapacity: 64,
		AILoopCheckInterval: 5,
		EnableAILoopCheck:   false,
		Budget: BudgetConfig{
			Enabled:         false,
			InputTokenCost:  3.0,
			OutputTokenCost: 15.0,
		},
	}
}

// Load reads and validates a YAML config file, applying defaults for any
// zero-valued field the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is legal: defaults + implicit hat apply.
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("%w: read %s: %v", ralphapi.ErrConfigInvalid, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ralphapi.ErrConfigInvalid, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks structural invariants not expressible in the YAML
// schema alone. Failures are ErrConfigInvalid (spec.md §7: "fail fast at
// Boot with a descriptive message and exit 1").
func (c Config) Validate() error {
	if c.StartTopic == "" {
		return fmt.Errorf("%w: start_topic must not be empty", ralphapi.ErrConfigInvalid)
	}
	if c.CompletionPromise == "" {
		return fmt.Errorf("%w: completion_promise must not be empty", ralphapi.ErrConfigInvalid)
	}
	switch c.Backend {
	case "claude", "amp", "opencode":
	default:
		return fmt.Errorf("%w: unknown backend %q", ralphapi.ErrConfigInvalid, c.Backend)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be >= 0", ralphapi.ErrConfigInvalid)
	}
	if c.Role != "" && c.Role != "merge" {
		return fmt.Errorf("%w: unknown role %q", ralphapi.ErrConfigInvalid, c.Role)
	}
	if _, err := hat.NewRegistry(c.Hats); err != nil {
		return fmt.Errorf("%w: %v", ralphapi.ErrConfigInvalid, err)
	}
	return nil
}

// Registry builds the Hat Registry from the config, falling back to the
// implicit hat when no hats are declared (spec.md §4.2).
func (c Config) Registry() (*hat.Registry, error) {
	if len(c.Hats) == 0 {
		h, err := hat.ImplicitHat(c.StartTopic)
		if err != nil {
			return nil, err
		}
		return hat.NewRegistry([]hat.Hat{*h})
	}
	return hat.NewRegistry(c.Hats)
}
