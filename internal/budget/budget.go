// Package budget implements the cost/budget tracker (SPEC_FULL.md
// §2.16): hourly token/cost tracking per loop, adapted from
// _examples/steveyegge-vc/internal/cost/budget.go's issue-cost Tracker to
// loop- and hat-activation-scoped accounting.
package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ralph-run/ralph/internal/diag"
)

// Status mirrors the teacher's BudgetStatus tri-state.
type Status int

const (
	Healthy Status = iota
	Warning
	Exceeded
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Warning:
		return "WARNING"
	case Exceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config configures the tracker. Zero MaxTokensPerHour/MaxCostPerHour
// disables that particular limit, matching the teacher's convention.
type Config struct {
	Enabled          bool
	MaxTokensPerHour int64
	MaxCostPerHour   float64
	InputTokenCost   float64 // USD per million input tokens
	OutputTokenCost  float64 // USD per million output tokens
	ResetInterval    time.Duration
	AlertThreshold   float64 // fraction (0-1) of limit that triggers Warning
	PersistStatePath string
}

func (c Config) withDefaults() Config {
	if c.ResetInterval == 0 {
		c.ResetInterval = time.Hour
	}
	if c.AlertThreshold == 0 {
		c.AlertThreshold = 0.8
	}
	return c
}

// state is the persisted window state.
type state struct {
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStart      time.Time `json:"window_start"`
	TotalTokensUsed  int64     `json:"total_tokens_used"`
	TotalCostUsed    float64   `json:"total_cost_used"`
	LastUpdated      time.Time `json:"last_updated"`
	PerHat           map[string]int64 `json:"per_hat_tokens_used"`
}

// Tracker tracks hourly and per-hat AI cost, persisted across restarts.
type Tracker struct {
	cfg Config
	mu  sync.Mutex
	st  state

	lastWarnAt     time.Time
	lastExceededAt time.Time
}

// NewTracker constructs a Tracker, attempting to restore prior state
// from cfg.PersistStatePath (restart recovery, matching the teacher).
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{
		cfg: cfg,
		st: state{
			WindowStart: time.Now(),
			PerHat:      make(map[string]int64),
			LastUpdated: time.Now(),
		},
	}
	if cfg.PersistStatePath != "" {
		if err := t.load(); err != nil {
			diag.Warn("budget: failed to load state from %s: %v (starting fresh)", cfg.PersistStatePath, err)
		}
	}
	t.resetWindowIfExpired()
	return t
}

// RecordUsage records token usage attributed to a hat activation and
// returns the resulting status.
func (t *Tracker) RecordUsage(hatName string, inputTokens, outputTokens int64) Status {
	if !t.cfg.Enabled {
		return Healthy
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetWindowIfExpired()

	total := inputTokens + outputTokens
	cost := float64(inputTokens)*t.cfg.InputTokenCost/1_000_000 + float64(outputTokens)*t.cfg.OutputTokenCost/1_000_000

	t.st.HourlyTokensUsed += total
	t.st.HourlyCostUsed += cost
	t.st.TotalTokensUsed += total
	t.st.TotalCostUsed += cost
	t.st.LastUpdated = time.Now()
	if hatName != "" {
		t.st.PerHat[hatName] += total
	}

	if err := t.persist(); err != nil {
		diag.Warn("budget: failed to persist state: %v", err)
	}

	status := t.statusLocked()
	t.maybeAlert(status)
	return status
}

// CanProceed reports whether another activation may run without
// exceeding budget, and a human-readable reason if not.
func (t *Tracker) CanProceed() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowIfExpired()
	if t.statusLocked() != Exceeded {
		return true, ""
	}
	if t.cfg.MaxTokensPerHour > 0 && t.st.HourlyTokensUsed >= t.cfg.MaxTokensPerHour {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d)", t.st.HourlyTokensUsed, t.cfg.MaxTokensPerHour)
	}
	if t.cfg.MaxCostPerHour > 0 && t.st.HourlyCostUsed >= t.cfg.MaxCostPerHour {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f)", t.st.HourlyCostUsed, t.cfg.MaxCostPerHour)
	}
	return false, "budget exceeded"
}

func (t *Tracker) statusLocked() Status {
	tokenExceeded := t.cfg.MaxTokensPerHour > 0 && t.st.HourlyTokensUsed >= t.cfg.MaxTokensPerHour
	costExceeded := t.cfg.MaxCostPerHour > 0 && t.st.HourlyCostUsed >= t.cfg.MaxCostPerHour
	if tokenExceeded || costExceeded {
		return Exceeded
	}
	if t.cfg.MaxTokensPerHour > 0 && float64(t.st.HourlyTokensUsed)/float64(t.cfg.MaxTokensPerHour) >= t.cfg.AlertThreshold {
		return Warning
	}
	if t.cfg.MaxCostPerHour > 0 && t.st.HourlyCostUsed/t.cfg.MaxCostPerHour >= t.cfg.AlertThreshold {
		return Warning
	}
	return Healthy
}

func (t *Tracker) resetWindowIfExpired() {
	if time.Since(t.st.WindowStart) >= t.cfg.ResetInterval {
		t.st.HourlyTokensUsed = 0
		t.st.HourlyCostUsed = 0
		t.st.WindowStart = time.Now()
	}
}

func (t *Tracker) maybeAlert(status Status) {
	now := time.Now()
	switch status {
	case Warning:
		if now.Sub(t.lastWarnAt) > 5*time.Minute {
			diag.Warn("budget: %.0f%% of hourly token budget used", float64(t.st.HourlyTokensUsed)/float64(maxInt64(t.cfg.MaxTokensPerHour, 1))*100)
			t.lastWarnAt = now
		}
	case Exceeded:
		if now.Sub(t.lastExceededAt) > 5*time.Minute {
			diag.Warn("budget exceeded: pausing new activations until the window resets")
			t.lastExceededAt = now
		}
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (t *Tracker) persist() error {
	if t.cfg.PersistStatePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.cfg.PersistStatePath, data, 0o644)
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.cfg.PersistStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.PerHat == nil {
		st.PerHat = make(map[string]int64)
	}
	t.st = st
	return nil
}
