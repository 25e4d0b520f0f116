// Package config loads the swarm's layered configuration: defaults
// merged in Go, overridable by a YAML file and then by CLI flags,
// following the teacher's internal/config approach (DefaultConfig +
// LoadConfig + hand-written Validate, no external validation-tag
// library).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BudgetConfig configures the per-worker budget tracker (C6) and the
// shared, cross-worker economics (C7).
type BudgetConfig struct {
	MaxTokens         int64 `yaml:"max_tokens"`
	MaxIterations     int   `yaml:"max_iterations"`
	DoomLoopThreshold int   `yaml:"doom_loop_threshold"`
	GlobalLoopCount   int   `yaml:"global_loop_count"`
	GlobalLoopWorkers int   `yaml:"global_loop_workers"`
}

// LoopDetectorConfig configures the loop detector (C4).
type LoopDetectorConfig struct {
	ExactThreshold      int `yaml:"exact_threshold"`
	FuzzyThreshold      int `yaml:"fuzzy_threshold"`
	SummaryLoopTurns    int `yaml:"summary_loop_turns"`
	BashCascadeFailures int `yaml:"bash_cascade_failures"`
}

// QualityConfig configures the quality gate (C9).
type QualityConfig struct {
	Threshold        int `yaml:"threshold"`
	WorkerRetries    int `yaml:"worker_retries"`
	RejectionCircuit int `yaml:"rejection_circuit_threshold"`
}

// VerifyConfig configures the opt-in verification gate (C8).
type VerifyConfig struct {
	RequiredTests      []string `yaml:"required_tests"`
	RequireFileChanges bool     `yaml:"require_file_changes"`
	RequireCompilation bool     `yaml:"require_compilation"`
	MaxNudges          int      `yaml:"max_nudges"`
}

// ApprovalConfig configures the human-in-loop approval scope (C10).
type ApprovalConfig struct {
	RequireApproval []string `yaml:"require_approval"`
	AutoApprove     []string `yaml:"auto_approve"`
	RiskThreshold   string   `yaml:"risk_threshold"` // "moderate" or "high"
}

// ResourceConfig configures the resource monitor (C3).
type ResourceConfig struct {
	MaxMemoryBytes    int64   `yaml:"max_memory_bytes"`
	MaxCPUSeconds     float64 `yaml:"max_cpu_seconds"`
	MaxConcurrentOps  int     `yaml:"max_concurrent_ops"`
	WarnThreshold     float64 `yaml:"warn_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// PoolConfig configures the worker pool (C12).
type PoolConfig struct {
	MaxConcurrency    int           `yaml:"max_concurrency"`
	DispatchStaggerMs time.Duration `yaml:"dispatch_stagger_ms"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// OrchestratorConfig configures swarm-level budgets and the global
// doom-loop pause (C13).
type OrchestratorConfig struct {
	MaxTotalTokens       int64         `yaml:"max_total_tokens"`
	MaxCost              float64       `yaml:"max_cost"`
	MaxDuration          time.Duration `yaml:"max_duration"`
	DecompositionRetries int           `yaml:"decomposition_retries"`
	GlobalLoopPauseMs    time.Duration `yaml:"global_loop_pause_ms"`
}

// PersistenceConfig configures the key-value persistence adapter (C15).
type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

// SwarmConfig is the top-level configuration object, unmarshaled from
// YAML via gopkg.in/yaml.v3 and validated by hand (the teacher's
// convention — no validation-tag library).
type SwarmConfig struct {
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // "console" or "jsonl"
	Budget       BudgetConfig       `yaml:"budget"`
	LoopDetect   LoopDetectorConfig `yaml:"loop_detect"`
	Quality      QualityConfig      `yaml:"quality"`
	Verify       VerifyConfig       `yaml:"verify"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Resource     ResourceConfig     `yaml:"resource"`
	Pool         PoolConfig         `yaml:"pool"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
}

// Default returns a SwarmConfig populated with every threshold spec.md
// §3-§4 names a sensible default for.
func Default() *SwarmConfig {
	return &SwarmConfig{
		LogLevel:  "info",
		LogFormat: "console",
		Budget: BudgetConfig{
			MaxTokens:         200_000,
			MaxIterations:     60,
			DoomLoopThreshold: 3,
			GlobalLoopCount:   6,
			GlobalLoopWorkers: 2,
		},
		LoopDetect: LoopDetectorConfig{
			ExactThreshold:      3,
			FuzzyThreshold:      4,
			SummaryLoopTurns:    4,
			BashCascadeFailures: 3,
		},
		Quality: QualityConfig{
			Threshold:        3,
			WorkerRetries:    2,
			RejectionCircuit: 8,
		},
		Verify: VerifyConfig{
			MaxNudges: 2,
		},
		Approval: ApprovalConfig{
			RiskThreshold: "moderate",
		},
		Resource: ResourceConfig{
			MaxMemoryBytes:    2 << 30, // 2 GiB
			MaxCPUSeconds:     3600,
			MaxConcurrentOps:  16,
			WarnThreshold:     0.7,
			CriticalThreshold: 0.9,
		},
		Pool: PoolConfig{
			MaxConcurrency:    4,
			DispatchStaggerMs: 250 * time.Millisecond,
			AttemptTimeout:    10 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			DecompositionRetries: 1,
			GlobalLoopPauseMs:    30 * time.Second,
		},
		Persistence: PersistenceConfig{
			DBPath: ".swarm/state.db",
		},
	}
}

// Load reads path as YAML and merges it over Default(); a missing file
// is not an error — the caller gets plain defaults, matching the
// teacher's LoadConfig behavior.
func Load(path string) (*SwarmConfig, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every threshold named here for an obviously invalid
// value (negative counts, an out-of-range ratio), the way the
// teacher's Config.Validate hand-checks its own fields field by field.
func (c *SwarmConfig) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "jsonl" {
		return fmt.Errorf("config: invalid log_format %q, want console or jsonl", c.LogFormat)
	}

	if c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("config: budget.max_tokens must be > 0")
	}
	if c.Budget.MaxIterations <= 0 {
		return fmt.Errorf("config: budget.max_iterations must be > 0")
	}
	if c.Budget.DoomLoopThreshold <= 0 {
		return fmt.Errorf("config: budget.doom_loop_threshold must be > 0")
	}

	if c.LoopDetect.FuzzyThreshold < c.LoopDetect.ExactThreshold {
		return fmt.Errorf("config: loop_detect.fuzzy_threshold must be >= exact_threshold")
	}

	if c.Quality.Threshold < 0 || c.Quality.Threshold > 5 {
		return fmt.Errorf("config: quality.threshold must be within 0..5")
	}
	if c.Quality.RejectionCircuit <= 0 {
		return fmt.Errorf("config: quality.rejection_circuit_threshold must be > 0")
	}

	if c.Approval.RiskThreshold != "moderate" && c.Approval.RiskThreshold != "high" {
		return fmt.Errorf("config: approval.risk_threshold must be moderate or high, got %q", c.Approval.RiskThreshold)
	}

	if c.Resource.WarnThreshold <= 0 || c.Resource.WarnThreshold > 1 {
		return fmt.Errorf("config: resource.warn_threshold must be within (0,1]")
	}
	if c.Resource.CriticalThreshold <= 0 || c.Resource.CriticalThreshold > 1 {
		return fmt.Errorf("config: resource.critical_threshold must be within (0,1]")
	}
	if c.Resource.CriticalThreshold < c.Resource.WarnThreshold {
		return fmt.Errorf("config: resource.critical_threshold must be >= warn_threshold")
	}

	if c.Pool.MaxConcurrency <= 0 {
		return fmt.Errorf("config: pool.max_concurrency must be > 0")
	}

	if c.Persistence.DBPath == "" {
		return fmt.Errorf("config: persistence.db_path cannot be empty")
	}

	return nil
}
