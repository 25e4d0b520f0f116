// Package approval implements the human-in-loop approval scope:
// resolving whether a tool call requires an approval prompt before it
// executes.
package approval

import (
	"strings"
)

// RiskLevel classifies a tool's inherent risk when no explicit rule
// matches, for the risk-based default.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskModerate
	RiskDangerous
	RiskCritical
)

// Threshold is the configured minimum risk level that requires
// approval under the risk-based default.
type Threshold int

const (
	ThresholdModerate Threshold = iota
	ThresholdHigh
)

// ScopedRule restricts autoApprove for one tool to a set of path
// globs, for scopedApprove.
type ScopedRule struct {
	Paths []string
}

// Config holds the four-tier approval policy, highest priority first.
type Config struct {
	RequireApproval []string
	AutoApprove     []string
	ScopedApprove   map[string]ScopedRule
	RiskClassifier  map[string]RiskLevel
	Threshold       Threshold
}

// Scope resolves approval decisions for tool calls.
type Scope struct {
	requireApproval map[string]bool
	autoApprove     map[string]bool
	scopedApprove   map[string]ScopedRule
	riskClassifier  map[string]RiskLevel
	threshold       Threshold
}

// New builds a Scope from Config, lower-casing tool names so matches
// are case-insensitive
func New(cfg Config) *Scope {
	s := &Scope{
		requireApproval: toSet(cfg.RequireApproval),
		autoApprove:     toSet(cfg.AutoApprove),
		scopedApprove:   make(map[string]ScopedRule, len(cfg.ScopedApprove)),
		riskClassifier:  make(map[string]RiskLevel, len(cfg.RiskClassifier)),
		threshold:       cfg.Threshold,
	}
	for tool, rule := range cfg.ScopedApprove {
		s.scopedApprove[strings.ToLower(tool)] = rule
	}
	for tool, risk := range cfg.RiskClassifier {
		s.riskClassifier[strings.ToLower(tool)] = risk
	}
	return s
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}

// Decision is Resolve's return value.
type Decision struct {
	RequiresApproval bool
	Reason           string
}

// Resolve applies priority order: requireApproval,
// autoApprove, scopedApprove, then the risk-based default. args is
// searched for a "path" or "file_path" key when scopedApprove applies.
func (s *Scope) Resolve(tool string, args map[string]any) Decision {
	key := strings.ToLower(tool)

	if s.requireApproval[key] {
		return Decision{RequiresApproval: true, Reason: "tool is in the require-approval list"}
	}
	if s.autoApprove[key] {
		return Decision{RequiresApproval: false, Reason: "tool is in the auto-approve list"}
	}
	if rule, ok := s.scopedApprove[key]; ok {
		path := pathArg(args)
		if path == "" {
			return Decision{RequiresApproval: true, Reason: "scoped tool call has no path argument"}
		}
		if matchesAnyGlob(path, rule.Paths) {
			return Decision{RequiresApproval: false, Reason: "path is within an approved scope"}
		}
		return Decision{RequiresApproval: true, Reason: "path is outside every approved scope"}
	}

	risk := s.riskClassifier[key]
	required := s.riskRequiresApproval(risk)
	return Decision{RequiresApproval: required, Reason: "risk-based default"}
}

func (s *Scope) riskRequiresApproval(risk RiskLevel) bool {
	switch s.threshold {
	case ThresholdHigh:
		return risk >= RiskDangerous
	default:
		return risk >= RiskModerate
	}
}

func pathArg(args map[string]any) string {
	if v, ok := args["path"].(string); ok && v != "" {
		return v
	}
	if v, ok := args["file_path"].(string); ok && v != "" {
		return v
	}
	return ""
}

// matchesAnyGlob reports whether path falls under any of globs. A
// trailing "/**" marks a prefix as recursive; otherwise prefix matching
// uses path-boundary semantics so "src" matches "src/x" but not
// "src-backup/x"
func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if matchesGlob(path, g) {
			return true
		}
	}
	return false
}

func matchesGlob(path, glob string) bool {
	prefix := strings.TrimSuffix(glob, "/**")
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
