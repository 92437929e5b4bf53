// Package config loads and validates rift.yaml, the run configuration:
// the two targets, execution budgets, generation and exploration knobs, and
// the comparison rule set.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riftlabs/rift/pkg/rules"
)

// APIVersion is the config document version this build understands.
const APIVersion = "rift/v0"

// Config is the full rift.yaml document.
type Config struct {
	APIVersion  string        `yaml:"apiVersion"            json:"apiVersion"`
	Targets     Targets       `yaml:"targets"               json:"targets"`
	Budgets     Budgets       `yaml:"budgets,omitempty"     json:"budgets,omitempty"`
	Generation  Generation    `yaml:"generation,omitempty"  json:"generation,omitempty"`
	Exploration Exploration   `yaml:"exploration,omitempty" json:"exploration,omitempty"`
	Rules       rules.RuleSet `yaml:"rules,omitempty"       json:"rules,omitempty"`
	Redact      []string      `yaml:"redact,omitempty"      json:"redact,omitempty"`
}

// Targets names the two implementations under comparison.
type Targets struct {
	A Target `yaml:"a" json:"a"`
	B Target `yaml:"b" json:"b"`
}

// Target is one implementation under test.
type Target struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	BaseURL string `yaml:"base_url"       json:"base_url"`
}

// Budgets are the timeout strings ("30s", "2m") for every blocking point in
// the pipeline. Unset fields fall back to defaults.
type Budgets struct {
	Step       string `yaml:"step_timeout,omitempty"        json:"step_timeout,omitempty"`
	Eval       string `yaml:"eval_timeout,omitempty"        json:"eval_timeout,omitempty"`
	WorkerEval string `yaml:"worker_eval_timeout,omitempty" json:"worker_eval_timeout,omitempty"`
}

// StepTimeout is the per-target per-step HTTP budget.
func (b Budgets) StepTimeout() time.Duration { return durationOr(b.Step, 30*time.Second) }

// EvalTimeout is the caller-side expression bridge budget.
func (b Budgets) EvalTimeout() time.Duration { return durationOr(b.Eval, 10*time.Second) }

// WorkerEvalTimeout is the worker-side per-expression budget. It must stay
// below EvalTimeout so the worker answers before the caller gives up.
func (b Budgets) WorkerEvalTimeout() time.Duration { return durationOr(b.WorkerEval, 5*time.Second) }

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Generation configures single-operation case synthesis.
type Generation struct {
	CasesPerOperation int   `yaml:"cases_per_operation,omitempty" json:"cases_per_operation,omitempty"`
	Seed              int64 `yaml:"seed,omitempty"                json:"seed,omitempty"`
}

// Cases returns the per-operation case count, defaulting to 5.
func (g Generation) Cases() int {
	if g.CasesPerOperation <= 0 {
		return 5
	}
	return g.CasesPerOperation
}

// Exploration configures chain discovery.
type Exploration struct {
	MaxDepth      int    `yaml:"max_depth,omitempty"       json:"max_depth,omitempty"`
	MaxChains     int    `yaml:"max_chains,omitempty"      json:"max_chains,omitempty"`
	PerSequence   int    `yaml:"per_sequence,omitempty"    json:"per_sequence,omitempty"`
	SourceOfTruth string `yaml:"source_of_truth,omitempty" json:"source_of_truth,omitempty" jsonschema:"enum=a,enum=b"`
}

// Depth returns the chain depth bound, defaulting to 4.
func (e Exploration) Depth() int {
	if e.MaxDepth <= 0 {
		return 4
	}
	return e.MaxDepth
}

// Chains returns the total chain cap. Zero means the default 64; a negative
// configuration lifts the cap.
func (e Exploration) Chains() int {
	if e.MaxChains == 0 {
		return 64
	}
	if e.MaxChains < 0 {
		return 0
	}
	return e.MaxChains
}

// PerSeq returns the per-sequence variant cap, defaulting to 2.
func (e Exploration) PerSeq() int {
	if e.PerSequence <= 0 {
		return 2
	}
	return e.PerSequence
}

// Truth returns which target feeds chain continuation, "a" by default.
func (e Exploration) Truth() string {
	if e.SourceOfTruth == "b" {
		return "b"
	}
	return "a"
}

// EffectiveRules returns the configured rules with the builtin defaults
// filled in underneath. A user default with the same pattern key replaces
// the builtin entirely.
func (c *Config) EffectiveRules() *rules.RuleSet {
	defaults := rules.Builtin()
	for k, v := range c.Rules.Defaults {
		defaults[k] = v
	}
	return &rules.RuleSet{Defaults: defaults, Operations: c.Rules.Operations}
}

// HasExprRules reports whether any effective rule needs the expression
// evaluator. The bridge is only spawned when this is true.
func (c *Config) HasExprRules() bool {
	for _, r := range c.Rules.Defaults {
		if r.Kind == rules.Expr {
			return true
		}
	}
	for _, scoped := range c.Rules.Operations {
		for _, r := range scoped {
			if r.Kind == rules.Expr {
				return true
			}
		}
	}
	return false
}

// LoadFile reads and strictly decodes a rift.yaml.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a config from an io.Reader with strict unknown-field
// rejection.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}
