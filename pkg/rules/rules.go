// Package rules defines path-scoped comparison rules and their two-level
// resolution: operation-scoped rules override defaults per pattern key, they
// never merge with them.
package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Kind selects a comparison strategy.
type Kind string

const (
	Exact     Kind = "exact"
	Tolerance Kind = "tolerance"
	Set       Kind = "set"
	Expr      Kind = "expr"
	Ignore    Kind = "ignore"
)

// Rule configures the comparison at every path its pattern matches. The
// pattern itself is the map key in a RuleSet.
type Rule struct {
	Kind        Kind              `yaml:"kind"                  json:"kind"`
	Epsilon     float64           `yaml:"epsilon,omitempty"     json:"epsilon,omitempty"`
	Expr        string            `yaml:"expr,omitempty"        json:"expr,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"      json:"params,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// Interpolate substitutes {{name}} placeholders in the expression with
// parameter values. Backslashes and double quotes in values are escaped
// before substitution so values cannot break out of string literals.
func (r Rule) Interpolate() string {
	out := r.Expr
	for name, val := range r.Params {
		esc := strings.ReplaceAll(val, `\`, `\\`)
		esc = strings.ReplaceAll(esc, `"`, `\"`)
		out = strings.ReplaceAll(out, "{{"+name+"}}", esc)
	}
	return out
}

// RuleSet is the full rule configuration: global defaults plus per-operation
// overrides keyed by operation ID.
type RuleSet struct {
	Defaults   map[string]Rule            `yaml:"defaults,omitempty"   json:"defaults,omitempty"`
	Operations map[string]map[string]Rule `yaml:"operations,omitempty" json:"operations,omitempty"`
}

// Builtin returns the shipped default rules. Volatile transport headers are
// ignored so every run does not drown in timestamp noise; a configuration
// that redefines any of these keys replaces the builtin entirely.
func Builtin() map[string]Rule {
	headers := []string{
		"date", "server", "x-request-id", "via",
		"keep-alive", "connection", "transfer-encoding", "content-length",
	}
	out := make(map[string]Rule, len(headers))
	for _, h := range headers {
		out["$.header."+h] = Rule{Kind: Ignore, Description: "volatile transport header"}
	}
	return out
}

// Problems reports everything wrong with the rule set: unparseable patterns,
// unknown kinds, negative epsilon, expr rules without an expression.
func (rs *RuleSet) Problems() []string {
	var out []string
	check := func(scope, pattern string, r Rule) {
		at := fmt.Sprintf("%s rule %q", scope, pattern)
		if _, err := parsePath(pattern); err != nil {
			out = append(out, fmt.Sprintf("%s: %v", at, err))
		}
		switch r.Kind {
		case Exact, Set, Ignore:
		case Tolerance:
			if r.Epsilon < 0 {
				out = append(out, fmt.Sprintf("%s: epsilon must be >= 0", at))
			}
		case Expr:
			if strings.TrimSpace(r.Expr) == "" {
				out = append(out, fmt.Sprintf("%s: expr rule requires an expression", at))
			}
		default:
			out = append(out, fmt.Sprintf("%s: unknown kind %q", at, r.Kind))
		}
	}
	for _, pattern := range sortedKeys(rs.Defaults) {
		check("default", pattern, rs.Defaults[pattern])
	}
	for _, opID := range sortedKeys(rs.Operations) {
		scoped := rs.Operations[opID]
		for _, pattern := range sortedKeys(scoped) {
			check("operation "+opID, pattern, scoped[pattern])
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Effective view
// ---------------------------------------------------------------------------

type entry struct {
	pattern string
	segs    []segment
	rule    Rule
	scoped  bool // from the operation scope
}

// Effective is the rule view for one operation: defaults with the
// operation's overrides applied key by key.
type Effective struct {
	entries []entry
}

// For resolves the effective rules for an operation. A pattern key present
// in the operation scope replaces the default entry for that key; defaults
// not redefined stay visible. Patterns are validated at configuration load,
// so entries that fail to parse here are dropped.
func (rs *RuleSet) For(opID string) *Effective {
	merged := map[string]entry{}
	for pattern, r := range rs.Defaults {
		if segs, err := parsePath(pattern); err == nil {
			merged[pattern] = entry{pattern: pattern, segs: segs, rule: r}
		}
	}
	for pattern, r := range rs.Operations[opID] {
		if segs, err := parsePath(pattern); err == nil {
			merged[pattern] = entry{pattern: pattern, segs: segs, rule: r, scoped: true}
		}
	}
	eff := &Effective{entries: make([]entry, 0, len(merged))}
	for _, pattern := range sortedKeys(merged) {
		eff.entries = append(eff.entries, merged[pattern])
	}
	return eff
}

// Match returns the rule governing a concrete path and the pattern that
// selected it. When several patterns match, the most literal one wins;
// on a tie the operation scope beats the defaults, then the lexicographically
// smaller pattern. No match means the implicit exact rule.
func (e *Effective) Match(path string) (Rule, string, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return Rule{Kind: Exact}, "", false
	}
	best := -1
	for i, ent := range e.entries {
		if !matchSegments(ent.segs, segs) {
			continue
		}
		if best < 0 || better(ent, e.entries[best]) {
			best = i
		}
	}
	if best < 0 {
		return Rule{Kind: Exact}, "", false
	}
	return e.entries[best].rule, e.entries[best].pattern, true
}

func better(a, b entry) bool {
	sa, sb := specificity(a.segs), specificity(b.segs)
	if sa != sb {
		return sa > sb
	}
	if a.scoped != b.scoped {
		return a.scoped
	}
	return a.pattern < b.pattern
}

// specificity counts literal segments; wildcards contribute nothing.
func specificity(segs []segment) int {
	n := 0
	for _, s := range segs {
		if s.kind == segKey || s.kind == segIndex {
			n++
		}
	}
	return n
}
