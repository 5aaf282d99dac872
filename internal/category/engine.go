// Package category provides a YAML-based rules engine suggesting categories
// for imported transactions from their statement descriptors.
package category

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how a rule pattern is compared against a descriptor.
type MatchType string

const (
	// MatchTypeExact requires the pattern to equal the whole descriptor.
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring.
	MatchTypeContains MatchType = "contains"
)

// Rule is a single categorization rule. Construct via YAML loading; direct
// struct construction bypasses validation.
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
}

type ruleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine matches descriptors against rules in priority order.
type Engine struct {
	rules []Rule // sorted by priority, highest first
}

// NewEngine creates a rules engine from YAML data.
func NewEngine(data []byte) (*Engine, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	for i, rule := range rs.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("rule %d (%s): pattern cannot be empty", i, rule.Name)
		}
		if rule.MatchType != MatchTypeExact && rule.MatchType != MatchTypeContains {
			return nil, fmt.Errorf("rule %d (%s): invalid match_type %q (must be 'exact' or 'contains')", i, rule.Name, rule.MatchType)
		}
		if rule.Priority < 0 || rule.Priority > 999 {
			return nil, fmt.Errorf("rule %d (%s): priority must be in [0,999], got %d", i, rule.Name, rule.Priority)
		}
		if strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("rule %d (%s): category cannot be empty", i, rule.Name)
		}
	}

	// Stable sort keeps YAML order for equal priorities, so matching stays
	// deterministic.
	sorted := make([]Rule, len(rs.Rules))
	copy(sorted, rs.Rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Engine{rules: sorted}, nil
}

// LoadEmbedded loads the rules compiled into the binary.
func LoadEmbedded() (*Engine, error) {
	return NewEngine(embeddedRules)
}

// LoadFromFile loads rules from a filesystem path.
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	e, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("load rules from %q: %w", path, err)
	}
	return e, nil
}

// Suggest returns the category of the highest-priority rule matching the
// descriptor, or ("", false) when no rule matches.
func (e *Engine) Suggest(descriptor string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(descriptor))

	for _, rule := range e.rules {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))

		matched := false
		switch rule.MatchType {
		case MatchTypeExact:
			matched = normalized == pattern
		case MatchTypeContains:
			matched = strings.Contains(normalized, pattern)
		}
		if matched {
			return rule.Category, true
		}
	}
	return "", false
}

// Rules returns a copy of the rules in matching order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
