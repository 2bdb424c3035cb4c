// Package ruletable evaluates regex rule tables of (pattern, category, weight) against text.
package ruletable

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one table row as written in YAML.
type Rule struct {
	Pattern    string `yaml:"pattern"`
	Category   string `yaml:"category"`
	Weight     int    `yaml:"weight"`
	Label      string `yaml:"label,omitempty"`
	IgnoreCase bool   `yaml:"ignore_case,omitempty"`
}

// Match is one rule that fired.
type Match struct {
	Rule     int
	Category string
	Label    string
	Phrase   string
	Weight   int
}

type file struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Table is an ordered, immutable list of compiled rules.
type Table struct {
	name  string
	rules []compiledRule
}

// Compile builds a table from rules, keeping their order.
func Compile(name string, rules []Rule) (*Table, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("%s: rule %d: empty pattern", name, i+1)
		}
		if strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("%s: rule %d: empty category", name, i+1)
		}
		pattern := rule.Pattern
		if rule.IgnoreCase {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: rule %d: invalid pattern: %w", name, i+1, err)
		}
		compiled = append(compiled, compiledRule{Rule: rule, re: re})
	}
	return &Table{name: name, rules: compiled}, nil
}

// Parse decodes a YAML document with a top-level "rules" list.
func Parse(name string, data []byte) (*Table, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule table %s: %w", name, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rule table %s has no rules", name)
	}
	return Compile(name, doc.Rules)
}

// MustParse is Parse for embedded tables.
func MustParse(name string, data []byte) *Table {
	table, err := Parse(name, data)
	if err != nil {
		panic(err)
	}
	return table
}

// Load reads and parses a rule table file.
func Load(path string) (*Table, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("rule table %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read rule table %q: %w", path, err)
	}
	return Parse(path, contents)
}

// Name identifies where the table came from.
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Evaluate returns every rule that matches text, in table order. A rule contributes at most once.
func (t *Table) Evaluate(text string) []Match {
	if t == nil || text == "" {
		return nil
	}
	var matches []Match
	for i, rule := range t.rules {
		phrase := rule.re.FindString(text)
		if phrase == "" && !rule.re.MatchString(text) {
			continue
		}
		matches = append(matches, Match{
			Rule:     i,
			Category: rule.Category,
			Label:    rule.Label,
			Phrase:   phrase,
			Weight:   rule.Weight,
		})
	}
	return matches
}

// MatchCategory reports whether any rule of category matches text.
func (t *Table) MatchCategory(category string, text string) bool {
	if t == nil {
		return false
	}
	for _, rule := range t.rules {
		if rule.Category == category && rule.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Labels returns the labels of matching rules of category, in table order.
func (t *Table) Labels(category string, text string) []string {
	var labels []string
	for _, match := range t.Evaluate(text) {
		if match.Category == category && match.Label != "" {
			labels = append(labels, match.Label)
		}
	}
	return labels
}

// Categories lists the distinct categories in table order.
func (t *Table) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, rule := range t.rules {
		if seen[rule.Category] {
			continue
		}
		seen[rule.Category] = true
		out = append(out, rule.Category)
	}
	return out
}
