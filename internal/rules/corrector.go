// Package rules applies deterministic text substitutions to recognized speech.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed agri.rules
var agriRules string

//go:embed dialect.rules
var dialectRules string

const defaultLoopLimit = 30

// Corrector rewrites misrecognized agricultural terms until the text is stable.
type Corrector struct {
	rules     []substitution
	loopLimit int
}

// Default returns the corrector for the built-in agricultural term table.
func Default() *Corrector {
	c, err := Parse(agriRules, defaultLoopLimit)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded agri.rules: %v", err))
	}
	return c
}

// ForLog returns the built-in terms plus dialect and filler cleanup used for administrative logs.
func ForLog() *Corrector {
	c, err := Parse(agriRules+"\n"+dialectRules, defaultLoopLimit)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded dialect.rules: %v", err))
	}
	return c
}

// Parse compiles rules from source text. Extra parsers are tried before the built-in ones.
func Parse(source string, loopLimit int, parsers ...Parser) (*Corrector, error) {
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	compiled, err := parseRules(source, append(parsers, builtinParsers()...))
	if err != nil {
		return nil, err
	}
	return &Corrector{rules: compiled, loopLimit: loopLimit}, nil
}

// Load returns the built-in table extended with the rules in path. A blank path or a missing
// file yields the built-in table only.
func Load(path string, loopLimit int) (*Corrector, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(agriRules, loopLimit)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse(agriRules, loopLimit)
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	c, err := Parse(agriRules+"\n"+string(contents), loopLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return c, nil
}

// Len reports the number of compiled rules.
func (c *Corrector) Len() int {
	return len(c.rules)
}

// Apply runs every rule in order, repeating the pass until nothing changes or the loop limit
// is reached.
func (c *Corrector) Apply(text string) (string, error) {
	if c == nil || len(c.rules) == 0 {
		return text, nil
	}
	result := text
	for pass := 0; pass < c.loopLimit; pass++ {
		changed := false
		for _, rule := range c.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}
