package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type substitution interface {
	Apply(input string) (output string, changed bool)
}

// Parser compiles one rules-file line.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (substitution, error)
}

func builtinParsers() []Parser {
	return []Parser{regexParser{}, literalParser{}}
}

func parseRules(source string, parsers []Parser) ([]substitution, error) {
	lines := strings.Split(source, "\n")
	out := make([]substitution, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var parser Parser
		for _, candidate := range parsers {
			if candidate.CanParse(line) {
				parser = candidate
				break
			}
		}
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		rule, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// literal: "from => to", case-insensitive, every occurrence.
type literalParser struct{}

func (literalParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string) (substitution, error) {
	return parseLiteral(line)
}

type literalRule struct {
	re *regexp.Regexp
	to string
}

func parseLiteral(line string) (substitution, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, to: strings.TrimSpace(to)}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.to)
	return output, output != input
}

// regex: "s/pattern/replacement/flags" with any non-alphanumeric delimiter.
// Flags: i (default on), g, m, s.
type regexParser struct{}

func (regexParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (regexParser) Parse(line string) (substitution, error) {
	return parseRegex(line)
}

type regexRule struct {
	re     *regexp.Regexp
	to     string
	global bool
}

func parseRegex(line string) (substitution, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isWordOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	to, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, to: to, global: global}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.to)
		return output, output != input
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := r.re.ExpandString(nil, r.to, input, loc)
	output := input[:loc[0]] + string(replaced) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}
