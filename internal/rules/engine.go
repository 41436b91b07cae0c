// Package rules normalizes transcript text before it is analyzed or copied.
//
// A rules file holds one rule per line; blank lines and lines starting with
// '#' are ignored:
//
//	deep gram => Deepgram          literal, case-insensitive, whole words
//	s/\bgonna\b/going to/g         sed-style regex with i, g, m, s flags
//	drop: um, uh, you know         filler phrases removed as whole words
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const defaultIterationLimit = 30

// ErrNoFixpoint is returned when rules keep rewriting each other's output.
var ErrNoFixpoint = errors.New("rules did not converge")

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine applies deterministic substitutions until the text stops changing.
type Engine struct {
	rules     []compiledRule
	loopLimit int
}

// NewEngine loads rules from path. A missing file yields an empty engine.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, loopLimit), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newEngine(nil, loopLimit), nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	engine, err := Parse(string(contents), loopLimit, parsers...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from contents. With no parsers the built-in ones are used.
func Parse(contents string, loopLimit int, parsers ...RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}
	rules, err := parseRules(contents, parsers)
	if err != nil {
		return nil, err
	}
	return newEngine(rules, loopLimit), nil
}

func newEngine(rules []compiledRule, loopLimit int) *Engine {
	if loopLimit <= 0 {
		loopLimit = defaultIterationLimit
	}
	return &Engine{rules: rules, loopLimit: loopLimit}
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply normalizes text to NFC and rewrites it with every rule until a pass
// changes nothing. Runs of whitespace left behind by rewrites are collapsed.
// When the iteration limit is hit the partially rewritten text is returned
// with ErrNoFixpoint.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	result := norm.NFC.String(text)
	touched := false
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range e.rules {
			next, ruleChanged := rule.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			if touched {
				result = collapseSpaces(result)
			}
			return result, nil
		}
		touched = true
	}

	return collapseSpaces(result), fmt.Errorf("%w after %d passes", ErrNoFixpoint, e.loopLimit)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(norm.NFC.String(raw))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{dropRuleParser{}, regexRuleParser{}, literalRuleParser{}}
}
