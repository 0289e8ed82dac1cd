// Package safety implements the two-stage command classifier and the
// Safety Evaluator that coordinates it with an external LLM callback.
package safety

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Classification is the classifier's verdict for a command string.
type Classification string

const (
	ClassificationBasicSafe   Classification = "basic_safe"
	ClassificationLLMRequired Classification = "llm_required"
)

// Rule is one entry in the ordered classifier rule table.
type Rule struct {
	Pattern      string `yaml:"pattern"`
	SafetyLevel  int    `yaml:"safety_level"`
	Description  string `yaml:"description"`
	compiled     *regexp.Regexp
}

// RuleFile is the on-disk YAML shape for a rule table.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// defaultRulesYAML is the built-in fallback rule table, used when no
// MCP_SHELL_SAFETY_RULES_FILE is configured or the file fails to load.
// Patterns are tried in order; the first match wins.
const defaultRulesYAML = `
rules:
  - pattern: '^(ls|pwd|echo|cat|head|tail|wc|date|whoami|uname)\b'
    safety_level: 1
    description: read-only informational commands
  - pattern: '^git (status|log|diff|show|branch)\b'
    safety_level: 1
    description: read-only git commands
  - pattern: '^(grep|find|which|file|stat)\b'
    safety_level: 1
    description: read-only search commands
  - pattern: '^(mkdir|touch|cp|mv)\b'
    safety_level: 2
    description: local filesystem mutation within the working directory
`

// Classifier applies an ordered regex rule table against a trimmed
// command string.
type Classifier struct {
	rules []Rule
}

// NewClassifier compiles the given rules in order. A rule with an
// unparsable pattern is skipped.
func NewClassifier(rules []Rule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}
		r.compiled = re
		c.rules = append(c.rules, r)
	}
	return c
}

// LoadRules parses a YAML rule file. On any error it returns the built-in
// default table so the classifier always has something to evaluate
// against.
func LoadRules(data []byte) []Rule {
	if len(data) == 0 {
		data = []byte(defaultRulesYAML)
	}
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		var fallback RuleFile
		_ = yaml.Unmarshal([]byte(defaultRulesYAML), &fallback)
		return fallback.Rules
	}
	return rf.Rules
}

// Classify matches command (already trimmed by the caller) against the
// ordered rule table. The first match wins; no match yields
// llm_required.
func (c *Classifier) Classify(command string) (Classification, int, string) {
	trimmed := strings.TrimSpace(command)
	for _, r := range c.rules {
		if r.compiled.MatchString(trimmed) {
			return ClassificationBasicSafe, r.SafetyLevel, r.Description
		}
	}
	return ClassificationLLMRequired, 0, ""
}
