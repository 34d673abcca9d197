package usecase

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

//go:embed heuristic_rules.yaml
var defaultRulesYAML []byte

type HeuristicRule struct {
	Name         string   `yaml:"name"`
	Keywords     []string `yaml:"keywords"`
	HSCode       string   `yaml:"hs_code"`
	Confidence   float64  `yaml:"confidence"`
	Risk         bool     `yaml:"risk"`
	Prohibited   bool     `yaml:"prohibited"`
	Restrictions []string `yaml:"restrictions"`
	Suggestions  []string `yaml:"suggestions"`
}

type ruleFile struct {
	Rules []HeuristicRule `yaml:"rules"`
}

// DefaultHeuristicRules returns the embedded rule table.
func DefaultHeuristicRules() []HeuristicRule {
	rules, err := ParseHeuristicRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded heuristic rules: %v", err))
	}
	return rules
}

// LoadHeuristicRules reads a rule table from path, or the embedded one when path is empty.
func LoadHeuristicRules(path string) ([]HeuristicRule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultHeuristicRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read heuristic rules: %w", err)
	}
	return ParseHeuristicRules(raw)
}

func ParseHeuristicRules(raw []byte) ([]HeuristicRule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse heuristic rules", err)
	}
	if len(file.Rules) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse heuristic rules", errors.New("rule table is empty"))
	}
	for i := range file.Rules {
		rule := &file.Rules[i]
		if len(rule.Keywords) == 0 || strings.TrimSpace(rule.HSCode) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse heuristic rules",
				fmt.Errorf("rule %d (%s) needs keywords and hs_code", i, rule.Name))
		}
		for j, kw := range rule.Keywords {
			rule.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		rule.Confidence = domain.ClampConfidence(rule.Confidence)
		if rule.Prohibited {
			rule.Risk = true
		}
	}
	return file.Rules, nil
}

func (r HeuristicRule) matches(lowered string) bool {
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
