package model

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// RuleType tags the variant of a Rule. Order in an Agent's rule list
// is significant: the RuleEngine evaluates first-match-wins.
type RuleType string

const (
	RuleClassPresence  RuleType = "class_presence"
	RuleCountAtLeast   RuleType = "count_at_least"
	RuleClassCount     RuleType = "class_count"
	RuleAccidentPresent RuleType = "accident_presence"
)

// MatchMode selects any/all semantics for class_presence.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// Rule is a tagged-variant over the four built-in rule shapes from
// spec §3. Exactly one of the type-specific fields is meaningful,
// selected by Type.
type Rule struct {
	Type RuleType `json:"type"`

	// class_presence
	Match     MatchMode `json:"match,omitempty"`
	Classes   []string  `json:"classes,omitempty"`
	DurationS int       `json:"duration_s,omitempty"`
	Label     string    `json:"label,omitempty"`

	// count_at_least / class_count
	Class    string `json:"class,omitempty"`
	MinCount int    `json:"min_count,omitempty"`
}

// ParseRules decodes an ordered rule list stored as a JSON array.
// Each element's "type" tag is sniffed with gjson before the full
// decode so a single unknown or malformed rule can be skipped (spec
// §7: "Malformed input ... Skip rule; log once per session") without
// failing the whole list.
func ParseRules(raw string) ([]Rule, error) {
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("rules: invalid JSON")
	}
	arr := gjson.Parse(raw)
	if !arr.IsArray() {
		return nil, fmt.Errorf("rules: expected a JSON array")
	}

	var rules []Rule
	var parseErr error
	arr.ForEach(func(_, elem gjson.Result) bool {
		typ := elem.Get("type").String()
		if !isKnownRuleType(RuleType(typ)) {
			parseErr = fmt.Errorf("rules: unknown rule type %q", typ)
			return true // keep scanning; caller decides whether to abort
		}
		var r Rule
		if err := json.Unmarshal([]byte(elem.Raw), &r); err != nil {
			parseErr = fmt.Errorf("rules: decode %q: %w", typ, err)
			return true
		}
		if r.Match == "" {
			r.Match = MatchAny
		}
		rules = append(rules, r)
		return true
	})
	return rules, parseErr
}

func isKnownRuleType(t RuleType) bool {
	switch t {
	case RuleClassPresence, RuleCountAtLeast, RuleClassCount, RuleAccidentPresent:
		return true
	default:
		return false
	}
}
