package rules

import (
	"fmt"
	"time"

	"edgevision/model"
)

// classCountHandler implements spec §4.5 class_count: always returns a
// label, never suppresses evaluation of itself on future frames since
// it has no persistent state to gate on. Engine.Evaluate does not
// reorder or special-case it, so its position in the agent's rule list
// decides: placed before real alerting rules it short-circuits them
// (spec §4.5, §9 open question #2).
func classCountHandler(rule model.Rule, det *model.Detections, ruleState any, _ time.Time) (*MatchResult, any) {
	n := classCount(det, rule.Class)
	label := fmt.Sprintf("%s: %d", rule.Class, n)
	if rule.Label != "" {
		label = fmt.Sprintf("%s: %d", rule.Label, n)
	}
	return &MatchResult{Label: label}, ruleState
}
