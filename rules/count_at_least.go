package rules

import (
	"fmt"
	"time"

	"edgevision/model"
)

type countAtLeastState struct {
	lastMatchedSince time.Time
}

// countAtLeastHandler implements spec §4.5 count_at_least: fire when
// the target class count reaches min_count, gated by the same
// optional duration window as class_presence.
func countAtLeastHandler(rule model.Rule, det *model.Detections, ruleState any, now time.Time) (*MatchResult, any) {
	st, _ := ruleState.(countAtLeastState)

	count := classCount(det, rule.Class)
	matchedNow := count >= rule.MinCount && rule.MinCount > 0

	if !matchedNow {
		st.lastMatchedSince = time.Time{}
		return nil, st
	}

	label := fmt.Sprintf("%s count >= %d (%d)", rule.Class, rule.MinCount, count)
	if rule.Label != "" {
		label = rule.Label
	}

	if rule.DurationS <= 0 {
		return &MatchResult{Label: label}, st
	}

	if st.lastMatchedSince.IsZero() {
		st.lastMatchedSince = now
		return nil, st
	}
	if now.Sub(st.lastMatchedSince) >= time.Duration(rule.DurationS)*time.Second {
		return &MatchResult{Label: label}, st
	}
	return nil, st
}

func classCount(det *model.Detections, class string) int {
	if det == nil {
		return 0
	}
	n := 0
	for _, c := range det.Classes {
		if c == class {
			n++
		}
	}
	return n
}
