package rules

import (
	"fmt"
	"time"

	"edgevision/model"
)

type classPresenceState struct {
	lastMatchedSince time.Time
}

// classPresenceHandler implements spec §4.5 class_presence: matched_now
// is any/all of the required classes; with duration_s<=0 it fires on
// the first match, otherwise it must hold for duration_s before firing.
func classPresenceHandler(rule model.Rule, det *model.Detections, ruleState any, now time.Time) (*MatchResult, any) {
	st, _ := ruleState.(classPresenceState)

	matchedNow := classesPresent(rule, det)
	if !matchedNow {
		st.lastMatchedSince = time.Time{}
		return nil, st
	}

	if rule.DurationS <= 0 {
		return &MatchResult{Label: presenceLabel(rule)}, st
	}

	if st.lastMatchedSince.IsZero() {
		st.lastMatchedSince = now
		return nil, st
	}
	if now.Sub(st.lastMatchedSince) >= time.Duration(rule.DurationS)*time.Second {
		return &MatchResult{Label: presenceLabel(rule)}, st
	}
	return nil, st
}

func classesPresent(rule model.Rule, det *model.Detections) bool {
	if det == nil || len(rule.Classes) == 0 {
		return false
	}
	present := make(map[string]bool, det.Len())
	for _, c := range det.Classes {
		present[c] = true
	}

	switch rule.Match {
	case model.MatchAll:
		for _, want := range rule.Classes {
			if !present[want] {
				return false
			}
		}
		return true
	default: // MatchAny, and the empty-string default resolved at parse time
		for _, want := range rule.Classes {
			if present[want] {
				return true
			}
		}
		return false
	}
}

func presenceLabel(rule model.Rule) string {
	if rule.Label != "" {
		return rule.Label
	}
	return fmt.Sprintf("%s detected", rule.Classes)
}
