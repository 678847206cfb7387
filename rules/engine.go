// Package rules implements the RuleEngine (spec §4.5): a process-wide
// registry of rule-type handlers, dispatched first-match-wins over an
// agent's ordered rule list, each handler carrying its own private
// per-rule scratch state keyed by rule index.
package rules

import (
	"time"

	"edgevision/model"
)

// MatchResult is what a handler returns when a rule fires.
type MatchResult struct {
	Label     string
	RuleIndex int
	Extras    map[string]any
}

// Handler evaluates one rule against the current detections and this
// rule's private state, returning a MatchResult on fire or nil
// otherwise. Handlers must be deterministic and must not perform I/O
// (spec §4.5 "Determinism").
type Handler func(rule model.Rule, det *model.Detections, ruleState any, now time.Time) (*MatchResult, any)

var registry = map[model.RuleType]Handler{
	model.RuleClassPresence:   classPresenceHandler,
	model.RuleCountAtLeast:    countAtLeastHandler,
	model.RuleClassCount:      classCountHandler,
	model.RuleAccidentPresent: accidentPresenceHandler,
}

// Engine evaluates an agent's ordered rule list against a Detections
// payload, keeping one scratch-state slot per rule index. An Engine is
// not safe for concurrent use across goroutines; each DetectionWorker
// owns its own.
type Engine struct {
	state map[int]any
}

// NewEngine constructs an empty, ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{state: make(map[int]any)}
}

// Reset clears all per-rule state, used at the start of each patrol
// window (spec §4.4 "Per-rule state is reset at the start of each
// window").
func (e *Engine) Reset() {
	e.state = make(map[int]any)
}

// Evaluate runs the ordered rule list first-match-wins and returns the
// first MatchResult, or nil if nothing fired, stopping at the first
// rule whose handler returns one. This mirrors the source engine's
// evaluate_rules exactly: no rule type is special-cased, so a
// class_count rule (which always returns a label) placed before other
// rules in an agent's list will mask them — the same trap the source
// carries, documented rather than papered over (spec §9).
func (e *Engine) Evaluate(ruleList []model.Rule, det *model.Detections, now time.Time) *MatchResult {
	for i, r := range ruleList {
		handler, ok := registry[r.Type]
		if !ok {
			continue // unknown type already filtered at parse time; defensive only
		}
		result, newState := handler(r, det, e.state[i], now)
		e.state[i] = newState
		if result == nil {
			continue
		}
		result.RuleIndex = i
		return result
	}
	return nil
}
