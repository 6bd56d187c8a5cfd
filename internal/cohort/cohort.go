// Package cohort sorts funnel drop-off users into actionable buckets by
// cross-referencing their product events with the compressed behavior of
// their replay sessions. The output answers one question per user: is this a
// bug report or an interview candidate, and how urgently.
package cohort

import (
	"time"

	"github.com/samber/lo"

	"github.com/sessionsieve/sessionsieve/internal/semantic"
)

// Cohort buckets.
type Cohort string

const (
	// TechnicalVictim hit errors or unresponsive UI near the drop-off.
	TechnicalVictim Cohort = "technical_victim"
	// ConfusedBrowser wandered: hesitation, backtracking, thrashing.
	ConfusedBrowser Cohort = "confused_browser"
	// WrongFit barely engaged and left fast; the product was not for them.
	WrongFit Cohort = "wrong_fit"
	// HighValue completed goals and engaged deeply before dropping.
	HighValue Cohort = "high_value"
)

// Action is the follow-up a cohort warrants.
type Action string

const (
	ActionBugReport Action = "bug_report"
	ActionInterview Action = "interview"
)

// RecommendedAction maps a cohort to its follow-up. Technical victims become
// bug reports; every other bucket is worth a conversation.
func RecommendedAction(c Cohort) Action {
	if c == TechnicalVictim {
		return ActionBugReport
	}
	return ActionInterview
}

// Signal is one piece of classification evidence. Type and Description
// together identify a signal: merges dedupe on that exact pair.
type Signal struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

// signalWeights is the fixed scoring table. Weights encode how strongly each
// kind of evidence predicts a user worth acting on; they are part of the
// scoring contract and not tunable per deployment.
var signalWeights = map[string]int{
	SignalConsoleErrors:      30,
	SignalNetworkErrors:      28,
	SignalRageClicks:         25,
	SignalDeadClicks:         20,
	SignalCompletedGoal:      20,
	SignalClickThrashing:     15,
	SignalHighEngagement:     15,
	SignalHesitations:        12,
	SignalAbandonedInputs:    12,
	SignalScrollReversals:    10,
	SignalRepeatVisitor:      10,
	SignalFastExit:           8,
	SignalLowEngagement:      5,
	SignalUnexplainedDropoff: 3,
}

// Signal type names.
const (
	SignalConsoleErrors      = "console_errors"
	SignalNetworkErrors      = "network_errors"
	SignalRageClicks         = "rage_clicks"
	SignalDeadClicks         = "dead_clicks"
	SignalClickThrashing     = "click_thrashing"
	SignalHesitations        = "hesitations"
	SignalScrollReversals    = "scroll_reversals"
	SignalAbandonedInputs    = "abandoned_inputs"
	SignalFastExit           = "fast_exit"
	SignalLowEngagement      = "low_engagement"
	SignalCompletedGoal      = "completed_goal"
	SignalHighEngagement     = "high_engagement"
	SignalRepeatVisitor      = "repeat_visitor"
	SignalUnexplainedDropoff = "unexplained_dropoff"
)

// newSignal builds a signal with its table weight.
func newSignal(typ, description string) Signal {
	return Signal{Type: typ, Description: description, Weight: signalWeights[typ]}
}

// Score sums signal weights.
func Score(signals []Signal) int {
	return lo.SumBy(signals, func(s Signal) int { return s.Weight })
}

// MergeSignals unions two evidence lists, deduping on the exact
// (type, description) pair while preserving first-seen order. Callers must
// recompute the score from the merged list; partial score arithmetic drifts.
func MergeSignals(existing, incoming []Signal) []Signal {
	type key struct{ t, d string }
	seen := make(map[key]struct{}, len(existing)+len(incoming))
	out := make([]Signal, 0, len(existing)+len(incoming))
	for _, s := range append(append([]Signal{}, existing...), incoming...) {
		k := key{s.Type, s.Description}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// PersonEvent is one product-analytics event attributed to a user.
type PersonEvent struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Props     map[string]any `json:"properties,omitempty"`
}

// SessionDigest is the slice of a compressed session the classifier needs.
type SessionDigest struct {
	SessionID  string           `json:"session_id"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMs int64            `json:"duration_ms"`
	Summary    semantic.Summary `json:"summary"`
	Signals    semantic.Signals `json:"signals"`
}

// Funnel describes the journey users dropped out of.
type Funnel struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// StepName returns the human name of a zero-based step index.
func (f Funnel) StepName(i int) string {
	if i >= 0 && i < len(f.Steps) {
		return f.Steps[i]
	}
	return "unknown"
}

// Person is one funnel drop-off candidate with everything known about them.
type Person struct {
	DistinctID    string          `json:"distinct_id"`
	Properties    map[string]any  `json:"properties,omitempty"`
	Events        []PersonEvent   `json:"events,omitempty"`
	Sessions      []SessionDigest `json:"sessions,omitempty"`
	DroppedAtStep int             `json:"dropped_at_step"`
	DroppedAt     *time.Time      `json:"dropped_at,omitempty"`
}

// ClassifiedUser is the classifier verdict for one person.
type ClassifiedUser struct {
	DistinctID        string   `json:"distinct_id"`
	Cohort            Cohort   `json:"cohort"`
	PriorityScore     int      `json:"priority_score"`
	RecommendedAction Action   `json:"recommended_action"`
	Signals           []Signal `json:"signals"`
}
