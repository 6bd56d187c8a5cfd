package cohort

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sessionsieve/sessionsieve/internal/config"
)

// Classifier runs the cohort decision tree over drop-off users.
type Classifier struct {
	dropOffWindow  time.Duration
	fastExit       time.Duration
	highValueCount int
	lowEngagement  int
}

// NewClassifier builds a classifier from cohort thresholds.
func NewClassifier(cfg config.CohortConfig) *Classifier {
	return &Classifier{
		dropOffWindow:  time.Duration(cfg.DropOffWindowMs) * time.Millisecond,
		fastExit:       time.Duration(cfg.FastExitSeconds) * time.Second,
		highValueCount: cfg.HighValueSessions,
		lowEngagement:  cfg.LowEngagementLimit,
	}
}

// Classify places one person in a cohort. Evidence is gathered from the
// sessions nearest the drop-off moment, then the tree picks the first bucket
// whose conditions hold:
//
//  1. frustration near the drop-off  -> technical_victim
//  2. completed goals plus real engagement -> high_value
//  3. confusion markers -> confused_browser
//  4. barely engaged and gone fast -> wrong_fit
//
// A person matching nothing still gets a verdict: confused_browser with a
// single low-weight unexplained_dropoff signal, so downstream ranking never
// sees an unclassified user.
func (c *Classifier) Classify(funnel Funnel, p Person) ClassifiedUser {
	near := c.nearSessions(p)
	signals := c.collectSignals(funnel, p, near)

	cohort := c.pickCohort(p, near, signals)
	if len(signals) == 0 {
		signals = append(signals, newSignal(SignalUnexplainedDropoff,
			fmt.Sprintf("dropped at step %d (%s) with no replay evidence", p.DroppedAtStep, funnel.StepName(p.DroppedAtStep))))
	}

	return ClassifiedUser{
		DistinctID:        p.DistinctID,
		Cohort:            cohort,
		PriorityScore:     Score(signals),
		RecommendedAction: RecommendedAction(cohort),
		Signals:           signals,
	}
}

// ClassifyBatch classifies every person and ranks the result by priority,
// highest first. The sort is stable: equal scores keep their input order.
func (c *Classifier) ClassifyBatch(funnel Funnel, people []Person) []ClassifiedUser {
	out := make([]ClassifiedUser, 0, len(people))
	for _, p := range people {
		out = append(out, c.Classify(funnel, p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out
}

// nearSessions returns the sessions that overlap the drop-off window. With no
// known drop-off moment every session is evidence.
func (c *Classifier) nearSessions(p Person) []SessionDigest {
	if p.DroppedAt == nil {
		return p.Sessions
	}
	windowStart := p.DroppedAt.Add(-c.dropOffWindow)
	windowEnd := p.DroppedAt.Add(c.dropOffWindow)
	return lo.Filter(p.Sessions, func(s SessionDigest, _ int) bool {
		end := s.StartedAt.Add(time.Duration(s.DurationMs) * time.Millisecond)
		return !end.Before(windowStart) && !s.StartedAt.After(windowEnd)
	})
}

func (c *Classifier) collectSignals(funnel Funnel, p Person, near []SessionDigest) []Signal {
	var signals []Signal
	add := func(typ, desc string) { signals = append(signals, newSignal(typ, desc)) }

	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.ConsoleErrors }); n > 0 {
		add(SignalConsoleErrors, fmt.Sprintf("%d console errors near drop-off", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.NetworkErrors }); n > 0 {
		add(SignalNetworkErrors, fmt.Sprintf("%d failed requests near drop-off", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.RageClicks }); n > 0 {
		add(SignalRageClicks, fmt.Sprintf("%d rage clicks near drop-off", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.DeadClicks }); n > 0 {
		add(SignalDeadClicks, fmt.Sprintf("%d unresponsive clicks near drop-off", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.ClickThrashes }); n > 0 {
		add(SignalClickThrashing, fmt.Sprintf("%d click bursts across targets", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.Hesitations }); n > 0 {
		add(SignalHesitations, fmt.Sprintf("%d hesitations over elements", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.ScrollReversals }); n > 0 {
		add(SignalScrollReversals, fmt.Sprintf("%d scroll reversals", n))
	}
	if n := sumCounts(near, func(s SessionDigest) int { return s.Summary.AbandonedInputs }); n > 0 {
		add(SignalAbandonedInputs, fmt.Sprintf("%d inputs focused then abandoned", n))
	}

	if completed := lo.CountBy(p.Sessions, func(s SessionDigest) bool { return s.Signals.CompletedGoal }); completed > 0 {
		add(SignalCompletedGoal, fmt.Sprintf("completed goal in %d sessions", completed))
	}
	if len(p.Sessions) >= c.highValueCount {
		add(SignalHighEngagement, fmt.Sprintf("%d recorded sessions", len(p.Sessions)))
	}
	if days := activeDays(p.Events); days >= 3 {
		add(SignalRepeatVisitor, fmt.Sprintf("active on %d distinct days", days))
	}

	if len(near) > 0 {
		if interactions := sumCounts(near, func(s SessionDigest) int { return s.Summary.Interactions() }); interactions < c.lowEngagement {
			add(SignalLowEngagement, fmt.Sprintf("only %d interactions near drop-off", interactions))
		}
		if c.allFastExits(near) {
			add(SignalFastExit, fmt.Sprintf("every nearby session under %s", c.fastExit))
		}
	}

	return signals
}

func (c *Classifier) pickCohort(p Person, near []SessionDigest, signals []Signal) Cohort {
	frustrated := lo.SomeBy(near, func(s SessionDigest) bool { return s.Signals.IsFrustrated })
	confused := lo.SomeBy(near, func(s SessionDigest) bool { return s.Signals.IsConfused }) ||
		sumCounts(near, func(s SessionDigest) int { return s.Summary.ClickThrashes }) > 0
	completed := lo.SomeBy(p.Sessions, func(s SessionDigest) bool { return s.Signals.CompletedGoal })

	switch {
	case frustrated:
		return TechnicalVictim
	case completed && len(p.Sessions) >= c.highValueCount:
		return HighValue
	case confused:
		return ConfusedBrowser
	case len(near) > 0 && c.allFastExits(near) &&
		sumCounts(near, func(s SessionDigest) int { return s.Summary.Interactions() }) < c.lowEngagement:
		return WrongFit
	default:
		return ConfusedBrowser
	}
}

func (c *Classifier) allFastExits(sessions []SessionDigest) bool {
	return lo.EveryBy(sessions, func(s SessionDigest) bool {
		return time.Duration(s.DurationMs)*time.Millisecond < c.fastExit
	})
}

func sumCounts(sessions []SessionDigest, f func(SessionDigest) int) int {
	return lo.SumBy(sessions, f)
}

// activeDays counts the distinct UTC days a user produced events on.
func activeDays(events []PersonEvent) int {
	days := map[string]struct{}{}
	for _, e := range events {
		days[e.Timestamp.UTC().Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}
