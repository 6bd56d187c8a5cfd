package cohort

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
)

var (
	droppedAt  = time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	testFunnel = Funnel{Name: "signup", Steps: []string{"landing", "plan", "checkout"}}
)

func testClassifier() *Classifier {
	var cfg config.Config
	cfg.ApplyDefaults()
	return NewClassifier(cfg.Cohort)
}

// calmSession is long and interactive enough to trip neither the
// low-engagement nor the fast-exit heuristics.
func calmSession(start time.Time) SessionDigest {
	return SessionDigest{
		SessionID:  "sess-" + start.Format("150405"),
		StartedAt:  start,
		DurationMs: 3 * 60 * 1000,
		Summary:    semantic.Summary{TotalClicks: 6, TotalScrolls: 4},
	}
}

func signalTypes(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Type)
	}
	return out
}

func TestClassifyTechnicalVictim(t *testing.T) {
	sess := calmSession(droppedAt.Add(-2 * time.Minute))
	sess.Summary.RageClicks = 3
	sess.Summary.ConsoleErrors = 2
	sess.Signals.IsFrustrated = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u1",
		Sessions:   []SessionDigest{sess},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, TechnicalVictim, got.Cohort)
	assert.Equal(t, ActionBugReport, got.RecommendedAction)
	assert.ElementsMatch(t, []string{SignalConsoleErrors, SignalRageClicks}, signalTypes(got.Signals))
	assert.Equal(t, signalWeights[SignalConsoleErrors]+signalWeights[SignalRageClicks], got.PriorityScore)
}

func TestClassifyHighValue(t *testing.T) {
	s1 := calmSession(droppedAt.Add(-48 * time.Hour))
	s2 := calmSession(droppedAt.Add(-24 * time.Hour))
	s3 := calmSession(droppedAt.Add(-1 * time.Hour))
	s3.Summary.FormSubmissions = 1
	s3.Signals.CompletedGoal = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u2",
		Sessions:   []SessionDigest{s1, s2, s3},
	})

	assert.Equal(t, HighValue, got.Cohort)
	assert.Equal(t, ActionInterview, got.RecommendedAction)
	assert.Contains(t, signalTypes(got.Signals), SignalCompletedGoal)
	assert.Contains(t, signalTypes(got.Signals), SignalHighEngagement)
}

func TestClassifyConfusedBrowser(t *testing.T) {
	sess := calmSession(droppedAt.Add(-5 * time.Minute))
	sess.Summary.Hesitations = 4
	sess.Summary.ScrollReversals = 5
	sess.Signals.IsConfused = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u3",
		Sessions:   []SessionDigest{sess},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, ConfusedBrowser, got.Cohort)
	assert.Equal(t, ActionInterview, got.RecommendedAction)
	assert.ElementsMatch(t, []string{SignalHesitations, SignalScrollReversals}, signalTypes(got.Signals))
}

func TestClickThrashingImpliesConfusion(t *testing.T) {
	sess := calmSession(droppedAt.Add(-5 * time.Minute))
	sess.Summary.ClickThrashes = 2
	// No semantic confusion bit set: the counter alone must carry it.

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u4",
		Sessions:   []SessionDigest{sess},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, ConfusedBrowser, got.Cohort)
	assert.Contains(t, signalTypes(got.Signals), SignalClickThrashing)
}

func TestClassifyWrongFit(t *testing.T) {
	sess := SessionDigest{
		SessionID:  "s-bounce",
		StartedAt:  droppedAt.Add(-30 * time.Second),
		DurationMs: 20 * 1000,
		Summary:    semantic.Summary{TotalClicks: 1, TotalScrolls: 1},
	}

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u5",
		Sessions:   []SessionDigest{sess},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, WrongFit, got.Cohort)
	assert.ElementsMatch(t, []string{SignalLowEngagement, SignalFastExit}, signalTypes(got.Signals))
	assert.Equal(t, signalWeights[SignalLowEngagement]+signalWeights[SignalFastExit], got.PriorityScore)
}

func TestClassifyDefaultIsNeverEmpty(t *testing.T) {
	got := testClassifier().Classify(testFunnel, Person{
		DistinctID:    "u6",
		DroppedAtStep: 1,
	})

	assert.Equal(t, ConfusedBrowser, got.Cohort)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, SignalUnexplainedDropoff, got.Signals[0].Type)
	assert.Contains(t, got.Signals[0].Description, "step 1 (plan)")
	assert.Equal(t, signalWeights[SignalUnexplainedDropoff], got.PriorityScore)
}

func TestFrustrationOutranksCompletion(t *testing.T) {
	s1 := calmSession(droppedAt.Add(-48 * time.Hour))
	s2 := calmSession(droppedAt.Add(-24 * time.Hour))
	s2.Signals.CompletedGoal = true
	s3 := calmSession(droppedAt.Add(-2 * time.Minute))
	s3.Summary.NetworkErrors = 1
	s3.Signals.IsFrustrated = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u7",
		Sessions:   []SessionDigest{s1, s2, s3},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, TechnicalVictim, got.Cohort)
}

func TestStaleSessionsAreNotEvidence(t *testing.T) {
	old := calmSession(droppedAt.Add(-2 * time.Hour))
	old.Summary.RageClicks = 5
	old.Signals.IsFrustrated = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u8",
		Sessions:   []SessionDigest{old},
		DroppedAt:  &droppedAt,
	})

	// Frustration two hours before drop-off is outside the evidence window.
	assert.Equal(t, ConfusedBrowser, got.Cohort)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, SignalUnexplainedDropoff, got.Signals[0].Type)
}

func TestSessionSpanningWindowEdgeCounts(t *testing.T) {
	// Starts before the window but ends inside it.
	sess := calmSession(droppedAt.Add(-20 * time.Minute))
	sess.DurationMs = 12 * 60 * 1000
	sess.Summary.DeadClicks = 2
	sess.Signals.IsFrustrated = true

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u9",
		Sessions:   []SessionDigest{sess},
		DroppedAt:  &droppedAt,
	})

	assert.Equal(t, TechnicalVictim, got.Cohort)
	assert.Contains(t, signalTypes(got.Signals), SignalDeadClicks)
}

func TestRepeatVisitorSignal(t *testing.T) {
	events := []PersonEvent{
		{Name: "page_view", Timestamp: droppedAt.Add(-72 * time.Hour)},
		{Name: "page_view", Timestamp: droppedAt.Add(-48 * time.Hour)},
		{Name: "page_view", Timestamp: droppedAt.Add(-47 * time.Hour)},
		{Name: "page_view", Timestamp: droppedAt.Add(-24 * time.Hour)},
	}

	got := testClassifier().Classify(testFunnel, Person{
		DistinctID: "u10",
		Events:     events,
		Sessions:   []SessionDigest{calmSession(droppedAt.Add(-1 * time.Minute))},
		DroppedAt:  &droppedAt,
	})

	assert.Contains(t, signalTypes(got.Signals), SignalRepeatVisitor)
}

func TestClassifyBatchRanksByPriority(t *testing.T) {
	frustrated := calmSession(droppedAt.Add(-time.Minute))
	frustrated.Summary.ConsoleErrors = 1
	frustrated.Summary.RageClicks = 2
	frustrated.Signals.IsFrustrated = true

	people := []Person{
		{DistinctID: "quiet-a", DroppedAt: &droppedAt},
		{DistinctID: "loud", Sessions: []SessionDigest{frustrated}, DroppedAt: &droppedAt},
		{DistinctID: "quiet-b", DroppedAt: &droppedAt},
	}

	out := testClassifier().ClassifyBatch(testFunnel, people)

	require.Len(t, out, 3)
	assert.Equal(t, "loud", out[0].DistinctID)
	// Stable sort: equal-score users keep their input order.
	assert.Equal(t, "quiet-a", out[1].DistinctID)
	assert.Equal(t, "quiet-b", out[2].DistinctID)
	assert.GreaterOrEqual(t, out[0].PriorityScore, out[1].PriorityScore)
}

func TestMergeSignalsDedupes(t *testing.T) {
	existing := []Signal{
		newSignal(SignalRageClicks, "3 rage clicks near drop-off"),
		newSignal(SignalConsoleErrors, "2 console errors near drop-off"),
	}
	incoming := []Signal{
		newSignal(SignalRageClicks, "3 rage clicks near drop-off"), // exact duplicate
		newSignal(SignalRageClicks, "5 rage clicks near drop-off"), // same type, new evidence
		newSignal(SignalFastExit, "every nearby session under 1m0s"),
	}

	merged := MergeSignals(existing, incoming)

	require.Len(t, merged, 4)
	assert.Equal(t, SignalRageClicks, merged[0].Type)
	assert.Equal(t, SignalConsoleErrors, merged[1].Type)
	assert.Equal(t, "5 rage clicks near drop-off", merged[2].Description)
	assert.Equal(t, SignalFastExit, merged[3].Type)

	want := 2*signalWeights[SignalRageClicks] + signalWeights[SignalConsoleErrors] + signalWeights[SignalFastExit]
	assert.Equal(t, want, Score(merged))
}

func TestScoreOfNothingIsZero(t *testing.T) {
	assert.Zero(t, Score(nil))
	assert.Zero(t, Score([]Signal{}))
}

func TestStepNameOutOfRange(t *testing.T) {
	assert.Equal(t, "landing", testFunnel.StepName(0))
	assert.Equal(t, "unknown", testFunnel.StepName(-1))
	assert.Equal(t, "unknown", testFunnel.StepName(7))
}
