package semantic

import "github.com/sessionsieve/sessionsieve/internal/config"

// DeriveSignals computes the behavioral booleans from a finished summary. It
// is a pure function: same summary and thresholds, same signals, no session
// state involved.
func DeriveSignals(s Summary, cfg config.SignalsConfig) Signals {
	frustrated := s.RageClicks > 0 || s.DeadClicks > 0 || s.ConsoleErrors > 0 || s.NetworkErrors > 0
	confused := s.Hesitations >= cfg.ConfusedHesitations || s.ScrollReversals >= cfg.ConfusedReversals
	exploring := s.TotalScrolls >= cfg.ExploringMinScrolls &&
		s.TotalScrolls >= cfg.ExploringScrollRatio*s.TotalClicks

	return Signals{
		IsFrustrated: frustrated,
		IsConfused:   confused,
		IsExploring:  exploring,
		// Engagement means real activity without distress; frustration or
		// confusion vetoes it regardless of volume.
		IsEngaged:     !frustrated && !confused && s.Interactions() >= cfg.EngagedInteractions,
		IsMobile:      s.TotalTouches > 0,
		CompletedGoal: s.FormSubmissions > 0,
	}
}
