// Package semantic compresses a canonical replay event stream into a compact,
// human-readable behavioral narrative: a chronological log of what the user
// did, a counter summary of how often they did it, and a handful of derived
// booleans describing how the session felt.
package semantic

import "fmt"

// LogEntry is one line of the semantic narrative.
type LogEntry struct {
	// Timestamp is the session-relative wall position, rendered "[MM:SS]".
	Timestamp string `json:"timestamp"`
	// RawTimestamp is milliseconds since the first event.
	RawTimestamp int64  `json:"rawTimestamp"`
	Action       string `json:"action"`
	Details      string `json:"details,omitempty"`
	// Flags are detection annotations from the fixed vocabulary in flags.go.
	// Every appended flag increments exactly one Summary counter.
	Flags []string `json:"flags,omitempty"`
}

// Viewport is the capture viewport from the Meta event.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Summary counts every behavior the parser recognizes. Counters paired with
// a flag equal the number of times that flag appears across Logs; the rest
// (double clicks, reversals, clipboard, media, navigation) are counter-only.
type Summary struct {
	TotalClicks        int `json:"totalClicks"`
	RageClicks         int `json:"rageClicks"`
	DeadClicks         int `json:"deadClicks"`
	DoubleClicks       int `json:"doubleClicks"`
	RightClicks        int `json:"rightClicks"`
	ClickThrashes      int `json:"clickThrashes"`
	TotalScrolls       int `json:"totalScrolls"`
	RapidScrolls       int `json:"rapidScrolls"`
	ScrollReversals    int `json:"scrollReversals"`
	HorizontalScrolls  int `json:"horizontalScrolls"`
	MaxScrollDepth     int `json:"maxScrollDepth"`
	TotalInputs        int `json:"totalInputs"`
	AbandonedInputs    int `json:"abandonedInputs"`
	ClearedInputs      int `json:"clearedInputs"`
	InputCorrections   int `json:"inputCorrections"`
	Hovers             int `json:"hovers"`
	Hesitations        int `json:"hesitations"`
	IdleSeconds        int `json:"idleSeconds"`
	ConsoleErrors      int `json:"consoleErrors"`
	NetworkErrors      int `json:"networkErrors"`
	SlowRequests       int `json:"slowRequests"`
	SlowLoads          int `json:"slowLoads"`
	TabSwitches        int `json:"tabSwitches"`
	ExitIntents        int `json:"exitIntents"`
	OfflineEvents      int `json:"offlineEvents"`
	TotalTouches       int `json:"totalTouches"`
	Swipes             int `json:"swipes"`
	LongPresses        int `json:"longPresses"`
	OrientationChanges int `json:"orientationChanges"`
	Resizes            int `json:"resizes"`
	KeyboardShortcuts  int `json:"keyboardShortcuts"`
	FormSubmissions    int `json:"formSubmissions"`
	Navigations        int `json:"navigations"`
	Copies             int `json:"copies"`
	Pastes             int `json:"pastes"`
	Cuts               int `json:"cuts"`
	MediaPlays         int `json:"mediaPlays"`
	MediaPauses        int `json:"mediaPauses"`
	VideoSeeks         int `json:"videoSeeks"`
}

// Interactions is the deliberate-activity total used by the engagement
// signal: clicks, typing bursts, scrolls, and touches.
func (s Summary) Interactions() int {
	return s.TotalClicks + s.TotalInputs + s.TotalScrolls + s.TotalTouches
}

// Signals are the derived behavioral booleans. They are a pure function of
// Summary; see DeriveSignals.
type Signals struct {
	IsFrustrated  bool `json:"isFrustrated"`
	IsConfused    bool `json:"isConfused"`
	IsExploring   bool `json:"isExploring"`
	IsEngaged     bool `json:"isEngaged"`
	IsMobile      bool `json:"isMobile"`
	CompletedGoal bool `json:"completedGoal"`
}

// Session is the compressed output for one replay.
type Session struct {
	PageURL       string     `json:"pageUrl"`
	PageTitle     string     `json:"pageTitle,omitempty"`
	TotalDuration string     `json:"totalDuration"`
	DurationMs    int64      `json:"durationMs"`
	EventCount    int        `json:"eventCount"`
	Viewport      Viewport   `json:"viewportSize"`
	Logs          []LogEntry `json:"logs"`
	Summary       Summary    `json:"summary"`
	Signals       Signals    `json:"behavioralSignals"`
}

// Empty reports whether the session produced no behavioral narrative at all.
// An empty session is a valid outcome (a bare load-and-leave replay), not an
// error.
func (s *Session) Empty() bool {
	return len(s.Logs) == 0
}

// formatOffset renders a session-relative millisecond offset as "[MM:SS]".
// Minutes run past 59 for long sessions rather than rolling into hours.
func formatOffset(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("[%02d:%02d]", ms/60000, (ms%60000)/1000)
}

// formatDuration renders a total duration the way a person would say it:
// "45s", "4m 32s", "1h 12m".
func formatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
