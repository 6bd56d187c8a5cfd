package semantic

// The flag vocabulary. These strings are a stable external contract: stored
// sessions, downstream prompt templates, and dashboard filters all match on
// them verbatim, so they must never be reworded.
const (
	FlagRageClick         = "[RAGE CLICK]"
	FlagNoResponse        = "[NO RESPONSE]"
	FlagClickThrashing    = "[CLICK THRASHING]"
	FlagConsoleError      = "[CONSOLE ERROR]"
	FlagNetworkError      = "[NETWORK ERROR]"
	FlagSlowNetwork       = "[SLOW NETWORK]"
	FlagSlowLoad          = "[SLOW LOAD]"
	FlagAbandonedInput    = "[ABANDONED INPUT]"
	FlagClearedInput      = "[CLEARED INPUT]"
	FlagCorrection        = "[CORRECTION]"
	FlagHesitation        = "[HESITATION]"
	FlagRapidScroll       = "[RAPID SCROLL]"
	FlagTabSwitch         = "[TAB SWITCH]"
	FlagExitIntent        = "[EXIT INTENT]"
	FlagSwipe             = "[SWIPE]"
	FlagLongPress         = "[LONG PRESS]"
	FlagHorizontalScroll  = "[HORIZONTAL SCROLL]"
	FlagOrientationChange = "[ORIENTATION CHANGE]"
	FlagOffline           = "[OFFLINE]"
	FlagKeyboardShortcut  = "[KEYBOARD SHORTCUT]"
	FlagFormSubmit        = "[FORM SUBMIT]"
	FlagVideoSeek         = "[VIDEO SEEK]"
)

// AllFlags lists the vocabulary in a fixed order, for storage schemas and
// consistency checks.
var AllFlags = []string{
	FlagRageClick,
	FlagNoResponse,
	FlagClickThrashing,
	FlagConsoleError,
	FlagNetworkError,
	FlagSlowNetwork,
	FlagSlowLoad,
	FlagAbandonedInput,
	FlagClearedInput,
	FlagCorrection,
	FlagHesitation,
	FlagRapidScroll,
	FlagTabSwitch,
	FlagExitIntent,
	FlagSwipe,
	FlagLongPress,
	FlagHorizontalScroll,
	FlagOrientationChange,
	FlagOffline,
	FlagKeyboardShortcut,
	FlagFormSubmit,
	FlagVideoSeek,
}

// bump increments the Summary counter paired with flag. Flag appends route
// through here (see run.flag), which is what makes "counter == number of
// appended flags" hold by construction.
func (s *Summary) bump(flag string) {
	switch flag {
	case FlagRageClick:
		s.RageClicks++
	case FlagNoResponse:
		s.DeadClicks++
	case FlagClickThrashing:
		s.ClickThrashes++
	case FlagConsoleError:
		s.ConsoleErrors++
	case FlagNetworkError:
		s.NetworkErrors++
	case FlagSlowNetwork:
		s.SlowRequests++
	case FlagSlowLoad:
		s.SlowLoads++
	case FlagAbandonedInput:
		s.AbandonedInputs++
	case FlagClearedInput:
		s.ClearedInputs++
	case FlagCorrection:
		s.InputCorrections++
	case FlagHesitation:
		s.Hesitations++
	case FlagRapidScroll:
		s.RapidScrolls++
	case FlagTabSwitch:
		s.TabSwitches++
	case FlagExitIntent:
		s.ExitIntents++
	case FlagSwipe:
		s.Swipes++
	case FlagLongPress:
		s.LongPresses++
	case FlagHorizontalScroll:
		s.HorizontalScrolls++
	case FlagOrientationChange:
		s.OrientationChanges++
	case FlagOffline:
		s.OfflineEvents++
	case FlagKeyboardShortcut:
		s.KeyboardShortcuts++
	case FlagFormSubmit:
		s.FormSubmissions++
	case FlagVideoSeek:
		s.VideoSeeks++
	}
}

// CounterFor returns the Summary counter paired with flag, and whether the
// flag has one. The inverse of bump, used by consistency tests and the
// friction rollup.
func (s Summary) CounterFor(flag string) (int, bool) {
	switch flag {
	case FlagRageClick:
		return s.RageClicks, true
	case FlagNoResponse:
		return s.DeadClicks, true
	case FlagClickThrashing:
		return s.ClickThrashes, true
	case FlagConsoleError:
		return s.ConsoleErrors, true
	case FlagNetworkError:
		return s.NetworkErrors, true
	case FlagSlowNetwork:
		return s.SlowRequests, true
	case FlagSlowLoad:
		return s.SlowLoads, true
	case FlagAbandonedInput:
		return s.AbandonedInputs, true
	case FlagClearedInput:
		return s.ClearedInputs, true
	case FlagCorrection:
		return s.InputCorrections, true
	case FlagHesitation:
		return s.Hesitations, true
	case FlagRapidScroll:
		return s.RapidScrolls, true
	case FlagTabSwitch:
		return s.TabSwitches, true
	case FlagExitIntent:
		return s.ExitIntents, true
	case FlagSwipe:
		return s.Swipes, true
	case FlagLongPress:
		return s.LongPresses, true
	case FlagHorizontalScroll:
		return s.HorizontalScrolls, true
	case FlagOrientationChange:
		return s.OrientationChanges, true
	case FlagOffline:
		return s.OfflineEvents, true
	case FlagKeyboardShortcut:
		return s.KeyboardShortcuts, true
	case FlagFormSubmit:
		return s.FormSubmissions, true
	case FlagVideoSeek:
		return s.VideoSeeks, true
	}
	return 0, false
}
