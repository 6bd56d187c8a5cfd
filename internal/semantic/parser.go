package semantic

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/rrweb"
)

// ErrMissingFullSnapshot rejects a stream with no FullSnapshot event. Without
// one there was never a rendered page, so behavioral analysis would describe
// interactions with nothing.
var ErrMissingFullSnapshot = errors.New("semantic: session has no full snapshot")

// Parser compresses event streams. It holds only thresholds, so one Parser is
// safe for concurrent use across sessions.
type Parser struct {
	cfg     config.ParserConfig
	signals config.SignalsConfig
}

// NewParser builds a parser from detection thresholds.
func NewParser(cfg config.ParserConfig, signals config.SignalsConfig) *Parser {
	return &Parser{cfg: cfg, signals: signals}
}

// Parse runs the single forward pass over a decoded session and returns its
// semantic compression. The input must be sorted by timestamp, which the
// decoder guarantees.
func (p *Parser) Parse(events []rrweb.Event) (*Session, error) {
	hasSnapshot := false
	for _, e := range events {
		if e.Type == rrweb.FullSnapshot {
			hasSnapshot = true
			break
		}
	}
	if !hasSnapshot {
		return nil, ErrMissingFullSnapshot
	}

	r := &run{
		cfg:      p.cfg,
		s:        &Session{Logs: []LogEntry{}},
		clickWin: map[int][]int64{},
		inputs:   map[int]*inputState{},
	}
	for _, e := range events {
		r.step(e)
	}
	r.finish()

	r.s.EventCount = len(events)
	r.s.DurationMs = r.endTS - r.startTS
	r.s.TotalDuration = formatDuration(r.s.DurationMs)
	r.s.Signals = DeriveSignals(r.s.Summary, p.signals)
	return r.s, nil
}

// clickStamp is one click in the thrash window.
type clickStamp struct {
	ts     int64
	nodeID int
}

// pendingClick is a click awaiting evidence that the page responded. entryIdx
// addresses the click's log entry by index; the logs slice reallocates as it
// grows, so pointers into it would go stale.
type pendingClick struct {
	ts       int64
	entryIdx int
}

type inputState struct {
	focused     bool
	sawInput    bool
	typedLogged bool
	corrected   bool
	lastText    string
	entryIdx    int
}

type scrollState struct {
	seen    bool
	lastTS  int64
	lastX   int
	lastY   int
	lastDir int
}

type scrollBurst struct {
	active     bool
	dir        int
	lastTS     int64
	entryIdx   int
	rapid      bool
	horizontal bool
}

type hoverState struct {
	active  bool
	nodeID  int
	since   int64
	lastTS  int64
	clicked bool
}

type touchState struct {
	ts    int64
	moved bool
}

// run is the working state of one Parse call.
type run struct {
	cfg config.ParserConfig
	s   *Session

	startTS int64
	lastTS  int64
	endTS   int64

	metaSeen      bool
	snapshotCount int
	viewportW     int
	viewportH     int
	docHeight     int

	clickWin    map[int][]int64
	thrashWin   []clickStamp
	pending     []pendingClick
	inputs      map[int]*inputState
	scroll      scrollState
	burst       scrollBurst
	hover       hoverState
	touch       *touchState
	lastSwipeTS int64

	lastLoggedMs int64
}

// log appends a narrative entry and returns its index. Entry offsets are
// clamped monotonic so the log stays chronological even for conditions
// detected slightly after the fact.
func (r *run) log(ts int64, action, details string) int {
	ms := ts - r.startTS
	if ms < r.lastLoggedMs {
		ms = r.lastLoggedMs
	}
	r.lastLoggedMs = ms
	r.s.Logs = append(r.s.Logs, LogEntry{
		Timestamp:    formatOffset(ms),
		RawTimestamp: ms,
		Action:       action,
		Details:      details,
	})
	return len(r.s.Logs) - 1
}

// flag annotates the entry at idx and bumps the paired counter.
func (r *run) flag(idx int, flag string) {
	r.s.Logs[idx].Flags = append(r.s.Logs[idx].Flags, flag)
	r.s.Summary.bump(flag)
}

func (r *run) step(e rrweb.Event) {
	if r.startTS == 0 {
		r.startTS = e.Timestamp
		r.lastTS = e.Timestamp
	}

	// Idle gap between consecutive events.
	gap := e.Timestamp - r.lastTS
	if gap >= int64(r.cfg.IdleGapSeconds)*1000 {
		secs := int(gap / 1000)
		r.s.Summary.IdleSeconds += secs
		r.log(r.lastTS, "Went idle", fmt.Sprintf("no activity for %ds", secs))
	}

	r.settlePending(e)

	switch e.Type {
	case rrweb.Meta:
		r.onMeta(e)
	case rrweb.FullSnapshot:
		r.snapshotCount++
		if r.snapshotCount > 1 {
			r.log(e.Timestamp, "View re-rendered", "")
		}
	case rrweb.IncrementalSnapshot:
		r.onIncremental(e)
	case rrweb.Custom:
		r.onCustom(e)
	case rrweb.Plugin:
		r.onPlugin(e)
	}

	r.lastTS = e.Timestamp
	r.endTS = e.Timestamp
}

// settlePending walks the dead-click candidates. A candidate older than the
// observation window is dead; one inside the window survives if the current
// event is evidence the page responded.
func (r *run) settlePending(e rrweb.Event) {
	if len(r.pending) == 0 {
		return
	}
	responsive := eventShowsResponse(e)
	kept := r.pending[:0]
	for _, pc := range r.pending {
		age := e.Timestamp - pc.ts
		switch {
		case age > r.cfg.DeadClickWindowMs:
			r.flag(pc.entryIdx, FlagNoResponse)
		case responsive:
			// resolved
		default:
			kept = append(kept, pc)
		}
	}
	r.pending = kept
}

// eventShowsResponse reports whether e is evidence the page reacted to input:
// a DOM mutation, a navigation, a re-render, or network activity.
func eventShowsResponse(e rrweb.Event) bool {
	switch e.Type {
	case rrweb.Meta, rrweb.FullSnapshot:
		return true
	case rrweb.IncrementalSnapshot:
		src, ok := e.Source()
		return ok && src == rrweb.SourceMutation
	case rrweb.Custom:
		switch e.CustomTag() {
		case "page_view", "network_request":
			return true
		}
	}
	return false
}

func (r *run) onMeta(e rrweb.Event) {
	href := rrweb.Str(e.Data, "href")
	w, _ := rrweb.Int(e.Data, "width")
	h, _ := rrweb.Int(e.Data, "height")

	if !r.metaSeen {
		r.metaSeen = true
		r.s.PageURL = href
		r.s.Viewport = Viewport{Width: w, Height: h}
		r.viewportW, r.viewportH = w, h
		return
	}
	r.s.Summary.Navigations++
	r.log(e.Timestamp, "Navigated", href)
	if w > 0 {
		r.viewportW, r.viewportH = w, h
	}
}

func (r *run) onIncremental(e rrweb.Event) {
	src, ok := e.Source()
	if !ok {
		return
	}
	switch src {
	case rrweb.SourceMouseInteraction:
		r.onMouseInteraction(e)
	case rrweb.SourceMouseMove:
		r.onMouseMove(e)
	case rrweb.SourceScroll:
		r.onScroll(e)
	case rrweb.SourceViewportResize:
		r.onResize(e)
	case rrweb.SourceInput:
		r.onInput(e)
	case rrweb.SourceTouchMove:
		r.onTouchMove(e)
	case rrweb.SourceMediaInteraction:
		r.onMedia(e)
	}
}

func (r *run) onMouseInteraction(e rrweb.Event) {
	kind, ok := e.InteractionKind()
	if !ok {
		return
	}
	nodeID, _ := rrweb.Int(e.Data, "id")

	switch kind {
	case rrweb.Click:
		r.onClick(e, nodeID)
	case rrweb.DblClick:
		r.s.Summary.DoubleClicks++
		r.log(e.Timestamp, "Double clicked", describeNode(e.Data, nodeID))
	case rrweb.ContextMenu:
		r.s.Summary.RightClicks++
		r.log(e.Timestamp, "Right clicked", describeNode(e.Data, nodeID))
	case rrweb.Focus:
		st := r.inputState(nodeID)
		st.focused = true
		st.sawInput = false
	case rrweb.Blur:
		st := r.inputs[nodeID]
		if st != nil && st.focused {
			if !st.sawInput {
				idx := r.log(e.Timestamp, "Left input untouched", describeNode(e.Data, nodeID))
				r.flag(idx, FlagAbandonedInput)
			}
			st.focused = false
			st.typedLogged = false
			st.corrected = false
		}
	case rrweb.TouchStart:
		r.s.Summary.TotalTouches++
		r.touch = &touchState{ts: e.Timestamp}
	case rrweb.TouchEnd:
		if r.touch != nil && !r.touch.moved && e.Timestamp-r.touch.ts >= r.cfg.LongPressMs {
			idx := r.log(e.Timestamp, "Long pressed", describeNode(e.Data, nodeID))
			r.flag(idx, FlagLongPress)
		}
		r.touch = nil
	}
}

func (r *run) onClick(e rrweb.Event, nodeID int) {
	r.s.Summary.TotalClicks++
	idx := r.log(e.Timestamp, "Clicked", describeNode(e.Data, nodeID))

	if r.hover.active && r.hover.nodeID == nodeID {
		r.hover.clicked = true
	}

	// Rage: repeated clicks on the same target inside a rolling window. The
	// window resets once flagged so a sustained burst yields one flag per
	// full count, not one per extra click.
	win := pruneWindow(r.clickWin[nodeID], e.Timestamp-r.cfg.RageClickWindowMs)
	win = append(win, e.Timestamp)
	if len(win) >= r.cfg.RageClickCount {
		r.flag(idx, FlagRageClick)
		delete(r.clickWin, nodeID)
	} else {
		r.clickWin[nodeID] = win
	}

	// Thrash: a burst of clicks sprayed across distinct targets.
	cutoff := e.Timestamp - r.cfg.ThrashWindowMs
	kept := r.thrashWin[:0]
	for _, c := range r.thrashWin {
		if c.ts >= cutoff {
			kept = append(kept, c)
		}
	}
	r.thrashWin = append(kept, clickStamp{ts: e.Timestamp, nodeID: nodeID})
	if len(r.thrashWin) >= r.cfg.ThrashClickCount && distinctTargets(r.thrashWin) >= r.cfg.ThrashMinTargets {
		r.flag(idx, FlagClickThrashing)
		r.thrashWin = r.thrashWin[:0]
	}

	r.pending = append(r.pending, pendingClick{ts: e.Timestamp, entryIdx: idx})
}

func pruneWindow(win []int64, cutoff int64) []int64 {
	kept := win[:0]
	for _, ts := range win {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

func distinctTargets(win []clickStamp) int {
	seen := map[int]struct{}{}
	for _, c := range win {
		seen[c.nodeID] = struct{}{}
	}
	return len(seen)
}

func (r *run) onMouseMove(e rrweb.Event) {
	for _, p := range rrweb.Slice(e.Data, "positions") {
		pos, ok := p.(map[string]any)
		if !ok {
			continue
		}
		nodeID, ok := rrweb.Int(pos, "id")
		if !ok || nodeID <= 0 {
			continue
		}
		offset, _ := rrweb.Int64(pos, "timeOffset")
		r.trackHover(e.Timestamp+offset, nodeID)
	}
}

// trackHover maintains the single current dwell. Moving onto a new node
// closes the previous dwell and scores it.
func (r *run) trackHover(ts int64, nodeID int) {
	if r.hover.active && r.hover.nodeID == nodeID {
		r.hover.lastTS = ts
		return
	}
	r.closeHover(ts)
	r.hover = hoverState{active: true, nodeID: nodeID, since: ts, lastTS: ts}
}

// closeHover finalizes the current dwell at observation time closeTS. A dwell
// long enough to count as attention bumps Hovers; one long enough to suggest
// indecision, with no click on the target, becomes a hesitation.
func (r *run) closeHover(closeTS int64) {
	if !r.hover.active {
		return
	}
	dwell := r.hover.lastTS - r.hover.since
	if dwell >= r.cfg.HoverMinMs {
		r.s.Summary.Hovers++
	}
	if dwell >= r.cfg.HesitationMs && !r.hover.clicked {
		idx := r.log(closeTS, "Hovered without clicking",
			fmt.Sprintf("element #%d for %.1fs", r.hover.nodeID, float64(dwell)/1000))
		r.flag(idx, FlagHesitation)
	}
	r.hover.active = false
}

func (r *run) onScroll(e rrweb.Event) {
	x, _ := rrweb.Int(e.Data, "x")
	y, _ := rrweb.Int(e.Data, "y")
	ts := e.Timestamp
	r.s.Summary.TotalScrolls++

	depth := r.scrollDepth(e.Data, y)
	if depth > r.s.Summary.MaxScrollDepth {
		r.s.Summary.MaxScrollDepth = depth
	}

	if !r.scroll.seen {
		r.scroll = scrollState{seen: true, lastTS: ts, lastX: x, lastY: y}
		r.startBurst(ts, 1, y, depth)
		return
	}

	dy := y - r.scroll.lastY
	dx := x - r.scroll.lastX
	dir := sign(dy)

	if dir != 0 && r.scroll.lastDir != 0 && dir != r.scroll.lastDir &&
		ts-r.scroll.lastTS <= r.cfg.ReversalWindowMs {
		r.s.Summary.ScrollReversals++
	}

	// Velocity over at least one frame; a burst of instant deltas would
	// otherwise divide by zero.
	dt := ts - r.scroll.lastTS
	if dt < 16 {
		dt = 16
	}
	rapid := float64(abs(dy))/float64(dt)*1000 >= r.cfg.RapidScrollPxSec
	horizontal := abs(dx) > abs(dy) && abs(dx) >= r.cfg.HorizontalMinPx

	if !r.burst.active || (dir != 0 && dir != r.burst.dir) || ts-r.burst.lastTS > r.cfg.ScrollBurstGapMs {
		r.startBurst(ts, dir, y, depth)
	} else {
		r.burst.lastTS = ts
		r.s.Logs[r.burst.entryIdx].Details = scrollDetails(y, depth)
	}

	if rapid && !r.burst.rapid {
		r.flag(r.burst.entryIdx, FlagRapidScroll)
		r.burst.rapid = true
	}
	if horizontal && !r.burst.horizontal {
		r.flag(r.burst.entryIdx, FlagHorizontalScroll)
		r.burst.horizontal = true
	}

	r.scroll.lastTS = ts
	r.scroll.lastX = x
	r.scroll.lastY = y
	if dir != 0 {
		r.scroll.lastDir = dir
	}
}

func (r *run) startBurst(ts int64, dir, y, depth int) {
	action := "Scrolled down"
	if dir < 0 {
		action = "Scrolled up"
	}
	idx := r.log(ts, action, scrollDetails(y, depth))
	r.burst = scrollBurst{active: true, dir: dir, lastTS: ts, entryIdx: idx}
}

func scrollDetails(y, depth int) string {
	if depth > 0 {
		return fmt.Sprintf("to %dpx (%d%% depth)", y, depth)
	}
	return fmt.Sprintf("to %dpx", y)
}

// scrollDepth resolves how deep into the page a scroll position is. Preference
// order: an explicit percent on the event (synthesized streams carry one),
// then position over a known document height, else unknown.
func (r *run) scrollDepth(data map[string]any, y int) int {
	if pct, ok := rrweb.Float(data, "percent"); ok {
		return clampPct(int(pct))
	}
	if r.docHeight > 0 && r.viewportH > 0 {
		return clampPct((y + r.viewportH) * 100 / r.docHeight)
	}
	return 0
}

func (r *run) onResize(e rrweb.Event) {
	w, _ := rrweb.Int(e.Data, "width")
	h, _ := rrweb.Int(e.Data, "height")
	r.s.Summary.Resizes++
	idx := r.log(e.Timestamp, "Resized viewport", fmt.Sprintf("to %dx%d", w, h))

	if r.viewportW > 0 && r.viewportH > 0 && w > 0 && h > 0 &&
		(r.viewportW > r.viewportH) != (w > h) {
		r.flag(idx, FlagOrientationChange)
	}
	r.viewportW, r.viewportH = w, h
}

func (r *run) onInput(e rrweb.Event) {
	nodeID, _ := rrweb.Int(e.Data, "id")
	st := r.inputState(nodeID)
	st.sawInput = true

	if _, isToggle := e.Data["isChecked"]; isToggle && rrweb.Str(e.Data, "text") == "" {
		r.log(e.Timestamp, "Toggled control", describeNode(e.Data, nodeID))
		return
	}

	text := rrweb.Str(e.Data, "text")
	prev := st.lastText
	st.lastText = text

	switch {
	case text == "" && prev != "":
		idx := r.log(e.Timestamp, "Cleared input", describeNode(e.Data, nodeID))
		r.flag(idx, FlagClearedInput)
		st.typedLogged = false
	case len(text) < len(prev) && len(prev)-len(text) >= r.cfg.CorrectionMinChars && !st.corrected:
		idx := r.log(e.Timestamp, "Corrected input", describeNode(e.Data, nodeID))
		r.flag(idx, FlagCorrection)
		st.corrected = true
	case len(text) > len(prev) && !st.typedLogged:
		r.s.Summary.TotalInputs++
		st.typedLogged = true
		st.entryIdx = r.log(e.Timestamp, "Typed", inputDetails(e.Data, nodeID, text))
	case st.typedLogged:
		// Extend the open typing entry with the latest value.
		r.s.Logs[st.entryIdx].Details = inputDetails(e.Data, nodeID, text)
	}
}

func inputDetails(data map[string]any, nodeID int, text string) string {
	return fmt.Sprintf("%s: %q (%d chars)", describeNode(data, nodeID), clip(text, 24), len(text))
}

func (r *run) onTouchMove(e rrweb.Event) {
	if r.touch != nil {
		r.touch.moved = true
	}
	positions := rrweb.Slice(e.Data, "positions")
	if len(positions) < 2 {
		return
	}
	first, ok1 := positions[0].(map[string]any)
	last, ok2 := positions[len(positions)-1].(map[string]any)
	if !ok1 || !ok2 {
		return
	}

	fx, _ := rrweb.Int(first, "x")
	fy, _ := rrweb.Int(first, "y")
	lx, _ := rrweb.Int(last, "x")
	ly, _ := rrweb.Int(last, "y")
	fo, _ := rrweb.Int64(first, "timeOffset")
	lo, _ := rrweb.Int64(last, "timeOffset")

	dx, dy := lx-fx, ly-fy
	dist := max(abs(dx), abs(dy))
	dur := lo - fo
	if dist < r.cfg.SwipeMinPx || dur > r.cfg.SwipeMaxMs {
		return
	}
	// One flag per gesture even when the capture splits it across batches.
	if e.Timestamp-r.lastSwipeTS < 500 {
		return
	}
	r.lastSwipeTS = e.Timestamp

	idx := r.log(e.Timestamp, "Swiped "+swipeDirection(dx, dy), fmt.Sprintf("%dpx in %dms", dist, dur))
	r.flag(idx, FlagSwipe)
}

func swipeDirection(dx, dy int) string {
	if abs(dx) > abs(dy) {
		if dx > 0 {
			return "right"
		}
		return "left"
	}
	if dy > 0 {
		return "down"
	}
	return "up"
}

func (r *run) onMedia(e rrweb.Event) {
	kind, _ := rrweb.Int(e.Data, "type")
	switch rrweb.MediaInteractionKind(kind) {
	case rrweb.MediaPlay:
		r.s.Summary.MediaPlays++
		r.log(e.Timestamp, "Played media", "")
	case rrweb.MediaPause:
		r.s.Summary.MediaPauses++
		r.log(e.Timestamp, "Paused media", "")
	case rrweb.MediaSeeked:
		idx := r.log(e.Timestamp, "Seeked media", "")
		r.flag(idx, FlagVideoSeek)
	}
}

func (r *run) onCustom(e rrweb.Event) {
	payload := e.CustomPayload()
	ts := e.Timestamp

	switch e.CustomTag() {
	case "console", "console_error":
		level := rrweb.Str(payload, "level")
		if level != "" && level != "error" {
			return
		}
		idx := r.log(ts, "Console error", consoleMessage(payload))
		r.flag(idx, FlagConsoleError)

	case "network_request":
		r.onNetworkRequest(ts, payload)

	case "page_load", "performance":
		dur, ok := rrweb.Int64(payload, "duration_ms")
		if !ok {
			dur, ok = rrweb.Int64(payload, "load_time_ms")
		}
		if !ok {
			if f, okf := rrweb.Float(payload, "value"); okf {
				dur = int64(f)
			}
		}
		details := ""
		if dur > 0 {
			details = fmt.Sprintf("in %.1fs", float64(dur)/1000)
		}
		idx := r.log(ts, "Page loaded", details)
		if dur >= r.cfg.SlowLoadMs {
			r.flag(idx, FlagSlowLoad)
		}

	case "visibility_change", "tab_switch":
		if visibilityHidden(payload) {
			idx := r.log(ts, "Switched away from tab", "")
			r.flag(idx, FlagTabSwitch)
		} else {
			r.log(ts, "Returned to tab", "")
		}

	case "mouse_leave", "exit_intent":
		idx := r.log(ts, "Cursor left the page", "toward browser chrome")
		r.flag(idx, FlagExitIntent)

	case "offline":
		idx := r.log(ts, "Went offline", "")
		r.flag(idx, FlagOffline)

	case "online":
		r.log(ts, "Back online", "")

	case "keyboard_shortcut", "key_combo":
		keys := rrweb.Str(payload, "keys")
		if keys == "" {
			keys = rrweb.Str(payload, "combo")
		}
		idx := r.log(ts, "Pressed shortcut", keys)
		r.flag(idx, FlagKeyboardShortcut)

	case "form_submit":
		idx := r.log(ts, "Submitted form", rrweb.Str(payload, "form_id"))
		r.flag(idx, FlagFormSubmit)

	case "page_view":
		url := rrweb.Str(payload, "url")
		r.s.Summary.Navigations++
		r.log(ts, "Viewed page", url)
		if r.s.PageURL == "" {
			r.s.PageURL = url
		}
		if r.s.PageTitle == "" {
			r.s.PageTitle = rrweb.Str(payload, "title")
		}

	case "session_start":
		r.log(ts, "Session started", "")
	case "session_end":
		r.log(ts, "Session ended", "")

	case "search":
		r.log(ts, "Searched", fmt.Sprintf("%q", rrweb.Str(payload, "query")))

	case "copy":
		r.s.Summary.Copies++
		r.log(ts, "Copied text", "")
	case "paste":
		r.s.Summary.Pastes++
		r.log(ts, "Pasted text", "")
	case "cut":
		r.s.Summary.Cuts++
		r.log(ts, "Cut text", "")

	case "orientation_change":
		idx := r.log(ts, "Rotated device", "")
		r.flag(idx, FlagOrientationChange)

	case "page_info":
		if h, ok := rrweb.Int(payload, "height"); ok && h > 0 {
			r.docHeight = h
		}

	case "":
		// untagged custom event, nothing to say about it

	default:
		r.log(ts, "Custom event", customDetails(e.CustomTag(), payload))
	}
}

// onPlugin handles recorder plugin events. The console plugin wraps captured
// console calls in a Plugin event; only error-level entries reach the
// narrative, same as the custom console tag.
func (r *run) onPlugin(e rrweb.Event) {
	if !strings.HasPrefix(e.PluginName(), "rrweb/console") {
		return
	}
	payload := rrweb.Map(e.Data, "payload")
	if rrweb.Str(payload, "level") != "error" {
		return
	}
	idx := r.log(e.Timestamp, "Console error", consoleMessage(payload))
	r.flag(idx, FlagConsoleError)
}

func (r *run) onNetworkRequest(ts int64, payload map[string]any) {
	status, _ := rrweb.Int(payload, "status")
	dur, _ := rrweb.Int64(payload, "duration_ms")
	failed := status >= 400
	slow := dur >= r.cfg.SlowRequestMs

	// Healthy fast requests are page noise, not narrative.
	if !failed && !slow {
		return
	}

	method := rrweb.Str(payload, "method")
	url := rrweb.Str(payload, "url")
	idx := r.log(ts, "Network request", fmt.Sprintf("%s %s -> %d (%dms)", method, clip(url, 80), status, dur))
	if failed {
		r.flag(idx, FlagNetworkError)
	}
	if slow {
		r.flag(idx, FlagSlowNetwork)
	}
}

// finish settles everything still open at end of stream. A pending click is
// dead only when the session demonstrably outlived its observation window;
// clicks in the final instants stay unjudged.
func (r *run) finish() {
	r.closeHover(r.endTS)
	for _, pc := range r.pending {
		if r.endTS-pc.ts > r.cfg.DeadClickWindowMs {
			r.flag(pc.entryIdx, FlagNoResponse)
		}
	}
	r.pending = nil
}

func (r *run) inputState(nodeID int) *inputState {
	st := r.inputs[nodeID]
	if st == nil {
		st = &inputState{}
		r.inputs[nodeID] = st
	}
	return st
}

// describeNode renders the click/input target. Synthesized streams carry a
// selector and text; native rrweb has only the node id and coordinates.
func describeNode(data map[string]any, nodeID int) string {
	if sel := rrweb.Str(data, "selector"); sel != "" {
		if text := rrweb.Str(data, "text"); text != "" {
			return fmt.Sprintf("%s %q", sel, clip(text, 32))
		}
		return sel
	}
	x, okX := rrweb.Int(data, "x")
	y, okY := rrweb.Int(data, "y")
	if okX && okY && (x != 0 || y != 0) {
		return fmt.Sprintf("element #%d at (%d, %d)", nodeID, x, y)
	}
	return fmt.Sprintf("element #%d", nodeID)
}

func consoleMessage(payload map[string]any) string {
	if msgs := rrweb.Slice(payload, "payload"); len(msgs) > 0 {
		parts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			parts = append(parts, strings.Trim(fmt.Sprintf("%v", m), `"`))
		}
		return clip(strings.Join(parts, " "), 200)
	}
	if msg := rrweb.Str(payload, "message"); msg != "" {
		return clip(msg, 200)
	}
	if msg := rrweb.Str(payload, "value"); msg != "" {
		return clip(msg, 200)
	}
	return ""
}

func visibilityHidden(payload map[string]any) bool {
	if v, ok := payload["visible"].(bool); ok {
		return !v
	}
	if s := rrweb.Str(payload, "state"); s != "" {
		return s == "hidden"
	}
	// A bare tab_switch marker means the user left.
	return true
}

func customDetails(tag string, payload map[string]any) string {
	if len(payload) == 0 {
		return tag
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return tag
	}
	return fmt.Sprintf("%s %s", tag, clip(string(b), 120))
}

func clampPct(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
