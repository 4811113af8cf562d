package panel

import (
	"errors"
	"sync"
	"time"

	"github.com/arielgw/castkit/internal/episode"
	"github.com/arielgw/castkit/internal/facts"
)

type ScriptStatus string

const (
	ScriptPending ScriptStatus = "pending"
	ScriptReady   ScriptStatus = "ready"
	ScriptError   ScriptStatus = "error"
)

type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionReady        SessionStatus = "ready"
	SessionError        SessionStatus = "error"
)

// ContextState tracks the episode-context delivery handshake with the widget:
// resolved context is held pending until the thread signals ready, then
// delivered exactly once.
type ContextState string

const (
	ContextNone      ContextState = "none"
	ContextPending   ContextState = "pending"
	ContextDelivered ContextState = "delivered"
)

// Error is a displayable panel error. Script errors take display precedence
// and are never retryable; session errors clear on reset.
type Error struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

var (
	ErrUnknownScheme = errors.New("unknown color scheme")
	ErrNoContext     = errors.New("no episode context resolved")
)

// State is a snapshot of the tracker for the panel_state wire message.
type State struct {
	Script   ScriptStatus  `json:"script"`
	Session  SessionStatus `json:"session"`
	Context  ContextState  `json:"context"`
	Blocking bool          `json:"blocking"`
	Epoch    int           `json:"epoch"`
	ThreadID string        `json:"thread_id,omitempty"`
	Error    *Error        `json:"error,omitempty"`
}

// Tracker holds one panel instance's lifecycle: vendor script detection,
// session initialization, the context handshake and the fact de-dup memory.
type Tracker struct {
	mu sync.Mutex

	script     ScriptStatus
	session    SessionStatus
	scriptErr  *Error
	sessionErr *Error

	episodeCtx   episode.Context
	contextState ContextState

	threadID  string
	seenFacts map[string]bool
	epoch     int

	watchdog *time.Timer
}

func NewTracker(ctx episode.Context) *Tracker {
	t := &Tracker{
		script:       ScriptPending,
		session:      SessionInitializing,
		episodeCtx:   ctx,
		contextState: ContextNone,
		seenFacts:    make(map[string]bool),
	}
	if !ctx.Empty() {
		t.contextState = ContextPending
	}
	return t
}

// StartScriptWatchdog arms the script-availability timer. If the vendor
// custom element has not registered when it fires, the script slot moves to a
// non-retryable error and onExpire (when set) runs. The timer governs script
// detection only, never a network operation.
func (t *Tracker) StartScriptWatchdog(timeout time.Duration, onExpire func()) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
	t.watchdog = time.AfterFunc(timeout, func() {
		t.mu.Lock()
		if t.script != ScriptPending {
			t.mu.Unlock()
			return
		}
		t.script = ScriptError
		t.scriptErr = &Error{Message: "Chat widget failed to load.", Retryable: false}
		t.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
	})
}

// ScriptReady records that the vendor custom element registered.
func (t *Tracker) ScriptReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	if t.script != ScriptPending {
		return
	}
	t.script = ScriptReady
	t.scriptErr = nil
}

// ScriptFailed records a script load failure reported by the page itself.
func (t *Tracker) ScriptFailed(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	t.script = ScriptError
	t.scriptErr = &Error{Message: message, Retryable: false}
}

func (t *Tracker) SessionReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = SessionReady
	t.sessionErr = nil
}

func (t *Tracker) SessionFailed(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = SessionError
	t.sessionErr = &Error{Message: message, Retryable: true}
}

// ThreadReady records the active conversation thread. A thread change clears
// the fact de-dup memory and re-arms the context handshake for delivery.
func (t *Tracker) ThreadReady(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if threadID == t.threadID {
		return
	}
	t.threadID = threadID
	t.seenFacts = make(map[string]bool)
	if !t.episodeCtx.Empty() {
		t.contextState = ContextPending
	}
}

// Blocking reports whether the panel must stay hidden: either the script or
// the session is not ready yet.
func (t *Tracker) Blocking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.script != ScriptReady || t.session != SessionReady
}

// ActiveError returns the error to display, script errors first.
func (t *Tracker) ActiveError() (Error, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scriptErr != nil {
		return *t.scriptErr, true
	}
	if t.sessionErr != nil {
		return *t.sessionErr, true
	}
	return Error{}, false
}

// Reset clears all error state and the fact de-dup memory, re-arms the
// context handshake and bumps the remount epoch so the widget is recreated.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scriptErr = nil
	t.sessionErr = nil
	if t.script == ScriptError {
		t.script = ScriptPending
	}
	t.session = SessionInitializing
	t.threadID = ""
	t.seenFacts = make(map[string]bool)
	if !t.episodeCtx.Empty() {
		t.contextState = ContextPending
	}
	t.epoch++
}

func (t *Tracker) Epoch() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

func (t *Tracker) ThreadID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadID
}

// ValidateScheme checks a switch_theme request before any host callback runs.
func ValidateScheme(scheme string) error {
	switch scheme {
	case "light", "dark":
		return nil
	default:
		return ErrUnknownScheme
	}
}

// RecordFact normalizes the fact text and applies the per-instance de-dup
// memory. It returns the normalized text and whether this id is new and
// should be forwarded to the host.
func (t *Tracker) RecordFact(id, text string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || t.seenFacts[id] {
		return "", false
	}
	t.seenFacts[id] = true
	return facts.Normalize(text), true
}

// DeliverContext completes the pending half of the context handshake. It
// fails until the thread is ready and reports delivery exactly once; the
// returned context itself stays readable through EpisodeContext.
func (t *Tracker) DeliverContext() (episode.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.episodeCtx.Empty() {
		return episode.Context{}, ErrNoContext
	}
	if t.threadID == "" {
		return episode.Context{}, errors.New("thread not ready")
	}
	t.contextState = ContextDelivered
	return t.episodeCtx, nil
}

// EpisodeContext returns the already-resolved episode fields without touching
// the handshake. This backs the request_episode_context pull tool.
func (t *Tracker) EpisodeContext() episode.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episodeCtx
}

// Snapshot captures the full panel state for the wire.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Script:   t.script,
		Session:  t.session,
		Context:  t.contextState,
		Blocking: t.script != ScriptReady || t.session != SessionReady,
		Epoch:    t.epoch,
		ThreadID: t.threadID,
	}
	if t.scriptErr != nil {
		e := *t.scriptErr
		st.Error = &e
	} else if t.sessionErr != nil {
		e := *t.sessionErr
		st.Error = &e
	}
	return st
}
