// internal/events/event.go
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Phase is the dispatch phase an event is in.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseCapturing
	PhaseAtTarget
	PhaseBubbling
)

func (p Phase) String() string {
	switch p {
	case PhaseCapturing:
		return "capturing"
	case PhaseAtTarget:
		return "at-target"
	case PhaseBubbling:
		return "bubbling"
	}
	return "none"
}

// Init carries the constructor flags of an event.
type Init struct {
	Bubbles    bool
	Cancelable bool
	Composed   bool
	// Detail is an arbitrary payload, typically one of the *Detail types in
	// this package.
	Detail any
}

// Event is a single event instance. It may be dispatched any number of
// times, but never twice concurrently.
type Event struct {
	mu sync.Mutex

	typ         string
	bubbles     bool
	cancelable  bool
	composed    bool
	detail      any
	initialized bool
	timeStamp   time.Time

	dispatching      bool
	phase            Phase
	target           dom.Handle
	currentTarget    dom.Handle
	path             []dom.Handle
	defaultPrevented bool
	stop             bool
	stopImmediate    bool
	inPassive        bool
}

// New creates an initialized event of type typ.
func New(typ string, init Init) *Event {
	return &Event{
		typ:         typ,
		bubbles:     init.Bubbles,
		cancelable:  init.Cancelable,
		composed:    init.Composed,
		detail:      init.Detail,
		initialized: true,
		timeStamp:   time.Now(),
	}
}

// CreateEvent returns an uninitialized event for one of the legacy
// interface names. It must be initialized with InitEvent before dispatch.
func CreateEvent(iface string) (*Event, error) {
	var detail any
	switch iface {
	case "Event", "Events", "HTMLEvents", "UIEvent", "UIEvents", "CustomEvent":
	case "MouseEvent", "MouseEvents":
		detail = MouseDetail{}
	case "KeyboardEvent":
		detail = KeyboardDetail{}
	case "FocusEvent":
		detail = FocusDetail{}
	case "InputEvent":
		detail = InputDetail{}
	case "WheelEvent":
		detail = WheelDetail{}
	case "CompositionEvent":
		detail = CompositionDetail{}
	default:
		return nil, domerr.Newf(domerr.NotSupported, "createEvent", "unknown event interface %q", iface)
	}
	return &Event{detail: detail, timeStamp: time.Now()}, nil
}

// InitEvent (re)initializes the event. It is ignored while the event is
// being dispatched.
func (e *Event) InitEvent(typ string, bubbles, cancelable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatching {
		return
	}
	e.typ = typ
	e.bubbles = bubbles
	e.cancelable = cancelable
	e.initialized = true
	e.defaultPrevented = false
	e.stop = false
	e.stopImmediate = false
	e.target = dom.Nil
}

func (e *Event) Type() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typ
}

func (e *Event) Bubbles() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bubbles
}

func (e *Event) Cancelable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelable
}

func (e *Event) Composed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.composed
}

func (e *Event) Detail() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detail
}

func (e *Event) TimeStamp() time.Time {
	return e.timeStamp
}

// Phase returns the current dispatch phase.
func (e *Event) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Target is the node the event was dispatched to, retargeted to the shadow
// host for listeners outside the target's shadow tree.
func (e *Event) Target() dom.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// CurrentTarget is the node whose listener is running, or Nil outside a
// listener invocation.
func (e *Event) CurrentTarget() dom.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTarget
}

// Dispatching reports whether the event is in flight.
func (e *Event) Dispatching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatching
}

// DefaultPrevented reports whether a listener canceled the event.
func (e *Event) DefaultPrevented() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultPrevented
}

// PreventDefault cancels the event. It has no effect on non-cancelable
// events or inside a passive listener.
func (e *Event) PreventDefault() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelable && !e.inPassive {
		e.defaultPrevented = true
	}
}

// StopPropagation prevents the event from reaching further nodes. The
// remaining listeners of the current node still run.
func (e *Event) StopPropagation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop = true
}

// StopImmediatePropagation also skips the remaining listeners of the
// current node.
func (e *Event) StopImmediatePropagation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stop = true
	e.stopImmediate = true
}

// ComposedPath returns the propagation path, target first, while the event
// is being dispatched, and nil otherwise.
func (e *Event) ComposedPath() []dom.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dispatching {
		return nil
	}
	out := make([]dom.Handle, len(e.path))
	copy(out, e.path)
	return out
}

func (e *Event) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("Event(%s, phase=%s, target=%s)", e.typ, e.phase, e.target)
}

// begin marks the event as in flight.
func (e *Event) begin(target dom.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case !e.initialized:
		return domerr.New(domerr.InvalidState, "dispatchEvent", "event is not initialized")
	case e.dispatching:
		return domerr.New(domerr.InvalidState, "dispatchEvent", "event is already being dispatched")
	}
	e.dispatching = true
	e.target = target
	e.defaultPrevented = false
	e.stop = false
	e.stopImmediate = false
	return nil
}

// end returns the event to idle. It runs on every exit path of a dispatch.
func (e *Event) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatching = false
	e.phase = PhaseNone
	e.currentTarget = dom.Nil
	e.path = nil
	e.stop = false
	e.stopImmediate = false
	e.inPassive = false
}

func (e *Event) setPath(p []dom.Handle) {
	e.mu.Lock()
	e.path = p
	e.mu.Unlock()
}

// enter prepares one listener invocation.
func (e *Event) enter(phase Phase, current, target dom.Handle, passive bool) {
	e.mu.Lock()
	e.phase = phase
	e.currentTarget = current
	e.target = target
	e.inPassive = passive
	e.mu.Unlock()
}

func (e *Event) leave() {
	e.mu.Lock()
	e.currentTarget = dom.Nil
	e.inPassive = false
	e.mu.Unlock()
}

func (e *Event) stopped() (stop, immediate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop, e.stopImmediate
}
