// internal/events/dispatcher.go
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/metrics"
	"go.uber.org/zap"
)

// Options configures a Dispatcher.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// PropagatePanics re-raises listener panics after the event has been
	// reset instead of returning them as a ListenerError.
	PropagatePanics bool
}

// Dispatcher owns the listener registry for one tree and runs the
// capture, target and bubble phases.
type Dispatcher struct {
	tree            *dom.Tree
	logger          *zap.Logger
	metrics         *metrics.Metrics
	propagatePanics bool

	mu        sync.RWMutex
	listeners map[listenerKey][]*registration
	byID      map[ListenerID]*registration
	pins      map[dom.Handle]int
	nextID    ListenerID
}

// NewDispatcher creates a dispatcher over tree.
func NewDispatcher(tree *dom.Tree, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tree:            tree,
		logger:          logger.Named("events"),
		metrics:         opts.Metrics,
		propagatePanics: opts.PropagatePanics,
		listeners:       make(map[listenerKey][]*registration),
		byID:            make(map[ListenerID]*registration),
		pins:            make(map[dom.Handle]int),
	}
}

// ListenerError reports a listener that failed or panicked. The dispatch
// stopped at that listener.
type ListenerError struct {
	Type     string
	Node     dom.Handle
	Phase    Phase
	Listener ListenerID
	Panicked bool
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d for %q on %s (%s): %v", e.Listener, e.Type, e.Node, e.Phase, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Fire creates an event of type typ and dispatches it to target.
func (d *Dispatcher) Fire(ctx context.Context, target dom.Handle, typ string, init Init) (bool, error) {
	return d.Dispatch(ctx, target, New(typ, init))
}

// Dispatch delivers ev to target. The propagation path is fixed when the
// dispatch starts; listeners that change the tree do not alter it.
// notCanceled is false when a listener called PreventDefault on a
// cancelable event.
func (d *Dispatcher) Dispatch(ctx context.Context, target dom.Handle, ev *Event) (notCanceled bool, err error) {
	start := time.Now()
	if err := ev.begin(target); err != nil {
		d.metrics.Dispatch(err, time.Since(start))
		return false, err
	}
	defer func() {
		ev.end()
		d.metrics.Dispatch(err, time.Since(start))
	}()

	path, err := d.eventPath(target, ev.Composed())
	if err != nil {
		return false, err
	}
	ev.setPath(pathNodes(path))
	typ := ev.Type()

	// 1. Capture, outermost first, excluding the target.
	for i := len(path) - 1; i > 0; i-- {
		if err := d.invoke(ctx, ev, typ, path[i], PhaseCapturing); err != nil {
			return false, err
		}
		if stop, _ := ev.stopped(); stop {
			return !ev.DefaultPrevented(), nil
		}
	}

	// 2. Target: every listener in registration order.
	if err := d.invoke(ctx, ev, typ, path[0], PhaseAtTarget); err != nil {
		return false, err
	}
	if stop, _ := ev.stopped(); stop || !ev.Bubbles() {
		return !ev.DefaultPrevented(), nil
	}

	// 3. Bubble back out.
	for i := 1; i < len(path); i++ {
		if err := d.invoke(ctx, ev, typ, path[i], PhaseBubbling); err != nil {
			return false, err
		}
		if stop, _ := ev.stopped(); stop {
			break
		}
	}
	return !ev.DefaultPrevented(), nil
}

// invoke runs the listeners of one path entry for phase.
func (d *Dispatcher) invoke(ctx context.Context, ev *Event, typ string, entry pathEntry, phase Phase) error {
	for _, r := range d.snapshot(entry.node, typ) {
		if r.removed.Load() {
			continue
		}
		if (phase == PhaseCapturing && !r.opts.Capture) || (phase == PhaseBubbling && r.opts.Capture) {
			continue
		}
		if r.opts.Once && !d.remove(r) {
			continue
		}

		err := d.call(ctx, ev, r, entry, phase)
		if err != nil {
			return err
		}
		if _, immediate := ev.stopped(); immediate {
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) call(ctx context.Context, ev *Event, r *registration, entry pathEntry, phase Phase) (err error) {
	node := entry.node
	fail := func(cause error, panicked bool) error {
		return &ListenerError{Type: r.key.typ, Node: node, Phase: phase, Listener: r.id, Panicked: panicked, Err: cause}
	}
	if !d.propagatePanics {
		defer func() {
			if p := recover(); p != nil {
				d.metrics.ListenerFailed("panic")
				d.logger.Error("Event listener panicked",
					zap.String("type", r.key.typ),
					zap.Stringer("node", node),
					zap.Uint64("listener", uint64(r.id)),
					zap.Any("panic", p))
				err = fail(fmt.Errorf("listener panicked: %v", p), true)
			}
		}()
	}

	ev.enter(phase, node, entry.target, r.opts.Passive)
	defer ev.leave()

	d.metrics.ListenerInvoked()
	if lerr := r.listener.HandleEvent(ctx, ev); lerr != nil {
		d.metrics.ListenerFailed("error")
		d.logger.Debug("Event listener failed",
			zap.String("type", r.key.typ),
			zap.Stringer("node", node),
			zap.Error(lerr))
		return fail(lerr, false)
	}
	return nil
}
