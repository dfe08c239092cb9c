// internal/events/listener.go
package events

import (
	"context"
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"go.uber.org/zap"
)

// Listener handles events delivered to a node. A non-nil error aborts the
// dispatch.
type Listener interface {
	HandleEvent(ctx context.Context, ev *Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev *Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev *Event) error { return f(ctx, ev) }

// ListenerOptions mirror addEventListener's options.
type ListenerOptions struct {
	Capture bool
	Once    bool
	Passive bool
}

// ListenerID identifies one registration.
type ListenerID uint64

type listenerKey struct {
	node dom.Handle
	typ  string
}

type registration struct {
	id       ListenerID
	key      listenerKey
	listener Listener
	opts     ListenerOptions
	removed  atomic.Bool
}

// sameListener reports whether two listeners are the same object. Only
// pointer listeners have an identity; functions never compare equal.
func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || ta.Kind() != reflect.Pointer {
		return false
	}
	return a == b
}

// AddEventListener registers l for events of type typ on node. Registering
// the same pointer listener twice with the same capture flag returns the
// original ID. The node is pinned while it has listeners.
func (d *Dispatcher) AddEventListener(node dom.Handle, typ string, l Listener, opts ListenerOptions) (ListenerID, error) {
	if l == nil {
		return 0, domerr.New(domerr.NotSupported, "addEventListener", "listener is nil")
	}
	key := listenerKey{node: node, typ: typ}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.listeners[key] {
		if r.opts.Capture == opts.Capture && sameListener(r.listener, l) {
			return r.id, nil
		}
	}
	if d.pins[node] == 0 {
		if err := d.tree.Pin(node); err != nil {
			return 0, domerr.WithOp(err, "addEventListener")
		}
	}
	d.pins[node]++
	d.nextID++
	r := &registration{id: d.nextID, key: key, listener: l, opts: opts}
	d.listeners[key] = append(d.listeners[key], r)
	d.byID[r.id] = r
	return r.id, nil
}

// RemoveEventListener removes the registration id. It reports whether a
// registration was removed.
func (d *Dispatcher) RemoveEventListener(id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.byID[id]
	if !ok {
		return false
	}
	return d.removeLocked(r)
}

// RemoveListener removes a pointer listener by identity, the way
// removeEventListener(type, listener, capture) does.
func (d *Dispatcher) RemoveListener(node dom.Handle, typ string, l Listener, capture bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.listeners[listenerKey{node: node, typ: typ}] {
		if r.opts.Capture == capture && sameListener(r.listener, l) {
			return d.removeLocked(r)
		}
	}
	return false
}

// RemoveAllListeners drops every registration on node and releases its pin.
// It returns the number removed.
func (d *Dispatcher) RemoveAllListeners(node dom.Handle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var doomed []*registration
	for key, regs := range d.listeners {
		if key.node == node {
			doomed = append(doomed, regs...)
		}
	}
	n := 0
	for _, r := range doomed {
		if d.removeLocked(r) {
			n++
		}
	}
	return n
}

// remove takes r out of the registry. Only the first caller wins.
func (d *Dispatcher) remove(r *registration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(r)
}

func (d *Dispatcher) removeLocked(r *registration) bool {
	if !r.removed.CompareAndSwap(false, true) {
		return false
	}
	regs := d.listeners[r.key]
	if i := slices.Index(regs, r); i >= 0 {
		regs = slices.Delete(regs, i, i+1)
	}
	if len(regs) == 0 {
		delete(d.listeners, r.key)
	} else {
		d.listeners[r.key] = regs
	}
	delete(d.byID, r.id)

	node := r.key.node
	if d.pins[node]--; d.pins[node] <= 0 {
		delete(d.pins, node)
		if err := d.tree.Unpin(node); err != nil {
			d.logger.Debug("Unpin after last listener failed", zap.Stringer("node", node), zap.Error(err))
		}
	}
	return true
}

// snapshot copies the registrations of node for typ. Listeners added after
// the snapshot do not run for the current node.
func (d *Dispatcher) snapshot(node dom.Handle, typ string) []*registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.listeners[listenerKey{node: node, typ: typ}])
}

// ListenerCount returns the number of listeners for typ on node.
func (d *Dispatcher) ListenerCount(node dom.Handle, typ string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[listenerKey{node: node, typ: typ}])
}

// HasListeners reports whether any node has a listener for typ.
func (d *Dispatcher) HasListeners(typ string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for key := range d.listeners {
		if key.typ == typ {
			return true
		}
	}
	return false
}
