// internal/dom/mutation.go
package dom

import (
	"go.uber.org/zap"
)

// MutationType classifies a MutationRecord.
type MutationType string

const (
	ChildListMutation     MutationType = "childList"
	AttributesMutation    MutationType = "attributes"
	CharacterDataMutation MutationType = "characterData"
)

// MutationRecord describes one committed change. It carries enough detail
// for live collections and mutation observers built outside the tree.
type MutationRecord struct {
	Type               MutationType `json:"type"`
	Target             Handle       `json:"target"`
	Added              []Handle     `json:"added,omitempty"`
	Removed            []Handle     `json:"removed,omitempty"`
	PreviousSibling    Handle       `json:"previousSibling"`
	NextSibling        Handle       `json:"nextSibling"`
	AttributeName      string       `json:"attributeName,omitempty"`
	AttributeNamespace string       `json:"attributeNamespace,omitempty"`
	OldValue           string       `json:"oldValue,omitempty"`
}

// MutationHook receives records in commit order, after the tree lock has
// been released. Hooks may read the tree. Records produced by a hook that
// mutates the tree are delivered after the current batch.
//
// Delivery is asynchronous with respect to other writers: a mutation that
// commits while another goroutine is inside a hook returns before its own
// records are delivered, and the delivering goroutine picks them up.
// Indexes derived from hooks check View.MutationsDelivered to know whether
// they are current.
type MutationHook func(MutationRecord)

type hookEntry struct {
	id   uint64
	hook MutationHook
}

// OnMutation registers hook and returns a function that removes it.
func (t *Tree) OnMutation(hook MutationHook) (unregister func()) {
	t.hooksMu.Lock()
	t.nextHook++
	id := t.nextHook
	t.hooks = append(t.hooks, hookEntry{id: id, hook: hook})
	t.hooksMu.Unlock()

	return func() {
		t.hooksMu.Lock()
		defer t.hooksMu.Unlock()
		for i, e := range t.hooks {
			if e.id == id {
				t.hooks = append(t.hooks[:i:i], t.hooks[i+1:]...)
				return
			}
		}
	}
}

// enqueue is called with the arena write lock held so queue order matches
// commit order.
func (t *Tree) enqueue(records []MutationRecord) {
	if len(records) == 0 {
		return
	}
	t.enqueued.Add(uint64(len(records)))
	t.pendingMu.Lock()
	t.pending = append(t.pending, records...)
	t.pendingMu.Unlock()
}

// MutationsDelivered reports whether every record committed so far has
// been passed to the hooks registered at delivery time. Under a View no
// record can be committed, so a true result stays true until the View
// ends.
func (v *View) MutationsDelivered() bool {
	return v.t.delivered.Load() == v.t.enqueued.Load()
}

func (t *Tree) takePending() []MutationRecord {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	batch := t.pending
	t.pending = nil
	return batch
}

func (t *Tree) hasPending() bool {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending) > 0
}

// flush delivers queued records. Only one goroutine delivers at a time; a
// caller that finds delivery in progress leaves its records to that
// goroutine, which keeps draining until the queue is empty.
func (t *Tree) flush() {
	for {
		if !t.flushMu.TryLock() {
			return
		}
		for batch := t.takePending(); len(batch) > 0; batch = t.takePending() {
			t.deliver(batch)
		}
		t.flushMu.Unlock()
		if !t.hasPending() {
			return
		}
	}
}

func (t *Tree) deliver(batch []MutationRecord) {
	t.hooksMu.RLock()
	hooks := make([]hookEntry, len(t.hooks))
	copy(hooks, t.hooks)
	t.hooksMu.RUnlock()
	for _, rec := range batch {
		for _, e := range hooks {
			t.callHook(e, rec)
		}
		t.delivered.Add(1)
	}
}

func (t *Tree) callHook(e hookEntry, rec MutationRecord) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Mutation hook panicked",
				zap.Uint64("hook", e.id),
				zap.String("type", string(rec.Type)),
				zap.Stringer("target", rec.Target),
				zap.Any("panic", r))
		}
	}()
	e.hook(rec)
}
