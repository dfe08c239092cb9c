// internal/dom/tree.go
package dom

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/metrics"
	"go.uber.org/zap"
)

// Limits are hierarchy restrictions configured by the embedder. Zero values
// disable the corresponding check.
type Limits struct {
	MaxTreeDepth    int
	MaxChildren     int
	EnableShadowDOM bool
}

// Options configures a Tree.
type Options struct {
	Arena     arena.Options
	Limits    Limits
	Validator Validator
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Tree is the mutation engine for a document set. Every document created by
// a Tree shares one arena, and so one lock: moves between subtrees or
// documents never need more than a single lock acquisition.
type Tree struct {
	arena     *arena.Arena[Node]
	validator Validator
	limits    Limits
	logger    *zap.Logger
	metrics   *metrics.Metrics

	hooksMu  sync.RWMutex
	hooks    []hookEntry
	nextHook uint64

	pendingMu sync.Mutex
	pending   []MutationRecord
	flushMu   sync.Mutex

	// enqueued only grows under the arena write lock; delivered trails it
	// until every hook has seen the queued records.
	enqueued  atomic.Uint64
	delivered atomic.Uint64
}

// New creates an empty document set.
func New(opts Options) *Tree {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := opts.Validator
	if validator == nil {
		validator = DefaultValidator{}
	}
	arenaOpts := opts.Arena
	if arenaOpts.Logger == nil {
		arenaOpts.Logger = logger
	}
	if arenaOpts.Metrics == nil {
		arenaOpts.Metrics = opts.Metrics
	}
	return &Tree{
		arena:     arena.New[Node](nodeTracer{}, arenaOpts),
		validator: validator,
		limits:    opts.Limits,
		logger:    logger.Named("tree"),
		metrics:   opts.Metrics,
	}
}

// View runs fn against a consistent read-locked snapshot of the tree.
// fn must not call mutating Tree methods.
func (t *Tree) View(fn func(v *View) error) error {
	return t.arena.Read(func(av *arena.View[Node]) error {
		return fn(&View{av: av, t: t})
	})
}

// write runs fn under the exclusive lock, queues its records and delivers
// them once the lock is gone. A failing fn must not have mutated anything.
func (t *Tree) write(op string, fn func(w *txn) error) error {
	err := t.arena.Write(func(tx *arena.Tx[Node]) error {
		w := &txn{View: View{av: &tx.View, t: t}, tx: tx}
		if err := fn(w); err != nil {
			return err
		}
		t.enqueue(w.records)
		return nil
	})
	t.metrics.Mutation(op, err)
	if err != nil {
		if domerr.IsDefect(err) {
			t.logger.Error("Tree operation hit a defect", zap.String("op", op), zap.Error(err))
		} else {
			t.logger.Debug("Tree operation rejected", zap.String("op", op), zap.Error(err))
		}
		t.flush()
		return domerr.WithOp(err, op)
	}
	t.flush()
	return nil
}

// viewValue runs fn under the read lock and returns its result.
func viewValue[R any](t *Tree, op string, fn func(v *View) (R, error)) (R, error) {
	var out R
	err := t.View(func(v *View) error {
		var err error
		out, err = fn(v)
		return err
	})
	return out, domerr.WithOp(err, op)
}

// txn is exclusive access for one mutation.
type txn struct {
	View
	tx      *arena.Tx[Node]
	records []MutationRecord
}

func (w *txn) record(r MutationRecord) {
	w.records = append(w.records, r)
}

// Pin adds an external root reference; pinned nodes and their subtrees
// survive collection.
func (t *Tree) Pin(h Handle) error {
	return refError("pin", t.arena.Pin(h))
}

// Unpin removes an external root reference.
func (t *Tree) Unpin(h Handle) error {
	return refError("unpin", t.arena.Unpin(h))
}

func refError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, arena.ErrStale):
		return domerr.New(domerr.NotFound, op, err.Error())
	default:
		return domerr.New(domerr.InvalidState, op, err.Error())
	}
}

// Free releases a parentless, unpinned node immediately. Its children lose
// their owner and are left for the collector.
func (t *Tree) Free(h Handle) error {
	return t.write("free", func(w *txn) error {
		n, err := w.node(h)
		if err != nil {
			return err
		}
		if p := w.parentOf(n); !p.IsNil() {
			return domerr.New(domerr.InvalidState, "", "node still has a parent")
		}
		return refError("", w.tx.Free(h))
	})
}

// CollectGarbage reclaims every node not reachable from roots or a pin.
func (t *Tree) CollectGarbage(roots ...Handle) arena.GCStats {
	return t.arena.CollectGarbage(roots)
}

// CollectUnreachable reclaims every node not reachable from a live document
// or a pin.
func (t *Tree) CollectUnreachable() arena.GCStats {
	return t.arena.CollectGarbageFunc(func(v *arena.View[Node]) []Handle {
		var roots []Handle
		v.Each(func(h Handle, n *Node) bool {
			if n.kind == DocumentNode {
				roots = append(roots, h)
			}
			return true
		})
		return roots
	})
}

// Compact trims trailing free slots.
func (t *Tree) Compact() arena.CompactStats {
	return t.arena.Compact()
}

// Stats reports arena occupancy.
func (t *Tree) Stats() arena.Stats {
	return t.arena.Stats()
}

// Documents lists every live document.
func (t *Tree) Documents() []Handle {
	var docs []Handle
	_ = t.View(func(v *View) error {
		v.av.Each(func(h Handle, n *Node) bool {
			if n.kind == DocumentNode {
				docs = append(docs, h)
			}
			return true
		})
		return nil
	})
	return docs
}

// SetReadOnly freezes or thaws a node. Child, attribute and data changes on
// a frozen node fail with NoModificationAllowedError.
func (t *Tree) SetReadOnly(h Handle, readOnly bool) error {
	return t.write("setReadOnly", func(w *txn) error {
		n, err := w.node(h)
		if err != nil {
			return err
		}
		n.readOnly = readOnly
		return nil
	})
}
