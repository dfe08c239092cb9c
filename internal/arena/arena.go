// internal/arena/arena.go
package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrStale is returned when a handle is nil, freed or from an older
	// generation of its slot.
	ErrStale = errors.New("stale handle")
	// ErrStillReferenced is returned by Free while owners or pins remain.
	ErrStillReferenced = errors.New("slot still referenced")
)

// Tracer enumerates the outgoing references held by a payload. Strong
// references keep their target alive during collection; weak ones do not.
type Tracer[T any] interface {
	TraceStrong(payload *T, visit func(Handle))
	TraceWeak(payload *T, visit func(Handle))
}

// Options configures an Arena.
type Options struct {
	// Capacity caps the number of slots. Zero or less means unbounded.
	Capacity int
	// InitialSize preallocates slot storage.
	InitialSize int
	// CompactionThreshold triggers a compaction after collection when the
	// free fraction exceeds it. Zero disables automatic compaction.
	CompactionThreshold float64
	Logger              *zap.Logger
	Metrics             *metrics.Metrics
}

type slot[T any] struct {
	payload    *T
	generation uint64
	strong     int32
	weak       int32
	pins       int32
	live       bool
}

// Arena is a slot allocator issuing generational handles. One RWMutex
// guards every slot; readers share it and writers hold it exclusively.
type Arena[T any] struct {
	mu      sync.RWMutex
	slots   []slot[T]
	free    []uint32 // stack; the top is the next slot to reuse
	live    int
	nextGen uint64

	tracer  Tracer[T]
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an arena. tracer may be nil when payloads hold no handles.
func New[T any](tracer Tracer[T], opts Options) *Arena[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.InitialSize
	if size < 0 {
		size = 0
	}
	if opts.Capacity > 0 && size > opts.Capacity {
		size = opts.Capacity
	}
	return &Arena[T]{
		slots:   make([]slot[T], 0, size),
		tracer:  tracer,
		opts:    opts,
		logger:  logger.Named("arena"),
		metrics: opts.Metrics,
	}
}

// Read runs fn under the shared lock.
func (a *Arena[T]) Read(fn func(v *View[T]) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fn(&View[T]{a: a})
}

// Write runs fn under the exclusive lock.
func (a *Arena[T]) Write(fn func(tx *Tx[T]) error) error {
	a.mu.Lock()
	defer func() {
		a.metrics.SetSlots(a.live, len(a.free))
		a.mu.Unlock()
	}()
	return fn(&Tx[T]{View: View[T]{a: a}})
}

// Allocate stores payload in a fresh or reused slot.
func (a *Arena[T]) Allocate(payload T) (h Handle, err error) {
	err = a.Write(func(tx *Tx[T]) error {
		h, err = tx.Allocate(payload)
		return err
	})
	return h, err
}

// Get returns a shallow copy of the payload behind h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var zero T
	s, ok := a.lookup(h)
	if !ok {
		return zero, false
	}
	return *s.payload, true
}

// Contains reports whether h refers to a live slot.
func (a *Arena[T]) Contains(h Handle) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.lookup(h)
	return ok
}

// Free releases the slot behind h when nothing owns or pins it.
func (a *Arena[T]) Free(h Handle) error {
	return a.Write(func(tx *Tx[T]) error { return tx.Free(h) })
}

// Pin registers an external strong reference; pinned slots are collection roots.
func (a *Arena[T]) Pin(h Handle) error {
	return a.Write(func(tx *Tx[T]) error { return tx.Pin(h) })
}

// Unpin drops one external reference.
func (a *Arena[T]) Unpin(h Handle) error {
	return a.Write(func(tx *Tx[T]) error { return tx.Unpin(h) })
}

// Stats reports occupancy.
func (a *Arena[T]) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statsLocked()
}

// Fragmentation is the fraction of slots currently free.
func (a *Arena[T]) Fragmentation() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fragmentationLocked()
}

// Stats describes arena occupancy.
type Stats struct {
	Live          int
	Free          int
	Total         int
	Capacity      int
	Pinned        int
	Fragmentation float64
	Generation    uint64
}

// RefCounts are the counters of a single slot.
type RefCounts struct {
	Strong int
	Weak   int
	Pins   int
}

func (a *Arena[T]) statsLocked() Stats {
	pinned := 0
	for i := range a.slots {
		if a.slots[i].live && a.slots[i].pins > 0 {
			pinned++
		}
	}
	return Stats{
		Live:          a.live,
		Free:          len(a.free),
		Total:         len(a.slots),
		Capacity:      a.opts.Capacity,
		Pinned:        pinned,
		Fragmentation: a.fragmentationLocked(),
		Generation:    a.nextGen,
	}
}

func (a *Arena[T]) fragmentationLocked() float64 {
	if len(a.slots) == 0 {
		return 0
	}
	return float64(len(a.free)) / float64(len(a.slots))
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], bool) {
	if h.IsNil() || int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return nil, false
	}
	return s, true
}

func (a *Arena[T]) available() int {
	if a.opts.Capacity <= 0 {
		return int(^uint(0) >> 1)
	}
	return len(a.free) + a.opts.Capacity - len(a.slots)
}

// releaseEdges drops the counters that the payload in idx holds on other
// slots. skip reports targets that are going away too.
func (a *Arena[T]) releaseEdges(idx uint32, skip func(uint32) bool) {
	if a.tracer == nil {
		return
	}
	p := a.slots[idx].payload
	a.tracer.TraceStrong(p, func(h Handle) {
		if t, ok := a.lookup(h); ok && (skip == nil || !skip(h.Index)) && t.strong > 0 {
			t.strong--
		}
	})
	a.tracer.TraceWeak(p, func(h Handle) {
		if t, ok := a.lookup(h); ok && (skip == nil || !skip(h.Index)) && t.weak > 0 {
			t.weak--
		}
	})
}

func (a *Arena[T]) release(idx uint32) {
	s := &a.slots[idx]
	s.payload = nil
	s.live = false
	s.strong, s.weak, s.pins = 0, 0, 0
	a.free = append(a.free, idx)
	a.live--
}

// Verify walks every slot and reports the first broken invariant as a defect.
func (a *Arena[T]) Verify() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	live := 0
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		live++
		if s.generation == 0 {
			return domerr.Corrupted("verify", "live slot %d has generation 0", i)
		}
		if s.payload == nil {
			return domerr.Corrupted("verify", "live slot %d has no payload", i)
		}
		if s.strong < 0 || s.weak < 0 || s.pins < 0 {
			return domerr.Corrupted("verify", "slot %d has negative counters", i)
		}
	}
	if live != a.live {
		return domerr.Corrupted("verify", "live count %d, counted %d", a.live, live)
	}
	for _, idx := range a.free {
		if int(idx) >= len(a.slots) || a.slots[idx].live {
			return domerr.Corrupted("verify", "free list entry %d is not a free slot", idx)
		}
	}
	return nil
}

// View is read access to the arena inside Read or Write. Payload pointers
// must not be mutated through a View obtained from Read.
type View[T any] struct {
	a *Arena[T]
}

// Get returns the payload behind h.
func (v *View[T]) Get(h Handle) (*T, bool) {
	s, ok := v.a.lookup(h)
	if !ok {
		return nil, false
	}
	return s.payload, true
}

// Contains reports whether h is live.
func (v *View[T]) Contains(h Handle) bool {
	_, ok := v.a.lookup(h)
	return ok
}

// Upgrade resolves a weak reference.
func (v *View[T]) Upgrade(w Weak) (Handle, bool) {
	if _, ok := v.a.lookup(w.target); !ok {
		return Nil, false
	}
	return w.target, true
}

// Counts returns the counters of h.
func (v *View[T]) Counts(h Handle) (RefCounts, bool) {
	s, ok := v.a.lookup(h)
	if !ok {
		return RefCounts{}, false
	}
	return RefCounts{Strong: int(s.strong), Weak: int(s.weak), Pins: int(s.pins)}, true
}

// Each calls fn for every live slot in index order until fn returns false.
func (v *View[T]) Each(fn func(h Handle, payload *T) bool) {
	for i := range v.a.slots {
		s := &v.a.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation}, s.payload) {
			return
		}
	}
}

// Len is the number of live slots.
func (v *View[T]) Len() int { return v.a.live }

// Capacity is the configured slot ceiling; zero or less is unbounded.
func (v *View[T]) Capacity() int { return v.a.opts.Capacity }

// Tx is exclusive access to the arena inside Write.
type Tx[T any] struct {
	View[T]
}

// CanAllocate reports whether n more slots fit under the capacity.
func (tx *Tx[T]) CanAllocate(n int) bool {
	return tx.a.available() >= n
}

// Allocate stores payload, reusing the most recently freed slot if any.
func (tx *Tx[T]) Allocate(payload T) (Handle, error) {
	a := tx.a
	var idx uint32
	switch {
	case len(a.free) > 0:
		idx = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	case a.opts.Capacity <= 0 || len(a.slots) < a.opts.Capacity:
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	default:
		a.metrics.Allocation(false)
		a.logger.Warn("Allocation refused, arena at capacity", zap.Int("capacity", a.opts.Capacity))
		return Nil, domerr.Exhausted("allocate", a.opts.Capacity)
	}

	a.nextGen++
	p := payload
	a.slots[idx] = slot[T]{payload: &p, generation: a.nextGen, live: true}
	a.live++
	a.metrics.Allocation(true)
	return Handle{Index: idx, Generation: a.nextGen}, nil
}

// Free releases h when its strong and pin counts are zero. Counters the
// payload held on other slots are dropped.
func (tx *Tx[T]) Free(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("free %s: %w", h, ErrStale)
	}
	if s.strong > 0 || s.pins > 0 {
		return fmt.Errorf("free %s (strong=%d pins=%d): %w", h, s.strong, s.pins, ErrStillReferenced)
	}
	tx.a.releaseEdges(h.Index, nil)
	tx.a.release(h.Index)
	return nil
}

// Retain increments the owner count of h.
func (tx *Tx[T]) Retain(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("retain %s: %w", h, ErrStale)
	}
	s.strong++
	return nil
}

// Release decrements the owner count of h.
func (tx *Tx[T]) Release(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("release %s: %w", h, ErrStale)
	}
	if s.strong == 0 {
		return domerr.Corrupted("release", "strong count of %s already zero", h)
	}
	s.strong--
	return nil
}

// AddWeak records a non-owning back-reference to h.
func (tx *Tx[T]) AddWeak(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("add weak %s: %w", h, ErrStale)
	}
	s.weak++
	return nil
}

// DropWeak removes a back-reference to h. Stale targets are ignored.
func (tx *Tx[T]) DropWeak(h Handle) {
	if s, ok := tx.a.lookup(h); ok && s.weak > 0 {
		s.weak--
	}
}

// Pin adds an external root reference to h.
func (tx *Tx[T]) Pin(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("pin %s: %w", h, ErrStale)
	}
	s.pins++
	return nil
}

// Unpin removes an external root reference from h.
func (tx *Tx[T]) Unpin(h Handle) error {
	s, ok := tx.a.lookup(h)
	if !ok {
		return fmt.Errorf("unpin %s: %w", h, ErrStale)
	}
	if s.pins == 0 {
		return fmt.Errorf("unpin %s: not pinned", h)
	}
	s.pins--
	return nil
}
