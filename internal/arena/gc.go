// internal/arena/gc.go
package arena

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// GCStats summarizes one collection pass.
type GCStats struct {
	Before              int
	After               int
	Collected           int
	Duration            time.Duration
	FragmentationBefore float64
	FragmentationAfter  float64
	Compacted           bool
}

// CollectionRate is the fraction of live slots the pass reclaimed.
func (s GCStats) CollectionRate() float64 {
	if s.Before == 0 {
		return 0
	}
	return float64(s.Collected) / float64(s.Before)
}

// CompactStats summarizes a compaction.
type CompactStats struct {
	SlotsBefore int
	SlotsAfter  int
	Trimmed     int
}

// CollectGarbage marks every slot reachable over strong references from
// roots and from pinned slots, then frees the rest. It holds the exclusive
// lock for the whole pass. Stale roots are ignored.
func (a *Arena[T]) CollectGarbage(roots []Handle) GCStats {
	return a.CollectGarbageFunc(func(*View[T]) []Handle { return roots })
}

// CollectGarbageFunc is CollectGarbage with roots chosen under the same
// exclusive lock as the pass itself.
func (a *Arena[T]) CollectGarbageFunc(rootsFn func(v *View[T]) []Handle) GCStats {
	a.mu.Lock()
	defer func() {
		a.metrics.SetSlots(a.live, len(a.free))
		a.mu.Unlock()
	}()

	start := time.Now()
	stats := GCStats{
		Before:              a.live,
		FragmentationBefore: a.fragmentationLocked(),
	}

	// 1. Mark.
	roots := rootsFn(&View[T]{a: a})
	marked := make([]bool, len(a.slots))
	stack := make([]uint32, 0, len(roots))
	push := func(h Handle) {
		if _, ok := a.lookup(h); ok && !marked[h.Index] {
			marked[h.Index] = true
			stack = append(stack, h.Index)
		}
	}
	for _, r := range roots {
		push(r)
	}
	for i := range a.slots {
		if s := &a.slots[i]; s.live && s.pins > 0 {
			push(Handle{Index: uint32(i), Generation: s.generation})
		}
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a.tracer != nil {
			a.tracer.TraceStrong(a.slots[idx].payload, push)
		}
	}

	// 2. Sweep. Survivors referenced from swept slots lose those counts.
	var swept []uint32
	for i := range a.slots {
		if a.slots[i].live && !marked[i] {
			swept = append(swept, uint32(i))
		}
	}
	dying := func(idx uint32) bool { return !marked[idx] }
	for _, idx := range swept {
		a.releaseEdges(idx, dying)
	}
	for _, idx := range swept {
		a.release(idx)
	}

	stats.After = a.live
	stats.Collected = len(swept)
	stats.FragmentationAfter = a.fragmentationLocked()

	// 3. Compact when fragmentation crossed the threshold.
	if a.opts.CompactionThreshold > 0 && stats.FragmentationAfter > a.opts.CompactionThreshold {
		a.compactLocked()
		stats.Compacted = true
		stats.FragmentationAfter = a.fragmentationLocked()
	}
	stats.Duration = time.Since(start)

	a.metrics.Collection(stats.Collected, stats.Duration)
	a.logger.Info("Garbage collection complete",
		zap.Int("before", stats.Before),
		zap.Int("after", stats.After),
		zap.Int("collected", stats.Collected),
		zap.Float64("fragmentation_before", stats.FragmentationBefore),
		zap.Float64("fragmentation_after", stats.FragmentationAfter),
		zap.Bool("compacted", stats.Compacted),
		zap.Duration("duration", stats.Duration),
	)
	return stats
}

// Compact trims trailing free slots and reorders the free list so the
// lowest index is reused first. Live slots never move.
func (a *Arena[T]) Compact() CompactStats {
	a.mu.Lock()
	defer func() {
		a.metrics.SetSlots(a.live, len(a.free))
		a.mu.Unlock()
	}()
	return a.compactLocked()
}

func (a *Arena[T]) compactLocked() CompactStats {
	cs := CompactStats{SlotsBefore: len(a.slots)}

	end := len(a.slots)
	for end > 0 && !a.slots[end-1].live {
		end--
	}
	if end < len(a.slots) {
		trimmed := make([]slot[T], end, max(end, a.opts.InitialSize))
		copy(trimmed, a.slots[:end])
		a.slots = trimmed
	}

	free := a.free[:0]
	for _, idx := range a.free {
		if int(idx) < end {
			free = append(free, idx)
		}
	}
	// Descending, so the stack top is the lowest index.
	sort.Slice(free, func(i, j int) bool { return free[i] > free[j] })
	a.free = free

	cs.SlotsAfter = len(a.slots)
	cs.Trimmed = cs.SlotsBefore - cs.SlotsAfter
	a.metrics.Compaction()
	a.logger.Debug("Compacted arena", zap.Int("trimmed", cs.Trimmed), zap.Int("free", len(a.free)))
	return cs
}
