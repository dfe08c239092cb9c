// internal/arena/gc_test.go
package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectGarbageReclaimsDetachedNodes(t *testing.T) {
	a := newTestArena(t, Options{})
	root, err := a.Allocate(testNode{name: "document"})
	require.NoError(t, err)

	attached := make([]Handle, 0, 500)
	for i := 0; i < 500; i++ {
		h, err := a.Allocate(testNode{})
		require.NoError(t, err)
		link(t, a, root, h)
		attached = append(attached, h)
	}
	detached := make([]Handle, 0, 500)
	for i := 0; i < 500; i++ {
		h, err := a.Allocate(testNode{})
		require.NoError(t, err)
		detached = append(detached, h)
	}

	stats := a.CollectGarbage([]Handle{root})

	assert.Equal(t, 1001, stats.Before)
	assert.Equal(t, 500, stats.Collected)
	assert.Equal(t, 501, stats.After)
	assert.InDelta(t, 500.0/1001.0, stats.CollectionRate(), 1e-9)
	for _, h := range attached {
		assert.True(t, a.Contains(h))
	}
	for _, h := range detached {
		assert.False(t, a.Contains(h))
	}
	assert.True(t, a.Contains(root))
	assert.NoError(t, a.Verify())
}

func TestCollectGarbageKeepsPinnedNodesAndTheirDescendants(t *testing.T) {
	a := newTestArena(t, Options{})
	orphanParent, _ := a.Allocate(testNode{name: "parent"})
	pinned, _ := a.Allocate(testNode{name: "pinned"})
	grandchild, _ := a.Allocate(testNode{name: "grandchild"})
	link(t, a, orphanParent, pinned)
	link(t, a, pinned, grandchild)
	require.NoError(t, a.Pin(pinned))

	stats := a.CollectGarbage(nil)

	assert.Equal(t, 1, stats.Collected)
	assert.False(t, a.Contains(orphanParent))
	assert.True(t, a.Contains(pinned))
	assert.True(t, a.Contains(grandchild))

	require.NoError(t, a.Read(func(v *View[testNode]) error {
		counts, ok := v.Counts(pinned)
		require.True(t, ok)
		assert.Zero(t, counts.Strong, "ownership held by the swept parent is released")
		assert.Equal(t, 1, counts.Pins)

		p, _ := v.Get(pinned)
		_, ok = v.Upgrade(p.parent)
		assert.False(t, ok, "back-reference to the swept parent resolves to nothing")
		return nil
	}))

	require.NoError(t, a.Unpin(pinned))
	stats = a.CollectGarbage(nil)
	assert.Equal(t, 2, stats.Collected)
}

func TestCollectGarbageCollectsOwnershipCycles(t *testing.T) {
	a := newTestArena(t, Options{})
	x, _ := a.Allocate(testNode{name: "x"})
	y, _ := a.Allocate(testNode{name: "y"})
	link(t, a, x, y)
	link(t, a, y, x)

	stats := a.CollectGarbage(nil)
	assert.Equal(t, 2, stats.Collected)
	assert.Zero(t, a.Stats().Live)
}

func TestStaleRootsAreIgnored(t *testing.T) {
	a := newTestArena(t, Options{})
	h, _ := a.Allocate(testNode{})
	require.NoError(t, a.Free(h))

	assert.NotPanics(t, func() {
		stats := a.CollectGarbage([]Handle{h, Nil, {Index: 99, Generation: 3}})
		assert.Zero(t, stats.Collected)
	})
}

func TestCompactTrimsTrailingFreeSlots(t *testing.T) {
	a := newTestArena(t, Options{})
	var hs []Handle
	for i := 0; i < 10; i++ {
		h, _ := a.Allocate(testNode{})
		hs = append(hs, h)
	}
	// Free slots 2, 3 and the tail 6..9.
	for _, i := range []int{2, 3, 6, 7, 8, 9} {
		require.NoError(t, a.Free(hs[i]))
	}
	assert.InDelta(t, 0.6, a.Fragmentation(), 1e-9)

	cs := a.Compact()
	assert.Equal(t, 10, cs.SlotsBefore)
	assert.Equal(t, 6, cs.SlotsAfter)
	assert.Equal(t, 4, cs.Trimmed)

	for _, i := range []int{0, 1, 4, 5} {
		assert.True(t, a.Contains(hs[i]), "live handles survive compaction")
	}
	for _, i := range []int{6, 7, 8, 9} {
		assert.False(t, a.Contains(hs[i]))
	}

	// Lowest free index is reused first.
	h, err := a.Allocate(testNode{})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.Index)

	// A slot recreated past the trimmed tail never repeats an old generation.
	_, _ = a.Allocate(testNode{})
	tail, _ := a.Allocate(testNode{})
	assert.Equal(t, uint32(6), tail.Index)
	assert.NotEqual(t, hs[6].Generation, tail.Generation)
	assert.False(t, a.Contains(hs[6]))
	assert.NoError(t, a.Verify())
}

func TestCollectGarbageAutoCompacts(t *testing.T) {
	a := newTestArena(t, Options{CompactionThreshold: 0.3})
	root, _ := a.Allocate(testNode{})
	for i := 0; i < 9; i++ {
		_, _ = a.Allocate(testNode{})
	}

	stats := a.CollectGarbage([]Handle{root})
	assert.Equal(t, 9, stats.Collected)
	assert.True(t, stats.Compacted)
	assert.Zero(t, stats.FragmentationBefore)
	assert.Zero(t, stats.FragmentationAfter)
	assert.Equal(t, 1, a.Stats().Total)
}
