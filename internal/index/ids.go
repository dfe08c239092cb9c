// internal/index/ids.go
package index

import (
	"sync"

	"github.com/xkilldash9x/domcore/internal/dom"
	"go.uber.org/zap"
)

// IDs maps id attribute values to the elements that carried them. It is
// fed by the tree's mutation hook and holds candidates, not answers: a
// lookup confirms each candidate against the live tree and prunes the ones
// that no longer qualify.
type IDs struct {
	tree       *dom.Tree
	logger     *zap.Logger
	unregister func()

	mu   sync.Mutex
	byID map[string]map[dom.Handle]struct{}
}

// New indexes every element already in t and starts following its
// mutations. Call Close to detach.
func New(t *dom.Tree, logger *zap.Logger) *IDs {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &IDs{
		tree:   t,
		logger: logger.Named("index"),
		byID:   make(map[string]map[dom.Handle]struct{}),
	}
	// Hook before walking so nothing committed in between is missed.
	ix.unregister = t.OnMutation(ix.observe)
	for _, doc := range t.Documents() {
		ix.addSubtree(doc)
	}
	return ix
}

// Close stops following mutations.
func (ix *IDs) Close() {
	ix.unregister()
}

func (ix *IDs) observe(rec dom.MutationRecord) {
	switch rec.Type {
	case dom.AttributesMutation:
		if rec.AttributeName != "id" || rec.AttributeNamespace != "" {
			return
		}
		var id string
		_ = ix.tree.View(func(v *dom.View) error {
			id = v.ID(rec.Target)
			return nil
		})
		ix.add(id, rec.Target)
	case dom.ChildListMutation:
		for _, h := range rec.Added {
			ix.addSubtree(h)
		}
	}
}

func (ix *IDs) addSubtree(root dom.Handle) {
	type entry struct {
		id string
		el dom.Handle
	}
	var found []entry
	err := ix.tree.View(func(v *dom.View) error {
		return v.Walk(root, func(h dom.Handle, _ int) bool {
			if k, _ := v.Kind(h); k == dom.ElementNode {
				if id := v.ID(h); id != "" {
					found = append(found, entry{id, h})
				}
			}
			return true
		})
	})
	if err != nil {
		// The subtree was freed before the hook ran.
		ix.logger.Debug("Skipping vanished subtree", zap.Stringer("root", root), zap.Error(err))
		return
	}
	for _, e := range found {
		ix.add(e.id, e.el)
	}
}

func (ix *IDs) add(id string, el dom.Handle) {
	if id == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.byID[id]
	if !ok {
		set = make(map[dom.Handle]struct{})
		ix.byID[id] = set
	}
	set[el] = struct{}{}
}

// Lookup returns the first element in tree order under root whose id is
// id, or dom.Nil. root is normally a document but may be any node that
// roots its own tree, such as a detached fragment or a shadow root.
//
// While mutation records are still on their way to the index the
// candidates may be behind the tree, so the lookup walks root instead.
func (ix *IDs) Lookup(root dom.Handle, id string) (dom.Handle, error) {
	if id == "" {
		return dom.Nil, nil
	}
	ix.mu.Lock()
	candidates := make([]dom.Handle, 0, len(ix.byID[id]))
	for h := range ix.byID[id] {
		candidates = append(candidates, h)
	}
	ix.mu.Unlock()

	found := dom.Nil
	var stale []dom.Handle
	err := ix.tree.View(func(v *dom.View) error {
		// 1. The root itself must be alive.
		if _, err := v.Kind(root); err != nil {
			return err
		}
		if !v.MutationsDelivered() {
			found = walkForID(v, root, id)
			return nil
		}
		for _, h := range candidates {
			// 2. Drop candidates that were freed or re-labelled.
			if !v.Exists(h) || v.ID(h) != id {
				stale = append(stale, h)
				continue
			}
			// 3. Keep candidates in root's tree, first in tree order.
			r, err := v.GetRootNode(h, false)
			if err != nil || r != root || h == root {
				continue
			}
			if found.IsNil() {
				found = h
				continue
			}
			pos, err := v.CompareDocumentPosition(found, h)
			if err == nil && pos.Has(dom.PositionPreceding) {
				found = h
			}
		}
		return nil
	})
	if len(stale) > 0 {
		ix.prune(id, stale)
	}
	return found, err
}

// walkForID scans root's tree in order, skipping root itself.
func walkForID(v *dom.View, root dom.Handle, id string) dom.Handle {
	found := dom.Nil
	_ = v.Walk(root, func(h dom.Handle, _ int) bool {
		if !found.IsNil() {
			return false
		}
		if h == root {
			return true
		}
		if k, _ := v.Kind(h); k == dom.ElementNode && v.ID(h) == id {
			found = h
			return false
		}
		return true
	})
	return found
}

// prune drops candidates a lookup found stale. They are checked again
// under a fresh View with the index locked, so an element that took the id
// back in the meantime stays: its record is either already reflected in
// that View or will be added after the lock is released.
func (ix *IDs) prune(id string, stale []dom.Handle) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set := ix.byID[id]
	_ = ix.tree.View(func(v *dom.View) error {
		for _, h := range stale {
			if v.Exists(h) && v.ID(h) == id {
				continue
			}
			delete(set, h)
		}
		return nil
	})
	if len(set) == 0 {
		delete(ix.byID, id)
	}
}

// Len reports the number of distinct ids with at least one candidate.
func (ix *IDs) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byID)
}
