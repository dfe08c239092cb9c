// internal/events/path.go
package events

import (
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// pathEntry is one node on the propagation path together with the target
// its listeners observe.
type pathEntry struct {
	node   dom.Handle
	target dom.Handle
}

// eventPath walks from target to its root, target first, under a single
// read lock. Composed events continue from a shadow root to its host, and
// every node past that boundary sees the host as the target.
func (d *Dispatcher) eventPath(target dom.Handle, composed bool) ([]pathEntry, error) {
	var path []pathEntry
	err := d.tree.View(func(v *dom.View) error {
		if !v.Exists(target) {
			return domerr.Newf(domerr.NotFound, "dispatchEvent", "no live node for handle %s", target)
		}
		cur, retargeted := target, target
		for !cur.IsNil() {
			path = append(path, pathEntry{node: cur, target: retargeted})
			parent, err := v.ParentNode(cur)
			if err != nil {
				return err
			}
			if parent.IsNil() && composed {
				host, err := v.Host(cur)
				if err != nil {
					return err
				}
				parent, retargeted = host, host
			}
			cur = parent
		}
		return nil
	})
	return path, err
}

func pathNodes(path []pathEntry) []dom.Handle {
	out := make([]dom.Handle, len(path))
	for i, e := range path {
		out[i] = e.node
	}
	return out
}
