// internal/dom/verify.go
package dom

import (
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Verify checks the structural invariants of every live node and then the
// arena bookkeeping. It returns the first violation as a Corrupted defect.
func (t *Tree) Verify() error {
	err := t.View(func(v *View) error {
		// Strong references each slot should be holding.
		expected := make(map[Handle]int)
		var firstErr error
		fail := func(format string, args ...any) bool {
			firstErr = domerr.Corrupted("verify", format, args...)
			return false
		}

		v.av.Each(func(h Handle, n *Node) bool {
			if n.kind != DocumentNode {
				if o := v.ownerOf(n); !o.IsNil() {
					if on, _ := v.av.Get(o); on.kind != DocumentNode {
						return fail("%s is owned by a %s", h, on.kind)
					}
				}
			}
			for i, c := range n.children {
				cn, ok := v.av.Get(c)
				if !ok {
					return fail("%s lists dead child %s", h, c)
				}
				if v.parentOf(cn) != h {
					return fail("child %s of %s points at parent %s", c, h, cn.parent.Handle())
				}
				for _, d := range n.children[:i] {
					if d == c {
						return fail("%s lists child %s twice", h, c)
					}
				}
				expected[c]++
			}
			if p := v.parentOf(n); !p.IsNil() {
				pn, _ := v.av.Get(p)
				if v.indexOf(pn, h) < 0 {
					return fail("%s is missing from its parent %s", h, p)
				}
			}
			switch d := n.data.(type) {
			case *elementData:
				for _, a := range d.attrs {
					an, ok := v.av.Get(a)
					if !ok || an.kind != AttributeNode {
						return fail("%s lists bad attribute %s", h, a)
					}
					if an.data.(*attrData).ownerElement.Handle() != h {
						return fail("attribute %s of %s has another owner element", a, h)
					}
					expected[a]++
				}
				if !d.shadow.IsNil() {
					sn, ok := v.av.Get(d.shadow)
					if !ok {
						return fail("%s has a dead shadow root", h)
					}
					if host, _ := v.shadowHost(sn); host != h {
						return fail("shadow root %s does not point back at %s", d.shadow, h)
					}
					expected[d.shadow]++
				}
			case *attrData:
				if len(n.children) > 0 || !n.parent.IsNil() {
					return fail("attribute %s takes part in the tree", h)
				}
			}
			if len(n.children) > 0 && !canHaveChildren(n.kind) {
				return fail("a %s has children", n.kind)
			}
			return true
		})
		if firstErr != nil {
			return firstErr
		}

		v.av.Each(func(h Handle, _ *Node) bool {
			c, _ := v.av.Counts(h)
			if c.Strong != expected[h] {
				return fail("%s has strong count %d, %d holders", h, c.Strong, expected[h])
			}
			return true
		})
		return firstErr
	})
	if err != nil {
		return err
	}
	return t.arena.Verify()
}
