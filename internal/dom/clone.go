// internal/dom/clone.go
package dom

import (
	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// CloneNode copies node into a new parentless node owned by the same
// document. Attributes are always copied; deep also copies descendants.
// Shadow roots are never copied. Cloning a document yields a new document
// that owns the copied descendants.
func (t *Tree) CloneNode(node Handle, deep bool) (Handle, error) {
	var h Handle
	err := t.write("cloneNode", func(w *txn) error {
		n, err := w.node(node)
		if err != nil {
			return err
		}
		h, err = w.cloneChecked(node, n, w.ownerOf(n), deep)
		return err
	})
	return h, err
}

// ImportNode clones node into doc. Documents and shadow roots cannot be
// imported.
func (t *Tree) ImportNode(doc, node Handle, deep bool) (Handle, error) {
	var h Handle
	err := t.write("importNode", func(w *txn) error {
		if _, err := w.documentData(doc); err != nil {
			return err
		}
		n, err := w.node(node)
		if err != nil {
			return err
		}
		if n.kind == DocumentNode {
			return domerr.New(domerr.NotSupported, "", "documents cannot be imported")
		}
		if _, ok := w.shadowHost(n); ok {
			return domerr.New(domerr.NotSupported, "", "shadow roots cannot be imported")
		}
		h, err = w.cloneChecked(node, n, doc, deep)
		return err
	})
	return h, err
}

// AdoptNode detaches node from its parent and moves it, with everything it
// owns, into doc.
func (t *Tree) AdoptNode(doc, node Handle) (Handle, error) {
	err := t.write("adoptNode", func(w *txn) error {
		if _, err := w.documentData(doc); err != nil {
			return err
		}
		n, err := w.node(node)
		if err != nil {
			return err
		}
		if n.kind == DocumentNode {
			return domerr.New(domerr.NotSupported, "", "documents cannot be adopted")
		}
		if _, ok := w.shadowHost(n); ok {
			return domerr.New(domerr.HierarchyRequest, "", "shadow roots cannot be adopted")
		}
		if parent := w.parentOf(n); !parent.IsNil() {
			pn, _ := w.node(parent)
			if err := w.checkMutable(parent, pn); err != nil {
				return err
			}
			if err := w.removeFrom(parent, pn, node, n); err != nil {
				return err
			}
		}
		if a, ok := n.data.(*attrData); ok {
			if el, ok := w.av.Upgrade(a.ownerElement); ok {
				en, ed, _ := w.element(el)
				if err := w.checkMutable(el, en); err != nil {
					return err
				}
				w.detachAttr(el, en, ed, node, n, a)
			}
		}
		return w.setOwner(node, doc)
	})
	if err != nil {
		return Nil, err
	}
	return node, nil
}

// cloneSize counts the slots a clone of h needs.
func (v *View) cloneSize(h Handle, deep bool) int {
	count := 0
	var visit func(h Handle)
	visit = func(h Handle) {
		n, ok := v.av.Get(h)
		if !ok {
			return
		}
		count++
		if el, ok := n.data.(*elementData); ok {
			count += len(el.attrs)
		}
		if deep {
			for _, c := range n.children {
				visit(c)
			}
		}
	}
	visit(h)
	return count
}

func (w *txn) cloneChecked(h Handle, n *Node, owner Handle, deep bool) (Handle, error) {
	if need := w.cloneSize(h, deep); !w.tx.CanAllocate(need) {
		return Nil, domerr.Exhausted("clone", w.av.Capacity())
	}
	return w.clone(h, n, owner, deep)
}

func (w *txn) clone(h Handle, n *Node, owner Handle, deep bool) (Handle, error) {
	data := n.data.clone()
	var copyHandle Handle
	var err error
	if n.kind == DocumentNode {
		copyHandle, err = w.tx.Allocate(Node{kind: DocumentNode, data: data})
		owner = copyHandle
	} else {
		copyHandle, err = w.allocate(owner, n.kind, data)
	}
	if err != nil {
		return Nil, err
	}
	cp, _ := w.node(copyHandle)

	if src, ok := n.data.(*elementData); ok {
		dst := cp.data.(*elementData)
		for _, a := range src.attrs {
			an, ok := w.av.Get(a)
			if !ok {
				continue
			}
			ah, err := w.allocate(owner, AttributeNode, an.data.clone())
			if err != nil {
				return Nil, err
			}
			if err := w.attachAttr(copyHandle, dst, ah); err != nil {
				return Nil, err
			}
		}
	}

	if !deep {
		return copyHandle, nil
	}
	for _, c := range n.children {
		cn, ok := w.av.Get(c)
		if !ok {
			continue
		}
		ch, err := w.clone(c, cn, owner, true)
		if err != nil {
			return Nil, err
		}
		chn, _ := w.node(ch)
		cp.children = append(cp.children, ch)
		chn.parent = arena.Downgrade(copyHandle)
		if err := w.tx.Retain(ch); err != nil {
			return Nil, domerr.Corrupted("clone", "retain %s: %v", ch, err)
		}
		if err := w.tx.AddWeak(copyHandle); err != nil {
			return Nil, domerr.Corrupted("clone", "back-reference to %s: %v", copyHandle, err)
		}
	}
	return copyHandle, nil
}
