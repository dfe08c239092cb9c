// internal/dom/mutate.go
package dom

import (
	"slices"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// AppendChild inserts child as the last child of parent, detaching it from
// any previous parent first. A fragment contributes its children instead.
func (t *Tree) AppendChild(parent, child Handle) (Handle, error) {
	return t.insertBefore("appendChild", parent, child, Nil)
}

// InsertBefore inserts node into parent before ref. A nil ref appends.
func (t *Tree) InsertBefore(parent, node, ref Handle) (Handle, error) {
	return t.insertBefore("insertBefore", parent, node, ref)
}

func (t *Tree) insertBefore(op string, parent, node, ref Handle) (Handle, error) {
	err := t.write(op, func(w *txn) error {
		return w.preInsert(parent, node, ref)
	})
	if err != nil {
		return Nil, err
	}
	return node, nil
}

// RemoveChild detaches child from parent and returns it.
func (t *Tree) RemoveChild(parent, child Handle) (Handle, error) {
	err := t.write("removeChild", func(w *txn) error {
		pn, err := w.node(parent)
		if err != nil {
			return err
		}
		cn, err := w.node(child)
		if err != nil {
			return err
		}
		if w.parentOf(cn) != parent {
			return domerr.Newf(domerr.NotFound, "", "%s is not a child of %s", child, parent)
		}
		if err := w.checkMutable(parent, pn); err != nil {
			return err
		}
		return w.removeFrom(parent, pn, child, cn)
	})
	if err != nil {
		return Nil, err
	}
	return child, nil
}

// Remove detaches node from its parent, if it has one.
func (t *Tree) Remove(node Handle) error {
	return t.write("remove", func(w *txn) error {
		n, err := w.node(node)
		if err != nil {
			return err
		}
		parent := w.parentOf(n)
		if parent.IsNil() {
			return nil
		}
		pn, _ := w.node(parent)
		if err := w.checkMutable(parent, pn); err != nil {
			return err
		}
		return w.removeFrom(parent, pn, node, n)
	})
}

// ReplaceChild replaces child of parent with node and returns child.
func (t *Tree) ReplaceChild(parent, node, child Handle) (Handle, error) {
	err := t.write("replaceChild", func(w *txn) error {
		return w.replace(parent, node, child)
	})
	if err != nil {
		return Nil, err
	}
	return child, nil
}

func (w *txn) checkMutable(h Handle, n *Node) error {
	if n.readOnly {
		return domerr.Newf(domerr.NoModificationAllowed, "", "%s is read-only", h)
	}
	return nil
}

// isInclusiveAncestor reports whether anc is h or one of its ancestors,
// crossing from shadow roots to their hosts.
func (v *View) isInclusiveAncestor(anc, h Handle) bool {
	for cur := h; !cur.IsNil(); {
		if cur == anc {
			return true
		}
		n, ok := v.av.Get(cur)
		if !ok {
			return false
		}
		next := v.parentOf(n)
		if next.IsNil() {
			next, _ = v.shadowHost(n)
		}
		cur = next
	}
	return false
}

func canHaveChildren(k Kind) bool {
	return k == DocumentNode || k == DocumentFragmentNode || k == ElementNode
}

func insertable(k Kind) bool {
	switch k {
	case DocumentFragmentNode, DocumentTypeNode, ElementNode, TextNode,
		CDATASectionNode, ProcessingInstructionNode, CommentNode:
		return true
	}
	return false
}

func hierarchyError(format string, args ...any) error {
	return domerr.Newf(domerr.HierarchyRequest, "", format, args...)
}

// checkHierarchy runs the kind and ancestry checks shared by insertion and
// replacement.
func (w *txn) checkHierarchy(parent Handle, pn *Node, node Handle, nn *Node) error {
	if !canHaveChildren(pn.kind) {
		return hierarchyError("a %s cannot have children", pn.kind)
	}
	if w.isInclusiveAncestor(node, parent) {
		return hierarchyError("%s is an inclusive ancestor of %s", node, parent)
	}
	return nil
}

func (w *txn) checkInsertable(pn *Node, nn *Node) error {
	if !insertable(nn.kind) {
		return hierarchyError("a %s cannot be inserted", nn.kind)
	}
	if nn.kind.IsText() && pn.kind == DocumentNode {
		return hierarchyError("a %s cannot be a child of a document", nn.kind)
	}
	if nn.kind == DocumentTypeNode && pn.kind != DocumentNode {
		return hierarchyError("a doctype can only be a child of a document")
	}
	return nil
}

// checkDocumentChildren enforces the single element and single doctype rules.
// position is the child being replaced, or the reference child for an
// insertion; replacing says which.
func (w *txn) checkDocumentChildren(doc *Node, nn *Node, position Handle, replacing bool) error {
	pos := -1
	if !position.IsNil() {
		pos = w.indexOf(doc, position)
	}
	var (
		hasElement   bool
		hasDoctype   bool
		elemBefore   bool
		doctypeAfter bool
	)
	for i, c := range doc.children {
		if replacing && c == position {
			continue
		}
		cn, ok := w.av.Get(c)
		if !ok {
			continue
		}
		switch cn.kind {
		case ElementNode:
			hasElement = true
			if pos >= 0 && i < pos {
				elemBefore = true
			}
		case DocumentTypeNode:
			hasDoctype = true
			if pos >= 0 && i > pos {
				doctypeAfter = true
			}
		}
	}
	positionIsDoctype := false
	if !replacing && !position.IsNil() {
		if pn, ok := w.av.Get(position); ok && pn.kind == DocumentTypeNode {
			positionIsDoctype = true
		}
	}

	elementRules := func() error {
		switch {
		case hasElement:
			return hierarchyError("document already has a document element")
		case positionIsDoctype || doctypeAfter:
			return hierarchyError("document element must follow the doctype")
		}
		return nil
	}

	switch nn.kind {
	case DocumentFragmentNode:
		elements := 0
		for _, c := range nn.children {
			cn, ok := w.av.Get(c)
			if !ok {
				continue
			}
			if cn.kind.IsText() {
				return hierarchyError("a document cannot have text children")
			}
			if cn.kind == ElementNode {
				elements++
			}
		}
		if elements > 1 {
			return hierarchyError("a document can have only one element child")
		}
		if elements == 1 {
			return elementRules()
		}
	case ElementNode:
		return elementRules()
	case DocumentTypeNode:
		switch {
		case hasDoctype:
			return hierarchyError("document already has a doctype")
		case elemBefore:
			return hierarchyError("doctype must precede the document element")
		case !replacing && position.IsNil() && hasElement:
			return hierarchyError("doctype must precede the document element")
		}
	}
	return nil
}

func (v *View) depth(n *Node) int {
	d := 0
	for p := v.parentOf(n); !p.IsNil(); d++ {
		pn, ok := v.av.Get(p)
		if !ok {
			break
		}
		p = v.parentOf(pn)
	}
	return d
}

// height is the number of levels below h.
func (v *View) height(h Handle) int {
	best := 0
	_ = v.Walk(h, func(_ Handle, depth int) bool {
		if depth > best {
			best = depth
		}
		return true
	})
	return best
}

// checkLimits applies the configured child-count and depth ceilings.
// added is the number of nodes that will join parent, removed the number
// that will leave it.
func (w *txn) checkLimits(pn *Node, node Handle, nn *Node, added, removed int) error {
	lim := w.t.limits
	if lim.MaxChildren > 0 && len(pn.children)+added-removed > lim.MaxChildren {
		return hierarchyError("parent would exceed %d children", lim.MaxChildren)
	}
	if lim.MaxTreeDepth > 0 {
		below := w.height(node)
		if nn.kind == DocumentFragmentNode && below > 0 {
			below--
		}
		if d := w.depth(pn) + 1 + below; d > lim.MaxTreeDepth {
			return hierarchyError("tree depth %d would exceed %d", d, lim.MaxTreeDepth)
		}
	}
	return nil
}

// incoming lists the nodes an insertion of node contributes.
func (w *txn) incoming(node Handle, nn *Node) []Handle {
	if nn.kind == DocumentFragmentNode {
		return slices.Clone(nn.children)
	}
	return []Handle{node}
}

// checkSourceMutable makes sure the nodes can leave their current parent.
func (w *txn) checkSourceMutable(node Handle, nn *Node) error {
	if nn.kind == DocumentFragmentNode && len(nn.children) > 0 {
		return w.checkMutable(node, nn)
	}
	if old := w.parentOf(nn); !old.IsNil() {
		on, _ := w.node(old)
		return w.checkMutable(old, on)
	}
	return nil
}

func (w *txn) preInsert(parent, node, ref Handle) error {
	pn, err := w.node(parent)
	if err != nil {
		return err
	}
	nn, err := w.node(node)
	if err != nil {
		return err
	}

	// 1. Validate. Nothing below may fail once mutation starts.
	if err := w.checkHierarchy(parent, pn, node, nn); err != nil {
		return err
	}
	if !ref.IsNil() {
		rn, ok := w.av.Get(ref)
		if !ok || w.parentOf(rn) != parent {
			return domerr.Newf(domerr.NotFound, "", "%s is not a child of %s", ref, parent)
		}
	}
	if err := w.checkInsertable(pn, nn); err != nil {
		return err
	}
	if pn.kind == DocumentNode {
		if err := w.checkDocumentChildren(pn, nn, ref, false); err != nil {
			return err
		}
	}
	if err := w.checkMutable(parent, pn); err != nil {
		return err
	}
	if err := w.checkSourceMutable(node, nn); err != nil {
		return err
	}
	nodes := w.incoming(node, nn)
	already := 0
	if nn.kind != DocumentFragmentNode && w.parentOf(nn) == parent {
		already = 1
	}
	if err := w.checkLimits(pn, node, nn, len(nodes), already); err != nil {
		return err
	}

	// 2. Mutate.
	if ref == node {
		ref, _ = w.NextSibling(node)
	}
	if err := w.detachIncoming(node, nn); err != nil {
		return err
	}
	idx := len(pn.children)
	if !ref.IsNil() {
		idx = w.indexOf(pn, ref)
	}
	return w.insertAt(parent, pn, idx, nodes, Nil)
}

// detachIncoming takes node out of its current parent, or empties a fragment.
func (w *txn) detachIncoming(node Handle, nn *Node) error {
	if nn.kind == DocumentFragmentNode {
		if len(nn.children) == 0 {
			return nil
		}
		removed := slices.Clone(nn.children)
		for _, c := range removed {
			cn, _ := w.node(c)
			if _, err := w.unlink(node, nn, c, cn); err != nil {
				return err
			}
		}
		w.record(MutationRecord{Type: ChildListMutation, Target: node, Removed: removed})
		return nil
	}
	old := w.parentOf(nn)
	if old.IsNil() {
		return nil
	}
	on, _ := w.node(old)
	return w.removeFrom(old, on, node, nn)
}

// insertAt links nodes into parent at idx, adopting them into parent's
// document when needed, and records the change together with a replaced
// child, if any.
func (w *txn) insertAt(parent Handle, pn *Node, idx int, nodes []Handle, replaced Handle) error {
	if len(nodes) == 0 && replaced.IsNil() {
		return nil
	}
	doc := w.documentOf(parent, pn)
	for _, c := range nodes {
		if err := w.setOwner(c, doc); err != nil {
			return err
		}
	}
	pn.children = slices.Insert(pn.children, idx, nodes...)
	for _, c := range nodes {
		cn, _ := w.node(c)
		cn.parent = arena.Downgrade(parent)
		if err := w.tx.Retain(c); err != nil {
			return domerr.Corrupted("insert", "retain %s: %v", c, err)
		}
		if err := w.tx.AddWeak(parent); err != nil {
			return domerr.Corrupted("insert", "back-reference to %s: %v", parent, err)
		}
	}
	rec := MutationRecord{Type: ChildListMutation, Target: parent, Added: slices.Clone(nodes)}
	if !replaced.IsNil() {
		rec.Removed = []Handle{replaced}
	}
	if idx > 0 {
		rec.PreviousSibling = pn.children[idx-1]
	}
	if end := idx + len(nodes); end < len(pn.children) {
		rec.NextSibling = pn.children[end]
	}
	w.record(rec)
	return nil
}

// unlink removes child from parent's list and drops the ownership edge. It
// returns the index child occupied.
func (w *txn) unlink(parent Handle, pn *Node, child Handle, cn *Node) (int, error) {
	i := w.indexOf(pn, child)
	if i < 0 {
		return -1, domerr.Corrupted("unlink", "%s missing from the child list of %s", child, parent)
	}
	pn.children = slices.Delete(pn.children, i, i+1)
	cn.parent = arena.Weak{}
	if err := w.tx.Release(child); err != nil {
		return -1, err
	}
	w.tx.DropWeak(parent)
	return i, nil
}

// removeFrom unlinks child and records the removal.
func (w *txn) removeFrom(parent Handle, pn *Node, child Handle, cn *Node) error {
	i, err := w.unlink(parent, pn, child, cn)
	if err != nil {
		return err
	}
	rec := MutationRecord{Type: ChildListMutation, Target: parent, Removed: []Handle{child}}
	if i > 0 {
		rec.PreviousSibling = pn.children[i-1]
	}
	if i < len(pn.children) {
		rec.NextSibling = pn.children[i]
	}
	w.record(rec)
	return nil
}

func (w *txn) replace(parent, node, child Handle) error {
	pn, err := w.node(parent)
	if err != nil {
		return err
	}
	nn, err := w.node(node)
	if err != nil {
		return err
	}

	// 1. Validate.
	if err := w.checkHierarchy(parent, pn, node, nn); err != nil {
		return err
	}
	cn, ok := w.av.Get(child)
	if !ok || w.parentOf(cn) != parent {
		return domerr.Newf(domerr.NotFound, "", "%s is not a child of %s", child, parent)
	}
	if err := w.checkInsertable(pn, nn); err != nil {
		return err
	}
	if pn.kind == DocumentNode {
		if err := w.checkDocumentChildren(pn, nn, child, true); err != nil {
			return err
		}
	}
	if err := w.checkMutable(parent, pn); err != nil {
		return err
	}
	if node == child {
		return nil
	}
	if err := w.checkSourceMutable(node, nn); err != nil {
		return err
	}
	nodes := w.incoming(node, nn)
	leaving := 1
	if nn.kind != DocumentFragmentNode && w.parentOf(nn) == parent {
		leaving++
	}
	if err := w.checkLimits(pn, node, nn, len(nodes), leaving); err != nil {
		return err
	}

	// 2. Mutate.
	if err := w.detachIncoming(node, nn); err != nil {
		return err
	}
	idx, err := w.unlink(parent, pn, child, cn)
	if err != nil {
		return err
	}
	return w.insertAt(parent, pn, idx, nodes, child)
}

// setOwner moves h and everything it owns (children, attributes, shadow
// trees) into doc.
func (w *txn) setOwner(h Handle, doc Handle) error {
	n, err := w.node(h)
	if err != nil {
		return err
	}
	if n.kind == DocumentNode || w.ownerOf(n) == doc {
		return nil
	}
	stack := []Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cn, ok := w.av.Get(cur)
		if !ok {
			continue
		}
		if old := cn.owner.Handle(); !old.IsNil() {
			w.tx.DropWeak(old)
		}
		cn.owner = arena.Downgrade(doc)
		if err := w.tx.AddWeak(doc); err != nil {
			return domerr.Corrupted("adopt", "back-reference to %s: %v", doc, err)
		}
		stack = append(stack, cn.children...)
		if el, ok := cn.data.(*elementData); ok {
			stack = append(stack, el.attrs...)
			if !el.shadow.IsNil() {
				stack = append(stack, el.shadow)
			}
		}
	}
	return nil
}
