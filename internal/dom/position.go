// internal/dom/position.go
package dom

import (
	"slices"
)

// Position is the compareDocumentPosition bitmask.
type Position uint16

const (
	PositionDisconnected           Position = 0x01
	PositionPreceding              Position = 0x02
	PositionFollowing              Position = 0x04
	PositionContains               Position = 0x08
	PositionContainedBy            Position = 0x10
	PositionImplementationSpecific Position = 0x20
)

// Has reports whether every bit of flag is set.
func (p Position) Has(flag Position) bool { return p&flag == flag }

// ancestry returns h and its ancestors, root first.
func (v *View) ancestry(h Handle) []Handle {
	var chain []Handle
	for cur := h; !cur.IsNil(); {
		chain = append(chain, cur)
		n, ok := v.av.Get(cur)
		if !ok {
			break
		}
		cur = v.parentOf(n)
	}
	slices.Reverse(chain)
	return chain
}

// CompareDocumentPosition reports where other sits relative to ref, using
// the DOM algorithm. Disconnected pairs are ordered by their roots' handles
// so the answer stays antisymmetric.
func (v *View) CompareDocumentPosition(ref, other Handle) (Position, error) {
	if ref == other {
		if _, err := v.node(ref); err != nil {
			return 0, err
		}
		return 0, nil
	}
	node1, node2 := other, ref
	n1, err := v.node(node1)
	if err != nil {
		return 0, err
	}
	n2, err := v.node(node2)
	if err != nil {
		return 0, err
	}

	var attr1, attr2 Handle
	if ad, ok := n1.data.(*attrData); ok {
		attr1 = node1
		node1, _ = v.av.Upgrade(ad.ownerElement)
	}
	if ad, ok := n2.data.(*attrData); ok {
		attr2 = node2
		node2, _ = v.av.Upgrade(ad.ownerElement)
		if !attr1.IsNil() && !node1.IsNil() && node1 == node2 {
			_, ed, _ := v.element(node2)
			for _, a := range ed.attrs {
				if a == attr1 {
					return PositionImplementationSpecific | PositionPreceding, nil
				}
				if a == attr2 {
					return PositionImplementationSpecific | PositionFollowing, nil
				}
			}
		}
	}

	var chain1, chain2 []Handle
	if !node1.IsNil() {
		chain1 = v.ancestry(node1)
	}
	if !node2.IsNil() {
		chain2 = v.ancestry(node2)
	}
	if node1.IsNil() || node2.IsNil() || chain1[0] != chain2[0] {
		r1, r2 := attr1, attr2
		if len(chain1) > 0 {
			r1 = chain1[0]
		}
		if len(chain2) > 0 {
			r2 = chain2[0]
		}
		dir := PositionFollowing
		if r1.Less(r2) {
			dir = PositionPreceding
		}
		return PositionDisconnected | PositionImplementationSpecific | dir, nil
	}

	// Ancestor relations.
	if (len(chain1) < len(chain2) && chain2[len(chain1)-1] == node1 && attr1.IsNil()) ||
		(node1 == node2 && !attr2.IsNil()) {
		return PositionContains | PositionPreceding, nil
	}
	if (len(chain2) < len(chain1) && chain1[len(chain2)-1] == node2 && attr2.IsNil()) ||
		(node1 == node2 && !attr1.IsNil()) {
		return PositionContainedBy | PositionFollowing, nil
	}

	// Siblings below the lowest common ancestor decide.
	i := 0
	for i < len(chain1) && i < len(chain2) && chain1[i] == chain2[i] {
		i++
	}
	if i == len(chain1) || i == len(chain2) {
		// One attribute's element contains the other node.
		if i == len(chain1) {
			return PositionPreceding, nil
		}
		return PositionFollowing, nil
	}
	common, _ := v.av.Get(chain1[i-1])
	if v.indexOf(common, chain1[i]) < v.indexOf(common, chain2[i]) {
		return PositionPreceding, nil
	}
	return PositionFollowing, nil
}

// Contains reports whether other is an inclusive descendant of h.
func (v *View) Contains(h, other Handle) (bool, error) {
	if _, err := v.node(h); err != nil {
		return false, err
	}
	if _, err := v.node(other); err != nil {
		return false, err
	}
	for cur := other; !cur.IsNil(); {
		if cur == h {
			return true, nil
		}
		n, _ := v.av.Get(cur)
		cur = v.parentOf(n)
	}
	return false, nil
}

// GetRootNode returns the topmost ancestor of h. With composed set, shadow
// roots are crossed to their hosts.
func (v *View) GetRootNode(h Handle, composed bool) (Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return Nil, err
	}
	cur := h
	for {
		if p := v.parentOf(n); !p.IsNil() {
			cur = p
		} else if host, ok := v.shadowHost(n); ok && composed {
			cur = host
		} else {
			return cur, nil
		}
		n, _ = v.av.Get(cur)
	}
}

// IsEqualNode compares two subtrees structurally: kinds, names, values,
// attributes regardless of order, and children in order.
func (v *View) IsEqualNode(a, b Handle) (bool, error) {
	an, err := v.node(a)
	if err != nil {
		return false, err
	}
	bn, err := v.node(b)
	if err != nil {
		return false, err
	}
	return v.equalNodes(an, bn), nil
}

func (v *View) equalNodes(an, bn *Node) bool {
	if an.kind != bn.kind || len(an.children) != len(bn.children) {
		return false
	}
	switch ad := an.data.(type) {
	case *elementData:
		bd := bn.data.(*elementData)
		if ad.namespace != bd.namespace || ad.prefix != bd.prefix || ad.localName != bd.localName ||
			len(ad.attrs) != len(bd.attrs) {
			return false
		}
		for _, x := range ad.attrs {
			xn, _ := v.av.Get(x)
			xd := xn.data.(*attrData)
			_, _, yd := v.attrByNS(bd, xd.namespace, xd.localName)
			if yd == nil || yd.value != xd.value {
				return false
			}
		}
	case *attrData:
		bd := bn.data.(*attrData)
		if ad.namespace != bd.namespace || ad.localName != bd.localName || ad.value != bd.value {
			return false
		}
	case *charData:
		if ad.data != bn.data.(*charData).data {
			return false
		}
	case *piData:
		if *ad != *bn.data.(*piData) {
			return false
		}
	case *doctypeData:
		if *ad != *bn.data.(*doctypeData) {
			return false
		}
	}
	for i := range an.children {
		ac, ok1 := v.av.Get(an.children[i])
		bc, ok2 := v.av.Get(bn.children[i])
		if !ok1 || !ok2 || !v.equalNodes(ac, bc) {
			return false
		}
	}
	return true
}

func (t *Tree) CompareDocumentPosition(ref, other Handle) (Position, error) {
	return viewValue(t, "compareDocumentPosition", func(v *View) (Position, error) {
		return v.CompareDocumentPosition(ref, other)
	})
}

func (t *Tree) Contains(h, other Handle) (bool, error) {
	return viewValue(t, "contains", func(v *View) (bool, error) { return v.Contains(h, other) })
}

func (t *Tree) GetRootNode(h Handle, composed bool) (Handle, error) {
	return viewValue(t, "getRootNode", func(v *View) (Handle, error) { return v.GetRootNode(h, composed) })
}

func (t *Tree) IsEqualNode(a, b Handle) (bool, error) {
	return viewValue(t, "isEqualNode", func(v *View) (bool, error) { return v.IsEqualNode(a, b) })
}

func (t *Tree) IsConnected(h Handle) (bool, error) {
	return viewValue(t, "isConnected", func(v *View) (bool, error) { return v.IsConnected(h) })
}
