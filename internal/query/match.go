// internal/query/match.go
package query

import (
	"strings"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// matcher evaluates selectors against one read view. It caches whether an
// element's document is an HTML document.
type matcher struct {
	v    *dom.View
	html map[dom.Handle]bool
}

func newMatcher(v *dom.View) *matcher {
	return &matcher{v: v, html: make(map[dom.Handle]bool)}
}

func (m *matcher) isElement(h dom.Handle) bool {
	k, err := m.v.Kind(h)
	return err == nil && k == dom.ElementNode
}

// htmlElement reports an HTML-namespace element in an HTML document, where
// type selectors are case-insensitive.
func (m *matcher) htmlElement(el dom.Handle) bool {
	if ns, _ := m.v.NamespaceURI(el); ns != dom.HTMLNamespace {
		return false
	}
	doc, err := m.v.OwnerDocument(el)
	if err != nil {
		return false
	}
	if html, ok := m.html[doc]; ok {
		return html
	}
	info, err := m.v.DocumentInfo(doc)
	html := err == nil && info.Type == dom.HTMLDocument
	m.html[doc] = html
	return html
}

func (m *matcher) matchesList(el dom.Handle, list SelectorList) bool {
	for _, cx := range list {
		if m.matchesFrom(el, cx, len(cx.Parts)-1) {
			return true
		}
	}
	return false
}

// matchesFrom matches parts[0..index] right to left, starting at el.
func (m *matcher) matchesFrom(el dom.Handle, cx Complex, index int) bool {
	if el.IsNil() || index < 0 || !m.isElement(el) {
		return false
	}
	part := cx.Parts[index]
	if !m.matchesCompound(el, part.Compound) {
		return false
	}
	if index == 0 {
		return true
	}

	next := index - 1
	switch part.Combinator {
	case CombinatorDescendant:
		for p := m.parentElement(el); !p.IsNil(); p = m.parentElement(p) {
			if m.matchesFrom(p, cx, next) {
				return true
			}
		}
		return false
	case CombinatorChild:
		return m.matchesFrom(m.parentElement(el), cx, next)
	case CombinatorAdjacentSibling:
		return m.matchesFrom(m.elementSibling(el, -1), cx, next)
	case CombinatorGeneralSibling:
		for s := m.elementSibling(el, -1); !s.IsNil(); s = m.elementSibling(s, -1) {
			if m.matchesFrom(s, cx, next) {
				return true
			}
		}
		return false
	}
	return false
}

func (m *matcher) parentElement(h dom.Handle) dom.Handle {
	p, err := m.v.ParentElement(h)
	if err != nil {
		return dom.Nil
	}
	return p
}

// elementSibling walks to the previous (delta -1) or next (delta 1)
// element sibling.
func (m *matcher) elementSibling(h dom.Handle, delta int) dom.Handle {
	step := m.v.NextSibling
	if delta < 0 {
		step = m.v.PreviousSibling
	}
	for s, err := step(h); err == nil && !s.IsNil(); s, err = step(s) {
		if m.isElement(s) {
			return s
		}
	}
	return dom.Nil
}

func (m *matcher) matchesCompound(el dom.Handle, sel Compound) bool {
	if sel.Tag != "" && sel.Tag != "*" {
		local, _ := m.v.LocalName(el)
		if m.htmlElement(el) {
			if !strings.EqualFold(local, sel.Tag) {
				return false
			}
		} else if local != sel.Tag {
			return false
		}
	}
	if sel.ID != "" && m.v.ID(el) != sel.ID {
		return false
	}
	if len(sel.Classes) > 0 {
		classAttr, _, _ := m.v.GetAttribute(el, "class")
		classes := strings.Fields(classAttr)
		for _, want := range sel.Classes {
			if !containsString(classes, want) {
				return false
			}
		}
	}
	for _, attr := range sel.Attributes {
		if !m.matchesAttribute(el, attr) {
			return false
		}
	}
	for _, pseudo := range sel.Pseudos {
		if !m.matchesPseudo(el, pseudo) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (m *matcher) matchesAttribute(el dom.Handle, sel AttributeSelector) bool {
	val, ok, err := m.v.GetAttribute(el, sel.Name)
	if err != nil || !ok {
		return false
	}
	want := sel.Value
	if sel.CaseInsensitive {
		val, want = strings.ToLower(val), strings.ToLower(want)
	}
	switch sel.Operator {
	case "":
		return true
	case "=":
		return val == want
	case "~=":
		return want != "" && containsString(strings.Fields(val), want)
	case "|=":
		return val == want || strings.HasPrefix(val, want+"-")
	case "^=":
		return want != "" && strings.HasPrefix(val, want)
	case "$=":
		return want != "" && strings.HasSuffix(val, want)
	case "*=":
		return want != "" && strings.Contains(val, want)
	}
	return false
}

func (m *matcher) matchesPseudo(el dom.Handle, p Pseudo) bool {
	switch p.Name {
	case "root":
		parent, err := m.v.ParentNode(el)
		if err != nil || parent.IsNil() {
			return false
		}
		k, _ := m.v.Kind(parent)
		return k == dom.DocumentNode
	case "empty":
		children, err := m.v.ChildNodes(el)
		if err != nil {
			return false
		}
		for _, c := range children {
			k, _ := m.v.Kind(c)
			if k == dom.ElementNode {
				return false
			}
			if k.IsText() {
				if data, _ := m.v.Data(c); data != "" {
					return false
				}
			}
		}
		return true
	case "first-child":
		return m.elementSibling(el, -1).IsNil()
	case "last-child":
		return m.elementSibling(el, 1).IsNil()
	case "only-child":
		return m.elementSibling(el, -1).IsNil() && m.elementSibling(el, 1).IsNil()
	case "first-of-type":
		return m.firstOfType(el, -1)
	case "last-of-type":
		return m.firstOfType(el, 1)
	case "only-of-type":
		return m.firstOfType(el, -1) && m.firstOfType(el, 1)
	case "not":
		return !m.matchesList(el, p.Not)
	}
	return false
}

// firstOfType reports whether no sibling in direction delta shares el's
// namespace and local name.
func (m *matcher) firstOfType(el dom.Handle, delta int) bool {
	local, _ := m.v.LocalName(el)
	ns, _ := m.v.NamespaceURI(el)
	for s := m.elementSibling(el, delta); !s.IsNil(); s = m.elementSibling(s, delta) {
		sl, _ := m.v.LocalName(s)
		sns, _ := m.v.NamespaceURI(s)
		if sl == local && sns == ns {
			return false
		}
	}
	return true
}

// Select returns the descendants of root matching list in tree order. With
// first set it stops at the first match.
func Select(v *dom.View, root dom.Handle, list SelectorList, first bool) ([]dom.Handle, error) {
	m := newMatcher(v)
	var out []dom.Handle
	err := v.Walk(root, func(h dom.Handle, depth int) bool {
		if first && len(out) > 0 {
			return false
		}
		if depth > 0 && m.matchesList(h, list) {
			out = append(out, h)
		}
		return true
	})
	return out, err
}

// MatchesView reports whether el matches list. el must be an element.
func MatchesView(v *dom.View, el dom.Handle, list SelectorList) (bool, error) {
	k, err := v.Kind(el)
	if err != nil {
		return false, err
	}
	if k != dom.ElementNode {
		return false, domerr.Newf(domerr.NotSupported, "matches", "%s is not an element", k)
	}
	return newMatcher(v).matchesList(el, list), nil
}
