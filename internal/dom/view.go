// internal/dom/view.go
package dom

import (
	"strings"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// View exposes read-only traversal over one locked snapshot. It is only
// valid inside the callback that received it.
type View struct {
	av *arena.View[Node]
	t  *Tree
}

// DocumentInfo describes a document node.
type DocumentInfo struct {
	Type        DocumentType
	URL         string
	ContentType string
	Charset     string
}

// DoctypeInfo describes a DocumentType node.
type DoctypeInfo struct {
	Name     string
	PublicID string
	SystemID string
}

func notFound(h Handle) error {
	return domerr.Newf(domerr.NotFound, "", "no live node for handle %s", h)
}

func (v *View) node(h Handle) (*Node, error) {
	n, ok := v.av.Get(h)
	if !ok {
		return nil, notFound(h)
	}
	return n, nil
}

func (v *View) parentOf(n *Node) Handle {
	p, _ := v.av.Upgrade(n.parent)
	return p
}

func (v *View) ownerOf(n *Node) Handle {
	o, _ := v.av.Upgrade(n.owner)
	return o
}

// documentOf is the node itself for documents, its owner otherwise.
func (v *View) documentOf(h Handle, n *Node) Handle {
	if n.kind == DocumentNode {
		return h
	}
	return v.ownerOf(n)
}

func (v *View) isHTML(doc Handle) bool {
	d, ok := v.av.Get(doc)
	if !ok {
		return false
	}
	dd, ok := d.data.(*documentData)
	return ok && dd.docType == HTMLDocument
}

func (v *View) indexOf(parent *Node, child Handle) int {
	for i, c := range parent.children {
		if c == child {
			return i
		}
	}
	return -1
}

// shadowHost returns the host when n is a shadow root.
func (v *View) shadowHost(n *Node) (Handle, bool) {
	f, ok := n.data.(*fragmentData)
	if !ok || f.host.IsNil() {
		return Nil, false
	}
	h, ok := v.av.Upgrade(f.host)
	return h, ok
}

func (v *View) element(h Handle) (*Node, *elementData, error) {
	n, err := v.node(h)
	if err != nil {
		return nil, nil, err
	}
	el, ok := n.data.(*elementData)
	if !ok {
		return nil, nil, domerr.Newf(domerr.NotSupported, "", "%s is a %s, not an element", h, n.kind)
	}
	return n, el, nil
}

// Exists reports whether h is live.
func (v *View) Exists(h Handle) bool { return v.av.Contains(h) }

// Kind returns the node type.
func (v *View) Kind(h Handle) (Kind, error) {
	n, err := v.node(h)
	if err != nil {
		return 0, err
	}
	return n.kind, nil
}

// NodeName follows the DOM nodeName rules.
func (v *View) NodeName(h Handle) (string, error) {
	n, err := v.node(h)
	if err != nil {
		return "", err
	}
	switch d := n.data.(type) {
	case *elementData:
		return v.tagName(n, d), nil
	case *attrData:
		return qualifiedName(d.prefix, d.localName), nil
	case *piData:
		return d.target, nil
	case *doctypeData:
		return d.name, nil
	}
	switch n.kind {
	case TextNode:
		return "#text", nil
	case CDATASectionNode:
		return "#cdata-section", nil
	case CommentNode:
		return "#comment", nil
	case DocumentNode:
		return "#document", nil
	default:
		return "#document-fragment", nil
	}
}

func (v *View) tagName(n *Node, d *elementData) string {
	q := qualifiedName(d.prefix, d.localName)
	if d.namespace == HTMLNamespace && v.isHTML(v.ownerOf(n)) {
		return strings.ToUpper(q)
	}
	return q
}

// TagName is the element's qualified name, upper-cased for HTML elements in
// HTML documents.
func (v *View) TagName(h Handle) (string, error) {
	n, el, err := v.element(h)
	if err != nil {
		return "", err
	}
	return v.tagName(n, el), nil
}

// LocalName returns the local name of an element or attribute.
func (v *View) LocalName(h Handle) (string, error) {
	n, err := v.node(h)
	if err != nil {
		return "", err
	}
	switch d := n.data.(type) {
	case *elementData:
		return d.localName, nil
	case *attrData:
		return d.localName, nil
	}
	return "", nil
}

// NamespaceURI returns the namespace of an element or attribute.
func (v *View) NamespaceURI(h Handle) (string, error) {
	n, err := v.node(h)
	if err != nil {
		return "", err
	}
	switch d := n.data.(type) {
	case *elementData:
		return d.namespace, nil
	case *attrData:
		return d.namespace, nil
	}
	return "", nil
}

// Prefix returns the namespace prefix of an element or attribute.
func (v *View) Prefix(h Handle) (string, error) {
	n, err := v.node(h)
	if err != nil {
		return "", err
	}
	switch d := n.data.(type) {
	case *elementData:
		return d.prefix, nil
	case *attrData:
		return d.prefix, nil
	}
	return "", nil
}

// NodeValue returns the DOM nodeValue; ok is false where it is null.
func (v *View) NodeValue(h Handle) (value string, ok bool, err error) {
	n, err := v.node(h)
	if err != nil {
		return "", false, err
	}
	switch d := n.data.(type) {
	case *attrData:
		return d.value, true, nil
	case *charData:
		return d.data, true, nil
	case *piData:
		return d.data, true, nil
	}
	return "", false, nil
}

// Data returns character data, processing instruction data or an
// attribute value.
func (v *View) Data(h Handle) (string, error) {
	n, err := v.node(h)
	if err != nil {
		return "", err
	}
	switch d := n.data.(type) {
	case *charData:
		return d.data, nil
	case *piData:
		return d.data, nil
	case *attrData:
		return d.value, nil
	}
	return "", domerr.Newf(domerr.NotSupported, "", "%s has no character data", n.kind)
}

// ParentNode returns Nil for parentless nodes.
func (v *View) ParentNode(h Handle) (Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return Nil, err
	}
	return v.parentOf(n), nil
}

// ParentElement returns the parent when it is an element.
func (v *View) ParentElement(h Handle) (Handle, error) {
	p, err := v.ParentNode(h)
	if err != nil || p.IsNil() {
		return Nil, err
	}
	if pn, _ := v.node(p); pn.kind != ElementNode {
		return Nil, nil
	}
	return p, nil
}

// ChildNodes returns a copy of the child list.
func (v *View) ChildNodes(h Handle) ([]Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, len(n.children))
	copy(out, n.children)
	return out, nil
}

// Children returns the element children.
func (v *View) Children(h Handle) ([]Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return nil, err
	}
	var out []Handle
	for _, c := range n.children {
		if cn, ok := v.av.Get(c); ok && cn.kind == ElementNode {
			out = append(out, c)
		}
	}
	return out, nil
}

// HasChildNodes reports whether h has children.
func (v *View) HasChildNodes(h Handle) (bool, error) {
	n, err := v.node(h)
	if err != nil {
		return false, err
	}
	return len(n.children) > 0, nil
}

func (v *View) FirstChild(h Handle) (Handle, error) {
	n, err := v.node(h)
	if err != nil || len(n.children) == 0 {
		return Nil, err
	}
	return n.children[0], nil
}

func (v *View) LastChild(h Handle) (Handle, error) {
	n, err := v.node(h)
	if err != nil || len(n.children) == 0 {
		return Nil, err
	}
	return n.children[len(n.children)-1], nil
}

func (v *View) sibling(h Handle, delta int) (Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return Nil, err
	}
	p := v.parentOf(n)
	if p.IsNil() {
		return Nil, nil
	}
	pn, _ := v.node(p)
	i := v.indexOf(pn, h)
	if i < 0 {
		return Nil, domerr.Corrupted("sibling", "%s missing from its parent's child list", h)
	}
	i += delta
	if i < 0 || i >= len(pn.children) {
		return Nil, nil
	}
	return pn.children[i], nil
}

func (v *View) NextSibling(h Handle) (Handle, error)     { return v.sibling(h, 1) }
func (v *View) PreviousSibling(h Handle) (Handle, error) { return v.sibling(h, -1) }

// OwnerDocument returns Nil for documents.
func (v *View) OwnerDocument(h Handle) (Handle, error) {
	n, err := v.node(h)
	if err != nil || n.kind == DocumentNode {
		return Nil, err
	}
	return v.ownerOf(n), nil
}

// IsReadOnly reports whether the node is frozen.
func (v *View) IsReadOnly(h Handle) (bool, error) {
	n, err := v.node(h)
	if err != nil {
		return false, err
	}
	return n.readOnly, nil
}

// DocumentElement returns the document's element child.
func (v *View) DocumentElement(doc Handle) (Handle, error) {
	return v.firstChildOfKind(doc, ElementNode)
}

// Doctype returns the document's DocumentType child.
func (v *View) Doctype(doc Handle) (Handle, error) {
	return v.firstChildOfKind(doc, DocumentTypeNode)
}

func (v *View) firstChildOfKind(h Handle, k Kind) (Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return Nil, err
	}
	for _, c := range n.children {
		if cn, ok := v.av.Get(c); ok && cn.kind == k {
			return c, nil
		}
	}
	return Nil, nil
}

// DocumentInfo returns document metadata.
func (v *View) DocumentInfo(doc Handle) (DocumentInfo, error) {
	n, err := v.node(doc)
	if err != nil {
		return DocumentInfo{}, err
	}
	d, ok := n.data.(*documentData)
	if !ok {
		return DocumentInfo{}, domerr.Newf(domerr.WrongDocument, "", "%s is not a document", doc)
	}
	return DocumentInfo{Type: d.docType, URL: d.url, ContentType: d.contentType, Charset: d.charset}, nil
}

// DoctypeInfo returns the fields of a DocumentType node.
func (v *View) DoctypeInfo(h Handle) (DoctypeInfo, error) {
	n, err := v.node(h)
	if err != nil {
		return DoctypeInfo{}, err
	}
	d, ok := n.data.(*doctypeData)
	if !ok {
		return DoctypeInfo{}, domerr.Newf(domerr.NotSupported, "", "%s is not a doctype", n.kind)
	}
	return DoctypeInfo{Name: d.name, PublicID: d.publicID, SystemID: d.systemID}, nil
}

// IsShadowRoot reports whether h is a shadow root.
func (v *View) IsShadowRoot(h Handle) (bool, error) {
	n, err := v.node(h)
	if err != nil {
		return false, err
	}
	_, ok := v.shadowHost(n)
	return ok, nil
}

// Host returns the host of a shadow root, or Nil.
func (v *View) Host(h Handle) (Handle, error) {
	n, err := v.node(h)
	if err != nil {
		return Nil, err
	}
	host, _ := v.shadowHost(n)
	return host, nil
}

// ShadowRoot returns the shadow root attached to host. Closed roots are
// only returned when includeClosed is set.
func (v *View) ShadowRoot(host Handle, includeClosed bool) (Handle, error) {
	_, el, err := v.element(host)
	if err != nil {
		return Nil, err
	}
	if el.shadow.IsNil() {
		return Nil, nil
	}
	rn, err := v.node(el.shadow)
	if err != nil {
		return Nil, nil
	}
	if rn.data.(*fragmentData).mode == ShadowClosed && !includeClosed {
		return Nil, nil
	}
	return el.shadow, nil
}

// IsConnected reports whether the shadow-including root of h is a document.
func (v *View) IsConnected(h Handle) (bool, error) {
	root, err := v.GetRootNode(h, true)
	if err != nil {
		return false, err
	}
	k, _ := v.Kind(root)
	return k == DocumentNode, nil
}

// Walk visits root and its descendants in tree order. Attributes and shadow
// trees are not visited. Returning false from fn skips the node's subtree.
func (v *View) Walk(root Handle, fn func(h Handle, depth int) bool) error {
	if _, err := v.node(root); err != nil {
		return err
	}
	type frame struct {
		h     Handle
		depth int
	}
	stack := []frame{{root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := v.av.Get(f.h)
		if !ok {
			continue
		}
		if !fn(f.h, f.depth) {
			continue
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{n.children[i], f.depth + 1})
		}
	}
	return nil
}

// Tree convenience accessors, each under its own read lock.

func (t *Tree) Kind(h Handle) (Kind, error) {
	return viewValue(t, "kind", func(v *View) (Kind, error) { return v.Kind(h) })
}

func (t *Tree) NodeName(h Handle) (string, error) {
	return viewValue(t, "nodeName", func(v *View) (string, error) { return v.NodeName(h) })
}

func (t *Tree) TagName(h Handle) (string, error) {
	return viewValue(t, "tagName", func(v *View) (string, error) { return v.TagName(h) })
}

func (t *Tree) Data(h Handle) (string, error) {
	return viewValue(t, "data", func(v *View) (string, error) { return v.Data(h) })
}

func (t *Tree) ParentNode(h Handle) (Handle, error) {
	return viewValue(t, "parentNode", func(v *View) (Handle, error) { return v.ParentNode(h) })
}

func (t *Tree) ChildNodes(h Handle) ([]Handle, error) {
	return viewValue(t, "childNodes", func(v *View) ([]Handle, error) { return v.ChildNodes(h) })
}

func (t *Tree) FirstChild(h Handle) (Handle, error) {
	return viewValue(t, "firstChild", func(v *View) (Handle, error) { return v.FirstChild(h) })
}

func (t *Tree) LastChild(h Handle) (Handle, error) {
	return viewValue(t, "lastChild", func(v *View) (Handle, error) { return v.LastChild(h) })
}

func (t *Tree) NextSibling(h Handle) (Handle, error) {
	return viewValue(t, "nextSibling", func(v *View) (Handle, error) { return v.NextSibling(h) })
}

func (t *Tree) PreviousSibling(h Handle) (Handle, error) {
	return viewValue(t, "previousSibling", func(v *View) (Handle, error) { return v.PreviousSibling(h) })
}

func (t *Tree) OwnerDocument(h Handle) (Handle, error) {
	return viewValue(t, "ownerDocument", func(v *View) (Handle, error) { return v.OwnerDocument(h) })
}

func (t *Tree) DocumentElement(doc Handle) (Handle, error) {
	return viewValue(t, "documentElement", func(v *View) (Handle, error) { return v.DocumentElement(doc) })
}

func (t *Tree) Doctype(doc Handle) (Handle, error) {
	return viewValue(t, "doctype", func(v *View) (Handle, error) { return v.Doctype(doc) })
}

func (t *Tree) DocumentInfo(doc Handle) (DocumentInfo, error) {
	return viewValue(t, "documentInfo", func(v *View) (DocumentInfo, error) { return v.DocumentInfo(doc) })
}

func (t *Tree) Host(root Handle) (Handle, error) {
	return viewValue(t, "host", func(v *View) (Handle, error) { return v.Host(root) })
}

func (t *Tree) ShadowRoot(host Handle, includeClosed bool) (Handle, error) {
	return viewValue(t, "shadowRoot", func(v *View) (Handle, error) { return v.ShadowRoot(host, includeClosed) })
}

// Exists reports whether h refers to a live node.
func (t *Tree) Exists(h Handle) bool {
	return t.arena.Contains(h)
}
