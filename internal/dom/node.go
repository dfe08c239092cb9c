// internal/dom/node.go
package dom

import (
	"fmt"

	"github.com/xkilldash9x/domcore/internal/arena"
)

// Handle re-exports the arena handle so callers rarely need both packages.
type Handle = arena.Handle

// Nil is the handle that refers to nothing.
var Nil = arena.Nil

// Kind is the node type; values match the DOM nodeType constants.
type Kind uint8

const (
	ElementNode               Kind = 1
	AttributeNode             Kind = 2
	TextNode                  Kind = 3
	CDATASectionNode          Kind = 4
	ProcessingInstructionNode Kind = 7
	CommentNode               Kind = 8
	DocumentNode              Kind = 9
	DocumentTypeNode          Kind = 10
	DocumentFragmentNode      Kind = 11
)

func (k Kind) String() string {
	switch k {
	case ElementNode:
		return "Element"
	case AttributeNode:
		return "Attr"
	case TextNode:
		return "Text"
	case CDATASectionNode:
		return "CDATASection"
	case ProcessingInstructionNode:
		return "ProcessingInstruction"
	case CommentNode:
		return "Comment"
	case DocumentNode:
		return "Document"
	case DocumentTypeNode:
		return "DocumentType"
	case DocumentFragmentNode:
		return "DocumentFragment"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsCharacterData reports whether the kind carries mutable character data.
func (k Kind) IsCharacterData() bool {
	switch k {
	case TextNode, CDATASectionNode, CommentNode, ProcessingInstructionNode:
		return true
	}
	return false
}

// IsText reports Text and CDATASection.
func (k Kind) IsText() bool { return k == TextNode || k == CDATASectionNode }

// Namespaces.
const (
	HTMLNamespace   = "http://www.w3.org/1999/xhtml"
	SVGNamespace    = "http://www.w3.org/2000/svg"
	MathMLNamespace = "http://www.w3.org/1998/Math/MathML"
	XMLNamespace    = "http://www.w3.org/XML/1998/namespace"
	XMLNSNamespace  = "http://www.w3.org/2000/xmlns/"
)

// DocumentType distinguishes HTML documents from XML documents.
type DocumentType uint8

const (
	HTMLDocument DocumentType = iota
	XMLDocument
)

func (d DocumentType) String() string {
	if d == XMLDocument {
		return "xml"
	}
	return "html"
}

// ShadowRootMode controls whether a shadow root is exposed through its host.
type ShadowRootMode uint8

const (
	ShadowOpen ShadowRootMode = iota
	ShadowClosed
)

func (m ShadowRootMode) String() string {
	if m == ShadowClosed {
		return "closed"
	}
	return "open"
}

// Node is an arena payload: a common core plus one kind payload.
type Node struct {
	kind     Kind
	parent   arena.Weak
	children []Handle
	owner    arena.Weak
	readOnly bool
	data     payload
}

// payload is the sealed set of kind-specific records.
type payload interface {
	clone() payload
}

type elementData struct {
	namespace string
	prefix    string
	localName string
	attrs     []Handle
	shadow    Handle
}

type attrData struct {
	namespace    string
	prefix       string
	localName    string
	value        string
	ownerElement arena.Weak
}

// charData backs Text, Comment and CDATASection.
type charData struct {
	data string
}

type piData struct {
	target string
	data   string
}

type doctypeData struct {
	name     string
	publicID string
	systemID string
}

type documentData struct {
	docType     DocumentType
	url         string
	contentType string
	charset     string
}

// fragmentData backs DocumentFragment; a non-nil host marks a shadow root.
type fragmentData struct {
	host arena.Weak
	mode ShadowRootMode
}

func (d *elementData) clone() payload {
	return &elementData{namespace: d.namespace, prefix: d.prefix, localName: d.localName}
}

func (d *attrData) clone() payload {
	return &attrData{namespace: d.namespace, prefix: d.prefix, localName: d.localName, value: d.value}
}

func (d *charData) clone() payload     { cp := *d; return &cp }
func (d *piData) clone() payload       { cp := *d; return &cp }
func (d *doctypeData) clone() payload  { cp := *d; return &cp }
func (d *documentData) clone() payload { cp := *d; return &cp }

func (d *fragmentData) clone() payload { return &fragmentData{} }

func qualifiedName(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// nodeTracer exposes node edges to the arena collector.
type nodeTracer struct{}

func (nodeTracer) TraceStrong(n *Node, visit func(Handle)) {
	for _, c := range n.children {
		visit(c)
	}
	if el, ok := n.data.(*elementData); ok {
		for _, a := range el.attrs {
			visit(a)
		}
		if !el.shadow.IsNil() {
			visit(el.shadow)
		}
	}
}

func (nodeTracer) TraceWeak(n *Node, visit func(Handle)) {
	if !n.parent.IsNil() {
		visit(n.parent.Handle())
	}
	if !n.owner.IsNil() {
		visit(n.owner.Handle())
	}
	switch d := n.data.(type) {
	case *attrData:
		if !d.ownerElement.IsNil() {
			visit(d.ownerElement.Handle())
		}
	case *fragmentData:
		if !d.host.IsNil() {
			visit(d.host.Handle())
		}
	}
}
