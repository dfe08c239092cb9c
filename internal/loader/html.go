// internal/loader/html.go
package loader

import (
	"fmt"
	"io"

	"github.com/xkilldash9x/domcore/internal/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const xlinkNamespace = "http://www.w3.org/1999/xlink"

var htmlKinds = map[html.NodeType]string{
	html.DoctypeNode: "doctype",
	html.TextNode:    "text",
	html.CommentNode: "comment",
}

// htmlNamespaces maps the parser's foreign-content markers to namespaces.
var htmlNamespaces = map[string]string{
	"":     dom.HTMLNamespace,
	"svg":  dom.SVGNamespace,
	"math": dom.MathMLNamespace,
}

// LoadHTML parses r with the HTML5 tree construction algorithm and builds
// the result as a new HTML document.
func LoadHTML(t *dom.Tree, r io.Reader, opts Options) (Result, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	b, err := newBuilder(t, dom.DocumentOptions{Type: dom.HTMLDocument, URL: opts.URL, ContentType: "text/html"}, opts.Logger)
	if err != nil {
		return Result{}, err
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := b.htmlNode(b.doc, c); err != nil {
			return b.abort(err)
		}
	}
	return b.result, nil
}

// LoadHTMLFragment parses r as the contents of an element named context
// and returns a DocumentFragment owned by doc.
func LoadHTMLFragment(t *dom.Tree, doc dom.Handle, context string, r io.Reader, opts Options) (dom.Handle, Result, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: context, DataAtom: atom.Lookup([]byte(context))}
	nodes, err := html.ParseFragment(r, ctx)
	if err != nil {
		return dom.Nil, Result{}, fmt.Errorf("parse html fragment: %w", err)
	}
	b := &builder{tree: t, doc: doc, logger: loggerOrNop(opts.Logger).Named("loader"), result: Result{Document: doc}}
	frag, err := t.CreateDocumentFragment(doc)
	if err != nil {
		return dom.Nil, b.result, err
	}
	for _, n := range nodes {
		if err := b.htmlNode(frag, n); err != nil {
			return frag, b.result, err
		}
	}
	return frag, b.result, nil
}

// htmlNode converts n and its subtree and appends it to parent. Elements
// are filled before they are appended, so a connected parent sees one
// insertion per subtree.
func (b *builder) htmlNode(parent dom.Handle, n *html.Node) error {
	var (
		h   dom.Handle
		err error
	)
	switch n.Type {
	case html.DoctypeNode:
		var public, system string
		for _, a := range n.Attr {
			switch a.Key {
			case "public":
				public = a.Val
			case "system":
				system = a.Val
			}
		}
		h, err = b.tree.CreateDocumentType(b.doc, n.Data, public, system)
	case html.TextNode:
		h, err = b.tree.CreateTextNode(b.doc, n.Data)
	case html.CommentNode:
		h, err = b.tree.CreateComment(b.doc, n.Data)
	case html.ElementNode:
		return b.htmlElement(parent, n)
	default:
		return nil
	}
	if err != nil {
		if skippable(err) {
			b.skip(htmlKinds[n.Type], n.Data, err)
			return nil
		}
		return err
	}
	return b.appendTo(parent, h)
}

func (b *builder) htmlElement(parent dom.Handle, n *html.Node) error {
	ns, ok := htmlNamespaces[n.Namespace]
	if !ok {
		ns = dom.HTMLNamespace
	}
	el, err := b.tree.CreateElementNS(b.doc, ns, n.Data)
	if err != nil {
		if !skippable(err) {
			return err
		}
		// Keep the children of an element whose name the tree rejects.
		b.skip("element", n.Data, err)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := b.htmlNode(parent, c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, a := range n.Attr {
		attrNS, qname := htmlAttributeName(a)
		if err := b.setAttribute(el, attrNS, qname, a.Val); err != nil {
			b.discard(el)
			return err
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := b.htmlNode(el, c); err != nil {
			return err
		}
	}
	if err := b.appendTo(parent, el); err != nil {
		b.discard(el)
		return err
	}
	return nil
}

// htmlAttributeName maps the parser's attribute namespace markers onto a
// namespace and qualified name.
func htmlAttributeName(a html.Attribute) (namespace, qname string) {
	switch a.Namespace {
	case "xlink":
		return xlinkNamespace, "xlink:" + a.Key
	case "xml":
		return dom.XMLNamespace, "xml:" + a.Key
	case "xmlns":
		return dom.XMLNSNamespace, "xmlns:" + a.Key
	}
	if a.Key == "xmlns" {
		return dom.XMLNSNamespace, "xmlns"
	}
	return "", a.Key
}
