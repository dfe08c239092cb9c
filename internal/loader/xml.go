// internal/loader/xml.go
package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"github.com/xkilldash9x/domcore/internal/dom"
)

// LoadXML parses r as namespace-aware XML and builds it as a new XML
// document. CDATA sections, comments, processing instructions and the
// doctype are kept.
func LoadXML(t *dom.Tree, r io.Reader, opts Options) (Result, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if _, err := doc.ReadFrom(r); err != nil {
		return Result{}, fmt.Errorf("parse xml: %w", err)
	}
	b, err := newBuilder(t, dom.DocumentOptions{Type: dom.XMLDocument, URL: opts.URL, ContentType: "application/xml"}, opts.Logger)
	if err != nil {
		return Result{}, err
	}
	x := &xmlBuilder{builder: b, keepWhitespace: opts.KeepWhitespace}
	for _, tok := range doc.Child {
		// Whitespace between top-level nodes is never content.
		if cd, ok := tok.(*etree.CharData); ok && cd.IsWhitespace() {
			continue
		}
		if err := x.token(b.doc, tok); err != nil {
			return b.abort(err)
		}
	}
	return b.result, nil
}

type xmlBuilder struct {
	*builder
	keepWhitespace bool
}

func (x *xmlBuilder) token(parent dom.Handle, tok etree.Token) error {
	var (
		h   dom.Handle
		err error
	)
	switch n := tok.(type) {
	case *etree.Element:
		return x.element(parent, n)
	case *etree.CharData:
		switch {
		case n.IsCData():
			h, err = x.tree.CreateCDATASection(x.doc, n.Data)
		case n.IsWhitespace() && !x.keepWhitespace:
			return nil
		default:
			h, err = x.tree.CreateTextNode(x.doc, n.Data)
		}
	case *etree.Comment:
		h, err = x.tree.CreateComment(x.doc, n.Data)
	case *etree.ProcInst:
		// The XML declaration is not a node.
		if strings.EqualFold(n.Target, "xml") {
			return nil
		}
		h, err = x.tree.CreateProcessingInstruction(x.doc, n.Target, n.Inst)
	case *etree.Directive:
		name, public, system, ok := parseDoctype(n.Data)
		if !ok {
			return nil
		}
		h, err = x.tree.CreateDocumentType(x.doc, name, public, system)
	default:
		return nil
	}
	if err != nil {
		if skippable(err) {
			x.skip("node", fmt.Sprintf("%T", tok), err)
			return nil
		}
		return err
	}
	return x.appendTo(parent, h)
}

func (x *xmlBuilder) element(parent dom.Handle, e *etree.Element) error {
	ns := lookupNamespace(e, e.Space)
	el, err := x.tree.CreateElementNS(x.doc, ns, e.FullTag())
	if err != nil {
		if skippable(err) {
			x.skip("element", e.FullTag(), err)
			return nil
		}
		return err
	}

	for _, a := range e.Attr {
		if err := x.setAttribute(el, attributeNamespace(e, a), a.FullKey(), a.Value); err != nil {
			x.discard(el)
			return err
		}
	}
	for _, tok := range e.Child {
		if err := x.token(el, tok); err != nil {
			return err
		}
	}
	if err := x.appendTo(parent, el); err != nil {
		x.discard(el)
		return err
	}
	return nil
}

// lookupNamespace resolves prefix against the xmlns declarations in scope
// at e. The empty prefix resolves the default namespace.
func lookupNamespace(e *etree.Element, prefix string) string {
	switch prefix {
	case "xml":
		return dom.XMLNamespace
	case "xmlns":
		return dom.XMLNSNamespace
	}
	for cur := e; cur != nil; cur = cur.Parent() {
		for _, a := range cur.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}

// attributeNamespace resolves an attribute's namespace. Unprefixed
// attributes have none, whatever the default namespace.
func attributeNamespace(e *etree.Element, a etree.Attr) string {
	switch {
	case a.Space == "" && a.Key == "xmlns":
		return dom.XMLNSNamespace
	case a.Space == "":
		return ""
	}
	return lookupNamespace(e, a.Space)
}

// parseDoctype splits a DOCTYPE directive into name and identifiers. An
// internal subset is ignored.
func parseDoctype(directive string) (name, public, system string, ok bool) {
	rest := strings.TrimSpace(directive)
	if len(rest) < 7 || !strings.EqualFold(rest[:7], "DOCTYPE") {
		return "", "", "", false
	}
	if i := strings.IndexByte(rest, '['); i >= 0 {
		rest = rest[:i]
	}
	fields := splitQuoted(rest[7:])
	if len(fields) == 0 {
		return "", "", "", false
	}
	name = fields[0]
	switch {
	case len(fields) >= 4 && strings.EqualFold(fields[1], "PUBLIC"):
		public, system = fields[2], fields[3]
	case len(fields) >= 3 && strings.EqualFold(fields[1], "PUBLIC"):
		public = fields[2]
	case len(fields) >= 3 && strings.EqualFold(fields[1], "SYSTEM"):
		system = fields[2]
	}
	return name, public, system, true
}

// splitQuoted splits on whitespace, keeping quoted strings whole and
// unquoted.
func splitQuoted(s string) []string {
	var out []string
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return out
		}
		if q := s[0]; q == '"' || q == '\'' {
			end := strings.IndexByte(s[1:], q)
			if end < 0 {
				return append(out, s[1:])
			}
			out = append(out, s[1:end+1])
			s = s[end+2:]
			continue
		}
		end := strings.IndexAny(s, " \t\r\n")
		if end < 0 {
			return append(out, s)
		}
		out = append(out, s[:end])
		s = s[end:]
	}
}
