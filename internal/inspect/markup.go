// internal/inspect/markup.go
package inspect

import (
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"github.com/xkilldash9x/domcore/internal/dom"
	"golang.org/x/net/html"
)

// MarkupOptions configures Serialize.
type MarkupOptions struct {
	// Indent pretty-prints XML output with this many spaces. HTML output
	// is never reformatted.
	Indent int
}

// Serialize writes the subtree at root as markup: HTML syntax when root
// belongs to an HTML document, XML otherwise. Shadow trees are not
// serialized. Namespace declarations are written as they appear among the
// attributes; none are synthesized.
func Serialize(t *dom.Tree, root dom.Handle, w io.Writer, opts MarkupOptions) error {
	return t.View(func(v *dom.View) error {
		doc := root
		if k, err := v.Kind(root); err != nil {
			return err
		} else if k != dom.DocumentNode {
			if doc, err = v.OwnerDocument(root); err != nil {
				return err
			}
		}
		info, err := v.DocumentInfo(doc)
		if err != nil {
			return err
		}
		if info.Type == dom.HTMLDocument {
			return serializeHTML(v, root, w)
		}
		return serializeXML(v, root, w, opts)
	})
}

// SerializeString is Serialize into a string.
func SerializeString(t *dom.Tree, root dom.Handle, opts MarkupOptions) (string, error) {
	var b strings.Builder
	if err := Serialize(t, root, &b, opts); err != nil {
		return "", err
	}
	return b.String(), nil
}

// htmlForeign is the parser's marker for foreign-content namespaces.
var htmlForeign = map[string]string{
	dom.SVGNamespace:    "svg",
	dom.MathMLNamespace: "math",
}

var htmlAttrPrefixes = map[string]string{
	"http://www.w3.org/1999/xlink": "xlink",
	dom.XMLNamespace:               "xml",
	dom.XMLNSNamespace:             "xmlns",
}

func serializeHTML(v *dom.View, root dom.Handle, w io.Writer) error {
	// A fragment renders as its children.
	if k, _ := v.Kind(root); k == dom.DocumentFragmentNode {
		kids, err := v.ChildNodes(root)
		if err != nil {
			return err
		}
		for _, c := range kids {
			if err := serializeHTML(v, c, w); err != nil {
				return err
			}
		}
		return nil
	}
	n, err := toHTMLNode(v, root)
	if err != nil {
		return err
	}
	return html.Render(w, n)
}

func toHTMLNode(v *dom.View, h dom.Handle) (*html.Node, error) {
	k, err := v.Kind(h)
	if err != nil {
		return nil, err
	}
	n := &html.Node{}
	switch k {
	case dom.DocumentNode:
		n.Type = html.DocumentNode
	case dom.ElementNode:
		n.Type = html.ElementNode
		n.Data, _ = v.LocalName(h)
		ns, _ := v.NamespaceURI(h)
		n.Namespace = htmlForeign[ns]
		attrs, _ := v.Attributes(h)
		for _, a := range attrs {
			n.Attr = append(n.Attr, html.Attribute{Namespace: htmlAttrPrefixes[a.Namespace], Key: a.LocalName, Val: a.Value})
		}
	case dom.TextNode:
		n.Type = html.TextNode
		n.Data, _ = v.Data(h)
	case dom.CommentNode:
		n.Type = html.CommentNode
		n.Data, _ = v.Data(h)
	case dom.CDATASectionNode:
		data, _ := v.Data(h)
		n.Type, n.Data = html.RawNode, "<![CDATA["+data+"]]>"
	case dom.ProcessingInstructionNode:
		target, _ := v.NodeName(h)
		data, _ := v.Data(h)
		n.Type, n.Data = html.RawNode, "<?"+target+" "+data+">"
	case dom.DocumentTypeNode:
		info, _ := v.DoctypeInfo(h)
		n.Type, n.Data = html.DoctypeNode, info.Name
		if info.PublicID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "public", Val: info.PublicID})
		}
		if info.SystemID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "system", Val: info.SystemID})
		}
	default:
		return nil, fmt.Errorf("cannot serialize a %s as HTML", k)
	}

	kids, err := v.ChildNodes(h)
	if err != nil {
		return nil, err
	}
	for _, c := range kids {
		cn, err := toHTMLNode(v, c)
		if err != nil {
			return nil, err
		}
		n.AppendChild(cn)
	}
	return n, nil
}

func serializeXML(v *dom.View, root dom.Handle, w io.Writer, opts MarkupOptions) error {
	out := etree.NewDocument()
	k, err := v.Kind(root)
	if err != nil {
		return err
	}
	if k == dom.DocumentNode || k == dom.DocumentFragmentNode {
		kids, err := v.ChildNodes(root)
		if err != nil {
			return err
		}
		for _, c := range kids {
			if err := addXML(v, &out.Element, c); err != nil {
				return err
			}
		}
	} else if err := addXML(v, &out.Element, root); err != nil {
		return err
	}
	if opts.Indent > 0 {
		out.Indent(opts.Indent)
	}
	_, err = out.WriteTo(w)
	return err
}

func addXML(v *dom.View, parent *etree.Element, h dom.Handle) error {
	k, err := v.Kind(h)
	if err != nil {
		return err
	}
	switch k {
	case dom.ElementNode:
		name, _ := v.NodeName(h)
		el := parent.CreateElement(name)
		attrs, _ := v.Attributes(h)
		for _, a := range attrs {
			el.CreateAttr(a.Name(), a.Value)
		}
		kids, err := v.ChildNodes(h)
		if err != nil {
			return err
		}
		for _, c := range kids {
			if err := addXML(v, el, c); err != nil {
				return err
			}
		}
	case dom.TextNode:
		data, _ := v.Data(h)
		parent.CreateText(data)
	case dom.CDATASectionNode:
		data, _ := v.Data(h)
		parent.CreateCData(data)
	case dom.CommentNode:
		data, _ := v.Data(h)
		parent.CreateComment(data)
	case dom.ProcessingInstructionNode:
		target, _ := v.NodeName(h)
		data, _ := v.Data(h)
		parent.CreateProcInst(target, data)
	case dom.DocumentTypeNode:
		info, _ := v.DoctypeInfo(h)
		parent.CreateDirective(doctypeDirective(info))
	default:
		return fmt.Errorf("cannot serialize a %s as XML", k)
	}
	return nil
}

func doctypeDirective(info dom.DoctypeInfo) string {
	d := "DOCTYPE " + info.Name
	switch {
	case info.PublicID != "":
		d += fmt.Sprintf(" PUBLIC %q", info.PublicID)
		if info.SystemID != "" {
			d += fmt.Sprintf(" %q", info.SystemID)
		}
	case info.SystemID != "":
		d += fmt.Sprintf(" SYSTEM %q", info.SystemID)
	}
	return d
}
