// internal/inspect/print.go
package inspect

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xlab/treeprint"
)

// PrintOptions configures Print.
type PrintOptions struct {
	// Handles appends each node's handle to its label.
	Handles bool
	// MaxText truncates character data in labels. Zero means 40 runes.
	MaxText int
}

// Print renders the subtree at root as an indented tree. Shadow roots are
// shown as the first branch under their host.
func Print(t *dom.Tree, root dom.Handle, opts PrintOptions) (string, error) {
	if opts.MaxText <= 0 {
		opts.MaxText = 40
	}
	var out string
	err := t.View(func(v *dom.View) error {
		label, err := Label(v, root, opts.MaxText)
		if err != nil {
			return err
		}
		p := treeprint.NewWithRoot(decorate(label, root, opts))
		if err := addChildren(v, p, root, opts); err != nil {
			return err
		}
		out = p.String()
		return nil
	})
	return out, err
}

func decorate(label string, h dom.Handle, opts PrintOptions) string {
	if opts.Handles {
		return label + " " + h.String()
	}
	return label
}

func addChildren(v *dom.View, p treeprint.Tree, h dom.Handle, opts PrintOptions) error {
	var children []dom.Handle
	if k, _ := v.Kind(h); k == dom.ElementNode {
		sr, err := v.ShadowRoot(h, true)
		if err != nil {
			return err
		}
		if !sr.IsNil() {
			children = append(children, sr)
		}
	}
	kids, err := v.ChildNodes(h)
	if err != nil {
		return err
	}
	children = append(children, kids...)

	for _, c := range children {
		label, err := Label(v, c, opts.MaxText)
		if err != nil {
			return err
		}
		label = decorate(label, c, opts)
		if has, _ := v.HasChildNodes(c); !has && !hasShadow(v, c) {
			p.AddNode(label)
			continue
		}
		if err := addChildren(v, p.AddBranch(label), c, opts); err != nil {
			return err
		}
	}
	return nil
}

func hasShadow(v *dom.View, h dom.Handle) bool {
	if k, _ := v.Kind(h); k != dom.ElementNode {
		return false
	}
	sr, err := v.ShadowRoot(h, true)
	return err == nil && !sr.IsNil()
}

// Label is the one-line description of a node used by Print.
func Label(v *dom.View, h dom.Handle, maxText int) (string, error) {
	k, err := v.Kind(h)
	if err != nil {
		return "", err
	}
	switch k {
	case dom.ElementNode:
		name, _ := v.NodeName(h)
		attrs, _ := v.Attributes(h)
		var b strings.Builder
		b.WriteString("<" + name)
		for _, a := range attrs {
			fmt.Fprintf(&b, " %s=%q", a.Name(), a.Value)
		}
		b.WriteString(">")
		return b.String(), nil
	case dom.TextNode:
		data, _ := v.Data(h)
		return fmt.Sprintf("#text %q", truncate(data, maxText)), nil
	case dom.CDATASectionNode:
		data, _ := v.Data(h)
		return "<![CDATA[" + truncate(data, maxText) + "]]>", nil
	case dom.CommentNode:
		data, _ := v.Data(h)
		return "<!--" + truncate(data, maxText) + "-->", nil
	case dom.ProcessingInstructionNode:
		target, _ := v.NodeName(h)
		data, _ := v.Data(h)
		return "<?" + target + " " + truncate(data, maxText) + "?>", nil
	case dom.DocumentTypeNode:
		info, _ := v.DoctypeInfo(h)
		return "<!DOCTYPE " + info.Name + ">", nil
	case dom.DocumentNode:
		info, _ := v.DocumentInfo(h)
		if info.URL != "" {
			return fmt.Sprintf("#document (%s) %s", info.Type, info.URL), nil
		}
		return fmt.Sprintf("#document (%s)", info.Type), nil
	case dom.DocumentFragmentNode:
		if mode, err := v.ShadowMode(h); err == nil {
			return fmt.Sprintf("#shadow-root (%s)", mode), nil
		}
		return "#document-fragment", nil
	case dom.AttributeNode:
		name, _ := v.NodeName(h)
		data, _ := v.Data(h)
		return fmt.Sprintf("@%s=%q", name, data), nil
	}
	return k.String(), nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
