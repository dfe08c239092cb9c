// internal/inspect/snapshot.go
package inspect

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Snapshot is a detached, serializable copy of a subtree.
type Snapshot struct {
	Handle    string   `json:"handle,omitempty"`
	Kind      dom.Kind `json:"nodeType"`
	Name      string   `json:"nodeName"`
	Namespace string   `json:"namespaceURI,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	LocalName string   `json:"localName,omitempty"`
	Value     *string  `json:"nodeValue,omitempty"`

	Attributes []AttrSnapshot `json:"attributes,omitempty"`
	Children   []*Snapshot    `json:"children,omitempty"`

	// Document and doctype details.
	DocumentType string `json:"documentType,omitempty"`
	URL          string `json:"url,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	PublicID     string `json:"publicId,omitempty"`
	SystemID     string `json:"systemId,omitempty"`

	Shadow     *Snapshot `json:"shadowRoot,omitempty"`
	ShadowMode string    `json:"mode,omitempty"`
}

// AttrSnapshot is one attribute of an element snapshot.
type AttrSnapshot struct {
	Namespace string `json:"namespaceURI,omitempty"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

// Snap copies the subtree at root, including shadow trees.
func Snap(t *dom.Tree, root dom.Handle) (*Snapshot, error) {
	var s *Snapshot
	err := t.View(func(v *dom.View) error {
		var err error
		s, err = SnapView(v, root)
		return err
	})
	return s, err
}

// SnapView is Snap inside an existing read view.
func SnapView(v *dom.View, h dom.Handle) (*Snapshot, error) {
	k, err := v.Kind(h)
	if err != nil {
		return nil, err
	}
	name, _ := v.NodeName(h)
	s := &Snapshot{Handle: h.String(), Kind: k, Name: name}
	if val, ok, _ := v.NodeValue(h); ok {
		s.Value = &val
	}

	switch k {
	case dom.ElementNode:
		s.Namespace, _ = v.NamespaceURI(h)
		s.Prefix, _ = v.Prefix(h)
		s.LocalName, _ = v.LocalName(h)
		attrs, _ := v.Attributes(h)
		for _, a := range attrs {
			s.Attributes = append(s.Attributes, AttrSnapshot{Namespace: a.Namespace, Name: a.Name(), Value: a.Value})
		}
		sr, err := v.ShadowRoot(h, true)
		if err != nil {
			return nil, err
		}
		if !sr.IsNil() {
			if s.Shadow, err = SnapView(v, sr); err != nil {
				return nil, err
			}
			mode, _ := v.ShadowMode(sr)
			s.ShadowMode = mode.String()
		}
	case dom.DocumentNode:
		info, _ := v.DocumentInfo(h)
		s.DocumentType = info.Type.String()
		s.URL = info.URL
		s.ContentType = info.ContentType
	case dom.DocumentTypeNode:
		info, _ := v.DoctypeInfo(h)
		s.PublicID = info.PublicID
		s.SystemID = info.SystemID
	case dom.AttributeNode:
		s.Namespace, _ = v.NamespaceURI(h)
	}

	kids, err := v.ChildNodes(h)
	if err != nil {
		return nil, err
	}
	for _, c := range kids {
		cs, err := SnapView(v, c)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, cs)
	}
	return s, nil
}

// MarshalSnapshot encodes s as JSON.
func MarshalSnapshot(s *Snapshot, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(s, "", "  ")
	}
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Restore rebuilds a snapshot as new nodes. A document snapshot becomes a
// new document and doc is ignored; anything else is created in doc and
// returned parentless. Handles recorded in the snapshot are not reused.
func Restore(t *dom.Tree, doc dom.Handle, s *Snapshot) (dom.Handle, error) {
	if s.Kind == dom.DocumentNode {
		typ := dom.HTMLDocument
		if s.DocumentType == dom.XMLDocument.String() {
			typ = dom.XMLDocument
		}
		var err error
		doc, err = t.CreateDocument(dom.DocumentOptions{Type: typ, URL: s.URL, ContentType: s.ContentType})
		if err != nil {
			return dom.Nil, err
		}
		return doc, restoreChildren(t, doc, doc, s)
	}
	return restoreNode(t, doc, s)
}

func restoreNode(t *dom.Tree, doc dom.Handle, s *Snapshot) (dom.Handle, error) {
	value := ""
	if s.Value != nil {
		value = *s.Value
	}
	var (
		h   dom.Handle
		err error
	)
	switch s.Kind {
	case dom.ElementNode:
		qname := s.LocalName
		if s.Prefix != "" {
			qname = s.Prefix + ":" + qname
		}
		h, err = t.CreateElementNS(doc, s.Namespace, qname)
	case dom.TextNode:
		h, err = t.CreateTextNode(doc, value)
	case dom.CDATASectionNode:
		h, err = t.CreateCDATASection(doc, value)
	case dom.CommentNode:
		h, err = t.CreateComment(doc, value)
	case dom.ProcessingInstructionNode:
		h, err = t.CreateProcessingInstruction(doc, s.Name, value)
	case dom.DocumentTypeNode:
		h, err = t.CreateDocumentType(doc, s.Name, s.PublicID, s.SystemID)
	case dom.DocumentFragmentNode:
		h, err = t.CreateDocumentFragment(doc)
	default:
		return dom.Nil, domerr.Newf(domerr.NotSupported, "restore", "cannot restore a %s snapshot here", s.Kind)
	}
	if err != nil {
		return dom.Nil, err
	}

	for _, a := range s.Attributes {
		if err := t.SetAttributeNS(h, a.Namespace, a.Name, a.Value); err != nil {
			return h, err
		}
	}
	if s.Shadow != nil {
		mode := dom.ShadowOpen
		if s.ShadowMode == dom.ShadowClosed.String() {
			mode = dom.ShadowClosed
		}
		sr, err := t.AttachShadow(h, mode)
		if err != nil {
			return h, err
		}
		if err := restoreChildren(t, doc, sr, s.Shadow); err != nil {
			return h, err
		}
	}
	return h, restoreChildren(t, doc, h, s)
}

func restoreChildren(t *dom.Tree, doc, parent dom.Handle, s *Snapshot) error {
	for _, cs := range s.Children {
		c, err := restoreNode(t, doc, cs)
		if err != nil {
			return err
		}
		if _, err := t.AppendChild(parent, c); err != nil {
			return err
		}
	}
	return nil
}
