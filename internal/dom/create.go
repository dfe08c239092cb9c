// internal/dom/create.go
package dom

import (
	"strings"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// DocumentOptions describes a new document.
type DocumentOptions struct {
	Type        DocumentType
	URL         string
	ContentType string
	Charset     string
}

// CreateDocument allocates an empty document. Documents are collection roots
// for CollectUnreachable.
func (t *Tree) CreateDocument(opts DocumentOptions) (Handle, error) {
	if opts.ContentType == "" {
		opts.ContentType = "text/html"
		if opts.Type == XMLDocument {
			opts.ContentType = "application/xml"
		}
	}
	if opts.Charset == "" {
		opts.Charset = "UTF-8"
	}
	if opts.URL == "" {
		opts.URL = "about:blank"
	}
	var h Handle
	err := t.write("createDocument", func(w *txn) error {
		var err error
		h, err = w.tx.Allocate(Node{
			kind: DocumentNode,
			data: &documentData{docType: opts.Type, url: opts.URL, contentType: opts.ContentType, charset: opts.Charset},
		})
		return err
	})
	return h, err
}

// CreateElement creates an element named name owned by doc. HTML documents
// lower-case the name and place the element in the HTML namespace.
func (t *Tree) CreateElement(doc Handle, name string) (Handle, error) {
	return t.create("createElement", doc, func(w *txn, d *documentData) (Kind, payload, error) {
		if err := w.t.validator.ValidateName(name); err != nil {
			return 0, nil, err
		}
		ns := ""
		if d.docType == HTMLDocument {
			name = strings.ToLower(name)
			ns = HTMLNamespace
		} else if d.contentType == "application/xhtml+xml" {
			ns = HTMLNamespace
		}
		return ElementNode, &elementData{namespace: ns, localName: name}, nil
	})
}

// CreateElementNS creates an element with an explicit namespace.
func (t *Tree) CreateElementNS(doc Handle, namespace, qname string) (Handle, error) {
	return t.create("createElementNS", doc, func(w *txn, _ *documentData) (Kind, payload, error) {
		prefix, local, err := w.t.validator.ValidateQualifiedName(namespace, qname)
		if err != nil {
			return 0, nil, err
		}
		return ElementNode, &elementData{namespace: namespace, prefix: prefix, localName: local}, nil
	})
}

// CreateTextNode creates a Text node.
func (t *Tree) CreateTextNode(doc Handle, data string) (Handle, error) {
	return t.create("createTextNode", doc, func(*txn, *documentData) (Kind, payload, error) {
		return TextNode, &charData{data: data}, nil
	})
}

// CreateComment creates a Comment node.
func (t *Tree) CreateComment(doc Handle, data string) (Handle, error) {
	return t.create("createComment", doc, func(*txn, *documentData) (Kind, payload, error) {
		return CommentNode, &charData{data: data}, nil
	})
}

// CreateCDATASection creates a CDATA section. HTML documents do not support
// them, and data may not contain the "]]>" terminator.
func (t *Tree) CreateCDATASection(doc Handle, data string) (Handle, error) {
	return t.create("createCDATASection", doc, func(_ *txn, d *documentData) (Kind, payload, error) {
		if d.docType == HTMLDocument {
			return 0, nil, domerr.New(domerr.NotSupported, "", "CDATA sections are not supported in HTML documents")
		}
		if strings.Contains(data, "]]>") {
			return 0, nil, domerr.New(domerr.InvalidCharacter, "", `data contains "]]>"`)
		}
		return CDATASectionNode, &charData{data: data}, nil
	})
}

// CreateProcessingInstruction creates a processing instruction.
func (t *Tree) CreateProcessingInstruction(doc Handle, target, data string) (Handle, error) {
	return t.create("createProcessingInstruction", doc, func(w *txn, _ *documentData) (Kind, payload, error) {
		if err := w.t.validator.ValidatePITarget(target); err != nil {
			return 0, nil, err
		}
		if strings.Contains(data, "?>") {
			return 0, nil, domerr.New(domerr.InvalidCharacter, "", `data contains "?>"`)
		}
		return ProcessingInstructionNode, &piData{target: target, data: data}, nil
	})
}

// CreateDocumentType creates a doctype node.
func (t *Tree) CreateDocumentType(doc Handle, name, publicID, systemID string) (Handle, error) {
	return t.create("createDocumentType", doc, func(w *txn, _ *documentData) (Kind, payload, error) {
		if err := w.t.validator.ValidateName(name); err != nil {
			return 0, nil, err
		}
		return DocumentTypeNode, &doctypeData{name: name, publicID: publicID, systemID: systemID}, nil
	})
}

// CreateDocumentFragment creates an empty fragment.
func (t *Tree) CreateDocumentFragment(doc Handle) (Handle, error) {
	return t.create("createDocumentFragment", doc, func(*txn, *documentData) (Kind, payload, error) {
		return DocumentFragmentNode, &fragmentData{}, nil
	})
}

// CreateAttribute creates a detached attribute.
func (t *Tree) CreateAttribute(doc Handle, name string) (Handle, error) {
	return t.create("createAttribute", doc, func(w *txn, d *documentData) (Kind, payload, error) {
		if err := w.t.validator.ValidateName(name); err != nil {
			return 0, nil, err
		}
		if d.docType == HTMLDocument {
			name = strings.ToLower(name)
		}
		return AttributeNode, &attrData{localName: name}, nil
	})
}

// CreateAttributeNS creates a detached namespaced attribute.
func (t *Tree) CreateAttributeNS(doc Handle, namespace, qname string) (Handle, error) {
	return t.create("createAttributeNS", doc, func(w *txn, _ *documentData) (Kind, payload, error) {
		prefix, local, err := w.t.validator.ValidateQualifiedName(namespace, qname)
		if err != nil {
			return 0, nil, err
		}
		return AttributeNode, &attrData{namespace: namespace, prefix: prefix, localName: local}, nil
	})
}

func (t *Tree) create(op string, doc Handle, build func(w *txn, d *documentData) (Kind, payload, error)) (Handle, error) {
	var h Handle
	err := t.write(op, func(w *txn) error {
		d, err := w.documentData(doc)
		if err != nil {
			return err
		}
		kind, data, err := build(w, d)
		if err != nil {
			return err
		}
		h, err = w.allocate(doc, kind, data)
		return err
	})
	return h, err
}

func (v *View) documentData(doc Handle) (*documentData, error) {
	n, err := v.node(doc)
	if err != nil {
		return nil, err
	}
	d, ok := n.data.(*documentData)
	if !ok {
		return nil, domerr.Newf(domerr.WrongDocument, "", "%s is a %s, not a document", doc, n.kind)
	}
	return d, nil
}

// allocate stores a parentless node owned by doc.
func (w *txn) allocate(doc Handle, kind Kind, data payload) (Handle, error) {
	n := Node{kind: kind, data: data}
	if !doc.IsNil() {
		n.owner = arena.Downgrade(doc)
	}
	h, err := w.tx.Allocate(n)
	if err != nil {
		return Nil, err
	}
	if !doc.IsNil() {
		if err := w.tx.AddWeak(doc); err != nil {
			return Nil, err
		}
	}
	return h, nil
}
