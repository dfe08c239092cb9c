// internal/dom/attributes.go
package dom

import (
	"slices"
	"strings"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Attr is a read-only copy of one attribute.
type Attr struct {
	Handle    Handle
	Namespace string
	Prefix    string
	LocalName string
	Value     string
}

// Name is the qualified name.
func (a Attr) Name() string { return qualifiedName(a.Prefix, a.LocalName) }

// foldName lower-cases name for HTML elements in HTML documents.
func (v *View) foldName(en *Node, ed *elementData, name string) string {
	if ed.namespace == HTMLNamespace && v.isHTML(v.ownerOf(en)) {
		return strings.ToLower(name)
	}
	return name
}

// attrByName finds the first attribute whose qualified name is name.
func (v *View) attrByName(en *Node, ed *elementData, name string) (Handle, *Node, *attrData) {
	name = v.foldName(en, ed, name)
	for _, a := range ed.attrs {
		an, ok := v.av.Get(a)
		if !ok {
			continue
		}
		ad := an.data.(*attrData)
		if qualifiedName(ad.prefix, ad.localName) == name {
			return a, an, ad
		}
	}
	return Nil, nil, nil
}

func (v *View) attrByNS(ed *elementData, namespace, local string) (Handle, *Node, *attrData) {
	for _, a := range ed.attrs {
		an, ok := v.av.Get(a)
		if !ok {
			continue
		}
		ad := an.data.(*attrData)
		if ad.namespace == namespace && ad.localName == local {
			return a, an, ad
		}
	}
	return Nil, nil, nil
}

// GetAttribute returns the value of the attribute with qualified name name.
func (v *View) GetAttribute(el Handle, name string) (string, bool, error) {
	en, ed, err := v.element(el)
	if err != nil {
		return "", false, err
	}
	if _, _, ad := v.attrByName(en, ed, name); ad != nil {
		return ad.value, true, nil
	}
	return "", false, nil
}

// GetAttributeNS returns the value of the attribute (namespace, local).
func (v *View) GetAttributeNS(el Handle, namespace, local string) (string, bool, error) {
	_, ed, err := v.element(el)
	if err != nil {
		return "", false, err
	}
	if _, _, ad := v.attrByNS(ed, namespace, local); ad != nil {
		return ad.value, true, nil
	}
	return "", false, nil
}

// HasAttribute reports whether el carries name.
func (v *View) HasAttribute(el Handle, name string) (bool, error) {
	_, ok, err := v.GetAttribute(el, name)
	return ok, err
}

// AttributeNames lists qualified names in attribute order.
func (v *View) AttributeNames(el Handle) ([]string, error) {
	attrs, err := v.Attributes(el)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name()
	}
	return names, nil
}

// Attributes copies the attribute list.
func (v *View) Attributes(el Handle) ([]Attr, error) {
	_, ed, err := v.element(el)
	if err != nil {
		return nil, err
	}
	out := make([]Attr, 0, len(ed.attrs))
	for _, a := range ed.attrs {
		an, ok := v.av.Get(a)
		if !ok {
			continue
		}
		ad := an.data.(*attrData)
		out = append(out, Attr{Handle: a, Namespace: ad.namespace, Prefix: ad.prefix, LocalName: ad.localName, Value: ad.value})
	}
	return out, nil
}

// AttributeNode returns the handle of the attribute named name, or Nil.
func (v *View) AttributeNode(el Handle, name string) (Handle, error) {
	en, ed, err := v.element(el)
	if err != nil {
		return Nil, err
	}
	h, _, _ := v.attrByName(en, ed, name)
	return h, nil
}

// OwnerElement returns the element an attribute belongs to, or Nil.
func (v *View) OwnerElement(attr Handle) (Handle, error) {
	n, err := v.node(attr)
	if err != nil {
		return Nil, err
	}
	ad, ok := n.data.(*attrData)
	if !ok {
		return Nil, domerr.Newf(domerr.NotSupported, "", "%s is not an attribute", n.kind)
	}
	h, _ := v.av.Upgrade(ad.ownerElement)
	return h, nil
}

// ID returns the id attribute of an element, or "".
func (v *View) ID(el Handle) string {
	id, _, _ := v.GetAttribute(el, "id")
	return id
}

// SetAttribute sets name to value on el, creating the attribute if needed.
func (t *Tree) SetAttribute(el Handle, name, value string) error {
	return t.write("setAttribute", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		if err := w.t.validator.ValidateName(name); err != nil {
			return err
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		if _, _, ad := w.attrByName(en, ed, name); ad != nil {
			w.changeAttr(el, ad, value)
			return nil
		}
		return w.createAttr(el, en, ed, "", "", w.foldName(en, ed, name), value)
	})
}

// SetAttributeNS sets (namespace, qname) to value on el.
func (t *Tree) SetAttributeNS(el Handle, namespace, qname, value string) error {
	return t.write("setAttributeNS", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		prefix, local, err := w.t.validator.ValidateQualifiedName(namespace, qname)
		if err != nil {
			return err
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		if _, _, ad := w.attrByNS(ed, namespace, local); ad != nil {
			w.changeAttr(el, ad, value)
			return nil
		}
		return w.createAttr(el, en, ed, namespace, prefix, local, value)
	})
}

// RemoveAttribute removes the attribute named name. Missing attributes are
// not an error.
func (t *Tree) RemoveAttribute(el Handle, name string) error {
	return t.write("removeAttribute", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		a, an, ad := w.attrByName(en, ed, name)
		if ad == nil {
			return nil
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		w.detachAttr(el, en, ed, a, an, ad)
		return nil
	})
}

// RemoveAttributeNS removes the attribute (namespace, local).
func (t *Tree) RemoveAttributeNS(el Handle, namespace, local string) error {
	return t.write("removeAttributeNS", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		a, an, ad := w.attrByNS(ed, namespace, local)
		if ad == nil {
			return nil
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		w.detachAttr(el, en, ed, a, an, ad)
		return nil
	})
}

// ToggleAttribute adds name when absent and removes it when present. A
// non-nil force pins the outcome. It reports whether name is present
// afterwards.
func (t *Tree) ToggleAttribute(el Handle, name string, force *bool) (bool, error) {
	var present bool
	err := t.write("toggleAttribute", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		if err := w.t.validator.ValidateName(name); err != nil {
			return err
		}
		a, an, ad := w.attrByName(en, ed, name)
		want := ad == nil
		if force != nil {
			want = *force
		}
		present = want
		if want == (ad != nil) {
			return nil
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		if want {
			return w.createAttr(el, en, ed, "", "", w.foldName(en, ed, name), "")
		}
		w.detachAttr(el, en, ed, a, an, ad)
		return nil
	})
	return present, err
}

// SetAttributeNode attaches attr to el, replacing an attribute with the same
// namespace and local name. It returns the replaced attribute, or Nil.
func (t *Tree) SetAttributeNode(el, attr Handle) (Handle, error) {
	var old Handle
	err := t.write("setAttributeNode", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		an, err := w.node(attr)
		if err != nil {
			return err
		}
		ad, ok := an.data.(*attrData)
		if !ok {
			return hierarchyError("a %s is not an attribute", an.kind)
		}
		if owner, ok := w.av.Upgrade(ad.ownerElement); ok {
			if owner == el {
				old = attr
				return nil
			}
			return domerr.New(domerr.InvalidState, "", "attribute is in use by another element")
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		oldValue := ""
		if prev, pn, pd := w.attrByNS(ed, ad.namespace, ad.localName); pd != nil {
			old, oldValue = prev, pd.value
			w.unlinkAttr(el, ed, prev, pn, pd)
		}
		if err := w.setOwner(attr, w.ownerOf(en)); err != nil {
			return err
		}
		if err := w.attachAttr(el, ed, attr); err != nil {
			return err
		}
		w.record(MutationRecord{
			Type: AttributesMutation, Target: el,
			AttributeName: ad.localName, AttributeNamespace: ad.namespace, OldValue: oldValue,
		})
		return nil
	})
	return old, err
}

// RemoveAttributeNode detaches attr from el.
func (t *Tree) RemoveAttributeNode(el, attr Handle) (Handle, error) {
	err := t.write("removeAttributeNode", func(w *txn) error {
		en, ed, err := w.element(el)
		if err != nil {
			return err
		}
		if !slices.Contains(ed.attrs, attr) {
			return domerr.Newf(domerr.NotFound, "", "%s is not an attribute of %s", attr, el)
		}
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		an, _ := w.node(attr)
		w.detachAttr(el, en, ed, attr, an, an.data.(*attrData))
		return nil
	})
	if err != nil {
		return Nil, err
	}
	return attr, nil
}

func (w *txn) createAttr(el Handle, en *Node, ed *elementData, namespace, prefix, local, value string) error {
	a, err := w.allocate(w.ownerOf(en), AttributeNode, &attrData{namespace: namespace, prefix: prefix, localName: local, value: value})
	if err != nil {
		return err
	}
	if err := w.attachAttr(el, ed, a); err != nil {
		return err
	}
	w.record(MutationRecord{Type: AttributesMutation, Target: el, AttributeName: local, AttributeNamespace: namespace})
	return nil
}

func (w *txn) changeAttr(el Handle, ad *attrData, value string) {
	old := ad.value
	ad.value = value
	w.record(MutationRecord{
		Type: AttributesMutation, Target: el,
		AttributeName: ad.localName, AttributeNamespace: ad.namespace, OldValue: old,
	})
}

func (w *txn) attachAttr(el Handle, ed *elementData, attr Handle) error {
	an, err := w.node(attr)
	if err != nil {
		return err
	}
	ed.attrs = append(ed.attrs, attr)
	an.data.(*attrData).ownerElement = arena.Downgrade(el)
	if err := w.tx.Retain(attr); err != nil {
		return domerr.Corrupted("attachAttr", "retain %s: %v", attr, err)
	}
	if err := w.tx.AddWeak(el); err != nil {
		return domerr.Corrupted("attachAttr", "back-reference to %s: %v", el, err)
	}
	return nil
}

func (w *txn) unlinkAttr(el Handle, ed *elementData, attr Handle, an *Node, ad *attrData) {
	if i := slices.Index(ed.attrs, attr); i >= 0 {
		ed.attrs = slices.Delete(ed.attrs, i, i+1)
	}
	ad.ownerElement = arena.Weak{}
	_ = w.tx.Release(attr)
	w.tx.DropWeak(el)
}

func (w *txn) detachAttr(el Handle, en *Node, ed *elementData, attr Handle, an *Node, ad *attrData) {
	w.unlinkAttr(el, ed, attr, an, ad)
	w.record(MutationRecord{
		Type: AttributesMutation, Target: el,
		AttributeName: ad.localName, AttributeNamespace: ad.namespace, OldValue: ad.value,
	})
}

// Tree convenience readers.

func (t *Tree) GetAttribute(el Handle, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := t.View(func(v *View) error {
		var err error
		value, ok, err = v.GetAttribute(el, name)
		return err
	})
	return value, ok, domerr.WithOp(err, "getAttribute")
}

func (t *Tree) HasAttribute(el Handle, name string) (bool, error) {
	return viewValue(t, "hasAttribute", func(v *View) (bool, error) { return v.HasAttribute(el, name) })
}

func (t *Tree) AttributeNames(el Handle) ([]string, error) {
	return viewValue(t, "attributeNames", func(v *View) ([]string, error) { return v.AttributeNames(el) })
}

func (t *Tree) Attributes(el Handle) ([]Attr, error) {
	return viewValue(t, "attributes", func(v *View) ([]Attr, error) { return v.Attributes(el) })
}

func (t *Tree) OwnerElement(attr Handle) (Handle, error) {
	return viewValue(t, "ownerElement", func(v *View) (Handle, error) { return v.OwnerElement(attr) })
}
