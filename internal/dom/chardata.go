// internal/dom/chardata.go
package dom

import (
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Offsets and counts in this file are measured in runes. Edits splice the
// original bytes, so invalid UTF-8 outside the edited range is kept as is.

// runeSpan returns the byte bounds of count runes of s starting at rune
// offset. A negative count, or one reaching past the end, selects the rest
// of s. ok is false when offset lies outside [0, length].
func runeSpan(s string, offset, count int) (start, end, length int, ok bool) {
	length = utf8.RuneCountInString(s)
	if offset < 0 || offset > length {
		return 0, 0, length, false
	}
	start = byteOffset(s, offset)
	if count < 0 || count > length-offset {
		return start, len(s), length, true
	}
	return start, start + byteOffset(s[start:], count), length, true
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// charTarget returns a pointer to the mutable string of a character data
// node.
func (v *View) charTarget(h Handle) (*Node, *string, error) {
	n, err := v.node(h)
	if err != nil {
		return nil, nil, err
	}
	switch d := n.data.(type) {
	case *charData:
		return n, &d.data, nil
	case *piData:
		return n, &d.data, nil
	}
	return nil, nil, domerr.Newf(domerr.NotSupported, "", "a %s has no character data", n.kind)
}

// TextContent follows the DOM textContent getter: concatenated Text and
// CDATA descendants for elements and fragments, the data or value for
// character data and attributes, and "" for documents and doctypes.
func (v *View) TextContent(h Handle) (string, error) {
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
	if n.kind != ElementNode && n.kind != DocumentFragmentNode {
		return "", nil
	}
	var sb strings.Builder
	_ = v.Walk(h, func(c Handle, _ int) bool {
		cn, _ := v.av.Get(c)
		if cn.kind.IsText() {
			sb.WriteString(cn.data.(*charData).data)
		}
		return true
	})
	return sb.String(), nil
}

// SubstringData returns count runes of data starting at offset.
func (v *View) SubstringData(h Handle, offset, count int) (string, error) {
	_, data, err := v.charTarget(h)
	if err != nil {
		return "", err
	}
	start, end, length, ok := runeSpan(*data, offset, count)
	if !ok {
		return "", domerr.Newf(domerr.IndexSize, "", "offset %d outside [0,%d]", offset, length)
	}
	return (*data)[start:end], nil
}

func (t *Tree) TextContent(h Handle) (string, error) {
	return viewValue(t, "textContent", func(v *View) (string, error) { return v.TextContent(h) })
}

func (t *Tree) SubstringData(h Handle, offset, count int) (string, error) {
	return viewValue(t, "substringData", func(v *View) (string, error) { return v.SubstringData(h, offset, count) })
}

// SetData replaces all character data.
func (t *Tree) SetData(h Handle, data string) error {
	return t.write("setData", func(w *txn) error {
		return w.replaceData(h, 0, -1, data)
	})
}

// AppendData appends to the character data.
func (t *Tree) AppendData(h Handle, data string) error {
	return t.write("appendData", func(w *txn) error {
		_, cur, err := w.charTarget(h)
		if err != nil {
			return err
		}
		return w.replaceData(h, utf8.RuneCountInString(*cur), 0, data)
	})
}

// InsertData inserts data at offset.
func (t *Tree) InsertData(h Handle, offset int, data string) error {
	return t.write("insertData", func(w *txn) error {
		return w.replaceData(h, offset, 0, data)
	})
}

// DeleteData removes count runes starting at offset.
func (t *Tree) DeleteData(h Handle, offset, count int) error {
	return t.write("deleteData", func(w *txn) error {
		return w.replaceData(h, offset, count, "")
	})
}

// ReplaceData replaces count runes at offset with data.
func (t *Tree) ReplaceData(h Handle, offset, count int, data string) error {
	return t.write("replaceData", func(w *txn) error {
		return w.replaceData(h, offset, count, data)
	})
}

// replaceData is the shared primitive; a negative count means "to the end".
func (w *txn) replaceData(h Handle, offset, count int, data string) error {
	n, cur, err := w.charTarget(h)
	if err != nil {
		return err
	}
	start, end, length, ok := runeSpan(*cur, offset, count)
	if !ok {
		return domerr.Newf(domerr.IndexSize, "", "offset %d outside [0,%d]", offset, length)
	}
	if err := w.checkMutable(h, n); err != nil {
		return err
	}
	old := *cur
	*cur = old[:start] + data + old[end:]
	w.record(MutationRecord{Type: CharacterDataMutation, Target: h, OldValue: old})
	return nil
}

// SplitText splits a Text or CDATA node at offset. The tail becomes a new
// sibling inserted after h when h has a parent.
func (t *Tree) SplitText(h Handle, offset int) (Handle, error) {
	var tail Handle
	err := t.write("splitText", func(w *txn) error {
		n, err := w.node(h)
		if err != nil {
			return err
		}
		if !n.kind.IsText() {
			return domerr.Newf(domerr.NotSupported, "", "a %s cannot be split", n.kind)
		}
		d := n.data.(*charData)
		start, _, length, ok := runeSpan(d.data, offset, -1)
		if !ok {
			return domerr.Newf(domerr.IndexSize, "", "offset %d outside [0,%d]", offset, length)
		}
		if err := w.checkMutable(h, n); err != nil {
			return err
		}
		parent := w.parentOf(n)
		var pn *Node
		if !parent.IsNil() {
			pn, _ = w.node(parent)
			if err := w.checkMutable(parent, pn); err != nil {
				return err
			}
		}
		if !w.tx.CanAllocate(1) {
			return domerr.Exhausted("splitText", w.av.Capacity())
		}

		tail, err = w.allocate(w.ownerOf(n), n.kind, &charData{data: d.data[start:]})
		if err != nil {
			return err
		}
		if pn != nil {
			if err := w.insertAt(parent, pn, w.indexOf(pn, h)+1, []Handle{tail}, Nil); err != nil {
				return err
			}
		}
		return w.replaceData(h, offset, -1, "")
	})
	return tail, err
}

// SetNodeValue sets the value of attributes and character data; it is a
// no-op for other kinds.
func (t *Tree) SetNodeValue(h Handle, value string) error {
	return t.write("setNodeValue", func(w *txn) error {
		return w.setValue(h, value)
	})
}

func (w *txn) setValue(h Handle, value string) error {
	n, err := w.node(h)
	if err != nil {
		return err
	}
	switch d := n.data.(type) {
	case *attrData:
		el, ok := w.av.Upgrade(d.ownerElement)
		if !ok {
			d.value = value
			return nil
		}
		en, _ := w.node(el)
		if err := w.checkMutable(el, en); err != nil {
			return err
		}
		w.changeAttr(el, d, value)
		return nil
	case *charData, *piData:
		return w.replaceData(h, 0, -1, value)
	}
	return nil
}

// SetTextContent replaces the children of an element or fragment with a
// single Text node (none for ""), or sets the value of other kinds.
func (t *Tree) SetTextContent(h Handle, text string) error {
	return t.write("setTextContent", func(w *txn) error {
		n, err := w.node(h)
		if err != nil {
			return err
		}
		if n.kind != ElementNode && n.kind != DocumentFragmentNode {
			return w.setValue(h, text)
		}
		if err := w.checkMutable(h, n); err != nil {
			return err
		}
		if text != "" && !w.tx.CanAllocate(1) {
			return domerr.Exhausted("setTextContent", w.av.Capacity())
		}

		removed := append([]Handle(nil), n.children...)
		for _, c := range removed {
			cn, _ := w.node(c)
			if _, err := w.unlink(h, n, c, cn); err != nil {
				return err
			}
		}
		var added []Handle
		if text != "" {
			th, err := w.allocate(w.documentOf(h, n), TextNode, &charData{data: text})
			if err != nil {
				return err
			}
			tn, _ := w.node(th)
			n.children = append(n.children, th)
			tn.parent = arena.Downgrade(h)
			if err := w.tx.Retain(th); err != nil {
				return domerr.Corrupted("setTextContent", "retain %s: %v", th, err)
			}
			if err := w.tx.AddWeak(h); err != nil {
				return domerr.Corrupted("setTextContent", "back-reference to %s: %v", h, err)
			}
			added = []Handle{th}
		}
		if len(removed) > 0 || len(added) > 0 {
			w.record(MutationRecord{Type: ChildListMutation, Target: h, Added: added, Removed: removed})
		}
		return nil
	})
}

// Normalize removes empty Text descendants and merges adjacent ones.
func (t *Tree) Normalize(h Handle) error {
	return t.write("normalize", func(w *txn) error {
		if _, err := w.node(h); err != nil {
			return err
		}
		var texts []Handle
		_ = w.Walk(h, func(c Handle, _ int) bool {
			if cn, _ := w.av.Get(c); c != h && cn.kind == TextNode {
				texts = append(texts, c)
			}
			return true
		})
		// Validate every affected parent first.
		for _, c := range texts {
			cn, _ := w.node(c)
			if err := w.checkMutable(c, cn); err != nil {
				return err
			}
			if p := w.parentOf(cn); !p.IsNil() {
				pn, _ := w.node(p)
				if err := w.checkMutable(p, pn); err != nil {
					return err
				}
			}
		}

		for _, c := range texts {
			cn, ok := w.av.Get(c)
			if !ok || cn.parent.IsNil() {
				continue // merged away already
			}
			parent := w.parentOf(cn)
			pn, _ := w.node(parent)
			d := cn.data.(*charData)
			if d.data == "" {
				if err := w.removeFrom(parent, pn, c, cn); err != nil {
					return err
				}
				continue
			}
			var merged strings.Builder
			merged.WriteString(d.data)
			i := w.indexOf(pn, c) + 1
			for i < len(pn.children) {
				next := pn.children[i]
				nn, _ := w.node(next)
				if nn.kind != TextNode {
					break
				}
				merged.WriteString(nn.data.(*charData).data)
				if err := w.removeFrom(parent, pn, next, nn); err != nil {
					return err
				}
			}
			if s := merged.String(); s != d.data {
				if err := w.replaceData(c, 0, -1, s); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
