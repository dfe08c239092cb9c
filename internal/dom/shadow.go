// internal/dom/shadow.go
package dom

import (
	"strings"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// shadowHostNames are the HTML elements allowed to host a shadow root in
// addition to valid custom element names.
var shadowHostNames = map[string]bool{
	"article": true, "aside": true, "blockquote": true, "body": true,
	"div": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "main": true,
	"nav": true, "p": true, "section": true, "span": true,
}

func validShadowHost(ed *elementData) bool {
	if ed.namespace != HTMLNamespace {
		return true
	}
	return shadowHostNames[ed.localName] || isCustomElementName(ed.localName)
}

// isCustomElementName is a loose check: a lowercase ASCII letter first and
// a hyphen somewhere after it.
func isCustomElementName(name string) bool {
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		return false
	}
	return strings.Contains(name[1:], "-") && strings.ToLower(name) == name
}

// AttachShadow creates a shadow root for host. The root is a fragment owned
// by the host's document; the host holds it strongly and the root points
// back weakly.
func (t *Tree) AttachShadow(host Handle, mode ShadowRootMode) (Handle, error) {
	var root Handle
	err := t.write("attachShadow", func(w *txn) error {
		if !w.t.limits.EnableShadowDOM {
			return domerr.New(domerr.NotSupported, "", "shadow DOM is disabled")
		}
		hn, ed, err := w.element(host)
		if err != nil {
			return err
		}
		if !validShadowHost(ed) {
			return domerr.Newf(domerr.NotSupported, "", "<%s> cannot host a shadow root", ed.localName)
		}
		if !ed.shadow.IsNil() && w.av.Contains(ed.shadow) {
			return domerr.New(domerr.NotSupported, "", "host already has a shadow root")
		}
		if err := w.checkMutable(host, hn); err != nil {
			return err
		}

		root, err = w.allocate(w.ownerOf(hn), DocumentFragmentNode, &fragmentData{
			host: arena.Downgrade(host),
			mode: mode,
		})
		if err != nil {
			return err
		}
		ed.shadow = root
		if err := w.tx.Retain(root); err != nil {
			return domerr.Corrupted("attachShadow", "retain %s: %v", root, err)
		}
		if err := w.tx.AddWeak(host); err != nil {
			return domerr.Corrupted("attachShadow", "back-reference to %s: %v", host, err)
		}
		return nil
	})
	return root, err
}

// ShadowMode returns the mode of a shadow root.
func (v *View) ShadowMode(root Handle) (ShadowRootMode, error) {
	n, err := v.node(root)
	if err != nil {
		return 0, err
	}
	if _, ok := v.shadowHost(n); !ok {
		return 0, domerr.Newf(domerr.NotSupported, "", "%s is not a shadow root", root)
	}
	return n.data.(*fragmentData).mode, nil
}
