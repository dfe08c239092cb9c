// internal/inspect/xpath.go
package inspect

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/domcore/internal/dom"
)

// XPath generates an XPath expression that selects the element h. An
// ancestor-or-self with an id becomes the anchor, which keeps the
// expression short and stable across unrelated edits.
func XPath(v *dom.View, h dom.Handle) (string, error) {
	if _, err := v.Kind(h); err != nil {
		return "", err
	}

	var path []string
	// Walk up from the node towards the root.
	for n := h; !n.IsNil(); n, _ = v.ParentNode(n) {
		if k, _ := v.Kind(n); k != dom.ElementNode {
			continue
		}
		tag, _ := v.LocalName(n)
		tag = strings.ToLower(tag)

		if id := v.ID(n); id != "" && !strings.Contains(id, "'") {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}

		// XPath indices are 1-based and count same-named siblings only.
		index := 1
		for prev, _ := v.PreviousSibling(n); !prev.IsNil(); prev, _ = v.PreviousSibling(prev) {
			if k, _ := v.Kind(prev); k != dom.ElementNode {
				continue
			}
			if name, _ := v.LocalName(prev); strings.ToLower(name) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(path) == 0 {
		return "/", nil
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath, nil
}
