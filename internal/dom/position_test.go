// internal/dom/position_test.go
package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

// inverse swaps the directional bits of a position.
func inverse(p Position) Position {
	out := p &^ (PositionPreceding | PositionFollowing | PositionContains | PositionContainedBy)
	if p.Has(PositionPreceding) {
		out |= PositionFollowing
	}
	if p.Has(PositionFollowing) {
		out |= PositionPreceding
	}
	if p.Has(PositionContains) {
		out |= PositionContainedBy
	}
	if p.Has(PositionContainedBy) {
		out |= PositionContains
	}
	return out
}

func TestCompareDocumentPosition(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	html := mustElement(t, tr, doc, "html")
	body := mustElement(t, tr, doc, "body")
	a := mustElement(t, tr, doc, "a")
	b := mustElement(t, tr, doc, "b")
	bChild := mustElement(t, tr, doc, "i")
	mustAppend(t, tr, doc, html)
	mustAppend(t, tr, html, body)
	mustAppend(t, tr, body, a)
	mustAppend(t, tr, body, b)
	mustAppend(t, tr, b, bChild)
	require.NoError(t, tr.SetAttribute(b, "title", "t"))
	require.NoError(t, tr.SetAttribute(b, "lang", "en"))
	lone := mustElement(t, tr, doc, "aside")

	var title, lang Handle
	require.NoError(t, tr.View(func(v *View) error {
		title, _ = v.AttributeNode(b, "title")
		lang, _ = v.AttributeNode(b, "lang")
		return nil
	}))

	cases := []struct {
		name       string
		ref, other Handle
		want       Position
	}{
		{"same node", a, a, 0},
		{"following sibling", a, b, PositionFollowing},
		{"preceding sibling", b, a, PositionPreceding},
		{"descendant", body, bChild, PositionContainedBy | PositionFollowing},
		{"ancestor", bChild, html, PositionContains | PositionPreceding},
		{"cousin", a, bChild, PositionFollowing},
		{"attribute of an ancestor", bChild, title, PositionPreceding},
		{"element of attribute", title, b, PositionContains | PositionPreceding},
		{"sibling attributes", title, lang, PositionImplementationSpecific | PositionFollowing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tr.CompareDocumentPosition(tc.ref, tc.other)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("disconnected", func(t *testing.T) {
		got, err := tr.CompareDocumentPosition(a, lone)
		require.NoError(t, err)
		assert.True(t, got.Has(PositionDisconnected|PositionImplementationSpecific))
		assert.True(t, got.Has(PositionPreceding) != got.Has(PositionFollowing))
	})

	t.Run("antisymmetry", func(t *testing.T) {
		nodes := []Handle{doc, html, body, a, b, bChild, lone, title, lang}
		for _, x := range nodes {
			for _, y := range nodes {
				if x == y {
					continue
				}
				xy, err := tr.CompareDocumentPosition(x, y)
				require.NoError(t, err)
				yx, err := tr.CompareDocumentPosition(y, x)
				require.NoError(t, err)
				assert.Equal(t, inverse(xy), yx, "%s vs %s", x, y)
			}
		}
	})

	t.Run("stale handle", func(t *testing.T) {
		gone := mustElement(t, tr, doc, "del")
		require.NoError(t, tr.Free(gone))
		_, err := tr.CompareDocumentPosition(a, gone)
		assertCode(t, err, domerr.NotFound)
	})
}

func TestContainsAndRoots(t *testing.T) {
	tr := newTestTree(t, Options{Limits: Limits{EnableShadowDOM: true}})
	doc := newHTMLDoc(t, tr)
	div := mustElement(t, tr, doc, "div")
	span := mustElement(t, tr, doc, "span")
	mustAppend(t, tr, doc, div)
	mustAppend(t, tr, div, span)

	ok, err := tr.Contains(div, span)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = tr.Contains(span, div)
	assert.False(t, ok)
	ok, _ = tr.Contains(div, div)
	assert.True(t, ok, "contains is inclusive")

	root, err := tr.GetRootNode(span, false)
	require.NoError(t, err)
	assert.Equal(t, doc, root)

	shadow, err := tr.AttachShadow(div, ShadowOpen)
	require.NoError(t, err)
	inner := mustElement(t, tr, doc, "slot")
	mustAppend(t, tr, shadow, inner)

	root, _ = tr.GetRootNode(inner, false)
	assert.Equal(t, shadow, root)
	root, _ = tr.GetRootNode(inner, true)
	assert.Equal(t, doc, root)

	connected, err := tr.IsConnected(inner)
	require.NoError(t, err)
	assert.True(t, connected)
	connected, _ = tr.IsConnected(mustElement(t, tr, doc, "p"))
	assert.False(t, connected)
}

func TestIsEqualNodeIgnoresAttributeOrder(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	x := mustElement(t, tr, doc, "div")
	y := mustElement(t, tr, doc, "div")
	require.NoError(t, tr.SetAttribute(x, "a", "1"))
	require.NoError(t, tr.SetAttribute(x, "b", "2"))
	require.NoError(t, tr.SetAttribute(y, "b", "2"))
	require.NoError(t, tr.SetAttribute(y, "a", "1"))

	equal, err := tr.IsEqualNode(x, y)
	require.NoError(t, err)
	assert.True(t, equal)

	require.NoError(t, tr.SetAttribute(y, "a", "3"))
	equal, _ = tr.IsEqualNode(x, y)
	assert.False(t, equal)
}
