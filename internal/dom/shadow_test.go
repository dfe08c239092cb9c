// internal/dom/shadow_test.go
package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/domerr"
)

func TestAttachShadow(t *testing.T) {
	tr := newTestTree(t, Options{Limits: Limits{EnableShadowDOM: true}})
	doc := newHTMLDoc(t, tr)

	t.Run("open root", func(t *testing.T) {
		host := mustElement(t, tr, doc, "my-widget")
		root, err := tr.AttachShadow(host, ShadowOpen)
		require.NoError(t, err)

		require.NoError(t, tr.View(func(v *View) error {
			isRoot, _ := v.IsShadowRoot(root)
			assert.True(t, isRoot)
			h, _ := v.Host(root)
			assert.Equal(t, host, h)
			got, _ := v.ShadowRoot(host, false)
			assert.Equal(t, root, got)
			mode, err := v.ShadowMode(root)
			require.NoError(t, err)
			assert.Equal(t, ShadowOpen, mode)
			owner, _ := v.OwnerDocument(root)
			assert.Equal(t, doc, owner)
			return nil
		}))

		_, err = tr.AttachShadow(host, ShadowOpen)
		assertCode(t, err, domerr.NotSupported)
		verify(t, tr)
	})

	t.Run("closed root is hidden", func(t *testing.T) {
		host := mustElement(t, tr, doc, "section")
		root, err := tr.AttachShadow(host, ShadowClosed)
		require.NoError(t, err)
		got, err := tr.ShadowRoot(host, false)
		require.NoError(t, err)
		assert.True(t, got.IsNil())
		got, _ = tr.ShadowRoot(host, true)
		assert.Equal(t, root, got)
	})

	t.Run("invalid hosts", func(t *testing.T) {
		_, err := tr.AttachShadow(mustElement(t, tr, doc, "img"), ShadowOpen)
		assertCode(t, err, domerr.NotSupported)
		_, err = tr.AttachShadow(mustText(t, tr, doc, "x"), ShadowOpen)
		assertCode(t, err, domerr.NotSupported)

		xml := newXMLDoc(t, tr)
		_, err = tr.AttachShadow(mustElement(t, tr, xml, "anything"), ShadowOpen)
		require.NoError(t, err, "non-HTML elements may host")
	})

	t.Run("shadow roots cannot be inserted or adopted", func(t *testing.T) {
		host := mustElement(t, tr, doc, "div")
		root, err := tr.AttachShadow(host, ShadowOpen)
		require.NoError(t, err)

		// Appending a host into its own shadow tree is an ancestor cycle.
		_, err = tr.AppendChild(root, host)
		assertCode(t, err, domerr.HierarchyRequest)
		_, err = tr.AdoptNode(newHTMLDoc(t, tr), root)
		assertCode(t, err, domerr.HierarchyRequest)
		_, err = tr.ImportNode(doc, root, true)
		assertCode(t, err, domerr.NotSupported)
	})

	t.Run("clones drop the shadow root", func(t *testing.T) {
		host := mustElement(t, tr, doc, "article")
		_, err := tr.AttachShadow(host, ShadowOpen)
		require.NoError(t, err)
		cp, err := tr.CloneNode(host, true)
		require.NoError(t, err)
		got, _ := tr.ShadowRoot(cp, true)
		assert.True(t, got.IsNil())
	})

	t.Run("adopting a host moves the shadow tree", func(t *testing.T) {
		host := mustElement(t, tr, doc, "span")
		root, err := tr.AttachShadow(host, ShadowOpen)
		require.NoError(t, err)
		inner := mustElement(t, tr, doc, "b")
		mustAppend(t, tr, root, inner)

		other := newHTMLDoc(t, tr)
		_, err = tr.AdoptNode(other, host)
		require.NoError(t, err)
		owner, _ := tr.OwnerDocument(inner)
		assert.Equal(t, other, owner)
		verify(t, tr)
	})
}

func TestShadowDOMDisabled(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	_, err := tr.AttachShadow(mustElement(t, tr, doc, "div"), ShadowOpen)
	assertCode(t, err, domerr.NotSupported)
}

func TestShadowTreeSurvivesCollection(t *testing.T) {
	tr := newTestTree(t, Options{Limits: Limits{EnableShadowDOM: true}})
	doc := newHTMLDoc(t, tr)
	host := mustElement(t, tr, doc, "div")
	mustAppend(t, tr, doc, host)
	root, err := tr.AttachShadow(host, ShadowOpen)
	require.NoError(t, err)
	inner := mustElement(t, tr, doc, "p")
	mustAppend(t, tr, root, inner)

	stats := tr.CollectUnreachable()
	assert.Zero(t, stats.Collected)
	assert.True(t, tr.Exists(inner))

	_, err = tr.RemoveChild(doc, host)
	require.NoError(t, err)
	stats = tr.CollectUnreachable()
	assert.Equal(t, 3, stats.Collected, "host, shadow root and its child")
	assert.False(t, tr.Exists(root))
	verify(t, tr)
}
