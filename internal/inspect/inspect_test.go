// internal/inspect/inspect_test.go
package inspect

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/loader"
	"github.com/xkilldash9x/domcore/internal/query"
	"go.uber.org/zap/zaptest"
)

func newTree(t *testing.T) *dom.Tree {
	t.Helper()
	return dom.New(dom.Options{Logger: zaptest.NewLogger(t), Limits: dom.Limits{EnableShadowDOM: true}})
}

func loadHTML(t *testing.T, tr *dom.Tree, markup string) dom.Handle {
	t.Helper()
	res, err := loader.LoadHTML(tr, strings.NewReader(markup), loader.Options{URL: "https://example.test/"})
	require.NoError(t, err)
	return res.Document
}

func mustQuery(t *testing.T, tr *dom.Tree, root dom.Handle, selector string) dom.Handle {
	t.Helper()
	h, err := query.QuerySelector(tr, root, selector)
	require.NoError(t, err)
	require.False(t, h.IsNil(), "no match for %s", selector)
	return h
}

func TestPrint(t *testing.T) {
	tr := newTree(t)
	doc := loadHTML(t, tr, `<html><head></head><body><div id="a">hello world<!--c--></div></body></html>`)
	div := mustQuery(t, tr, doc, "#a")
	sr, err := tr.AttachShadow(div, dom.ShadowOpen)
	require.NoError(t, err)
	span, err := tr.CreateElement(doc, "span")
	require.NoError(t, err)
	_, err = tr.AppendChild(sr, span)
	require.NoError(t, err)

	out, err := Print(tr, doc, PrintOptions{})
	require.NoError(t, err)
	t.Logf("tree =\n%s", out)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "#document (html) https://example.test/", lines[0])
	for _, want := range []string{`<HTML>`, `<BODY>`, `<DIV id="a">`, `#shadow-root (open)`, `<SPAN>`, `#text "hello world"`, `<!--c-->`} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "#shadow-root"), strings.Index(out, "#text"), "the shadow root is listed before the light children")

	t.Run("options", func(t *testing.T) {
		out, err := Print(tr, div, PrintOptions{Handles: true, MaxText: 5})
		require.NoError(t, err)
		assert.Contains(t, out, `#text "hello…"`)
		assert.Contains(t, out, div.String())
	})

	t.Run("stale root", func(t *testing.T) {
		gone, err := tr.CreateElement(doc, "p")
		require.NoError(t, err)
		require.NoError(t, tr.Free(gone))
		_, err = Print(tr, gone, PrintOptions{})
		assert.Error(t, err)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := newTree(t)
	doc := loadHTML(t, tr, `<!DOCTYPE html><html><head><title>T</title></head>
<body><p class="a" data-x="1">x &amp; y</p><svg><use xlink:href="#s"/></svg><!--note--></body></html>`)
	p := mustQuery(t, tr, doc, "p")
	sr, err := tr.AttachShadow(p, dom.ShadowClosed)
	require.NoError(t, err)
	slot, err := tr.CreateElement(doc, "slot")
	require.NoError(t, err)
	_, err = tr.AppendChild(sr, slot)
	require.NoError(t, err)

	snap, err := Snap(tr, doc)
	require.NoError(t, err)
	assert.Equal(t, "html", snap.DocumentType)
	assert.Equal(t, doc.String(), snap.Handle)

	data, err := MarshalSnapshot(snap, true)
	require.NoError(t, err)
	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Fatalf("JSON round trip changed the snapshot (-want +got):\n%s", diff)
	}

	restored, err := Restore(tr, dom.Nil, decoded)
	require.NoError(t, err)
	assert.NotEqual(t, doc, restored)
	require.NoError(t, tr.Verify())

	again, err := Snap(tr, restored)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, again, cmpopts.IgnoreFields(Snapshot{}, "Handle")); diff != "" {
		t.Errorf("restored tree differs (-want +got):\n%s", diff)
	}

	t.Run("attributes cannot be restored as nodes", func(t *testing.T) {
		_, err := Restore(tr, doc, &Snapshot{Kind: dom.AttributeNode, Name: "x"})
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := UnmarshalSnapshot([]byte(`{"nodeType":`))
		assert.ErrorContains(t, err, "decode snapshot")
	})
}

func TestSerializeHTML(t *testing.T) {
	tr := newTree(t)
	const markup = `<!DOCTYPE html><html><head></head><body><p class="a">x &amp; y</p><br/><svg><use xlink:href="#s"></use></svg><!--c--></body></html>`
	doc := loadHTML(t, tr, markup)

	out, err := SerializeString(tr, doc, MarkupOptions{})
	require.NoError(t, err)
	assert.Equal(t, markup, out)

	p := mustQuery(t, tr, doc, "p")
	out, err = SerializeString(tr, p, MarkupOptions{})
	require.NoError(t, err)
	assert.Equal(t, `<p class="a">x &amp; y</p>`, out)

	t.Run("fragment renders its children", func(t *testing.T) {
		frag, _, err := loader.LoadHTMLFragment(tr, doc, "body", strings.NewReader(`<i>1</i><b>2</b>`), loader.Options{})
		require.NoError(t, err)
		out, err := SerializeString(tr, frag, MarkupOptions{})
		require.NoError(t, err)
		assert.Equal(t, `<i>1</i><b>2</b>`, out)
	})
}

func TestSerializeXML(t *testing.T) {
	tr := newTree(t)
	const markup = `<!DOCTYPE r SYSTEM "r.dtd"><?pi data?><r xmlns="urn:r" xmlns:x="urn:x" x:a="1"><x:c>t &amp; u</x:c><![CDATA[<raw>]]><!--note--></r>`
	res, err := loader.LoadXML(tr, strings.NewReader(markup), loader.Options{})
	require.NoError(t, err)

	out, err := SerializeString(tr, res.Document, MarkupOptions{})
	require.NoError(t, err)
	assert.Equal(t, markup, out)

	// Output parses back into an equal tree.
	again, err := loader.LoadXML(tr, strings.NewReader(out), loader.Options{})
	require.NoError(t, err)
	a, err := Snap(tr, res.Document)
	require.NoError(t, err)
	b, err := Snap(tr, again.Document)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(a, b, cmpopts.IgnoreFields(Snapshot{}, "Handle")))

	t.Run("indent", func(t *testing.T) {
		out, err := SerializeString(tr, res.Document, MarkupOptions{Indent: 2})
		require.NoError(t, err)
		assert.Contains(t, out, "\n  <x:c>")
	})
}

func TestDoctypeDirective(t *testing.T) {
	assert.Equal(t, `DOCTYPE html`, doctypeDirective(dom.DoctypeInfo{Name: "html"}))
	assert.Equal(t, `DOCTYPE a SYSTEM "a.dtd"`, doctypeDirective(dom.DoctypeInfo{Name: "a", SystemID: "a.dtd"}))
	assert.Equal(t, `DOCTYPE a PUBLIC "-//X" "a.dtd"`, doctypeDirective(dom.DoctypeInfo{Name: "a", PublicID: "-//X", SystemID: "a.dtd"}))
}

const xpathHTML = `
	<html>
	<body>
		<div id="header">
			<h1>Welcome</h1>
		</div>
		<div class="content">
			<p>P1</p><p>P2</p>
			<ul>
				<li>Item 1</li>
				<!-- skipped -->
				<li>Item 2</li>
				<li id="special">Item 3</li>
			</ul>
		</div>
		<div class="content"><p>P3</p></div>
	</body>
	</html>
	`

func TestXPath(t *testing.T) {
	tr := newTree(t)
	doc := loadHTML(t, tr, xpathHTML)
	oracle, err := htmlquery.Parse(strings.NewReader(xpathHTML))
	require.NoError(t, err)

	nth := func(selector string, i int) dom.Handle {
		all, err := query.QuerySelectorAll(tr, doc, selector)
		require.NoError(t, err)
		require.Greater(t, len(all), i)
		return all[i]
	}

	tests := []struct {
		name     string
		target   dom.Handle
		expected string
	}{
		{"Body", nth("body", 0), "/html[1]/body[1]"},
		{"Element with ID", nth("#header", 0), `//*[@id='header']`},
		{"Child of ID element", nth("h1", 0), `//*[@id='header']/h1[1]`},
		{"Specific index", nth("p", 1), "/html[1]/body[1]/div[2]/p[2]"},
		{"Ambiguous classes", nth("div.content > p", 2), "/html[1]/body[1]/div[3]/p[1]"},
		{"List item skipping comments", nth("li", 1), "/html[1]/body[1]/div[2]/ul[1]/li[2]"},
		{"List item with ID", nth("#special", 0), `//*[@id='special']`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, text string
			require.NoError(t, tr.View(func(v *dom.View) error {
				var err error
				if got, err = XPath(v, tt.target); err != nil {
					return err
				}
				text, err = v.TextContent(tt.target)
				return err
			}))
			assert.Equal(t, tt.expected, got)

			// The expression selects the same element in an independent parse.
			match := htmlquery.FindOne(oracle, got)
			require.NotNil(t, match)
			assert.Equal(t, htmlquery.InnerText(match), text)
		})
	}

	t.Run("document", func(t *testing.T) {
		require.NoError(t, tr.View(func(v *dom.View) error {
			got, err := XPath(v, doc)
			assert.Equal(t, "/", got)
			return err
		}))
	})
}
