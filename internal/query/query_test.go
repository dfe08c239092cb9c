// internal/query/query_test.go
package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/loader"
	"go.uber.org/zap/zaptest"
)

const page = `<!DOCTYPE html>
<html><body>
<div id="main" class="box wide">
  <h1>Title</h1>
  <p class="lead">one</p>
  <p>two <a href="https://x.test/a.pdf" lang="en-US" rel="nofollow noopener">a</a></p>
  <span></span>
  <ul><li>1</li><li class="last">2</li></ul>
</div>
<section><p id="solo">only</p></section>
</body></html>`

func loadPage(t *testing.T) (*dom.Tree, dom.Handle) {
	t.Helper()
	tr := dom.New(dom.Options{Logger: zaptest.NewLogger(t)})
	res, err := loader.LoadHTML(tr, strings.NewReader(page), loader.Options{})
	require.NoError(t, err)
	return tr, res.Document
}

func texts(t *testing.T, tr *dom.Tree, hs []dom.Handle) []string {
	t.Helper()
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		s, err := tr.TextContent(h)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func TestQuerySelectorAll(t *testing.T) {
	tr, doc := loadPage(t)

	cases := []struct {
		selector string
		want     []string
	}{
		// Combinators.
		{"div > p", []string{"one", "two a"}},
		{"div p", []string{"one", "two a"}},
		{"section p", []string{"only"}},
		{"h1 + p", []string{"one"}},
		{"h1 ~ p", []string{"one", "two a"}},
		{"#main .lead", []string{"one"}},
		{"ul > li.last", []string{"2"}},
		{"h1, span", []string{"Title", ""}},
		{"DIV.box > H1", []string{"Title"}},
		{".BOX", nil},

		// Attributes.
		{`a[href$=".pdf"]`, []string{"a"}},
		{`a[href^="https"]`, []string{"a"}},
		{`[href*="x.test"]`, []string{"a"}},
		{`[lang|=en]`, []string{"a"}},
		{`[rel~=noopener]`, []string{"a"}},
		{`[rel~=noop]`, nil},
		{`[lang="EN-us" i]`, []string{"a"}},
		{`[lang="EN-us"]`, nil},

		// Pseudo-classes.
		{"li:first-child", []string{"1"}},
		{"li:last-child", []string{"2"}},
		{"p:only-child", []string{"only"}},
		{"span:empty", []string{""}},
		{"p:first-of-type", []string{"one", "only"}},
		{"p:last-of-type", []string{"two a", "only"}},
		{"p:only-of-type", []string{"only"}},
		{"p:not(.lead)", []string{"two a", "only"}},
		{"li:not(:first-child, .x)", []string{"2"}},
	}
	for _, tc := range cases {
		t.Run(tc.selector, func(t *testing.T) {
			got, err := QuerySelectorAll(tr, doc, tc.selector)
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, texts(t, tr, got))
		})
	}

	t.Run(":root", func(t *testing.T) {
		got, err := QuerySelectorAll(tr, doc, ":root")
		require.NoError(t, err)
		require.Len(t, got, 1)
		tag, err := tr.TagName(got[0])
		require.NoError(t, err)
		assert.Equal(t, "HTML", tag)
	})

	t.Run("root is not its own match", func(t *testing.T) {
		main, err := QuerySelector(tr, doc, "#main")
		require.NoError(t, err)
		got, err := QuerySelectorAll(tr, main, "div")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestQuerySelector(t *testing.T) {
	tr, doc := loadPage(t)

	first, err := QuerySelector(tr, doc, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, texts(t, tr, []dom.Handle{first}))

	none, err := QuerySelector(tr, doc, "table")
	require.NoError(t, err)
	assert.True(t, none.IsNil())
}

func TestMatchesAndClosest(t *testing.T) {
	tr, doc := loadPage(t)
	a, err := QuerySelector(tr, doc, "a")
	require.NoError(t, err)

	ok, err := Matches(tr, a, "div a[rel]")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Matches(tr, a, "section a")
	require.NoError(t, err)
	assert.False(t, ok)

	main, err := Closest(tr, a, "div")
	require.NoError(t, err)
	assert.Equal(t, "main", idOf(t, tr, main))

	self, err := Closest(tr, a, "a")
	require.NoError(t, err)
	assert.Equal(t, a, self)

	none, err := Closest(tr, a, "section")
	require.NoError(t, err)
	assert.True(t, none.IsNil())

	t.Run("non-elements are rejected", func(t *testing.T) {
		text, err := tr.FirstChild(a)
		require.NoError(t, err)
		_, err = Matches(tr, text, "a")
		assert.ErrorIs(t, err, domerr.ErrNotSupported)
		_, err = Closest(tr, text, "a")
		assert.ErrorIs(t, err, domerr.ErrNotSupported)
	})
}

func idOf(t *testing.T, tr *dom.Tree, h dom.Handle) string {
	t.Helper()
	var id string
	require.NoError(t, tr.View(func(v *dom.View) error {
		id = v.ID(h)
		return nil
	}))
	return id
}

func TestXMLTypeSelectorsAreCaseSensitive(t *testing.T) {
	tr := dom.New(dom.Options{Logger: zaptest.NewLogger(t)})
	doc, err := tr.CreateDocument(dom.DocumentOptions{Type: dom.XMLDocument})
	require.NoError(t, err)
	root, err := tr.CreateElementNS(doc, "", "Items")
	require.NoError(t, err)
	_, err = tr.AppendChild(doc, root)
	require.NoError(t, err)
	item, err := tr.CreateElementNS(doc, "", "Item")
	require.NoError(t, err)
	_, err = tr.AppendChild(root, item)
	require.NoError(t, err)

	got, err := QuerySelectorAll(tr, doc, "item")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = QuerySelectorAll(tr, doc, "Items > Item")
	require.NoError(t, err)
	assert.Equal(t, []dom.Handle{item}, got)

	byTag, err := ElementsByTagName(tr, doc, "ITEM")
	require.NoError(t, err)
	assert.Empty(t, byTag)
	byTag, err = ElementsByTagName(tr, doc, "Item")
	require.NoError(t, err)
	assert.Equal(t, []dom.Handle{item}, byTag)
}

func TestElementsByTagAndClassName(t *testing.T) {
	tr, doc := loadPage(t)

	ps, err := ElementsByTagName(tr, doc, "P")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two a", "only"}, texts(t, tr, ps))

	all, err := ElementsByTagName(tr, doc, "*")
	require.NoError(t, err)
	// html head body div h1 p p a span ul li li section p
	assert.Len(t, all, 14)

	boxes, err := ElementsByClassName(tr, doc, " wide  box ")
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, []string{idOf(t, tr, boxes[0])})
	assert.Len(t, boxes, 1)

	none, err := ElementsByClassName(tr, doc, "   ")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestParseErrors(t *testing.T) {
	for _, sel := range []string{
		"",
		"div >",
		"[",
		"a[href=]",
		"a[href='x]",
		":hover",
		":not(p",
		"p..x",
		"#",
		"a b)",
		"div,",
		"p!",
	} {
		t.Run(sel, func(t *testing.T) {
			_, err := Parse(sel)
			require.Error(t, err)
			assert.ErrorIs(t, err, domerr.ErrSyntax)
		})
	}

	tr, doc := loadPage(t)
	_, err := QuerySelectorAll(tr, doc, "div >")
	assert.ErrorIs(t, err, domerr.ErrSyntax)
}

func TestSpecificity(t *testing.T) {
	cases := []struct {
		selector string
		a, b, c  int
	}{
		{"*", 0, 0, 0},
		{"li", 0, 0, 1},
		{"ul li", 0, 0, 2},
		{"#x .y", 1, 1, 0},
		{"a[href]:first-child", 0, 2, 1},
		{":not(#a, .b)", 1, 0, 0},
		{"div.c.d > p[x][y]", 0, 4, 2},
	}
	for _, tc := range cases {
		list, err := Parse(tc.selector)
		require.NoError(t, err, tc.selector)
		require.Len(t, list, 1)
		a, b, c := list[0].Specificity()
		assert.Equal(t, []int{tc.a, tc.b, tc.c}, []int{a, b, c}, tc.selector)
	}
}

func TestParseStructure(t *testing.T) {
	list, err := Parse(`ul > li.item + li ~ a[data-x="1 2"], #id`)
	require.NoError(t, err)
	require.Len(t, list, 2)

	parts := list[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, CombinatorNone, parts[0].Combinator)
	assert.Equal(t, CombinatorChild, parts[1].Combinator)
	assert.Equal(t, CombinatorAdjacentSibling, parts[2].Combinator)
	assert.Equal(t, CombinatorGeneralSibling, parts[3].Combinator)
	assert.Equal(t, []string{"item"}, parts[1].Compound.Classes)
	assert.Equal(t, []AttributeSelector{{Name: "data-x", Operator: "=", Value: "1 2"}}, parts[3].Compound.Attributes)
	assert.Equal(t, "id", list[1].Parts[0].Compound.ID)

	escaped, err := Parse(`.a\:b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:b"}, escaped[0].Parts[0].Compound.Classes)
}
