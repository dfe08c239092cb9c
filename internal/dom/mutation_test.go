// internal/dom/mutation_test.go
package dom

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMutationHooksSeeCommitOrder(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	div := mustElement(t, tr, doc, "div")
	span := mustElement(t, tr, doc, "span")

	var got []MutationType
	unregister := tr.OnMutation(func(r MutationRecord) { got = append(got, r.Type) })

	mustAppend(t, tr, div, span)
	require.NoError(t, tr.SetAttribute(span, "id", "x"))
	text := mustText(t, tr, doc, "t")
	mustAppend(t, tr, span, text)
	require.NoError(t, tr.SetData(text, "u"))

	assert.Equal(t, []MutationType{
		ChildListMutation, AttributesMutation, ChildListMutation, CharacterDataMutation,
	}, got)

	unregister()
	require.NoError(t, tr.SetData(text, "v"))
	assert.Len(t, got, 4, "unregistered hooks see nothing")
}

func TestMutationHookMayMutate(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	div := mustElement(t, tr, doc, "div")

	var seen []string
	tr.OnMutation(func(r MutationRecord) {
		seen = append(seen, fmt.Sprintf("%s:%s", r.Type, r.AttributeName))
		if r.Type == ChildListMutation {
			// Mirrors the child count into an attribute from inside the hook.
			kids, err := tr.ChildNodes(r.Target)
			require.NoError(t, err)
			require.NoError(t, tr.SetAttribute(r.Target, "data-count", fmt.Sprint(len(kids))))
		}
	})

	mustAppend(t, tr, div, mustElement(t, tr, doc, "p"))
	mustAppend(t, tr, div, mustElement(t, tr, doc, "p"))

	assert.Equal(t, []string{
		"childList:", "attributes:data-count",
		"childList:", "attributes:data-count",
	}, seen)
	count, _, _ := tr.GetAttribute(div, "data-count")
	assert.Equal(t, "2", count)
}

func TestPanickingHookDoesNotBreakDelivery(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	div := mustElement(t, tr, doc, "div")

	tr.OnMutation(func(MutationRecord) { panic("boom") })
	calls := 0
	tr.OnMutation(func(MutationRecord) { calls++ })

	require.NoError(t, tr.SetAttribute(div, "a", "1"))
	require.NoError(t, tr.SetAttribute(div, "a", "2"))
	assert.Equal(t, 2, calls)
}

func TestConcurrentMutationsKeepInvariants(t *testing.T) {
	tr := newTestTree(t, Options{})
	doc := newHTMLDoc(t, tr)
	root := mustElement(t, tr, doc, "div")
	mustAppend(t, tr, doc, root)

	var (
		mu      sync.Mutex
		records int
	)
	tr.OnMutation(func(MutationRecord) {
		mu.Lock()
		records++
		mu.Unlock()
	})

	const workers, perWorker = 8, 50
	g := new(errgroup.Group)
	for w := range workers {
		g.Go(func() error {
			list, err := tr.CreateElement(doc, "ul")
			if err != nil {
				return err
			}
			if _, err := tr.AppendChild(root, list); err != nil {
				return err
			}
			for i := range perWorker {
				li, err := tr.CreateElement(doc, "li")
				if err != nil {
					return err
				}
				if err := tr.SetAttribute(li, "data-worker", fmt.Sprint(w)); err != nil {
					return err
				}
				if _, err := tr.AppendChild(list, li); err != nil {
					return err
				}
				if i%5 == 0 {
					if _, err := tr.RemoveChild(list, li); err != nil {
						return err
					}
				}
				if _, err := tr.CompareDocumentPosition(root, li); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	lists := children(t, tr, root)
	require.Len(t, lists, workers)
	for _, l := range lists {
		assert.Len(t, children(t, tr, l), perWorker-perWorker/5)
	}
	mu.Lock()
	// Per worker: one list append, then per item an attribute, an append and
	// sometimes a removal.
	assert.Equal(t, workers*(1+perWorker*2+perWorker/5), records)
	mu.Unlock()
	verify(t, tr)
}
