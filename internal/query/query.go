// internal/query/query.go
package query

import (
	"strings"

	"github.com/xkilldash9x/domcore/internal/dom"
)

// QuerySelector returns the first descendant of root matching selector, or
// dom.Nil.
func QuerySelector(t *dom.Tree, root dom.Handle, selector string) (dom.Handle, error) {
	list, err := Parse(selector)
	if err != nil {
		return dom.Nil, err
	}
	var found dom.Handle
	err = t.View(func(v *dom.View) error {
		out, err := Select(v, root, list, true)
		if len(out) > 0 {
			found = out[0]
		}
		return err
	})
	return found, err
}

// QuerySelectorAll returns every descendant of root matching selector in
// tree order. The result is a static snapshot.
func QuerySelectorAll(t *dom.Tree, root dom.Handle, selector string) ([]dom.Handle, error) {
	list, err := Parse(selector)
	if err != nil {
		return nil, err
	}
	var out []dom.Handle
	err = t.View(func(v *dom.View) error {
		out, err = Select(v, root, list, false)
		return err
	})
	return out, err
}

// Matches reports whether the element el matches selector.
func Matches(t *dom.Tree, el dom.Handle, selector string) (bool, error) {
	list, err := Parse(selector)
	if err != nil {
		return false, err
	}
	var ok bool
	err = t.View(func(v *dom.View) error {
		ok, err = MatchesView(v, el, list)
		return err
	})
	return ok, err
}

// Closest returns the nearest inclusive ancestor element of el matching
// selector, or dom.Nil.
func Closest(t *dom.Tree, el dom.Handle, selector string) (dom.Handle, error) {
	list, err := Parse(selector)
	if err != nil {
		return dom.Nil, err
	}
	found := dom.Nil
	err = t.View(func(v *dom.View) error {
		if _, err := MatchesView(v, el, nil); err != nil {
			return err
		}
		m := newMatcher(v)
		for cur := el; !cur.IsNil(); cur = m.parentElement(cur) {
			if m.matchesList(cur, list) {
				found = cur
				return nil
			}
		}
		return nil
	})
	return found, err
}

// ElementsByTagName returns the descendant elements of root whose qualified
// name is name. "*" matches every element.
func ElementsByTagName(t *dom.Tree, root dom.Handle, name string) ([]dom.Handle, error) {
	var out []dom.Handle
	err := t.View(func(v *dom.View) error {
		m := newMatcher(v)
		return v.Walk(root, func(h dom.Handle, depth int) bool {
			if depth == 0 || !m.isElement(h) {
				return true
			}
			if name == "*" {
				out = append(out, h)
				return true
			}
			// The tag name is upper-cased exactly when matching folds case.
			tag, _ := v.TagName(h)
			if m.htmlElement(h) {
				if strings.EqualFold(tag, name) {
					out = append(out, h)
				}
			} else if tag == name {
				out = append(out, h)
			}
			return true
		})
	})
	return out, err
}

// ElementsByClassName returns the descendant elements of root carrying
// every class in the whitespace-separated list classNames.
func ElementsByClassName(t *dom.Tree, root dom.Handle, classNames string) ([]dom.Handle, error) {
	classes := strings.Fields(classNames)
	if len(classes) == 0 {
		return nil, nil
	}
	sel := Compound{Classes: classes}
	var out []dom.Handle
	err := t.View(func(v *dom.View) error {
		m := newMatcher(v)
		return v.Walk(root, func(h dom.Handle, depth int) bool {
			if depth > 0 && m.isElement(h) && m.matchesCompound(h, sel) {
				out = append(out, h)
			}
			return true
		})
	})
	return out, err
}
