// internal/loader/loader.go
package loader

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"go.uber.org/zap"
)

// Format selects the markup parser.
type Format string

const (
	FormatHTML Format = "html"
	FormatXML  Format = "xml"
)

// Options configures a load.
type Options struct {
	URL    string
	Logger *zap.Logger
	// KeepWhitespace keeps whitespace-only text nodes in XML documents.
	KeepWhitespace bool
}

// Result describes a loaded document.
type Result struct {
	Document dom.Handle
	// Nodes counts the nodes created, attributes excluded.
	Nodes int
	// Skipped counts names the tree refused, such as attributes the
	// parser accepted but that are not valid XML names.
	Skipped int
}

// FormatFor guesses the format from a file name or content type.
func FormatFor(nameOrType string) Format {
	s := strings.ToLower(nameOrType)
	switch {
	case strings.Contains(s, "xml") && !strings.Contains(s, "xhtml"):
		return FormatXML
	case filepath.Ext(s) == ".svg":
		return FormatXML
	}
	return FormatHTML
}

// Load parses r in the given format into a new document of t.
func Load(t *dom.Tree, r io.Reader, format Format, opts Options) (Result, error) {
	switch format {
	case FormatXML:
		return LoadXML(t, r, opts)
	case FormatHTML, "":
		return LoadHTML(t, r, opts)
	}
	return Result{}, fmt.Errorf("unknown format %q", format)
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// builder appends parsed nodes through the public tree API.
type builder struct {
	tree   *dom.Tree
	doc    dom.Handle
	logger *zap.Logger
	result Result
}

func newBuilder(t *dom.Tree, docOpts dom.DocumentOptions, logger *zap.Logger) (*builder, error) {
	doc, err := t.CreateDocument(docOpts)
	if err != nil {
		return nil, err
	}
	return &builder{
		tree:   t,
		doc:    doc,
		logger: loggerOrNop(logger).Named("loader"),
		result: Result{Document: doc},
	}, nil
}

// abort frees the document of a failed load and clears it from the
// result. Nodes built so far are left to the collector.
func (b *builder) abort(err error) (Result, error) {
	b.discard(b.doc)
	b.result.Document = dom.Nil
	return b.result, err
}

func (b *builder) appendTo(parent, child dom.Handle) error {
	if _, err := b.tree.AppendChild(parent, child); err != nil {
		return err
	}
	b.result.Nodes++
	return nil
}

// skippable reports name validation failures, which the loader tolerates.
func skippable(err error) bool {
	return errors.Is(err, domerr.ErrInvalidCharacter) || errors.Is(err, domerr.ErrNamespace)
}

func (b *builder) skip(what, name string, err error) {
	b.result.Skipped++
	b.logger.Debug("Skipping unrepresentable markup", zap.String("what", what), zap.String("name", name), zap.Error(err))
}

// setAttribute sets an attribute unless the element already has it; the
// first occurrence wins.
func (b *builder) setAttribute(el dom.Handle, namespace, qname, value string) error {
	err := b.tree.View(func(v *dom.View) error {
		local := qname
		if i := strings.IndexByte(qname, ':'); i >= 0 {
			local = qname[i+1:]
		}
		if _, ok, err := v.GetAttributeNS(el, namespace, local); err != nil || ok {
			if err == nil {
				err = errDuplicate
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.tree.SetAttributeNS(el, namespace, qname, value); err != nil {
		if skippable(err) {
			b.skip("attribute", qname, err)
			return nil
		}
		return err
	}
	return nil
}

var errDuplicate = errors.New("duplicate attribute")

// discard frees a node that could not be placed so it does not wait for
// the collector.
func (b *builder) discard(h dom.Handle) {
	if err := b.tree.Free(h); err != nil {
		b.logger.Debug("Could not free discarded node", zap.Stringer("node", h), zap.Error(err))
	}
}
