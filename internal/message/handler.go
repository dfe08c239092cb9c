// internal/message/handler.go
package message

import (
	"context"
	"sort"

	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/events"
	"github.com/xkilldash9x/domcore/internal/index"
	"github.com/xkilldash9x/domcore/internal/query"
	"go.uber.org/zap"
)

// Handler executes protocol requests against one tree.
type Handler struct {
	tree   *dom.Tree
	events *events.Dispatcher
	ids    *index.IDs
	logger *zap.Logger

	// onGC observes collection results; the bus component publishes them.
	onGC func(*GCResult)
}

// NewHandler creates a handler over tree. Events are dispatched through d,
// which must belong to the same tree.
func NewHandler(tree *dom.Tree, d *events.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tree:   tree,
		events: d,
		ids:    index.New(tree, logger),
		logger: logger.Named("message"),
	}
}

// Close releases the id index.
func (h *Handler) Close() {
	h.ids.Close()
}

// HandleBatch processes requests in order and returns one response each. A
// failed request does not stop the batch.
func (h *Handler) HandleBatch(ctx context.Context, reqs []Request) []Response {
	out := make([]Response, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, h.Handle(ctx, req))
	}
	return out
}

// Handle processes one request.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	resp, err := h.handle(ctx, req)
	if err != nil {
		if domerr.IsDefect(err) {
			h.logger.Error("Request hit an internal defect", zap.String("kind", string(req.Kind)), zap.String("id", req.ID), zap.Error(err))
		} else {
			h.logger.Debug("Request failed", zap.String("kind", string(req.Kind)), zap.String("id", req.ID), zap.Error(err))
		}
		return errorResponse(req.ID, err)
	}
	resp.ID = req.ID
	return resp
}

func success(node dom.Handle) Response {
	return Response{Kind: RespSuccess, Node: node}
}

func nodeResult(node dom.Handle, err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	return success(node), nil
}

func done(err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: RespSuccess}, nil
}

func boolResult(ok bool, err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: RespBooleanResult, Result: ok}, nil
}

func queryResult(nodes []dom.Handle, err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	if nodes == nil {
		nodes = []dom.Handle{}
	}
	return Response{Kind: RespQueryResult, Nodes: nodes}, nil
}

func (h *Handler) handle(ctx context.Context, req Request) (Response, error) {
	t := h.tree
	switch req.Kind {
	case KindCreateDocument:
		typ := dom.HTMLDocument
		if req.DocumentType == dom.XMLDocument.String() {
			typ = dom.XMLDocument
		}
		return nodeResult(t.CreateDocument(dom.DocumentOptions{Type: typ, URL: req.URL}))
	case KindCreateElement:
		if req.Namespace != "" {
			return nodeResult(t.CreateElementNS(req.Document, req.Namespace, req.Name))
		}
		return nodeResult(t.CreateElement(req.Document, req.Name))
	case KindCreateTextNode:
		return nodeResult(t.CreateTextNode(req.Document, req.Value))
	case KindCreateComment:
		return nodeResult(t.CreateComment(req.Document, req.Value))

	case KindAppendChild:
		return nodeResult(t.AppendChild(req.Node, req.Child))
	case KindRemoveChild:
		return nodeResult(t.RemoveChild(req.Node, req.Child))
	case KindInsertBefore:
		return nodeResult(t.InsertBefore(req.Node, req.Child, req.Ref))
	case KindReplaceChild:
		return nodeResult(t.ReplaceChild(req.Node, req.Child, req.Ref))
	case KindCloneNode:
		return nodeResult(t.CloneNode(req.Node, req.Deep))
	case KindAdoptNode:
		return nodeResult(t.AdoptNode(req.Document, req.Node))
	case KindImportNode:
		return nodeResult(t.ImportNode(req.Document, req.Node, req.Deep))

	case KindSetAttribute:
		if req.Namespace != "" {
			return done(t.SetAttributeNS(req.Node, req.Namespace, req.Name, req.Value))
		}
		return done(t.SetAttribute(req.Node, req.Name, req.Value))
	case KindGetAttribute:
		value, ok, err := t.GetAttribute(req.Node, req.Name)
		if err != nil {
			return Response{}, err
		}
		resp := Response{Kind: RespAttributeValue}
		if ok {
			resp.Value = &value
		}
		return resp, nil
	case KindRemoveAttribute:
		return done(t.RemoveAttribute(req.Node, req.Name))
	case KindHasAttribute:
		return boolResult(t.HasAttribute(req.Node, req.Name))

	case KindSetTextContent:
		return done(t.SetTextContent(req.Node, req.Value))
	case KindGetTextContent:
		text, err := t.TextContent(req.Node)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: RespTextContent, Value: &text}, nil

	case KindGetElementByID:
		el, err := h.ids.Lookup(req.Document, req.Value)
		if err != nil || el.IsNil() {
			return queryResult(nil, err)
		}
		return queryResult([]dom.Handle{el}, nil)
	case KindQuerySelector:
		el, err := query.QuerySelector(t, req.Node, req.Selector)
		if err != nil || el.IsNil() {
			return queryResult(nil, err)
		}
		return queryResult([]dom.Handle{el}, nil)
	case KindQuerySelectorAll:
		return queryResult(query.QuerySelectorAll(t, req.Node, req.Selector))

	case KindDispatchEvent:
		if req.Event == nil || req.Event.Type == "" {
			return Response{}, domerr.New(domerr.InvalidState, "dispatchEvent", "event type is required")
		}
		init := events.Init{Bubbles: req.Event.Bubbles, Cancelable: req.Event.Cancelable, Composed: req.Event.Composed}
		return boolResult(h.events.Fire(ctx, req.Node, req.Event.Type, init))

	case KindCompareDocumentPosition:
		pos, err := t.CompareDocumentPosition(req.Node, req.Other)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: RespPosition, Position: pos}, nil

	case KindCollectGarbage:
		res := gcResult(t.CollectUnreachable())
		h.logger.Debug("Collected unreachable nodes", zap.Int("collected", res.Collected), zap.Int("live", res.After))
		if h.onGC != nil {
			h.onGC(res)
		}
		return Response{Kind: RespGCResult, GC: res}, nil

	case KindGetNodeProperties:
		props, err := h.properties(req.Node)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: RespProperties, Properties: props}, nil

	case KindParseDocument:
		if req.Parsed == nil {
			return Response{}, domerr.New(domerr.InvalidState, "parseDocument", "parsed tree is required")
		}
		return nodeResult(h.buildParsed(req.Parsed, req.Doctype, req.URL))
	}
	return Response{}, domerr.Newf(domerr.NotSupported, "", "unknown request kind %q", req.Kind)
}

func (h *Handler) properties(node dom.Handle) (*NodeProperties, error) {
	var props *NodeProperties
	err := h.tree.View(func(v *dom.View) error {
		k, err := v.Kind(node)
		if err != nil {
			return err
		}
		p := &NodeProperties{Node: node, NodeType: k}
		p.NodeName, _ = v.NodeName(node)
		p.NamespaceURI, _ = v.NamespaceURI(node)
		if val, ok, _ := v.NodeValue(node); ok {
			p.NodeValue = &val
		}
		p.Parent, _ = v.ParentNode(node)
		p.OwnerDocument, _ = v.OwnerDocument(node)
		p.Children, _ = v.ChildNodes(node)
		p.IsConnected, _ = v.IsConnected(node)
		if k == dom.ElementNode {
			attrs, _ := v.Attributes(node)
			if len(attrs) > 0 {
				p.Attributes = make(map[string]string, len(attrs))
				for _, a := range attrs {
					p.Attributes[a.Name()] = a.Value
				}
			}
		}
		props = p
		return nil
	})
	return props, err
}

// buildParsed turns a parser-produced tree into a new HTML document.
// Subtrees are filled before they are attached. On failure the document is
// freed so the partial tree is left to the collector.
func (h *Handler) buildParsed(root *ParsedNode, doctype *dom.DoctypeInfo, url string) (_ dom.Handle, err error) {
	t := h.tree
	doc, err := t.CreateDocument(dom.DocumentOptions{Type: dom.HTMLDocument, URL: url})
	if err != nil {
		return dom.Nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if ferr := t.Free(doc); ferr != nil {
			h.logger.Warn("Could not free partially built document", zap.Stringer("document", doc), zap.Error(ferr))
		}
	}()
	if doctype != nil {
		dt, err := t.CreateDocumentType(doc, doctype.Name, doctype.PublicID, doctype.SystemID)
		if err != nil {
			return dom.Nil, err
		}
		if _, err := t.AppendChild(doc, dt); err != nil {
			return dom.Nil, err
		}
	}

	top := []*ParsedNode{root}
	if root.Type == ParsedDocument {
		top = root.Children
	}
	for _, pn := range top {
		c, err := h.buildParsedNode(doc, pn)
		if err != nil {
			return dom.Nil, err
		}
		if _, err := t.AppendChild(doc, c); err != nil {
			return dom.Nil, err
		}
	}
	return doc, nil
}

func (h *Handler) buildParsedNode(doc dom.Handle, pn *ParsedNode) (dom.Handle, error) {
	t := h.tree
	switch pn.Type {
	case ParsedText:
		return t.CreateTextNode(doc, pn.Text)
	case ParsedComment:
		return t.CreateComment(doc, pn.Text)
	case ParsedElement:
	default:
		return dom.Nil, domerr.Newf(domerr.HierarchyRequest, "parseDocument", "unexpected %q node", pn.Type)
	}

	el, err := t.CreateElement(doc, pn.TagName)
	if err != nil {
		return dom.Nil, err
	}
	// Attribute maps are unordered; sort for a deterministic attribute list.
	names := make([]string, 0, len(pn.Attributes))
	for name := range pn.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.SetAttribute(el, name, pn.Attributes[name]); err != nil {
			return dom.Nil, err
		}
	}
	for _, child := range pn.Children {
		c, err := h.buildParsedNode(doc, child)
		if err != nil {
			return dom.Nil, err
		}
		if _, err := t.AppendChild(el, c); err != nil {
			return dom.Nil, err
		}
	}
	return el, nil
}
