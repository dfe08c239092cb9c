// internal/message/protocol.go
package message

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/events"
)

// Kind discriminates requests.
type Kind string

const (
	KindCreateDocument          Kind = "createDocument"
	KindCreateElement           Kind = "createElement"
	KindCreateTextNode          Kind = "createTextNode"
	KindCreateComment           Kind = "createComment"
	KindAppendChild             Kind = "appendChild"
	KindRemoveChild             Kind = "removeChild"
	KindInsertBefore            Kind = "insertBefore"
	KindReplaceChild            Kind = "replaceChild"
	KindCloneNode               Kind = "cloneNode"
	KindAdoptNode               Kind = "adoptNode"
	KindImportNode              Kind = "importNode"
	KindSetAttribute            Kind = "setAttribute"
	KindGetAttribute            Kind = "getAttribute"
	KindRemoveAttribute         Kind = "removeAttribute"
	KindHasAttribute            Kind = "hasAttribute"
	KindSetTextContent          Kind = "setTextContent"
	KindGetTextContent          Kind = "getTextContent"
	KindGetElementByID          Kind = "getElementById"
	KindQuerySelector           Kind = "querySelector"
	KindQuerySelectorAll        Kind = "querySelectorAll"
	KindDispatchEvent           Kind = "dispatchEvent"
	KindCompareDocumentPosition Kind = "compareDocumentPosition"
	KindCollectGarbage          Kind = "collectGarbage"
	KindGetNodeProperties       Kind = "getNodeProperties"
	KindParseDocument           Kind = "parseDocument"
)

// Request is one protocol request. Which fields are read depends on Kind:
// Node is the target or parent, Child the node being inserted or removed,
// Ref the reference or replaced child, Other the second operand of a
// comparison.
type Request struct {
	ID   string `json:"id,omitempty"`
	Kind Kind   `json:"kind"`

	Document dom.Handle `json:"document"`
	Node     dom.Handle `json:"node"`
	Child    dom.Handle `json:"child"`
	Ref      dom.Handle `json:"ref"`
	Other    dom.Handle `json:"other"`

	Name      string `json:"name,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Value     string `json:"value,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Deep      bool   `json:"deep,omitempty"`

	// DocumentType is "html" (default) or "xml" for createDocument.
	DocumentType string `json:"documentType,omitempty"`
	URL          string `json:"url,omitempty"`

	Event   *EventSpec       `json:"event,omitempty"`
	Parsed  *ParsedNode      `json:"parsed,omitempty"`
	Doctype *dom.DoctypeInfo `json:"doctype,omitempty"`
}

// EventSpec describes an event to construct and dispatch.
type EventSpec struct {
	Type       string `json:"type"`
	Bubbles    bool   `json:"bubbles,omitempty"`
	Cancelable bool   `json:"cancelable,omitempty"`
	Composed   bool   `json:"composed,omitempty"`
}

// ParsedNodeType is the node type of a parser-produced node.
type ParsedNodeType string

const (
	ParsedDocument ParsedNodeType = "document"
	ParsedElement  ParsedNodeType = "element"
	ParsedText     ParsedNodeType = "text"
	ParsedComment  ParsedNodeType = "comment"
)

// ParsedNode is a tree produced by an external parser.
type ParsedNode struct {
	Type       ParsedNodeType    `json:"type"`
	TagName    string            `json:"tagName,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
	Children   []*ParsedNode     `json:"children,omitempty"`
}

// ResponseKind discriminates responses.
type ResponseKind string

const (
	RespSuccess        ResponseKind = "success"
	RespQueryResult    ResponseKind = "queryResult"
	RespAttributeValue ResponseKind = "attributeValue"
	RespTextContent    ResponseKind = "textContent"
	RespBooleanResult  ResponseKind = "booleanResult"
	RespPosition       ResponseKind = "position"
	RespProperties     ResponseKind = "properties"
	RespGCResult       ResponseKind = "gcResult"
	RespError          ResponseKind = "error"
)

// Response answers one Request. ID echoes the request ID.
type Response struct {
	ID   string       `json:"id,omitempty"`
	Kind ResponseKind `json:"kind"`

	// Node is the node a successful operation produced or returned.
	Node  dom.Handle   `json:"node"`
	Nodes []dom.Handle `json:"nodes,omitempty"`
	// Value is an attribute value or text content; nil for a missing
	// attribute.
	Value      *string         `json:"value,omitempty"`
	Result     bool            `json:"result,omitempty"`
	Position   dom.Position    `json:"position,omitempty"`
	Properties *NodeProperties `json:"properties,omitempty"`
	GC         *GCResult       `json:"gc,omitempty"`
	Error      *Error          `json:"error,omitempty"`
}

// NodeProperties is the getNodeProperties payload.
type NodeProperties struct {
	Node          dom.Handle        `json:"node"`
	NodeType      dom.Kind          `json:"nodeType"`
	NodeName      string            `json:"nodeName"`
	NamespaceURI  string            `json:"namespaceURI,omitempty"`
	NodeValue     *string           `json:"nodeValue,omitempty"`
	Parent        dom.Handle        `json:"parent"`
	OwnerDocument dom.Handle        `json:"ownerDocument"`
	Children      []dom.Handle      `json:"children,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	IsConnected   bool              `json:"isConnected"`
}

// GCResult reports one collection pass. It is also published on the
// dom.gc topic.
type GCResult struct {
	Before    int           `json:"before"`
	After     int           `json:"after"`
	Collected int           `json:"collected"`
	Duration  time.Duration `json:"durationNs"`
	Compacted bool          `json:"compacted"`
}

func gcResult(s arena.GCStats) *GCResult {
	return &GCResult{Before: s.Before, After: s.After, Collected: s.Collected, Duration: s.Duration, Compacted: s.Compacted}
}

// Error is the wire form of a failure. Code is the legacy DOMException
// code, or 0 where none applies.
type Error struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Name + ": " + e.Message
}

// Error names for failures that are not DOM exceptions.
const (
	ErrNameListener = "ListenerError"
	ErrNameInternal = "InternalError"
	ErrNameProtocol = "ProtocolError"
)

// errorResponse maps err onto the wire error.
func errorResponse(id string, err error) Response {
	wire := &Error{Message: err.Error()}
	var listenerErr *events.ListenerError
	switch code, ok := domerr.CodeOf(err); {
	case errors.As(err, &listenerErr):
		wire.Name = ErrNameListener
	case ok:
		wire.Code, wire.Name = code.Legacy(), code.String()
	case domerr.IsDefect(err):
		wire.Name = ErrNameInternal
	default:
		wire.Name = ErrNameProtocol
	}
	return Response{ID: id, Kind: RespError, Error: wire}
}

// DecodeRequests accepts a single request object or an array of them.
func DecodeRequests(data []byte) ([]Request, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []Request
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode request batch: %w", err)
		}
		return batch, nil
	}
	var one Request
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return []Request{one}, nil
}

// EncodeResponses encodes responses as a JSON array.
func EncodeResponses(resps []Response, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(resps, "", "  ")
	}
	return json.Marshal(resps)
}
