// internal/domerr/errors.go
package domerr

import (
	"errors"
	"fmt"
)

// Code identifies a DOM exception kind. The zero value is not a valid code.
type Code int

const (
	_ Code = iota
	HierarchyRequest
	WrongDocument
	NotFound
	InvalidCharacter
	Namespace
	InvalidState
	NoModificationAllowed
	NotSupported
	IndexSize
	Syntax
)

var codeNames = map[Code]string{
	HierarchyRequest:      "HierarchyRequestError",
	WrongDocument:         "WrongDocumentError",
	NotFound:              "NotFoundError",
	InvalidCharacter:      "InvalidCharacterError",
	Namespace:             "NamespaceError",
	InvalidState:          "InvalidStateError",
	NoModificationAllowed: "NoModificationAllowedError",
	NotSupported:          "NotSupportedError",
	IndexSize:             "IndexSizeError",
	Syntax:                "SyntaxError",
}

// Legacy numeric DOMException codes.
var legacyCodes = map[Code]int{
	IndexSize:             1,
	HierarchyRequest:      3,
	WrongDocument:         4,
	InvalidCharacter:      5,
	NoModificationAllowed: 7,
	NotFound:              8,
	NotSupported:          9,
	InvalidState:          11,
	Syntax:                12,
	Namespace:             14,
}

// String returns the DOMException name for the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Legacy returns the numeric DOMException code, or 0 when none is defined.
func (c Code) Legacy() int {
	return legacyCodes[c]
}

// Exception is a recoverable, caller-facing DOM error. The operation that
// produced it left the document unchanged.
type Exception struct {
	Code   Code
	Op     string
	Detail string
}

func (e *Exception) Error() string {
	switch {
	case e.Op != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code.String()
}

// Is reports whether target is an Exception with the same code. This lets
// callers match against the package sentinels with errors.Is.
func (e *Exception) Is(target error) bool {
	var other *Exception
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is matching.
var (
	ErrHierarchyRequest      = &Exception{Code: HierarchyRequest}
	ErrWrongDocument         = &Exception{Code: WrongDocument}
	ErrNotFound              = &Exception{Code: NotFound}
	ErrInvalidCharacter      = &Exception{Code: InvalidCharacter}
	ErrNamespace             = &Exception{Code: Namespace}
	ErrInvalidState          = &Exception{Code: InvalidState}
	ErrNoModificationAllowed = &Exception{Code: NoModificationAllowed}
	ErrNotSupported          = &Exception{Code: NotSupported}
	ErrIndexSize             = &Exception{Code: IndexSize}
	ErrSyntax                = &Exception{Code: Syntax}
)

// New builds an Exception for the given operation.
func New(code Code, op, detail string) *Exception {
	return &Exception{Code: code, Op: op, Detail: detail}
}

// Newf is New with a formatted detail.
func Newf(code Code, op, format string, args ...any) *Exception {
	return &Exception{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// WithOp returns a copy of the exception attributed to op, unless it already
// carries one.
func WithOp(err error, op string) error {
	var ex *Exception
	if errors.As(err, &ex) && ex.Op == "" {
		cp := *ex
		cp.Op = op
		return &cp
	}
	return err
}

// CodeOf extracts the exception code from err. ok is false for nil errors,
// defects and foreign errors.
func CodeOf(err error) (code Code, ok bool) {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex.Code, true
	}
	return 0, false
}

// IsException reports whether err carries a DOM exception.
func IsException(err error) bool {
	_, ok := CodeOf(err)
	return ok
}
