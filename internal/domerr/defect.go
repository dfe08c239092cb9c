// internal/domerr/defect.go
package domerr

import (
	"errors"
	"fmt"
)

// ErrResourceExhausted is returned when the node store cannot grow any
// further. It is a defect, not a DOM exception.
var ErrResourceExhausted = errors.New("node arena capacity exhausted")

// ErrCorrupted marks a broken internal invariant.
var ErrCorrupted = errors.New("internal invariant violated")

// Defect reports an implementation-level failure. Defects never match
// an Exception sentinel.
type Defect struct {
	Op  string
	Err error
}

func (d *Defect) Error() string {
	if d.Op == "" {
		return "defect: " + d.Err.Error()
	}
	return fmt.Sprintf("defect in %s: %v", d.Op, d.Err)
}

func (d *Defect) Unwrap() error { return d.Err }

// Exhausted wraps ErrResourceExhausted for op.
func Exhausted(op string, capacity int) error {
	return &Defect{Op: op, Err: fmt.Errorf("%w (capacity %d)", ErrResourceExhausted, capacity)}
}

// Corrupted wraps ErrCorrupted with a formatted description.
func Corrupted(op, format string, args ...any) error {
	return &Defect{Op: op, Err: fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))}
}

// IsDefect reports whether err is, or wraps, a Defect.
func IsDefect(err error) bool {
	var d *Defect
	return errors.As(err, &d)
}
