// internal/arena/handle.go
package arena

import (
	"fmt"
	"strconv"
	"strings"
)

// Handle is a strong, generation-checked reference to an arena slot. The
// zero value is the nil handle; generation 0 is never issued.
type Handle struct {
	Index      uint32
	Generation uint64
}

// Nil is the handle that refers to nothing.
var Nil Handle

// IsNil reports whether h is the nil handle.
func (h Handle) IsNil() bool { return h.Generation == 0 }

// String renders the handle as "index@generation".
func (h Handle) String() string {
	if h.IsNil() {
		return "nil"
	}
	return strconv.FormatUint(uint64(h.Index), 10) + "@" + strconv.FormatUint(h.Generation, 10)
}

// Less orders handles by slot index, then generation.
func (h Handle) Less(o Handle) bool {
	if h.Index != o.Index {
		return h.Index < o.Index
	}
	return h.Generation < o.Generation
}

// ParseHandle parses the String form.
func ParseHandle(s string) (Handle, error) {
	if s == "" || s == "nil" {
		return Nil, nil
	}
	idx, gen, ok := strings.Cut(s, "@")
	if !ok {
		return Nil, fmt.Errorf("malformed handle %q: missing '@'", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Nil, fmt.Errorf("malformed handle index %q: %w", s, err)
	}
	g, err := strconv.ParseUint(gen, 10, 64)
	if err != nil {
		return Nil, fmt.Errorf("malformed handle generation %q: %w", s, err)
	}
	if g == 0 {
		return Nil, fmt.Errorf("malformed handle %q: generation 0 is reserved", s)
	}
	return Handle{Index: uint32(i), Generation: g}, nil
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Weak is a non-owning reference. It never keeps its target alive and has
// to be re-validated against the arena on every use.
type Weak struct {
	target Handle
}

// Downgrade makes a weak reference to h.
func Downgrade(h Handle) Weak { return Weak{target: h} }

// Handle returns the referenced handle without checking liveness.
func (w Weak) Handle() Handle { return w.target }

// IsNil reports whether the reference was never set.
func (w Weak) IsNil() bool { return w.target.IsNil() }
