// internal/dom/validate.go
package dom

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/domcore/internal/domerr"
)

// Validator checks names handed to creation and attribute operations. The
// tree engine only calls it; embedders can swap in stricter rules.
type Validator interface {
	// ValidateName checks an XML Name. Failures are InvalidCharacterError.
	ValidateName(name string) error
	// ValidateQualifiedName splits qname into prefix and local name and
	// checks it against namespace. Failures are InvalidCharacterError or
	// NamespaceError.
	ValidateQualifiedName(namespace, qname string) (prefix, local string, err error)
	// ValidatePITarget checks a processing instruction target.
	ValidatePITarget(target string) error
}

// DefaultValidator implements the XML Name and QName productions and the DOM
// namespace rules.
type DefaultValidator struct{}

var _ Validator = DefaultValidator{}

func (DefaultValidator) ValidateName(name string) error {
	if !isName(name) {
		return domerr.Newf(domerr.InvalidCharacter, "", "%q is not a valid name", name)
	}
	return nil
}

func (v DefaultValidator) ValidateQualifiedName(namespace, qname string) (string, string, error) {
	prefix, local, hasPrefix := strings.Cut(qname, ":")
	if !hasPrefix {
		prefix, local = "", qname
	}
	if (hasPrefix && !isNCName(prefix)) || !isNCName(local) {
		return "", "", domerr.Newf(domerr.InvalidCharacter, "", "%q is not a valid qualified name", qname)
	}

	switch {
	case prefix != "" && namespace == "":
		return "", "", domerr.Newf(domerr.Namespace, "", "prefix %q requires a namespace", prefix)
	case prefix == "xml" && namespace != XMLNamespace:
		return "", "", domerr.New(domerr.Namespace, "", "prefix xml is bound to the XML namespace")
	case (qname == "xmlns" || prefix == "xmlns") && namespace != XMLNSNamespace:
		return "", "", domerr.New(domerr.Namespace, "", "xmlns is bound to the XMLNS namespace")
	case namespace == XMLNSNamespace && qname != "xmlns" && prefix != "xmlns":
		return "", "", domerr.New(domerr.Namespace, "", "the XMLNS namespace requires the xmlns prefix")
	}
	return prefix, local, nil
}

func (DefaultValidator) ValidatePITarget(target string) error {
	if !isName(target) {
		return domerr.Newf(domerr.InvalidCharacter, "", "%q is not a valid processing instruction target", target)
	}
	return nil
}

func isNameStart(r rune) bool {
	return r == ':' || r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return isNameStart(r) || r == '-' || r == '.' || r == '·' ||
		unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isNameStart(r) {
				return false
			}
			continue
		}
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

func isNCName(s string) bool {
	return isName(s) && !strings.Contains(s, ":")
}
