// internal/query/selector.go
package query

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/domcore/internal/domerr"
)

// SelectorList is a comma-separated group of complex selectors (e.g. "h1, h2 .title").
type SelectorList []Complex

// Complex is a sequence of compound selectors joined by combinators
// (e.g. "div > p"). Parts are stored left to right.
type Complex struct {
	Parts []Part
}

// Part pairs a compound selector with the combinator that precedes it.
type Part struct {
	Combinator Combinator
	Compound   Compound
}

// Compound is the tag, ID, class, attribute and pseudo-class parts that all
// apply to one element (e.g. div#id.a.b[href]:first-child).
type Compound struct {
	Tag        string
	ID         string
	Classes    []string
	Attributes []AttributeSelector
	Pseudos    []Pseudo
}

// AttributeSelector is an attribute test like [href] or [target="_blank" i].
type AttributeSelector struct {
	Name     string
	Operator string // "", "=", "~=", "|=", "^=", "$=", "*="
	Value    string
	// CaseInsensitive is set by the trailing "i" flag.
	CaseInsensitive bool
}

// Pseudo is a structural pseudo-class. Not is set for :not(...).
type Pseudo struct {
	Name string
	Not  SelectorList
}

// Combinator defines the relationship between compound selectors.
type Combinator int

const (
	CombinatorNone            Combinator = iota // first part
	CombinatorDescendant                        // space
	CombinatorChild                             // >
	CombinatorAdjacentSibling                   // +
	CombinatorGeneralSibling                    // ~
)

var supportedPseudos = map[string]bool{
	"root":          true,
	"empty":         true,
	"first-child":   true,
	"last-child":    true,
	"only-child":    true,
	"first-of-type": true,
	"last-of-type":  true,
	"only-of-type":  true,
	"not":           true,
}

// Specificity returns the (a, b, c) specificity of the complex selector.
func (cs Complex) Specificity() (a, b, c int) {
	for _, p := range cs.Parts {
		sa, sb, sc := p.Compound.Specificity()
		a += sa
		b += sb
		c += sc
	}
	return a, b, c
}

// Specificity of a compound selector. :not takes the specificity of its
// most specific argument.
func (s Compound) Specificity() (a, b, c int) {
	if s.ID != "" {
		a = 1
	}
	b = len(s.Classes) + len(s.Attributes)
	if s.Tag != "" && s.Tag != "*" {
		c = 1
	}
	for _, p := range s.Pseudos {
		if p.Name != "not" {
			b++
			continue
		}
		var ba, bb, bc int
		for _, cx := range p.Not {
			xa, xb, xc := cx.Specificity()
			if xa > ba || (xa == ba && (xb > bb || (xb == bb && xc > bc))) {
				ba, bb, bc = xa, xb, xc
			}
		}
		a, b, c = a+ba, b+bb, c+bc
	}
	return a, b, c
}

func (s Compound) empty() bool {
	return s.Tag == "" && s.ID == "" && len(s.Classes) == 0 && len(s.Attributes) == 0 && len(s.Pseudos) == 0
}

// Parse parses a selector list. Invalid input yields a SyntaxError.
func Parse(selector string) (SelectorList, error) {
	p := &parser{input: selector}
	list, err := p.parseList(false)
	if err != nil {
		return nil, domerr.Newf(domerr.Syntax, "querySelector", "%q is not a valid selector: %v", selector, err)
	}
	return list, nil
}

// parser holds the state of the selector parser.
type parser struct {
	input string
	pos   int
}

// parseList parses comma-separated complex selectors. Inside :not() it
// stops at the closing parenthesis.
func (p *parser) parseList(nested bool) (SelectorList, error) {
	var list SelectorList
	for {
		p.consumeWhitespace()
		complex, err := p.parseComplex()
		if err != nil {
			return nil, err
		}
		list = append(list, complex)

		p.consumeWhitespace()
		switch {
		case p.eof():
			if nested {
				return nil, fmt.Errorf("unterminated :not(")
			}
			return list, nil
		case p.currentChar() == ',':
			p.consumeChar()
		case nested && p.currentChar() == ')':
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", p.currentChar(), p.pos)
		}
	}
}

// parseComplex parses compound selectors and the combinators between them.
func (p *parser) parseComplex() (Complex, error) {
	var complex Complex
	combinator := CombinatorNone
	for {
		compound, err := p.parseCompound()
		if err != nil {
			return Complex{}, err
		}
		complex.Parts = append(complex.Parts, Part{Combinator: combinator, Compound: compound})

		// 1. Whitespace may be a descendant combinator or padding.
		sawSpace := p.consumeWhitespace()
		if p.eof() || p.currentChar() == ',' || p.currentChar() == ')' {
			return complex, nil
		}

		// 2. Explicit combinators.
		switch p.currentChar() {
		case '>':
			combinator = CombinatorChild
		case '+':
			combinator = CombinatorAdjacentSibling
		case '~':
			combinator = CombinatorGeneralSibling
		default:
			if !sawSpace {
				return Complex{}, fmt.Errorf("unexpected %q at offset %d", p.currentChar(), p.pos)
			}
			combinator = CombinatorDescendant
			continue
		}
		p.consumeChar()
		p.consumeWhitespace()
	}
}

// parseCompound parses one compound selector (e.g. div#id.class1.class2).
func (p *parser) parseCompound() (Compound, error) {
	var sel Compound

	// Universal or type selector.
	if !p.eof() {
		ch := p.currentChar()
		if ch == '*' {
			p.consumeChar()
			sel.Tag = "*"
		} else if isIdentifierStart(ch) {
			sel.Tag = p.parseIdentifier()
		}
	}

	// IDs, classes, attributes and pseudo-classes.
loop:
	for !p.eof() {
		switch p.currentChar() {
		case '#':
			p.consumeChar()
			id := p.parseIdentifier()
			if id == "" {
				return sel, fmt.Errorf("empty id selector")
			}
			sel.ID = id
		case '.':
			p.consumeChar()
			class := p.parseIdentifier()
			if class == "" {
				return sel, fmt.Errorf("empty class selector")
			}
			sel.Classes = append(sel.Classes, class)
		case '[':
			p.consumeChar()
			attr, err := p.parseAttribute()
			if err != nil {
				return sel, err
			}
			sel.Attributes = append(sel.Attributes, attr)
		case ':':
			p.consumeChar()
			pseudo, err := p.parsePseudo()
			if err != nil {
				return sel, err
			}
			sel.Pseudos = append(sel.Pseudos, pseudo)
		default:
			break loop
		}
	}

	if sel.empty() {
		if p.eof() {
			return sel, fmt.Errorf("expected a selector")
		}
		return sel, fmt.Errorf("unexpected %q at offset %d", p.currentChar(), p.pos)
	}
	return sel, nil
}

// parseAttribute parses the contents of [...]; the '[' is consumed.
func (p *parser) parseAttribute() (AttributeSelector, error) {
	p.consumeWhitespace()
	name := p.parseIdentifier()
	if name == "" {
		return AttributeSelector{}, fmt.Errorf("missing attribute name")
	}
	p.consumeWhitespace()
	if p.eof() {
		return AttributeSelector{}, fmt.Errorf("unexpected end of attribute selector")
	}

	// Presence selector like [disabled].
	if p.currentChar() == ']' {
		p.consumeChar()
		return AttributeSelector{Name: name}, nil
	}

	var operator string
	switch ch := p.consumeChar(); ch {
	case '=':
		operator = "="
	case '~', '|', '^', '$', '*':
		if p.eof() || p.currentChar() != '=' {
			return AttributeSelector{}, fmt.Errorf("bad attribute operator %q", ch)
		}
		p.consumeChar()
		operator = string(ch) + "="
	default:
		return AttributeSelector{}, fmt.Errorf("bad attribute operator %q", ch)
	}
	p.consumeWhitespace()

	var value string
	if ch := p.currentChar(); ch == '"' || ch == '\'' {
		p.consumeChar()
		start := p.pos
		for !p.eof() && p.currentChar() != ch {
			p.pos++
		}
		if p.eof() {
			return AttributeSelector{}, fmt.Errorf("unterminated string")
		}
		value = p.input[start:p.pos]
		p.consumeChar()
	} else {
		value = p.parseIdentifier()
		if value == "" {
			return AttributeSelector{}, fmt.Errorf("missing attribute value")
		}
	}
	p.consumeWhitespace()

	sel := AttributeSelector{Name: name, Operator: operator, Value: value}
	if ch := p.currentChar(); ch == 'i' || ch == 'I' {
		p.consumeChar()
		sel.CaseInsensitive = true
		p.consumeWhitespace()
	}
	if p.eof() || p.currentChar() != ']' {
		return AttributeSelector{}, fmt.Errorf("expected ']'")
	}
	p.consumeChar()
	return sel, nil
}

// parsePseudo parses a pseudo-class name; the ':' is consumed.
func (p *parser) parsePseudo() (Pseudo, error) {
	name := strings.ToLower(p.parseIdentifier())
	if !supportedPseudos[name] {
		return Pseudo{}, fmt.Errorf("unsupported pseudo-class :%s", name)
	}
	if name != "not" {
		return Pseudo{Name: name}, nil
	}
	if p.eof() || p.currentChar() != '(' {
		return Pseudo{}, fmt.Errorf("expected '(' after :not")
	}
	p.consumeChar()
	inner, err := p.parseList(true)
	if err != nil {
		return Pseudo{}, err
	}
	p.consumeChar() // ')'
	return Pseudo{Name: name, Not: inner}, nil
}

// --- Lexer-like Helpers ---

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

// consumeWhitespace reports whether anything was skipped.
func (p *parser) consumeWhitespace() bool {
	start := p.pos
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
	return p.pos > start
}

// parseIdentifier reads an identifier, honoring backslash escapes.
func (p *parser) parseIdentifier() string {
	var b strings.Builder
	for !p.eof() {
		ch := p.currentChar()
		if ch == '\\' && p.pos+1 < len(p.input) {
			b.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		}
		if !isIdentifierChar(ch) {
			break
		}
		b.WriteByte(ch)
		p.pos++
	}
	return b.String()
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-' || ch == '\\' || ch >= 0x80
}

func isIdentifierChar(ch byte) bool {
	return isIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
