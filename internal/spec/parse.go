package spec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Marker starts every single-file test expectation line.
const Marker = "//test"

// ErrNoMarker is returned by ParseLine when the line does not start with
// the //test marker. Discovery uses it to skip non-test files.
var ErrNoMarker = errors.New("line does not start with //test")

// ParseError reports a malformed expectation with its position.
type ParseError struct {
	Pos    int    // byte offset into the input
	Actual string // offending text, empty at end of input
	Want   string // what the parser expected
}

func (e *ParseError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("unexpected end of spec, expected %s", e.Want)
	}
	return fmt.Sprintf("unexpected %q at offset %d, expected %s", e.Actual, e.Pos, e.Want)
}

// ParseLine parses a "//test <specs>" line from the top of a test file.
func ParseLine(line string) ([]Rule, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), Marker)
	if !ok {
		return nil, ErrNoMarker
	}
	return Parse(rest)
}

// Parse parses a semicolon-separated expectation:
//
//	spec      ::= predicate => spec | behavior
//	predicate ::= lib | typecheck | gc | safe | false | <ident>
//	            | ! predicate
//	            | predicate , predicate
//	            | predicate or predicate
//	behavior  ::= error | runs | infloop | abort | failure | segfault
//	            | div-by-zero | return * | return <int>
func Parse(input string) ([]Rule, error) {
	p := &parser{lex: newLexer(input)}

	var rules []Rule
	for {
		r, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)

		tok := p.lex.next()
		if tok.kind == tokEOF {
			return rules, nil
		}
		if tok.kind != tokSemi {
			return nil, p.unexpected(tok, "semicolon between specs")
		}
	}
}

type parser struct {
	lex *lexer
}

// parseRule parses one clause, flattening a chain of implications into a
// guard list in front of the final behavior.
func (p *parser) parseRule() (Rule, error) {
	var guards []*Predicate
	for {
		tok := p.lex.peek()
		if tok.kind == tokEOF {
			return Rule{}, p.unexpected(tok, "predicate or behavior")
		}
		if tok.kind == tokIdent && behaviorKeyword(tok.text) {
			b, err := p.parseBehavior()
			if err != nil {
				return Rule{}, err
			}
			return Rule{Guards: guards, Behavior: b}, nil
		}

		guard, err := p.parsePredicate(0)
		if err != nil {
			return Rule{}, err
		}
		guards = append(guards, guard)

		arrow := p.lex.next()
		if arrow.kind != tokArrow {
			return Rule{}, p.unexpected(arrow, "'=>' between predicate and behavior")
		}
	}
}

// Binding powers: 'or' binds loosest, ',' (and) tighter, '!' tightest.
// Pratt parsing, same shape as a precedence-climbing expression parser.
func infixPower(t token) (int, int, bool) {
	switch {
	case t.kind == tokIdent && t.text == "or":
		return 1, 2, true
	case t.kind == tokComma:
		return 3, 4, true
	}
	return 0, 0, false
}

func (p *parser) parsePredicate(minPower int) (*Predicate, error) {
	tok := p.lex.next()

	var lhs *Predicate
	switch {
	case tok.kind == tokNot:
		operand, err := p.parsePredicate(5)
		if err != nil {
			return nil, err
		}
		lhs = &Predicate{Op: PredNot, X: operand}
	case tok.kind == tokIdent:
		lhs = atomPredicate(tok.text)
		if lhs == nil {
			return nil, p.unexpected(tok, "implementation predicate")
		}
	default:
		return nil, p.unexpected(tok, "implementation predicate or '!'")
	}

	for {
		op := p.lex.peek()
		left, right, ok := infixPower(op)
		if !ok || left < minPower {
			return lhs, nil
		}
		p.lex.next()

		rhs, err := p.parsePredicate(right)
		if err != nil {
			return nil, err
		}
		if op.kind == tokComma {
			lhs = &Predicate{Op: PredAnd, X: lhs, Y: rhs}
		} else {
			lhs = &Predicate{Op: PredOr, X: lhs, Y: rhs}
		}
	}
}

func atomPredicate(name string) *Predicate {
	switch name {
	case "lib":
		return &Predicate{Op: PredLibraries}
	case "typecheck":
		return &Predicate{Op: PredTypechecked}
	case "gc":
		return &Predicate{Op: PredGarbageCollected}
	case "safe":
		return &Predicate{Op: PredSafe}
	case "false":
		return &Predicate{Op: PredFalse}
	case "or":
		return nil
	}
	if behaviorKeyword(name) {
		return nil
	}
	return &Predicate{Op: PredName, Name: name}
}

func behaviorKeyword(name string) bool {
	switch name {
	case "error", "runs", "infloop", "abort", "failure", "segfault", "div-by-zero", "return":
		return true
	}
	return false
}

func (p *parser) parseBehavior() (Behavior, error) {
	tok := p.lex.next()
	if tok.kind != tokIdent {
		return Behavior{}, p.unexpected(tok, "behavior")
	}

	switch tok.text {
	case "error":
		return Behavior{Kind: CompileError}, nil
	case "runs":
		return Behavior{Kind: Runs}, nil
	case "infloop":
		return Behavior{Kind: InfiniteLoop}, nil
	case "abort":
		return Behavior{Kind: Abort}, nil
	case "failure":
		return Behavior{Kind: Failure}, nil
	case "segfault":
		return Behavior{Kind: Segfault}, nil
	case "div-by-zero":
		return Behavior{Kind: DivZero}, nil
	case "return":
		arg := p.lex.next()
		switch arg.kind {
		case tokStar:
			return RetAny(), nil
		case tokNumber:
			return Ret(arg.value), nil
		}
		return Behavior{}, p.unexpected(arg, "'*' or integer after 'return'")
	}
	return Behavior{}, p.unexpected(tok, "behavior")
}

func (p *parser) unexpected(tok token, want string) error {
	return &ParseError{Pos: tok.pos, Actual: tok.text, Want: want}
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokStar
	tokNot
	tokComma
	tokSemi
	tokArrow
	tokBad
)

type token struct {
	kind  tokenKind
	text  string
	value int // for tokNumber
	pos   int
}

type lexer struct {
	input string
	pos   int
	// one-token lookahead
	peeked *token
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) peek() token {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	return *l.peeked
}

func (l *lexer) next() token {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t
	}
	return l.scan()
}

func (l *lexer) scan() token {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}
	}

	start := l.pos
	c := l.input[l.pos]
	switch {
	case c == '*':
		l.pos++
		return token{kind: tokStar, text: "*", pos: start}
	case c == '!':
		l.pos++
		return token{kind: tokNot, text: "!", pos: start}
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}
	case c == ';':
		l.pos++
		return token{kind: tokSemi, text: ";", pos: start}
	case c == '=':
		if strings.HasPrefix(l.input[l.pos:], "=>") {
			l.pos += 2
			return token{kind: tokArrow, text: "=>", pos: start}
		}
	case c == '+' || c == '-' || isDigit(c):
		return l.scanNumber(start)
	case isIdentStart(c):
		return l.scanIdent(start)
	}

	l.pos++
	return token{kind: tokBad, text: l.input[start:l.pos], pos: start}
}

func (l *lexer) scanNumber(start int) token {
	if c := l.input[l.pos]; c == '+' || c == '-' {
		l.pos++
		if l.pos >= len(l.input) || !isDigit(l.input[l.pos]) {
			return token{kind: tokBad, text: l.input[start:l.pos], pos: start}
		}
	}

	// Hex literals: 0xff.
	if strings.HasPrefix(l.input[l.pos:], "0x") || strings.HasPrefix(l.input[l.pos:], "0X") {
		l.pos += 2
		digits := l.pos
		for l.pos < len(l.input) && isHexDigit(l.input[l.pos]) {
			l.pos++
		}
		text := l.input[start:l.pos]
		if l.pos == digits {
			return token{kind: tokBad, text: text, pos: start}
		}
		// C0 return values wrap at 32 bits, so parse as uint and truncate.
		v, err := strconv.ParseUint(l.input[digits:l.pos], 16, 32)
		if err != nil {
			return token{kind: tokBad, text: text, pos: start}
		}
		return token{kind: tokNumber, text: text, value: int(int32(v)), pos: start}
	}

	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	text := l.input[start:l.pos]
	v, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return token{kind: tokBad, text: text, pos: start}
	}
	return token{kind: tokNumber, text: text, value: int(v), pos: start}
}

func (l *lexer) scanIdent(start int) token {
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '-'
}
