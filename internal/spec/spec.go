// Package spec models test expectations: the behavior a test program is
// supposed to exhibit, optionally guarded by predicates over the backend
// under test. Expectations are written on //test lines or in sources.test
// files, e.g. "safe => segfault; !safe => runs".
package spec

import (
	"fmt"
	"strings"
)

// BehaviorKind enumerates the observable outcomes of a test program.
type BehaviorKind int

const (
	// CompileError means the sources must be rejected at compile time.
	CompileError BehaviorKind = iota
	// Runs means the program must run to completion normally,
	// with any return value.
	Runs
	// InfiniteLoop means the program must run until the CPU-time
	// ceiling kills it. Hitting the limit is the correct outcome.
	InfiniteLoop
	// Abort means the program must stop via assertion failure (SIGABRT).
	Abort
	// Failure means the C0 runtime must report an error (exit 1 or 4).
	Failure
	// Segfault means the program must violate memory safety (SIGSEGV).
	Segfault
	// DivZero means the program must fault on division (SIGFPE).
	DivZero
	// Return means the program must exit normally. A nil Code matches
	// any return value ("return *").
	Return
	// Skipped marks a test the backend cannot execute at all.
	// It is produced by backends, never written in a spec line.
	Skipped
)

// Behavior is one observable or expected outcome of a test program.
type Behavior struct {
	Kind BehaviorKind
	// Code is the C0 main return value. Only meaningful for Return;
	// nil means any value is acceptable.
	Code *int
}

// Ret builds a Return behavior with a concrete value.
func Ret(code int) Behavior {
	return Behavior{Kind: Return, Code: &code}
}

// RetAny builds a "return *" behavior.
func RetAny() Behavior {
	return Behavior{Kind: Return}
}

// Matches reports whether an observed behavior satisfies b as an
// expectation. "return *" matches any return value, and "runs" is
// satisfied by any normal return.
func (b Behavior) Matches(observed Behavior) bool {
	if b.Kind == Runs && observed.Kind == Return {
		return true
	}
	if b.Kind != observed.Kind {
		return false
	}
	if b.Kind != Return {
		return true
	}
	if b.Code == nil || observed.Code == nil {
		return true
	}
	return *b.Code == *observed.Code
}

func (b Behavior) String() string {
	switch b.Kind {
	case CompileError:
		return "error"
	case Runs:
		return "runs"
	case InfiniteLoop:
		return "infloop"
	case Abort:
		return "abort"
	case Failure:
		return "failure"
	case Segfault:
		return "segfault"
	case DivZero:
		return "div-by-zero"
	case Skipped:
		return "skipped"
	case Return:
		if b.Code == nil {
			return "return *"
		}
		return fmt.Sprintf("return %d", *b.Code)
	}
	return fmt.Sprintf("behavior(%d)", int(b.Kind))
}

// PredicateOp enumerates predicate node types.
type PredicateOp int

const (
	// Atoms over backend properties.
	PredLibraries PredicateOp = iota
	PredTypechecked
	PredGarbageCollected
	PredSafe
	PredFalse
	// PredName matches the backend implementation name, e.g. "cc0_c0vm".
	PredName
	// Connectives.
	PredNot
	PredAnd
	PredOr
)

// Predicate guards a behavior on properties of the backend under test.
type Predicate struct {
	Op   PredicateOp
	Name string     // implementation name, for PredName
	X, Y *Predicate // operands: X for Not, X and Y for And/Or
}

func (p *Predicate) String() string {
	switch p.Op {
	case PredLibraries:
		return "lib"
	case PredTypechecked:
		return "typecheck"
	case PredGarbageCollected:
		return "gc"
	case PredSafe:
		return "safe"
	case PredFalse:
		return "false"
	case PredName:
		return p.Name
	case PredNot:
		return "!" + p.X.String()
	case PredAnd:
		return p.X.String() + ", " + p.Y.String()
	case PredOr:
		return p.X.String() + " or " + p.Y.String()
	}
	return "predicate?"
}

// Properties describes a backend for predicate resolution.
type Properties struct {
	Name             string
	Libraries        bool
	Typechecked      bool
	GarbageCollected bool
	Safe             bool
}

// Match evaluates p against the backend properties.
func (props Properties) Match(p *Predicate) bool {
	switch p.Op {
	case PredLibraries:
		return props.Libraries
	case PredTypechecked:
		return props.Typechecked
	case PredGarbageCollected:
		return props.GarbageCollected
	case PredSafe:
		return props.Safe
	case PredFalse:
		return false
	case PredName:
		return props.Name == p.Name
	case PredNot:
		return !props.Match(p.X)
	case PredAnd:
		return props.Match(p.X) && props.Match(p.Y)
	case PredOr:
		return props.Match(p.X) || props.Match(p.Y)
	}
	return false
}

// Rule is one clause of a test expectation: a behavior guarded by zero or
// more predicates. Nested implications ("safe => !cc0 => div-by-zero")
// flatten into a single guard list; every guard must match for the
// behavior to apply.
type Rule struct {
	Guards   []*Predicate
	Behavior Behavior
}

func (r Rule) String() string {
	var b strings.Builder
	for _, g := range r.Guards {
		b.WriteString(g.String())
		b.WriteString(" => ")
	}
	b.WriteString(r.Behavior.String())
	return b.String()
}

// Resolve returns the behaviors whose guards all match the given backend
// properties, in rule order. An empty result means no expectation applies
// to this backend and the test is vacuously satisfied.
func Resolve(rules []Rule, props Properties) []Behavior {
	var out []Behavior
rules:
	for _, r := range rules {
		for _, g := range r.Guards {
			if !props.Match(g) {
				continue rules
			}
		}
		out = append(out, r.Behavior)
	}
	return out
}

// Test is one conformance test case, fully resolved by discovery and
// consumed read-only by a single worker.
type Test struct {
	// ID is the test path relative to the test root.
	ID string
	// Dir is the directory the test program runs in.
	Dir string
	// Sources are the C0 source files, in compile order, relative to Dir.
	Sources []string
	// Options are extra compiler options from the sources.test line.
	Options []string
	// Rules is the parsed expectation.
	Rules []Rule
}

func (t *Test) String() string {
	parts := append(append([]string{}, t.Options...), t.Sources...)
	clauses := make([]string, len(t.Rules))
	for i, r := range t.Rules {
		clauses[i] = r.String()
	}
	return fmt.Sprintf("%s: %s", strings.Join(parts, " "), strings.Join(clauses, "; "))
}

// UsesC1 reports whether any source is a C1 file.
func (t *Test) UsesC1() bool {
	for _, s := range t.Sources {
		if strings.HasSuffix(s, ".c1") {
			return true
		}
	}
	return false
}
