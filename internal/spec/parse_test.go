package spec

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, input string) []Rule {
	t.Helper()
	rules, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return rules
}

func TestParse_Behaviors(t *testing.T) {
	tests := []struct {
		input string
		want  Behavior
	}{
		{"error", Behavior{Kind: CompileError}},
		{"runs", Behavior{Kind: Runs}},
		{"infloop", Behavior{Kind: InfiniteLoop}},
		{"abort", Behavior{Kind: Abort}},
		{"failure", Behavior{Kind: Failure}},
		{"segfault", Behavior{Kind: Segfault}},
		{"div-by-zero", Behavior{Kind: DivZero}},
		{"return *", RetAny()},
		{"return 5", Ret(5)},
		{"return -12", Ret(-12)},
		{"return 0xff", Ret(255)},
	}
	for _, tt := range tests {
		rules := mustParse(t, tt.input)
		if len(rules) != 1 {
			t.Fatalf("Parse(%q) = %d rules, want 1", tt.input, len(rules))
		}
		if got := rules[0].Behavior; !got.Matches(tt.want) || !tt.want.Matches(got) {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
		}
		if len(rules[0].Guards) != 0 {
			t.Errorf("Parse(%q) has %d guards, want 0", tt.input, len(rules[0].Guards))
		}
	}
}

func TestParse_Guards(t *testing.T) {
	rules := mustParse(t, "safe, typecheck => return 5")
	if len(rules) != 1 || len(rules[0].Guards) != 1 {
		t.Fatalf("got %+v, want one rule with one guard", rules)
	}
	g := rules[0].Guards[0]
	if g.Op != PredAnd || g.X.Op != PredSafe || g.Y.Op != PredTypechecked {
		t.Errorf("guard = %s, want safe, typecheck", g)
	}
}

func TestParse_NestedImplication(t *testing.T) {
	rules := mustParse(t, "safe => !cc0_c0vm => div-by-zero")
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	r := rules[0]
	if len(r.Guards) != 2 {
		t.Fatalf("got %d guards, want 2", len(r.Guards))
	}
	if r.Guards[0].Op != PredSafe {
		t.Errorf("first guard = %s, want safe", r.Guards[0])
	}
	if r.Guards[1].Op != PredNot || r.Guards[1].X.Op != PredName || r.Guards[1].X.Name != "cc0_c0vm" {
		t.Errorf("second guard = %s, want !cc0_c0vm", r.Guards[1])
	}
	if r.Behavior.Kind != DivZero {
		t.Errorf("behavior = %s, want div-by-zero", r.Behavior)
	}
}

func TestParse_MultipleClauses(t *testing.T) {
	rules := mustParse(t, "safe => segfault; !safe => runs")
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Behavior.Kind != Segfault || rules[1].Behavior.Kind != Runs {
		t.Errorf("behaviors = %s, %s", rules[0].Behavior, rules[1].Behavior)
	}
}

func TestParse_OrBindsLooserThanAnd(t *testing.T) {
	rules := mustParse(t, "lib, safe or gc => runs")
	g := rules[0].Guards[0]
	// "lib, safe or gc" must parse as (lib, safe) or gc.
	if g.Op != PredOr {
		t.Fatalf("top-level op = %s, want or", g)
	}
	if g.X.Op != PredAnd {
		t.Errorf("left of or = %s, want lib, safe", g.X)
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		"",
		"safe",
		"safe =>",
		"safe return 5",
		"return",
		"return x",
		"segfault; ",
		"=> runs",
		"safe => => runs",
	}
	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestParseLine(t *testing.T) {
	rules, err := ParseLine("//test cc0 or coin => return 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 || rules[0].Behavior.Kind != Return {
		t.Errorf("got %+v", rules)
	}

	_, err = ParseLine("#include <stdio.h>")
	if !errors.Is(err, ErrNoMarker) {
		t.Errorf("err = %v, want ErrNoMarker", err)
	}
}
