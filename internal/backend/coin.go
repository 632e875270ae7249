package backend

import (
	"context"

	"github.com/deixis/c0check/internal/spec"
)

// coinBackend interprets sources directly; there is no compile phase,
// so compile-time errors surface in the run phase as exit code 2.
type coinBackend struct {
	toolchain
}

func (b *coinBackend) Kind() Kind { return Coin }

func (b *coinBackend) Properties() spec.Properties {
	return spec.Properties{
		Name:        "coin",
		Libraries:   true,
		Typechecked: true,
		Safe:        true,
	}
}

// Supports excludes C1 sources; the interpreter only handles C0.
func (b *coinBackend) Supports(t *spec.Test) bool {
	return !t.UsesC1()
}

func (b *coinBackend) Run(ctx context.Context, t *spec.Test) (*Execution, error) {
	args := append(append([]string{}, t.Options...), t.Sources...)

	run, ret, err := b.runProgram(ctx, t, b.bin("bin", "coin-exec"), args, 2)
	if err != nil {
		return nil, err
	}
	return &Execution{Run: run, ReturnValue: ret}, nil
}
