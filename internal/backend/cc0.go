package backend

import (
	"context"

	"github.com/deixis/c0check/internal/spec"
)

// cc0Backend compiles to native code via cc0's GCC path and runs the
// produced executable.
type cc0Backend struct {
	toolchain
}

func (b *cc0Backend) Kind() Kind { return CC0 }

func (b *cc0Backend) Properties() spec.Properties {
	return spec.Properties{
		Name:             "cc0",
		Libraries:        true,
		Typechecked:      true,
		GarbageCollected: true,
		Safe:             true,
	}
}

func (b *cc0Backend) Supports(*spec.Test) bool { return true }

func (b *cc0Backend) Run(ctx context.Context, t *spec.Test) (*Execution, error) {
	out := b.namer.Reserve("a.out", "")
	defer out.Release()

	compile, err := b.compileSources(ctx, t, "-vo", out.Path)
	if err != nil {
		return nil, err
	}
	exec := &Execution{Compile: compile}
	if !compiled(compile) {
		return exec, nil
	}

	run, ret, err := b.runProgram(ctx, t, out.Path, nil, 1)
	if err != nil {
		return nil, err
	}
	exec.Run = run
	exec.ReturnValue = ret
	return exec, nil
}
