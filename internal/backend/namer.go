package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

// Namer hands out collision-free on-disk artifact names for concurrently
// running tests. A process-wide counter keyed into a per-run scratch
// directory is enough: no two live reservations ever share a path, and
// each reservation is released when its phase ends, on every exit path.
//
// Names chosen internally by the toolchain itself (derived from source
// file names it does not expose) are outside the Namer's reach; two
// concurrent tests sharing such a derived name can still collide inside
// the tool. That residual race belongs to the tool, not the harness.
type Namer struct {
	dir string
	n   atomic.Uint64
}

// NewNamer creates a Namer rooted at the given scratch directory.
func NewNamer(dir string) *Namer {
	return &Namer{dir: dir}
}

// Reserve returns a fresh artifact path of the form
// <dir>/<prefix><unique><suffix>.
func (n *Namer) Reserve(prefix, suffix string) *Artifact {
	id := n.n.Add(1)
	return &Artifact{
		Path: filepath.Join(n.dir, fmt.Sprintf("%s%d%s", prefix, id, suffix)),
	}
}

// Artifact is one reserved on-disk name.
type Artifact struct {
	Path string
}

// Release removes whatever the phase left at the reserved path.
// Best-effort: a file that was never created is not an error.
func (a *Artifact) Release() error {
	err := os.Remove(a.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact %s: %w", a.Path, err)
	}
	// cc0 leaves a debugging-symbol bundle next to the executable
	// on Darwin.
	if runtime.GOOS == "darwin" {
		if err := os.RemoveAll(a.Path + ".dSYM"); err != nil {
			return fmt.Errorf("removing %s.dSYM: %w", a.Path, err)
		}
	}
	return nil
}
