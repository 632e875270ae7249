// Package discover walks a test-suite directory tree and resolves each
// test case into a structured record: sources, compiler options, and the
// parsed expectation.
//
// The root directory contains one subdirectory per test group. A group
// either carries a sources.test file (one multi-file test per line,
// "<options and sources> : <specs>") or holds standalone test files whose
// first line is a //test expectation.
package discover

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deixis/c0check/internal/spec"
)

// Discover resolves every test case under root. Unreadable groups and
// malformed expectations are logged and skipped; only a missing root is
// an error.
func Discover(root string, logger *slog.Logger) ([]*spec.Test, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("opening test root %s: %w", root, err)
	}

	var tests []*spec.Test
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		group, err := discoverGroup(root, dir, logger)
		if err != nil {
			logger.Warn("skipping test group", "dir", entry.Name(), "err", err)
			continue
		}
		tests = append(tests, group...)
	}

	// Deterministic order makes reruns comparable.
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })
	return tests, nil
}

func discoverGroup(root, dir string, logger *slog.Logger) ([]*spec.Test, error) {
	sourcesPath := filepath.Join(dir, "sources.test")
	if _, err := os.Stat(sourcesPath); err == nil {
		return readSourcesFile(root, dir, sourcesPath)
	}
	return readTestFiles(root, dir, logger)
}

// readSourcesFile parses a sources.test file: one test per line, the
// sources and compiler options before the colon, the expectation after.
func readSourcesFile(root, dir, path string) ([]*spec.Test, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	relDir, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, err
	}

	var tests []*spec.Test
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		test, err := parseSourcesLine(dir, line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno, err)
		}
		test.ID = fmt.Sprintf("%s/sources.test:%d", relDir, lineno)
		tests = append(tests, test)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return tests, nil
}

func parseSourcesLine(dir, line string) (*spec.Test, error) {
	invocation, expectation, found := strings.Cut(line, ":")
	if !found {
		return nil, errors.New("missing ':' between sources and expectation")
	}

	rules, err := spec.Parse(expectation)
	if err != nil {
		return nil, err
	}

	test := &spec.Test{Dir: dir, Rules: rules}
	for _, tok := range strings.Fields(invocation) {
		if strings.HasPrefix(tok, "-") {
			test.Options = append(test.Options, tok)
		} else {
			test.Sources = append(test.Sources, tok)
		}
	}
	if len(test.Sources) == 0 {
		return nil, errors.New("no source files before ':'")
	}
	return test, nil
}

// readTestFiles treats every C0/C1 file in dir whose first line carries
// the //test marker as a single-file test.
func readTestFiles(root, dir string, logger *slog.Logger) ([]*spec.Test, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("opening test group %s: %w", dir, err)
	}

	var tests []*spec.Test
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isTestSource(name) {
			continue
		}
		path := filepath.Join(dir, name)

		rules, err := readSpecLine(path)
		if err != nil {
			if !errors.Is(err, spec.ErrNoMarker) {
				logger.Warn("skipping test file", "file", path, "err", err)
			}
			continue
		}

		id, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		tests = append(tests, &spec.Test{
			ID:      id,
			Dir:     dir,
			Sources: []string{name},
			Rules:   rules,
		})
	}
	return tests, nil
}

func readSpecLine(path string) ([]spec.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty file", spec.ErrNoMarker)
	}
	return spec.ParseLine(scanner.Text())
}

func isTestSource(name string) bool {
	switch filepath.Ext(name) {
	case ".c0", ".c1":
		return true
	}
	return false
}
