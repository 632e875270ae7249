package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/c0check/internal/backend"
	"github.com/deixis/c0check/internal/report"
)

type runParams struct {
	Backend string `json:"backend" jsonschema:"backend to test: cc0, c0vm, or coin"`
	Root    string `json:"root" jsonschema:"directory holding the test suite"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if params.Root == "" {
		return errorResult("root is required")
	}
	if !slices.Contains(backend.Kinds, backend.Kind(params.Backend)) {
		return errorResult(fmt.Sprintf("unknown backend %q (want cc0, c0vm, or coin)", params.Backend))
	}

	rep, err := h.run(ctx, params.Backend, params.Root)
	if err != nil {
		return errorResult(fmt.Sprintf("Run failed: %v", err))
	}
	if err := h.store.Save(rep); err != nil {
		return errorResult(fmt.Sprintf("Run finished but could not be saved: %v", err))
	}

	return textResult(formatRunOutput(rep))
}

func formatRunOutput(rep *report.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", rep.ID, rep.Backend)
	fmt.Fprintf(&b, "Suite: %s, %d tests in %s\n", rep.Root, rep.Scheduled(), rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Result: %s\n", rep.Summary())

	if rep.Ok() {
		b.WriteString("\nAll tests passed.\n")
		return b.String()
	}

	b.WriteString("\nNon-passing tests (use c0_failures for details):\n")
	const limit = 25
	for i, d := range rep.Diagnostics {
		if i == limit {
			fmt.Fprintf(&b, "  ... and %d more\n", len(rep.Diagnostics)-limit)
			break
		}
		fmt.Fprintf(&b, "  %-7s %s\n", d.Verdict, d.Test)
	}
	return b.String()
}
