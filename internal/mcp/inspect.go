package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/c0check/internal/report"
)

type reportParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a c0_run result"`
}

func (h *handler) reportHandler(ctx context.Context, req *mcp.CallToolRequest, params reportParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	rep, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatRunOutput(rep))
}

type failuresParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a c0_run result"`
	Test  string `json:"test,omitempty" jsonschema:"optional test identifier to show only that test"`
}

func (h *handler) failuresHandler(ctx context.Context, req *mcp.CallToolRequest, params failuresParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	rep, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	diagnostics := rep.Diagnostics
	if params.Test != "" {
		diagnostics = rep.ByTest(params.Test)
		if len(diagnostics) == 0 {
			return textResult(fmt.Sprintf("No diagnostics for %s in run %s.", params.Test, params.RunID))
		}
	}
	if len(diagnostics) == 0 {
		return textResult(fmt.Sprintf("Run %s has no failures: %s.", params.RunID, rep.Summary()))
	}

	return textResult(formatFailures(rep, diagnostics))
}

func formatFailures(rep *report.Report, diagnostics []report.Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", rep.ID, rep.Backend)

	for _, d := range diagnostics {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%s — %s", d.Test, strings.ToUpper(d.Verdict))
		if d.Phase != "" {
			fmt.Fprintf(&b, " (%s phase)", d.Phase)
		}
		fmt.Fprintln(&b)

		if d.Expected != "" {
			fmt.Fprintf(&b, "  expected: %s\n", d.Expected)
		}
		if d.Observed != "" {
			fmt.Fprintf(&b, "  observed: %s\n", d.Observed)
		}
		if d.Detail != "" {
			fmt.Fprintf(&b, "  detail: %s\n", d.Detail)
		}
		if d.Output != "" {
			fmt.Fprintln(&b, "  output:")
			for _, line := range strings.Split(strings.TrimRight(d.Output, "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return b.String()
}
