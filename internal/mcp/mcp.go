// Package mcp exposes the harness over the Model Context Protocol so
// agents can run suites and drill into saved reports.
package mcp

import (
	"context"
	_ "embed"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/c0check"
	"github.com/deixis/c0check/internal/report"
)

//go:embed instructions.md
var Instructions string

// RunFunc executes a test suite against the named backend under root
// and returns the finished report. The CLI wires the real harness in;
// tests substitute a stub.
type RunFunc func(ctx context.Context, backend, root string) (*report.Report, error)

// handler holds shared dependencies for all tool handlers.
type handler struct {
	run   RunFunc
	store report.Store
}

// NewServer creates an MCP server with all c0check tools registered.
func NewServer(run RunFunc, store report.Store) *mcp.Server {
	h := &handler{run: run, store: store}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "c0check", Version: c0check.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "c0_run",
		Description: `Run a C0 conformance-test suite against one backend.

Backends: cc0 (native compiler), c0vm (bytecode VM), coin (interpreter).
Returns a run ID and the pass/fail/timeout/error counts. The report is
stored for drill-down via c0_failures. Large suites can take minutes.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "c0_report",
		Description: "Summarise a saved run by its run ID: backend, suite root, counts, and the failing test identifiers.",
	}, h.reportHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "c0_failures",
		Description: `Drill into the non-passing tests of a saved run.

Use the run_id from a c0_run result. Optionally pass a test identifier
to see only that test's diagnostics, including its captured output.`,
	}, h.failuresHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
