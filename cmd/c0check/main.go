// Command c0check runs C0 conformance-test suites against a toolchain
// backend under resource limits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/c0check"
	"github.com/deixis/c0check/internal/backend"
	"github.com/deixis/c0check/internal/config"
	"github.com/deixis/c0check/internal/discover"
	"github.com/deixis/c0check/internal/harness"
	c0mcp "github.com/deixis/c0check/internal/mcp"
	"github.com/deixis/c0check/internal/report"
	"github.com/deixis/c0check/internal/sandbox"
)

func main() {
	// When re-invoked as the sandbox shim this call never returns.
	sandbox.ExecChild()

	log.SetFlags(0)
	log.SetPrefix("c0check: ")

	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(c0check.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "c0check: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: c0check <command> [flags] <test-dir>

Commands:
  run         Run a test suite against a backend
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "c0check <command> -h" for command-specific flags.`)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	backendFlag := fs.String("backend", "cc0", "backend to test: cc0, c0vm, or coin")
	homeFlag := fs.String("c0", "", "toolchain install prefix (overrides config and $C0_HOME)")
	workersFlag := fs.Int("workers", 0, "parallel workers (default: host parallelism)")
	jsonFlag := fs.Bool("json", false, "output the report as JSON")
	verboseFlag := fs.Bool("v", false, "verbose output: debug logging and failure output dumps")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	root := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))

	rep, err := runSuite(ctx, *backendFlag, root, suiteOptions{
		home:    *homeFlag,
		workers: *workersFlag,
		logger:  logger,
		progress: func(p harness.Progress) {
			logger.Info(p.Test, "verdict", p.Verdict.String(), "outcome", p.Outcome)
		},
	})
	if err != nil {
		return err
	}

	store := report.NewCacheStore(5, report.NewDiskStore())
	if err := store.Save(rep); err != nil {
		logger.Warn("report not saved", "err", err)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Print(formatReport(rep, *verboseFlag))
	}

	if !rep.Ok() {
		os.Exit(1)
	}
	return nil
}

type suiteOptions struct {
	home     string
	workers  int
	logger   *slog.Logger
	progress func(harness.Progress)
}

// runSuite wires config, discovery, backend, and harness together for
// one run. Shared by the run command and the MCP c0_run tool.
func runSuite(ctx context.Context, kind, root string, opt suiteOptions) (*report.Report, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	home := opt.home
	if home == "" {
		home = cfg.Home()
	}
	if home == "" {
		return nil, fmt.Errorf("no toolchain configured: set c0_home in .c0check, $C0_HOME, or -c0")
	}

	workers := opt.workers
	if workers <= 0 {
		workers = cfg.Workers()
	}

	logger := opt.logger
	if logger == nil {
		logger = slog.Default()
	}

	tests, err := discover.Discover(root, logger)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("no tests found under %s", root)
	}

	runner, err := sandbox.NewRunner()
	if err != nil {
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}

	scratch, err := os.MkdirTemp("", "c0check-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	be, err := backend.New(backend.Kind(kind), home, runner, backend.NewNamer(scratch), backend.Limits{
		CompileTime:   cfg.CompileTime(),
		CompileMemory: cfg.CompileMemory(),
		TestTime:      cfg.TestTime(),
		TestMemory:    cfg.TestMemory(),
		MaxOutput:     cfg.MaxOutputBytes(),
		DenySyscalls:  cfg.Seccomp.DenySyscalls,
	})
	if err != nil {
		return nil, err
	}

	h := harness.New(be, harness.Options{
		Workers:  workers,
		Logger:   logger,
		Progress: opt.progress,
	})

	rep, err := h.Run(ctx, tests)
	if err != nil {
		return nil, err
	}
	rep.Root = root
	return rep, nil
}

func formatReport(rep *report.Report, verbose bool) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if rep.Ok() {
		w("ok\n")
	} else {
		w("FAIL\n")
	}
	w("\n%s in %s (run %s)\n", rep.Summary(), rep.Duration.Round(time.Millisecond), rep.ID)

	for _, d := range rep.Diagnostics {
		w("\n  %s: %s", d.Test, d.Verdict)
		if d.Phase != "" {
			w(" (%s phase)", d.Phase)
		}
		w("\n")
		if d.Expected != "" {
			w("    expected %s, observed %s\n", d.Expected, d.Observed)
		}
		if d.Detail != "" {
			w("    %s\n", d.Detail)
		}
		if verbose && d.Output != "" {
			w("    output: %s\n", d.Output)
		}
	}
	return string(b)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(c0mcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := report.NewCacheStore(5, report.NewDiskStore())
	run := func(ctx context.Context, kind, root string) (*report.Report, error) {
		return runSuite(ctx, kind, root, suiteOptions{
			logger: slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn})),
		})
	}
	server := c0mcp.NewServer(run, store)

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
