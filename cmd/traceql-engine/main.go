package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/traceql-engine/pkg/config"
	"github.com/grafana/traceql-engine/pkg/session"
	"github.com/grafana/traceql-engine/tempodb/backend"
	"github.com/grafana/traceql-engine/tempodb/backend/local"
	"github.com/grafana/traceql-engine/tempodb/backend/s3"
)

var (
	configFile  string
	execQuery   string
	backendName string
	localPath   string
	tenantID    string
	listBlocks  bool
	searchName  string
	searchLimit int
	logLevel    string
)

func init() {
	flag.StringVar(&configFile, "config", "", "path to TOML configuration file")
	flag.StringVar(&execQuery, "exec", "", "compile and print one query, then exit")
	flag.StringVar(&backendName, "backend", "local", "backend to connect to (local/s3)")
	flag.StringVar(&localPath, "path", "", "root directory for the local backend")
	flag.StringVar(&tenantID, "tenant-id", "single-tenant", "tenant that contains the blocks")
	flag.BoolVar(&listBlocks, "list-blocks", false, "list discovered blocks and exit")
	flag.StringVar(&searchName, "search", "", "scan blocks for spans with this exact name and exit")
	flag.IntVar(&searchLimit, "limit", 0, "max spans to return for -search (0 = unlimited)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug/info/warn/error)")
}

func main() {
	flag.Parse()

	logger := newLogger(logLevel)
	ctx := context.Background()

	if execQuery != "" {
		if err := printCompiled(execQuery); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if listBlocks || searchName != "" {
		reader, err := newBackend(logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error creating backend:", err)
			os.Exit(1)
		}
		defer reader.Shutdown()

		var cmdErr error
		if listBlocks {
			cmdErr = runListBlocks(ctx, reader, logger)
		} else {
			cmdErr = runSearch(ctx, reader, searchName, searchLimit, logger)
		}
		if cmdErr != nil {
			fmt.Fprintln(os.Stderr, "error:", cmdErr)
			os.Exit(1)
		}
		return
	}

	repl()
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	switch lvl {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func newBackend(logger log.Logger) (backend.Reader, error) {
	switch backendName {
	case "local":
		if localPath == "" {
			return nil, fmt.Errorf("-path is required for the local backend")
		}
		return local.New(&local.Config{Path: localPath})
	case "s3":
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return s3.New(cfg.S3BackendConfig(), logger)
	}
	return nil, fmt.Errorf("unknown backend %q", backendName)
}

// printCompiled resolves the front-door syntax and prints the SQL the
// engine would execute.
func printCompiled(query string) error {
	sql, err := session.ToSQL(query)
	if err != nil {
		return err
	}
	fmt.Println(sql)
	return nil
}

func repl() {
	fmt.Println("traceql-engine REPL")
	fmt.Println("Type 'exit' or 'quit' to exit, '\\h' for help")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("traceql> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return
		case "\\h":
			printHelp()
			continue
		}

		if err := printCompiled(line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  exit, quit     - exit the REPL")
	fmt.Println("  \\h             - show this help message")
	fmt.Println("  {<TraceQL>}    - compile a TraceQL expression to SQL")
	fmt.Println("  |<TraceQL>     - compile a pipeline-prefixed TraceQL query")
	fmt.Println("  <SQL>          - pass SQL through unchanged")
	fmt.Println()
	fmt.Println("Example queries:")
	fmt.Println(`  { span.http.method = "GET" }`)
	fmt.Println(`  { duration > 100ms }`)
	fmt.Println(`  { } | count() > 3`)
}
