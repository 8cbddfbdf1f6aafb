// Command pipeline runs the economic indicator ETL.
//
//	pipeline [run] [-config path]   execute once, print the report, exit 1 on failure
//	pipeline serve [-config path]   serve health, reports, runs and metrics over HTTP
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"econetl/internal/app"
	"econetl/internal/config"
	"econetl/internal/infrastructure"
	"econetl/pkg/contracts/domain"
)

const (
	commandRun   = "run"
	commandServe = "serve"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	command    string
	configPath string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	opts := options{command: commandRun}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		opts.command = args[0]
		args = args[1:]
	}
	if opts.command != commandRun && opts.command != commandServe {
		return opts, fmt.Errorf("unknown command %q, want %s or %s", opts.command, commandRun, commandServe)
	}

	fs := flag.NewFlagSet("pipeline "+opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML configuration (defaults to configs/pipeline.yaml when present)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		slog.Error("application_init_failed", slog.String("error", err.Error()))
		return 1
	}
	defer infrastructure.CloseLogFile()

	if opts.command == commandServe {
		if err := application.Serve(ctx); err != nil {
			application.Logger.Error("serve_failed", slog.String("error", err.Error()))
			return 1
		}
		return 0
	}

	report, runErr := application.RunOnce(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
	defer cancel()
	if err := application.Close(closeCtx); err != nil {
		application.Logger.Warn("shutdown_incomplete", slog.String("error", err.Error()))
	}

	if err := writeReport(stdout, report); err != nil {
		fmt.Fprintf(stderr, "failed to write report: %v\n", err)
		return 1
	}
	return exitCode(report, runErr)
}

func writeReport(w io.Writer, report *domain.ExecutionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func exitCode(report *domain.ExecutionReport, runErr error) int {
	if runErr != nil || report == nil || report.PipelineStatus == domain.PipelineStatusFailed {
		return 1
	}
	return 0
}
