// Command kcoresim runs heap and scheduler scenarios against the kernel
// packages on the host. Scenarios are YAML documents; see testdata/ for
// examples.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
)

func buildLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func errAttr(err error) slog.Attr {
	return slog.Any("error", err)
}

// scenarioURL turns plain file paths into file URLs. URLs with a scheme are
// returned unchanged.
func scenarioURL(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return arg, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func main() {
	var (
		traceFile = flag.String("trace", "", "write OpenTelemetry spans to `file`")
		verbose   = flag.Bool("v", false, "print the task that runs after every tick")
		logLevel  = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: kcoresim [flags] scenario.yaml...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "[kcoresim] error: %s\n", err.Error())
		os.Exit(2)
	}
	logger := buildLogger(os.Stderr, level)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	shutdown, err := initTracing(ctx, *traceFile)
	if err != nil {
		logger.Error("failed to initialize tracing", errAttr(err))
		os.Exit(1)
	}

	runner := NewRunner(afs.New(), os.Stdout, logger, WithVerbose(*verbose))

	var failed int
	for _, arg := range flag.Args() {
		URL, err := scenarioURL(arg)
		if err == nil {
			_, err = runner.RunURL(ctx, URL)
		}
		if err != nil {
			logger.Error("scenario failed", slog.String("scenario", arg), errAttr(err))
			failed++
		}
	}

	if err := shutdown(ctx); err != nil {
		logger.Warn("failed to flush traces", errAttr(err))
	}

	if failed != 0 {
		os.Exit(1)
	}
}
