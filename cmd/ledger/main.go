package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"dailyledger/internal/cli"
	applog "dailyledger/internal/log"
	"dailyledger/internal/metrics"
	"dailyledger/internal/services"
)

func main() {
	name, cmd, args, code, ok := resolve(os.Args[1:], os.Stdout, os.Stderr)
	if !ok {
		os.Exit(code)
	}

	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	m := metrics.New()
	classifier := cli.InitClassifier(logger, cfg)
	res := cli.InitBackend(ctx, logger, cfg, m)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", applog.FieldError, err)
		os.Exit(1)
	}

	opts := []services.Option{
		services.WithMetrics(m),
		services.WithLocation(loc),
	}
	if res.Publisher != nil {
		opts = append(opts, services.WithPublisher(res.Publisher))
	}

	env := &environment{
		svc:     services.NewLedgerService(res.Store, classifier, opts...),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		out:     os.Stdout,
		in:      os.Stdin,
	}

	err = cmd.run(ctx, env, args)

	cli.FlushMetrics(logger, m, cfg.MetricsTextfile)
	if cerr := res.Cleanup(); cerr != nil {
		logger.Warn("Cleanup failed", applog.FieldError, cerr)
	}
	if err != nil {
		logger.Error("Command failed", "command", name, applog.FieldError, err)
		os.Exit(1)
	}
}

// resolve picks the command named by argv before any configuration is read.
// When ok is false the caller exits with code: 0 after help, 2 for a
// missing or unknown command.
func resolve(argv []string, stdout, stderr io.Writer) (name string, cmd command, args []string, code int, ok bool) {
	if len(argv) < 1 {
		usage(stderr)
		return "", command{}, nil, 2, false
	}
	name, args = argv[0], argv[1:]
	if name == "help" || name == "-h" || name == "--help" {
		usage(stdout)
		return name, command{}, nil, 0, false
	}
	cmd, found := commands[name]
	if !found {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(stderr)
		return name, command{}, nil, 2, false
	}
	return name, cmd, args, 0, true
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledger <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-11s %s\n", n, commands[n].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from the environment and an optional .env file.")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
