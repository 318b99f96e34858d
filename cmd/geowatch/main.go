// Package main provides the geowatch command: one-shot analyses over
// stdin/stdout, and an HTTP serve mode running the same pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/geowatch/geowatch/internal/config"
	"github.com/geowatch/geowatch/internal/job"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "geowatch"

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(a.stderr, "geowatch:", err)
		os.Exit(1)
	}
	os.Exit(a.exitCode)
}

// app carries process-wide state shared by the commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	envFiles []string
	exitCode int
	logger   zerolog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: newLogger(stderr, config.LogConfig{Level: "info", Format: "json"}),
	}
}

// load reads the configuration and rebuilds the logger from it. On failure
// the default logger is kept.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return nil, err
	}
	a.logger = newLogger(a.stderr, cfg.Log).With().Str("env", cfg.Environment).Logger()
	return cfg, nil
}

// report writes env as the only stdout document and sets the exit code.
func (a *app) report(env job.Envelope) error {
	a.exitCode = job.ExitCode(env)
	return job.Write(a.stdout, env)
}

// reportFlagError answers an unparsable analysis invocation with an
// envelope instead of a cobra error. A credentials path starting with "-"
// must follow "--".
func (a *app) reportFlagError(cmd *cobra.Command, err error) error {
	a.logger.Error().Err(err).Str("command", cmd.Name()).Msg("invalid arguments")
	return a.report(job.ArgumentEnvelope(job.UsageError(err)))
}

func newLogger(w io.Writer, cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "geowatch <analysis> <credentials_file_path>",
		Short: "Run environmental change analyses on Earth Engine",
		Long: `geowatch reads one job request from stdin, runs the named analysis and
writes a single JSON envelope to stdout. The exit code is 0 on success.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			a.logger.Error().Str("analysis", name).Msg("missing or unknown analysis type")
			return a.report(job.ArgumentEnvelope(job.UnknownKindError(name)))
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		if cmd == root {
			return a.reportFlagError(cmd, err)
		}
		return err
	})
	root.SetOut(a.stderr)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default: ./.env when present)")

	for _, kind := range job.Kinds() {
		root.AddCommand(newAnalysisCmd(a, kind))
	}
	root.AddCommand(newServeCmd(a), newTokenCmd(a), newVersionCmd(a))
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "geowatch %s (built %s)\n", Version, BuildTime)
		},
	}
}
