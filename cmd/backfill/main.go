// Command backfill copies one month of traces and observations into the
// wide events table, resuming from the checkpoint file when restarted.
//
//	backfill run --partition 202511
//	backfill validate --config backfill.json
//	backfill cursor show --partition 202511
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"backfill/internal/config"
	"backfill/internal/pipeline"

	// register all backends with the storage factory.
	_ "backfill/internal/storage/all"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// flags are the CLI overrides; a flag only applies when set explicitly.
type flags struct {
	configPath     string
	partition      string
	batchSize      int
	pageSize       int
	dryRun         bool
	maxRetries     int
	cursorFile     string
	resetCursor    bool
	noProgress     bool
	metricsBackend string
	pushgatewayURL string
	statsdAddr     string
	logMode        string
	verbose        bool
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code != exitInterrupted {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrInterrupted):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "backfill",
		Short:         "Resumable backfill of observations into the events table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "optional JSON config file")
	root.PersistentFlags().StringVar(&f.partition, "partition", "", "partition to process (YYYYMM); overrides PARTITION")
	root.PersistentFlags().StringVar(&f.cursorFile, "cursor-file", "", "checkpoint file; overrides CURSOR_FILE")
	root.PersistentFlags().StringVar(&f.logMode, "log-mode", "", "log format: prod or dev")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logs")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill one partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve(cmd, f)
			if err != nil {
				failed := pipeline.Summary{Partition: cfg.Partition, DryRun: cfg.Runtime.DryRun, State: pipeline.StateFailed}
				_, _ = failed.WriteTo(cmd.OutOrStdout())
				return err
			}
			return runFn(cmd.Context(), cfg, runOptions{
				resetCursor: f.resetCursor,
				stdout:      cmd.OutOrStdout(),
				stderr:      cmd.ErrOrStderr(),
			})
		},
	}
	runCmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "events per insert; overrides BATCH_SIZE")
	runCmd.Flags().IntVar(&f.pageSize, "page-size", 0, "observations per page; overrides STREAM_BLOCK_SIZE")
	runCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "transform without inserting or saving the cursor")
	runCmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "insert attempts per batch; overrides MAX_RETRIES")
	runCmd.Flags().BoolVar(&f.resetCursor, "reset-cursor", false, "forget the saved checkpoint and start from the beginning")
	runCmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")
	runCmd.Flags().StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog")
	runCmd.Flags().StringVar(&f.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	runCmd.Flags().StringVar(&f.statsdAddr, "statsd-addr", "", "DogStatsD address (overrides env DD_AGENT_ADDR)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			issues := config.Validate(cfg)
			printIssues(cmd.ErrOrStderr(), issues)
			if config.HasErrors(issues) {
				return config.Error.New("configuration is invalid")
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
			return err
		},
	}

	cursorCmd := &cobra.Command{Use: "cursor", Short: "Inspect checkpoints"}
	cursorCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the saved checkpoint of a partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			return showCursor(cmd.OutOrStdout(), cfg)
		},
	})

	root.AddCommand(runCmd, validateCmd, cursorCmd)
	return root
}

// load merges defaults, the config file, the environment and the flags.
func load(cmd *cobra.Command, f flags) (config.Backfill, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("partition") {
		cfg.Partition = f.partition
	}
	if set("cursor-file") {
		cfg.Cursor.File = f.cursorFile
	}
	if set("log-mode") {
		cfg.Log.Mode = f.logMode
	}
	if set("verbose") {
		cfg.Log.Verbose = f.verbose
	}
	if set("batch-size") {
		cfg.Runtime.BatchSize = f.batchSize
	}
	if set("page-size") {
		cfg.Runtime.PageSize = f.pageSize
	}
	if set("dry-run") {
		cfg.Runtime.DryRun = f.dryRun
	}
	if set("max-retries") {
		cfg.Runtime.MaxRetries = f.maxRetries
	}
	if set("no-progress") {
		cfg.Runtime.Progress = !f.noProgress
	}
	if set("metrics-backend") {
		cfg.Metrics.Backend = f.metricsBackend
	}
	if set("pushgateway-url") {
		cfg.Metrics.PushgatewayURL = f.pushgatewayURL
	}
	if set("statsd-addr") {
		cfg.Metrics.StatsdAddr = f.statsdAddr
	}
	return cfg, nil
}

// resolve loads the configuration and fails on blocking issues.
func resolve(cmd *cobra.Command, f flags) (config.Backfill, error) {
	cfg, err := load(cmd, f)
	if err != nil {
		return cfg, err
	}
	issues := config.Validate(cfg)
	printIssues(cmd.ErrOrStderr(), issues)
	if config.HasErrors(issues) {
		return cfg, config.Error.New("configuration is invalid")
	}
	return cfg, nil
}
