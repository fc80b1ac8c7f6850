package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pubsweep/internal/config"
	"pubsweep/internal/logging"
	"pubsweep/internal/orchestrate"
	"pubsweep/internal/report"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		opts     orchestrate.RunOptions
		promPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one orchestration pass and write a retry submission file",
		Long: `Run registers manifests, measures every chunk's output, classifies
completeness and writes the incomplete chunks that are not already queued or
recently emitted to a submission file. The report is printed on stdout and the
submission file paths follow it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			o, err := ctx.orchestrator(cmd)
			if err != nil {
				return err
			}
			res, err := o.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := report.Render(out, res.Report); err != nil {
				return err
			}
			printRunResult(out, res)
			return exportMetrics(cfg, promPath, res.Report)
		},
	}

	cmd.Flags().StringVarP(&opts.Pipeline, "pipeline", "p", "", "Limit the pass to one pipeline")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Classify and print descriptors without writing anything")
	cmd.Flags().StringVarP(&opts.OutPath, "out", "o", "", "Submission file path (default: a new file under paths.submission_dir)")
	cmd.Flags().StringVar(&promPath, "prom", "", "Write report gauges to a Prometheus textfile (default: report.prometheus_textfile)")
	return cmd
}

func printRunResult(out io.Writer, res orchestrate.RunResult) {
	fmt.Fprintln(out)
	if res.Inconsistencies > 0 {
		fmt.Fprintf(out, "Recorded %d status inconsistencies; see `pubsweep items --inconsistencies`\n", res.Inconsistencies)
	}
	if len(res.Descriptors) == 0 {
		fmt.Fprintln(out, "No retries needed")
		return
	}
	if res.DryRun {
		fmt.Fprintf(out, "Dry run: %d descriptors in %d units (nothing written)\n", len(res.Descriptors), len(res.Units))
		for _, unit := range res.Units {
			fmt.Fprintln(out, unit.Line())
		}
		return
	}
	fmt.Fprintf(out, "Batch %s: %d descriptors in %d units\n", res.BatchID, len(res.Descriptors), len(res.Units))
	for _, path := range res.SubmissionPaths {
		fmt.Fprintln(out, path)
	}
}

// exportMetrics writes the Prometheus textfile when a path is given by flag
// or config.
func exportMetrics(cfg *config.Config, flagPath string, r report.Report) error {
	path := strings.TrimSpace(flagPath)
	if path == "" {
		path = cfg.Report.PrometheusTextfile
	}
	if path == "" {
		return nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return fmt.Errorf("resolve textfile path: %w", err)
	}
	return report.WritePrometheus(expanded, r)
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		opts     orchestrate.WatchOptions
		promPath string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run orchestration passes on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			o, err := ctx.orchestrator(cmd)
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			opts.OnPass = func(res orchestrate.RunResult, err error) {
				if err != nil {
					return
				}
				fmt.Fprintln(out, summarizePass(time.Now(), res))
				if err := exportMetrics(cfg, promPath, res.Report); err != nil {
					logger.Warn("metrics export failed", logging.Error(err))
				}
			}
			return o.Watch(runCtx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Pipeline, "pipeline", "p", "", "Limit passes to one pipeline")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Classify without writing anything")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "Cron spec or descriptor such as \"@every 30m\" (default: watch.schedule)")
	cmd.Flags().BoolVar(&opts.Immediate, "now", true, "Run one pass immediately before the first tick")
	cmd.Flags().StringVar(&promPath, "prom", "", "Write report gauges to a Prometheus textfile after each pass")
	return cmd
}

func summarizePass(at time.Time, res orchestrate.RunResult) string {
	parts := make([]string, 0, len(res.Report.Pipelines)+1)
	for _, p := range res.Report.Pipelines {
		parts = append(parts, fmt.Sprintf("%s %.1f%% complete", p.Name, p.Total.Percent(p.Total.Complete)))
	}
	parts = append(parts, fmt.Sprintf("%d descriptors", len(res.Descriptors)))
	if len(res.SubmissionPaths) > 0 {
		parts = append(parts, strings.Join(res.SubmissionPaths, " "))
	}
	return at.Format("2006-01-02 15:04:05") + "  " + strings.Join(parts, ", ")
}
