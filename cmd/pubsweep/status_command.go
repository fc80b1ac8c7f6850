package main

import (
	"github.com/spf13/cobra"

	"pubsweep/internal/report"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		pipeline string
		jsonOut  bool
		promPath string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report completeness per pipeline and partition group without writing anything",
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
			assessment, err := o.Assess(cmd.Context(), pipeline)
			if err != nil {
				return err
			}
			r := report.Build(assessment.ReportInput(), cfg.Report.GroupPrefixLen)
			if err := exportMetrics(cfg, promPath, r); err != nil {
				return err
			}
			if jsonOut {
				return report.RenderJSON(cmd.OutOrStdout(), r)
			}
			return report.Render(cmd.OutOrStdout(), r)
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "Limit the report to one pipeline")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().StringVar(&promPath, "prom", "", "Write report gauges to a Prometheus textfile (default: report.prometheus_textfile)")
	return cmd
}
