package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pubsweep/internal/config"
	"pubsweep/internal/registry"
	"pubsweep/internal/scanner"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var (
		pipelineName    string
		filter          registry.Filter
		inconsistencies bool
		jsonOut         bool
	)

	cmd := &cobra.Command{
		Use:   "items",
		Short: "Query recorded item status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				if inconsistencies {
					return printInconsistencies(cmd, store, pipelineName, jsonOut)
				}
				pipelines, err := cfg.SelectPipelines(pipelineName)
				if err != nil {
					return err
				}
				summaries := make([]registry.StatusSummary, 0, len(pipelines))
				for _, p := range pipelines {
					summary, err := store.QueryStatus(cmd.Context(), p.Name, filter)
					if err != nil {
						return err
					}
					summaries = append(summaries, summary)
				}
				if jsonOut {
					return writeJSON(cmd, summaries)
				}

				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{
						s.Pipeline,
						strconv.Itoa(s.Total),
						strconv.Itoa(s.Complete),
						strconv.Itoa(s.Failed),
						strconv.Itoa(s.Pending),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Pipeline", "Items", "Complete", "Failed", "Pending"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				if !filter.WithIDs {
					return nil
				}
				for _, s := range summaries {
					for _, status := range []registry.Status{registry.StatusPending, registry.StatusFailed, registry.StatusComplete} {
						ids := s.IDs[status]
						if len(ids) == 0 {
							continue
						}
						fmt.Fprintf(out, "\n%s %s (%d shown):\n", s.Pipeline, status, len(ids))
						for _, id := range ids {
							fmt.Fprintln(out, id)
						}
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Limit the query to one pipeline")
	cmd.Flags().StringVar(&filter.PartitionID, "partition", "", "Only items registered from this partition")
	cmd.Flags().StringVar(&filter.IDPrefix, "prefix", "", "Only item IDs starting with this prefix")
	cmd.Flags().StringVar(&filter.IDFrom, "from", "", "Only item IDs >= this value")
	cmd.Flags().StringVar(&filter.IDTo, "to", "", "Only item IDs < this value")
	cmd.Flags().BoolVar(&filter.WithIDs, "ids", false, "List matching item IDs per status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum IDs listed per status with --ids")
	cmd.Flags().BoolVar(&inconsistencies, "inconsistencies", false, "List complete items later observed without output")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func printInconsistencies(cmd *cobra.Command, store *registry.Store, pipeline string, jsonOut bool) error {
	found, err := store.Inconsistencies(cmd.Context(), pipeline)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(cmd, inconsistenciesJSON(found))
	}
	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, "No inconsistencies recorded")
		return nil
	}
	rows := make([][]string, 0, len(found))
	for _, inc := range found {
		rows = append(rows, []string{
			inc.Pipeline,
			inc.ItemID,
			string(inc.RecordedStatus),
			string(inc.ObservedStatus),
			inc.ObservedAt.Local().Format("2006-01-02 15:04"),
			inc.Detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Pipeline", "Item", "Recorded", "Observed", "When", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var pipelineName string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Mark the item IDs found in output artifacts complete",
		Long: `Ingest reads the item ID column of each artifact (parquet, CSV, TSV or
JSON lines, optionally gzipped) and marks those items complete for the
pipeline, with the artifact path as provenance.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				pipeline, err := requirePipeline(cfg, pipelineName)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				var total int64
				for _, path := range args {
					ids, err := scanner.ReadIDs(path)
					if err != nil {
						return fmt.Errorf("read ids from %s: %w", path, err)
					}
					n, err := store.MarkProcessed(cmd.Context(), pipeline, ids, path)
					if err != nil {
						return err
					}
					total += n
					fmt.Fprintf(out, "%s: %d ids, %d newly complete\n", path, len(ids), n)
				}
				if len(args) > 1 {
					fmt.Fprintf(out, "Total newly complete: %d\n", total)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Pipeline the artifacts belong to (required)")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func newMarkFailedCommand(ctx *commandContext) *cobra.Command {
	var (
		pipelineName string
		reason       string
		fromFile     string
	)

	cmd := &cobra.Command{
		Use:   "mark-failed [ID...]",
		Short: "Record items as permanently unprocessable",
		Long: `Failed items are excluded from the expected count of their chunk, so a
chunk missing only failed items is complete. Complete items are never
downgraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				pipeline, err := requirePipeline(cfg, pipelineName)
				if err != nil {
					return err
				}
				if strings.TrimSpace(reason) == "" {
					return errors.New("--reason is required")
				}
				ids := append([]string(nil), args...)
				if fromFile != "" {
					fileIDs, err := scanner.ReadIDs(fromFile)
					if err != nil {
						return fmt.Errorf("read ids from %s: %w", fromFile, err)
					}
					ids = append(ids, fileIDs...)
				}
				if len(ids) == 0 {
					return errors.New("no item IDs given")
				}
				n, err := store.MarkFailed(cmd.Context(), pipeline, ids, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d of %d items failed\n", n, len(ids))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Pipeline the items failed in (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the items cannot be processed (required)")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read additional IDs from a file")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func requirePipeline(cfg *config.Config, name string) (string, error) {
	p, ok := cfg.Pipeline(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", config.ErrUnknownPipeline, name)
	}
	return p.Name, nil
}
