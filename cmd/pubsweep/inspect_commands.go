package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pubsweep/internal/config"
	"pubsweep/internal/manifest"
	"pubsweep/internal/planner"
	"pubsweep/internal/registry"
	"pubsweep/internal/scanner"
	"pubsweep/internal/verify"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan PARTITION",
		Short: "Print the chunk boundaries of a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p, err := readPartition(cfg.Paths.ManifestDir, args[0])
			if err != nil {
				return err
			}
			chunks, err := planner.PlanPartition(p, cfg.Planning.ChunkSize)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(chunks))
			for _, c := range chunks {
				items := c.Items(p)
				first, last := "", ""
				if len(items) > 0 {
					first, last = items[0], items[len(items)-1]
				}
				rows = append(rows, []string{
					c.ID(),
					strconv.Itoa(c.Offset),
					strconv.Itoa(c.End()),
					strconv.Itoa(c.Length),
					first,
					last,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Partition %s: %d items, %d chunks of %d\n", p.ID, p.Len(), len(chunks), cfg.Planning.ChunkSize)
			if len(rows) == 0 {
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Chunk", "Offset", "End", "Length", "First ID", "Last ID"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var pipelineName string

	cmd := &cobra.Command{
		Use:   "scan PARTITION",
		Short: "Show output counts, provenance and classification per chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				p, err := readPartition(cfg.Paths.ManifestDir, args[0])
				if err != nil {
					return err
				}
				chunks, err := planner.PlanPartition(p, cfg.Planning.ChunkSize)
				if err != nil {
					return err
				}
				pipelines, err := cfg.SelectPipelines(pipelineName)
				if err != nil {
					return err
				}
				logger, err := ctx.logger(cmd)
				if err != nil {
					return err
				}

				var rows [][]string
				for _, pipeline := range pipelines {
					sc, err := scanner.New(pipeline, logger)
					if err != nil {
						return err
					}
					failed, err := store.FailedCounts(cmd.Context(), pipeline.Name, p.ID, cfg.Planning.ChunkSize)
					if err != nil {
						return err
					}
					results, err := sc.ScanAll(cmd.Context(), chunks)
					if err != nil {
						return err
					}
					for _, res := range results {
						outcome := verify.Classify(res, failed[res.Chunk.Index], cfg.Planning.Tolerance)
						source := res.Provenance
						if res.Unreadable() {
							source = fmt.Sprintf("unreadable: %v", res.ReadErrors[0])
						}
						rows = append(rows, []string{
							pipeline.Name,
							res.Chunk.ID(),
							strconv.Itoa(outcome.Expected),
							strconv.Itoa(outcome.Actual),
							string(outcome.Status),
							res.Convention,
							source,
						})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Partition %s has no chunks\n", p.ID)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Pipeline", "Chunk", "Expected", "Actual", "Status", "Convention", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Limit the scan to one pipeline")
	return cmd
}

func readPartition(manifestDir, partitionID string) (manifest.Partition, error) {
	path, err := manifest.Find(manifestDir, partitionID)
	if err != nil {
		return manifest.Partition{}, err
	}
	return manifest.Read(path)
}
