package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pubsweep/internal/config"
	"pubsweep/internal/registry"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and retire emitted retry descriptors",
	}

	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerExpireCommand(ctx))

	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var (
		pipeline string
		all      bool
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retry ledger entries (open entries by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				entries, err := store.ListLedger(cmd.Context(), pipeline, !all)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, ledgerJSON(entries, time.Now(), cfg.LedgerTTL()))
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Ledger is empty")
					return nil
				}
				ttl := cfg.LedgerTTL()
				now := time.Now()
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						shortBatchID(e.BatchID),
						e.Pipeline,
						e.ChunkID,
						e.EmittedAt.Local().Format("2006-01-02 15:04"),
						ledgerState(e, now, ttl),
						e.SubmissionPath,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Batch", "Pipeline", "Chunk", "Emitted", "State", "Submission"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "Limit to one pipeline")
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newLedgerExpireCommand(ctx *commandContext) *cobra.Command {
	var (
		pipeline  string
		olderThan time.Duration
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Mark open entries dead so their chunks can be emitted again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *registry.Store) error {
				age := cfg.LedgerTTL()
				switch {
				case all:
					age = 0
				case cmd.Flags().Changed("older-than"):
					age = olderThan
				}
				if age < 0 {
					return errors.New("--older-than must not be negative")
				}
				if age == 0 && !all && !cmd.Flags().Changed("older-than") {
					return errors.New("planning.ledger_ttl_hours is 0 so entries never go stale; pass --older-than or --all")
				}
				n, err := store.Expire(cmd.Context(), pipeline, time.Now().Add(-age))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d ledger entries\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "Limit to one pipeline")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Expire entries emitted longer ago than this (default: planning.ledger_ttl_hours)")
	cmd.Flags().BoolVar(&all, "all", false, "Expire every open entry regardless of age")
	return cmd
}

func ledgerState(e registry.LedgerEntry, now time.Time, ttl time.Duration) string {
	if !e.Open() {
		return e.Resolution
	}
	if ttl > 0 && now.Sub(e.EmittedAt) >= ttl {
		return "stale"
	}
	return "open"
}

func shortBatchID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
