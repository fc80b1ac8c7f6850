package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func count(n int) string {
	return printer.Sprintf("%d", n)
}

func countPct(n int, g Group) string {
	return printer.Sprintf("%d (%.1f%%)", n, g.Percent(n))
}

var headers = table.Row{"Group", "Partitions", "Chunks", "Expected", "Complete", "In flight", "Partial", "Missing", "Failed"}

func groupRow(g Group) table.Row {
	return table.Row{
		g.Key,
		count(g.Partitions),
		count(g.Chunks),
		count(g.Expected),
		countPct(g.Complete, g),
		countPct(g.InFlight, g),
		countPct(g.Partial, g),
		countPct(g.Missing, g),
		count(g.Failed),
	}
}

// Render writes a human-readable table per pipeline.
func Render(w io.Writer, r Report) error {
	if len(r.Pipelines) == 0 {
		_, err := fmt.Fprintln(w, "No partitions found")
		return err
	}
	for i, p := range r.Pipelines {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "Pipeline %s\n", p.Name); err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(headers)
		for _, g := range p.Groups {
			tw.AppendRow(groupRow(g))
		}
		if len(p.Groups) > 1 {
			tw.AppendSeparator()
			tw.AppendRow(groupRow(p.Total))
		}
		configs := make([]table.ColumnConfig, 0, len(headers))
		for col := range headers {
			align := text.AlignRight
			if col == 0 {
				align = text.AlignLeft
			}
			configs = append(configs, table.ColumnConfig{Number: col + 1, Align: align, AlignHeader: text.AlignLeft})
		}
		tw.SetColumnConfigs(configs)
		if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
			return err
		}

		var notes []string
		if p.Total.Unreadable > 0 {
			notes = append(notes, printer.Sprintf("%d chunk(s) counted missing because existing output could not be read", p.Total.Unreadable))
		}
		if len(p.Skipped) > 0 {
			parts := make([]string, 0, len(p.Skipped))
			for _, s := range p.Skipped {
				parts = append(parts, s.Partition)
			}
			notes = append(notes, fmt.Sprintf("%d partition(s) skipped due to errors: %s", len(p.Skipped), strings.Join(parts, ", ")))
		}
		if p.QueueDegraded {
			notes = append(notes, "scheduler queue unavailable; in-flight counts use the retry ledger only")
		}
		for _, note := range notes {
			if _, err := fmt.Fprintf(w, "  note: %s\n", note); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
