package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/op-harness/types"
)

// TableReporter renders a human readable table, one row per test.
type TableReporter struct {
	// Plain disables colors, e.g. when writing to a file.
	Plain bool
}

func (r *TableReporter) Render(w io.Writer, report *types.RunReport) error {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Test Results (run %s, %s)", report.RunID, formatDuration(report.WallClock)))

	t.AppendHeader(table.Row{
		"#", "Test", "Duration", "Attempts", "Status", "Reason",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Reason", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for i, res := range report.Results {
		t.AppendRow(table.Row{
			i + 1,
			res.Name,
			formatDuration(res.Duration),
			len(res.Attempts),
			getResultString(res.Final.Status),
			res.Final.Reason,
		})
		for _, warning := range res.Warnings() {
			t.AppendRow(table.Row{"", "", "", "", "⚠ warning", warning})
		}
	}

	switch {
	case r.Plain:
		t.SetStyle(table.StyleLight)
	case report.Success():
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case report.Stats.Failed+report.Stats.TimedOut == 0 && report.Stats.EnvironmentErrors == 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	overall := types.StatusPassed
	if !report.Success() {
		overall = types.StatusFailed
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d tests", report.Stats.Total),
		formatDuration(report.WallClock),
		report.Stats.Attempts,
		getResultString(overall),
		summaryCounts(report.Stats),
	})

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func summaryCounts(s types.Stats) string {
	parts := []string{
		fmt.Sprintf("%d passed", s.Passed),
		fmt.Sprintf("%d failed", s.Failed),
	}
	optional := []struct {
		n     int
		label string
	}{
		{s.TimedOut, "timed out"},
		{s.Skipped, "skipped"},
		{s.EnvironmentErrors, "environment errors"},
		{s.Cancelled, "cancelled"},
		{s.Warnings, "warnings"},
	}
	for _, o := range optional {
		if o.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", o.n, o.label))
		}
	}
	return strings.Join(parts, ", ")
}
