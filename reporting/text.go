package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum-optimism/op-harness/types"
)

// TextReporter renders a compact summary that lists every non-passing test and its reason.
type TextReporter struct{}

func (r *TextReporter) Render(w io.Writer, report *types.RunReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %s\n", report.RunID, formatDuration(report.WallClock))
	fmt.Fprintf(&b, "%d tests: %s\n", report.Stats.Total, summaryCounts(report.Stats))

	for _, res := range report.Results {
		if !res.Final.Status.IsSuccess() {
			fmt.Fprintf(&b, "  %-12s %s", strings.ToUpper(string(res.Final.Status)), res.Name)
			if len(res.Attempts) > 1 {
				fmt.Fprintf(&b, " (%d attempts)", len(res.Attempts))
			}
			b.WriteString("\n")
			for _, line := range strings.Split(strings.TrimSpace(res.Final.Reason), "\n") {
				if line != "" {
					fmt.Fprintf(&b, "      %s\n", line)
				}
			}
		}
		for _, warning := range res.Warnings() {
			fmt.Fprintf(&b, "  %-12s %s: %s\n", "WARNING", res.Name, warning)
		}
	}

	if report.Success() {
		b.WriteString("PASS\n")
	} else {
		b.WriteString("FAIL\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
