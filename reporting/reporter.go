package reporting

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum-optimism/op-harness/types"
)

// Supported output formats
const (
	FormatTable = "table"
	FormatText  = "text"
	FormatJSON  = "json"
)

// Formats lists the output formats accepted by New.
var Formats = []string{FormatTable, FormatText, FormatJSON}

// Reporter renders a run report. Several reporters can render the same report.
type Reporter interface {
	Render(w io.Writer, report *types.RunReport) error
}

// New returns the reporter for an output format.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case FormatTable:
		return &TableReporter{}, nil
	case FormatText:
		return &TextReporter{}, nil
	case FormatJSON:
		return &JSONReporter{Indent: true}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q, expected one of %s", format, strings.Join(Formats, ", "))
	}
}

// WriteFile renders the report into path, creating parent directories as needed.
func WriteFile(path string, r Reporter, report *types.RunReport) error {
	var buf bytes.Buffer
	if err := r.Render(&buf, report); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// getResultString returns a short marker for a status
func getResultString(status types.Status) string {
	switch status {
	case types.StatusPassed:
		return "✓ pass"
	case types.StatusSkipped:
		return "- skip"
	case types.StatusTimedOut:
		return "✗ timeout"
	case types.StatusEnvironmentError:
		return "✗ env error"
	case types.StatusCancelled:
		return "✗ cancelled"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
