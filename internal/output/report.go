// Package output renders run results and live progress to the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kmarchuk/lanburn/internal/stats"
)

// PrintReport outputs a human-readable summary of a finished run.
func PrintReport(w io.Writer, snap stats.Snapshot) {
	fmt.Fprintln(w, "\n--- Run Results ---")
	fmt.Fprintf(w, "Attempted:         %d\n", snap.Attempted)
	fmt.Fprintf(w, "Succeeded:         %d\n", snap.Succeeded)
	fmt.Fprintf(w, "Failed:            %d\n", snap.Failed)
	fmt.Fprintf(w, "Bytes Sent:        %s\n", formatBytes(snap.Bytes))
	fmt.Fprintf(w, "Duration:          %s\n", snap.Elapsed)
	fmt.Fprintf(w, "Operations/sec:    %.2f\n", snap.Rate)

	if snap.MeanLatency > 0 {
		fmt.Fprintln(w, "\nLatency:")
		fmt.Fprintf(w, "  Mean:            %s\n", snap.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", snap.P50Latency)
		fmt.Fprintf(w, "  P99:             %s\n", snap.P99Latency)
	}

	if len(snap.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		writeErrorBreakdown(w, snap.Errors, "  ")
	}
}

// PrintJSONReport outputs the snapshot as indented JSON.
func PrintJSONReport(w io.Writer, snap stats.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func writeErrorBreakdown(w io.Writer, errs map[string]int, indent string) {
	types := make([]string, 0, len(errs))
	for t := range errs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if errs[types[i]] != errs[types[j]] {
			return errs[types[i]] > errs[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(w, "%s%s: %d\n", indent, t, errs[t])
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
