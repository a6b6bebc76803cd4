package stress

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/idealo/mongodb-stress/internal/workload"
)

// Report is the merged outcome of a phase.
type Report struct {
	Counts  workload.Counters
	Elapsed time.Duration
	// Failed is the number of workers that ended with an error and so
	// contributed nothing to Counts.
	Failed int
}

// Kinds returns the reported operation kinds sorted by name.
func (r *Report) Kinds() []string {
	kinds := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Rate returns operations per second of kind over the whole phase.
func (r *Report) Rate(kind string) float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Counts[kind]) / r.Elapsed.Seconds()
}

// Print writes one line per kind and nothing else: count, ops/sec and kind.
func (r *Report) Print(w io.Writer) {
	t := tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 2, ' ', 0))
	for _, kind := range r.Kinds() {
		t.AddLine(r.Counts[kind], fmt.Sprintf("%.6f", r.Rate(kind)), kind)
	}
	t.Print()
}

// Records renders the report as CSV rows with a header.
func (r *Report) Records() [][]string {
	records := [][]string{{"kind", "count", "seconds", "ops_per_sec"}}
	for _, kind := range r.Kinds() {
		records = append(records, []string{
			kind,
			fmt.Sprintf("%d", r.Counts[kind]),
			fmt.Sprintf("%.6f", r.Elapsed.Seconds()),
			fmt.Sprintf("%.6f", r.Rate(kind)),
		})
	}
	return records
}
