package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
)

func printReport(out io.Writer, rep runReport) {
	sc := rep.Scenarios
	_, _ = fmt.Fprintf(out, "payrecon load run: mode=%s target=%s elapsed=%.2fs throughput=%.2f/s\n",
		rep.Mode, rep.Target, rep.Elapsed, rep.Throughput)
	_, _ = fmt.Fprintf(out, "scenarios: %d ok, %d failed (%.2f%%), p50=%.2fms p99=%.2fms\n",
		sc.OK, sc.Failed, sc.FailRatio*100, sc.LatencyMs.P50, sc.LatencyMs.P99)

	names := make([]string, 0, len(rep.Endpoints))
	for name := range rep.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENDPOINT\tREQUESTS\tFAILED\tP50 MS\tP90 MS\tMAX MS\tSTATUSES")
	for _, name := range names {
		e := rep.Endpoints[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%s\n",
			name, e.Requests, e.Failed, e.LatencyMs.P50, e.LatencyMs.P90, e.LatencyMs.Max, statusLine(e.Statuses))
	}
	_ = tw.Flush()
}

func statusLine(statuses map[string]int64) string {
	keys := make([]string, 0, len(statuses))
	for k := range statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", k, statuses[k])
	}
	return b.String()
}

// saveReport пишет отчёт в JSON. Относительный путь не должен выходить за текущий каталог.
func saveReport(path string, rep runReport) error {
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) && !filepath.IsLocal(clean) {
		return fmt.Errorf("report path escapes working directory: %s", path)
	}
	if clean == "." || strings.HasSuffix(path, string(filepath.Separator)) {
		return fmt.Errorf("report path must name a file: %s", path)
	}

	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(raw, '\n'), 0o600)
}
