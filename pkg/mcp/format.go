package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/ocrgate/pkg/models"
)

const dateTime = "2006-01-02 15:04:05"

// formatUsageStatus summarises the current period against the limit.
func formatUsageStatus(st models.UsageStatus) string {
	pct := float64(0)
	if st.Limit > 0 {
		pct = float64(st.Period.UsedCount) / float64(st.Limit) * 100
	}
	return fmt.Sprintf("Current Period\n"+
		"  Start:     %s\n"+
		"  End:       %s\n"+
		"  Used:      %s\n"+
		"  Limit:     %s\n"+
		"  Remaining: %s (%.1f%% used)\n",
		st.Period.Start.Format(dateTime),
		st.Period.End.Format(dateTime),
		humanize.Comma(st.Period.UsedCount),
		humanize.Comma(st.Limit),
		humanize.Comma(st.Remaining), pct)
}

func formatUsagePeriods(periods []models.UsagePeriod) string {
	if len(periods) == 0 {
		return "No usage periods recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %12s\n", "Start", "End", "Used")
	b.WriteString(strings.Repeat("-", 54) + "\n")
	for _, p := range periods {
		fmt.Fprintf(&b, "%-20s %-20s %12s\n",
			p.Start.Format(dateTime), p.End.Format(dateTime), humanize.Comma(p.UsedCount))
	}
	return b.String()
}

// formatAuditRecords formats audit records as a text table.
func formatAuditRecords(records []models.AuditRecord) string {
	if len(records) == 0 {
		return "No audit records found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %-20s %-10s %-24s %10s %8s %9s\n",
		"Request ID", "Time", "Source", "File", "Size", "Attempts", "Latency")
	b.WriteString(strings.Repeat("-", 119) + "\n")
	for _, r := range records {
		name := r.FileName
		if len(name) > 24 {
			name = name[:10] + "..." + name[len(name)-11:]
		}
		fmt.Fprintf(&b, "%-32s %-20s %-10s %-24s %10s %8d %7dms\n",
			r.RequestID,
			r.CreatedAt.Format(dateTime),
			r.Source, name,
			humanize.Bytes(uint64(r.Length)),
			r.Attempts, r.LatencyMs)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}
