package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP relay_uptime_seconds Time since the relay started\n")
	sb.WriteString("# TYPE relay_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("relay_uptime_seconds %d\n", snap.UptimeSeconds))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_ticks_total Total number of ticks by outcome\n")
	sb.WriteString("# TYPE relay_ticks_total counter\n")
	outcomes := make([]string, 0, len(snap.TicksTotal))
	for outcome := range snap.TicksTotal {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		sb.WriteString(fmt.Sprintf("relay_ticks_total{outcome=%q} %d\n", outcome, snap.TicksTotal[outcome]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_ticks_in_flight Current number of ticks being processed\n")
	sb.WriteString("# TYPE relay_ticks_in_flight gauge\n")
	sb.WriteString(fmt.Sprintf("relay_ticks_in_flight %d\n", snap.TicksInFlight))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_tick_duration_ms_total Total tick duration in milliseconds\n")
	sb.WriteString("# TYPE relay_tick_duration_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_tick_duration_ms_total %d\n", snap.TickDurTotalMS))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_fragments_total Total fragments relayed to the session store\n")
	sb.WriteString("# TYPE relay_fragments_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_fragments_total %d\n", snap.FragmentsTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_fragment_bytes_total Total fragment bytes relayed\n")
	sb.WriteString("# TYPE relay_fragment_bytes_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_fragment_bytes_total %d\n", snap.FragmentBytesTotal))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_fragment_write_ms_total Total fragment store-write latency in milliseconds\n")
	sb.WriteString("# TYPE relay_fragment_write_ms_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_fragment_write_ms_total %d\n", snap.FragmentWriteMS))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_watchers_active Current number of watch subscriptions\n")
	sb.WriteString("# TYPE relay_watchers_active gauge\n")
	sb.WriteString(fmt.Sprintf("relay_watchers_active %d\n", snap.WatchersActive))
	sb.WriteString("\n")

	sb.WriteString("# HELP relay_watchers_total Total watch subscriptions opened\n")
	sb.WriteString("# TYPE relay_watchers_total counter\n")
	sb.WriteString(fmt.Sprintf("relay_watchers_total %d\n", snap.WatchersTotal))

	return sb.String()
}
