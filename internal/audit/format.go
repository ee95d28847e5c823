package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a Result as a human-readable text timeline.
func FormatTimeline(result *Result) string {
	host := result.HostID
	if host == "" {
		host = "all hosts"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Host: %s | No entries found.\n", host)
	}

	var b strings.Builder

	first := formatDateTime(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	fmt.Fprintf(&b, "Host: %s | %s–%s UTC\n", host, first, last)
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		detail := e.Reason
		if e.Type == TypeRoute && e.RegionID != "" {
			detail = e.RegionID + " " + e.Reason
		}
		tag := ""
		if e.Type == TypeEmergencyOverride {
			tag = "  [override]"
		}
		fmt.Fprintf(&b, "%-10s %-18s %-10s %-24s %-36s%s\n",
			ts, e.Type, strings.ToUpper(e.Decision), truncate(e.Actor, 24), truncate(detail, 36), tag)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a Result as indented JSON.
func FormatJSON(result *Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.CommitCount > 0 {
		parts = append(parts, fmt.Sprintf("%d commit", s.CommitCount))
	}
	if s.AbortCount > 0 {
		parts = append(parts, fmt.Sprintf("%d abort", s.AbortCount))
	}
	if s.OverrideCount > 0 {
		parts = append(parts, fmt.Sprintf("%d override", s.OverrideCount))
	}
	if routes := s.RouteSafe + s.RouteDefer + s.RouteDeny; routes > 0 {
		parts = append(parts, fmt.Sprintf("%d route (%d safe/%d defer/%d deny)", routes, s.RouteSafe, s.RouteDefer, s.RouteDeny))
	}
	if s.DonationCount > 0 {
		parts = append(parts, fmt.Sprintf("%d donation (%d units)", s.DonationCount, s.DonatedTotal))
	}
	return fmt.Sprintf("Summary: %s\n", strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
