package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects entries from an audit log. Zero fields match everything.
type Filter struct {
	HostID string
	Type   EntryType
	From   time.Time
	To     time.Time
}

// Summary holds counts over a set of entries.
type Summary struct {
	Total          int    `json:"total"`
	CommitCount    int    `json:"commit_count"`
	AbortCount     int    `json:"abort_count"`
	OverrideCount  int    `json:"override_count"`
	RouteSafe      int    `json:"route_safe"`
	RouteDefer     int    `json:"route_defer"`
	RouteDeny      int    `json:"route_deny"`
	DonationCount  int    `json:"donation_count"`
	DonatedTotal   uint64 `json:"donated_total"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// Result holds filtered entries and their summary.
type Result struct {
	HostID  string  `json:"host_id,omitempty"`
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Query reads the audit log and returns entries matching the filter.
// Malformed lines are skipped; use Verify to detect them.
func Query(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &Result{HostID: filter.HostID}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func (f Filter) match(e Entry) bool {
	if f.HostID != "" && e.HostID != f.HostID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Tail returns the last n entries of the log in file order.
func Tail(path string, n int) ([]Entry, error) {
	res, err := Query(path, Filter{})
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(res.Entries) {
		return res.Entries, nil
	}
	return res.Entries[len(res.Entries)-n:], nil
}

func updateSummary(s *Summary, entry Entry) {
	s.Total++

	switch entry.Type {
	case TypeLedgerCommit:
		s.CommitCount++
	case TypeEmergencyOverride:
		s.CommitCount++
		s.OverrideCount++
	case TypeLedgerAbort:
		s.AbortCount++
	case TypeRoute:
		switch entry.Decision {
		case "safe":
			s.RouteSafe++
		case "defer":
			s.RouteDefer++
		default:
			s.RouteDeny++
		}
	case TypeDonation:
		s.DonationCount++
		s.DonatedTotal += entry.Amount
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
