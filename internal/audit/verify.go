package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of walking an audit log. On failure Error
// names the first bad line; Lines and Counts cover the lines before it.
type VerifyResult struct {
	Valid     bool              `json:"valid"`
	Lines     int               `json:"lines"`
	Counts    map[EntryType]int `json:"counts,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorLine int               `json:"error_line,omitempty"`
}

func (r VerifyResult) fail(line int, format string, args ...any) VerifyResult {
	r.Valid = false
	r.Error = fmt.Sprintf(format, args...)
	r.ErrorLine = line
	return r
}

// knownType reports whether t is an entry type this package writes.
func knownType(t EntryType) bool {
	switch t {
	case TypeLedgerCommit, TypeLedgerAbort, TypeEmergencyOverride, TypeRoute, TypeDonation:
		return true
	}
	return false
}

// Verify walks the log at path, checking that every line is a typed entry
// for a named host and that each prev_hash is the hash of the line before.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Counts: make(map[EntryType]int)}
	want := GenesisHash

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for n := 1; sc.Scan(); n++ {
		raw := sc.Bytes()

		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return res.fail(n, "parse error: %v", err)
		}
		switch {
		case e.Type == "":
			return res.fail(n, "entry has no type")
		case !knownType(e.Type):
			return res.fail(n, "unknown entry type %q", e.Type)
		case e.HostID == "":
			return res.fail(n, "%s entry has no host_id", e.Type)
		case e.PrevHash != want && n == 1:
			return res.fail(n, "first entry prev_hash is %q, expected genesis hash", e.PrevHash)
		case e.PrevHash != want:
			return res.fail(n, "hash mismatch: expected %s, got %s", want, e.PrevHash)
		}

		want = HashLine(raw)
		res.Lines = n
		res.Counts[e.Type]++
	}
	if err := sc.Err(); err != nil {
		return res.fail(0, "scan: %v", err)
	}

	res.Valid = true
	return res
}
