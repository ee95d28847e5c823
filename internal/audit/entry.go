package audit

// EntryType classifies an audit line.
type EntryType string

const (
	TypeLedgerCommit      EntryType = "ledger_commit"
	TypeLedgerAbort       EntryType = "ledger_abort"
	TypeEmergencyOverride EntryType = "emergency_override"
	TypeRoute             EntryType = "route"
	TypeDonation          EntryType = "donation"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are flat values (no map[string]any) so json.Marshal field order
// is deterministic and line hashes are reproducible.
type Entry struct {
	Timestamp     string    `json:"ts"`
	Type          EntryType `json:"type"`
	HostID        string    `json:"host_id"`
	Actor         string    `json:"actor,omitempty"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	RefID         string    `json:"ref_id,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	RegionID      string    `json:"region_id,omitempty"`
	Amount        uint64    `json:"amount,omitempty"`
	PrevStateHash string    `json:"prev_state_hash,omitempty"`
	StateHash     string    `json:"state_hash,omitempty"`
	ConfigHash    string    `json:"config_hash"`
	PrevHash      string    `json:"prev_hash"`
}
