package alert

// Event types a webhook can subscribe to.
const (
	EventDeny              = "deny"
	EventCommit            = "commit"
	EventEmergencyOverride = "emergency_override"
	EventRouteDeny         = "route_deny"
	EventDonation          = "donation"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "emergency_override", "route_deny"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints. Delivery is
// notification only; no receiver takes part in ledger agreement.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	HostID     string `json:"host_id"`
	Actor      string `json:"actor,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	Stage      string `json:"stage,omitempty"`
	StateHash  string `json:"state_hash,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
}
