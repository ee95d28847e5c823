package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("hostguard: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Host:* %s", event.HostID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Decision:* %s", event.Decision)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s", event.Actor)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("hostguard %s on %s: %s", event.Type, event.HostID, event.Reason),
			"severity": severityFor(event.Type),
			"source":   event.HostID,
			"custom_details": map[string]any{
				"actor":      event.Actor,
				"decision":   event.Decision,
				"stage":      event.Stage,
				"state_hash": event.StateHash,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(eventType string) string {
	switch eventType {
	case EventEmergencyOverride:
		return "critical"
	case EventDeny:
		return "error"
	case EventRouteDeny:
		return "warning"
	default:
		return "info"
	}
}
