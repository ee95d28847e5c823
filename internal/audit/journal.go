package audit

import (
	"time"

	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/router"
)

// AppendEvent records a committed ledger event. It satisfies ledger.Journal,
// so the line is written before the ledger advances its state.
func (l *Log) AppendEvent(ev model.LedgerEvent, _ model.VitalsState) error {
	typ := TypeLedgerCommit
	if ev.Kind == model.EventEmergency {
		typ = TypeEmergencyOverride
	}
	return l.Record(Entry{
		Timestamp:     ev.TimestampUTC,
		Type:          typ,
		HostID:        ev.HostID,
		Actor:         ev.AttestedBy,
		Decision:      "commit",
		Reason:        ev.Adjustment.Reason,
		Stage:         string(ev.Kind),
		Domain:        string(ev.Adjustment.Domain),
		PrevStateHash: ev.PrevStateHash,
		StateHash:     ev.NewStateHash,
	})
}

// RecordAbort records a rejected ledger call with the stage that failed.
func (l *Log) RecordAbort(hostID, actor string, now time.Time, cause error) error {
	return l.Record(Entry{
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Type:      TypeLedgerAbort,
		HostID:    hostID,
		Actor:     actor,
		Decision:  "abort",
		Reason:    cause.Error(),
		Stage:     string(ledger.StageOf(cause)),
	})
}

// RecordRoute records a router classification.
func (l *Log) RecordRoute(d router.DecisionLog) error {
	return l.Record(Entry{
		Timestamp: d.Timestamp,
		Type:      TypeRoute,
		HostID:    d.HostID,
		Decision:  string(d.Decision),
		Reason:    string(d.Reason),
		RefID:     d.DecisionID,
		Domain:    string(d.Domain),
		RegionID:  d.RegionID,
	})
}

// RecordDonation records one donation scheduling window.
func (l *Log) RecordDonation(now time.Time, a donation.Audit) error {
	decision := "noop"
	if a.Applied() {
		decision = "scheduled"
	}
	return l.Record(Entry{
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Type:      TypeDonation,
		HostID:    a.HostID,
		Decision:  decision,
		Reason:    a.Reason,
		Stage:     string(a.FloorStatus),
		RefID:     a.AuditID,
		Amount:    a.TotalSpent,
	})
}
