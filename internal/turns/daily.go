package turns

import (
	"fmt"
	"time"

	"github.com/ppiankov/hostguard/internal/model"
)

// DayFormat is the UTC calendar-day key used for rollover.
const DayFormat = "2006-01-02"

// DayKey returns the UTC date of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// TurnErrorKind names the turn check that failed.
type TurnErrorKind int

const (
	DailyCapReached TurnErrorKind = iota + 1
	TooSoonSinceLastTurn
)

func (k TurnErrorKind) String() string {
	switch k {
	case DailyCapReached:
		return "daily_cap_reached"
	case TooSoonSinceLastTurn:
		return "too_soon_since_last_turn"
	default:
		return "unknown"
	}
}

// TurnError is returned when a turn cannot be consumed.
type TurnError struct {
	Kind   TurnErrorKind
	Detail string
}

func (e *TurnError) Error() string {
	return "turns: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any TurnError of the same kind.
func (e *TurnError) Is(target error) bool {
	t, ok := target.(*TurnError)
	return ok && t.Kind == e.Kind
}

var (
	ErrDailyCapReached      = &TurnError{Kind: DailyCapReached}
	ErrTooSoonSinceLastTurn = &TurnError{Kind: TooSoonSinceLastTurn}
)

// DailyState is the per-host turn counter for one UTC day.
type DailyState struct {
	Date      string     `json:"date"`
	TurnsUsed int        `json:"turns_used"`
	LastTurn  *time.Time `json:"last_turn,omitempty"`
}

// At returns the state as seen at now. When the UTC date of now is after
// the stored date the counter and last-turn timestamp are discarded. A
// same-day or earlier-day call never resets; the stored day still applies.
func (s DailyState) At(now time.Time) DailyState {
	if day := DayKey(now); s.Date == "" || day > s.Date {
		return DailyState{Date: day}
	}
	return s
}

// Check returns nil if a turn may be consumed at now under p.
// The policy is normalized first, so compiled ceilings always apply.
func Check(s DailyState, now time.Time, p Policy) error {
	p = Normalize(p)
	cur := s.At(now)
	if cur.TurnsUsed >= p.MaxTurnsPerDay {
		return &TurnError{
			Kind:   DailyCapReached,
			Detail: fmt.Sprintf("%d/%d turns used on %s", cur.TurnsUsed, p.MaxTurnsPerDay, cur.Date),
		}
	}
	if cur.LastTurn != nil {
		since := now.Sub(*cur.LastTurn)
		gap := time.Duration(p.MinSecondsBetweenTurns) * time.Second
		if since < gap {
			return &TurnError{
				Kind:   TooSoonSinceLastTurn,
				Detail: fmt.Sprintf("%s since last turn, minimum %s", since.Truncate(time.Second), gap),
			}
		}
	}
	return nil
}

// CanConsumeTurn reports whether a turn may be consumed at now under p.
func CanConsumeTurn(s DailyState, now time.Time, p Policy) bool {
	return Check(s, now, p) == nil
}

// RecordTurn counts one turn at now. Callers invoke it only after the
// mutation the turn paid for has been committed.
func RecordTurn(s *DailyState, now time.Time) {
	*s = s.At(now)
	t := now.UTC()
	s.TurnsUsed++
	s.LastTurn = &t
}

// Rebuild replays committed ledger events into turn and domain counters.
// Events whose timestamp cannot be parsed are an error: the chain is the
// only source of truth for counters after a restart.
func Rebuild(events []model.LedgerEvent) (DailyState, DomainUsage, error) {
	var ds DailyState
	var du DomainUsage
	for i, ev := range events {
		ts, err := time.Parse(time.RFC3339Nano, ev.TimestampUTC)
		if err != nil {
			return DailyState{}, DomainUsage{}, fmt.Errorf("turns: event %d: parse timestamp: %w", i, err)
		}
		if ev.Kind == model.EventTurn {
			RecordTurn(&ds, ts)
		}
		if ev.Adjustment.Domain != "" {
			du.Record(ts, ev.Adjustment.Domain, UsageAmount(ev.Adjustment))
		}
	}
	return ds, du, nil
}
