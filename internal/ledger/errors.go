package ledger

import "errors"

// Stage names the pipeline step that aborted a call.
type Stage string

const (
	StageInput    Stage = "input"
	StageIdentity Stage = "identity"
	StageCorridor Stage = "corridor"
	StageGuard    Stage = "guard"
	StageTurn     Stage = "turn"
	StageOverride Stage = "override"
	StageJournal  Stage = "journal"
)

// ApplyError wraps the originating error of an aborted call.
// The ledger state is unchanged whenever an ApplyError is returned.
type ApplyError struct {
	Stage Stage
	Err   error
}

func (e *ApplyError) Error() string {
	return "ledger: " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidTimestamp    = errors.New("timestamp is not RFC 3339")
	ErrTimestampRegressed  = errors.New("timestamp is earlier than the last committed event")
	ErrInvalidAdjustment   = errors.New("adjustment contains non-finite values")
	ErrOverrideUnavailable = errors.New("no emergency override authority configured")
	ErrOverrideIdentity    = errors.New("emergency override must be issued by the host itself as system-daemon")
	ErrOverrideEvolution   = errors.New("emergency override may not carry evolve or morph deltas")
	ErrCorridorRequired    = errors.New("evolution step requires a corridor context")
	ErrTurnRequired        = errors.New("evolution step must consume a turn")
)

func abort(stage Stage, err error) error {
	return &ApplyError{Stage: stage, Err: err}
}

// StageOf returns the stage of an ApplyError, or "" for other errors.
func StageOf(err error) Stage {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return ""
}
