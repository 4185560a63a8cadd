package fsm

import "fmt"

// Stage represents a workflow phase for a tailoring session.
type Stage string

const (
	StageIngest  Stage = "INGEST"
	StagePrepare Stage = "PREPARE"
	StageReview  Stage = "REVIEW"
	StageConfirm Stage = "CONFIRM"
	StageExecute Stage = "EXECUTE"
	StageDone    Stage = "DONE"
)

// allStages is the closed set of reachable stages. No session is ever
// persisted in a stage outside this set.
var allStages = map[Stage]bool{
	StageIngest:  true,
	StagePrepare: true,
	StageReview:  true,
	StageConfirm: true,
	StageExecute: true,
	StageDone:    true,
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	return allStages[s]
}

// ParseStage converts a stored string into a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage: %q", s)
	}
	return stage, nil
}

// Signals are the facts derived each turn that drive stage transitions.
// They are computed from the stored session document and the current
// turn's classification of the user message, never by the client.
type Signals struct {
	HasMinimumFields      bool
	ReadinessOK           bool
	UserApproved          bool
	EditIntentDetected    bool
	PDFGenerated          bool
	PDFFailed             bool
	ReviewTurnsSinceEntry int
}

// Machine is the pure transition function over the closed stage set.
// ReviewTurnLimit is the forced-advance bound: once a session has spent
// that many turns in REVIEW, it moves to CONFIRM regardless of other
// signals, so an open-ended critique loop cannot stall forever.
type Machine struct {
	reviewTurnLimit int
}

// New creates a Machine with the given forced-advance bound.
func New(reviewTurnLimit int) *Machine {
	if reviewTurnLimit <= 0 {
		reviewTurnLimit = DefaultReviewTurnLimit
	}
	return &Machine{reviewTurnLimit: reviewTurnLimit}
}

// DefaultReviewTurnLimit bounds the REVIEW critique loop when no limit
// is configured.
const DefaultReviewTurnLimit = 5

// ReviewTurnLimit returns the configured forced-advance bound.
func (m *Machine) ReviewTurnLimit() int {
	return m.reviewTurnLimit
}

// Next computes the stage the next turn will observe. It is a pure
// function: same inputs always yield the same stage, and calling it has
// no side effects. Rules are evaluated first match wins.
func (m *Machine) Next(current Stage, sig Signals) Stage {
	switch current {
	case StageIngest:
		if sig.HasMinimumFields {
			return StagePrepare
		}
		return StageIngest

	case StagePrepare:
		return StageReview

	case StageReview:
		// Forced advance wins over edit intent: the bound must hold
		// regardless of other signals or the loop never terminates.
		if sig.ReviewTurnsSinceEntry >= m.reviewTurnLimit {
			return StageConfirm
		}
		return StageReview

	case StageConfirm:
		if sig.UserApproved && sig.ReadinessOK {
			return StageExecute
		}
		if sig.EditIntentDetected {
			return StageReview
		}
		return StageConfirm

	case StageExecute:
		if sig.PDFFailed {
			return StageReview
		}
		if sig.PDFGenerated {
			return StageDone
		}
		// The user can always pull a pending execution back into
		// editing; any generated artifact flag is cleared by the caller
		// in the same mutation.
		if sig.EditIntentDetected {
			return StageReview
		}
		return StageExecute

	case StageDone:
		if sig.EditIntentDetected {
			return StageReview
		}
		return StageDone
	}

	return current
}
