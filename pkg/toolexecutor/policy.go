package toolexecutor

import "github.com/cvpilot/cvpilot/pkg/fsm"

// StagePolicy maps each conversation stage to the closed set of tools
// the agent may call while the session sits in that stage, plus the
// per-turn call budget.
type StagePolicy struct {
	allowed map[fsm.Stage][]string
	budgets map[fsm.Stage]int
}

// DefaultBudget applies to stages without an explicit budget entry.
const DefaultBudget = 5

// NewStagePolicy builds a policy from explicit allow-lists and budgets.
// Stages absent from allowed get an empty allow-list.
func NewStagePolicy(allowed map[fsm.Stage][]string, budgets map[fsm.Stage]int) *StagePolicy {
	p := &StagePolicy{
		allowed: make(map[fsm.Stage][]string, len(allowed)),
		budgets: make(map[fsm.Stage]int, len(budgets)),
	}
	for stage, tools := range allowed {
		cp := make([]string, len(tools))
		copy(cp, tools)
		p.allowed[stage] = cp
	}
	for stage, n := range budgets {
		p.budgets[stage] = n
	}
	return p
}

// DefaultStagePolicy returns the stock allow-lists for the tailoring
// workflow. EXECUTE is held to a single generate call per turn
// regardless of the configured budget.
func DefaultStagePolicy() *StagePolicy {
	return NewStagePolicy(
		map[fsm.Stage][]string{
			fsm.StageIngest:  {"read_session", "apply_edits", "fetch_job_posting"},
			fsm.StagePrepare: {"read_session", "apply_edits", "validate_document", "fetch_job_posting"},
			fsm.StageReview:  {"read_session", "apply_edits", "validate_document"},
			fsm.StageConfirm: {"read_session", "validate_document"},
			fsm.StageExecute: {"generate_artifact"},
			fsm.StageDone:    {"read_session", "fetch_artifact"},
		},
		map[fsm.Stage]int{
			fsm.StageIngest:  DefaultBudget,
			fsm.StagePrepare: DefaultBudget,
			fsm.StageReview:  DefaultBudget,
			fsm.StageConfirm: 3,
			fsm.StageExecute: 1,
			fsm.StageDone:    2,
		},
	)
}

// SetBudget overrides the per-turn call budget for one stage.
// Non-positive values are ignored.
func (p *StagePolicy) SetBudget(stage fsm.Stage, n int) {
	if n > 0 {
		p.budgets[stage] = n
	}
}

// Allowed returns the tool names available in the given stage. The
// returned slice must not be mutated by the caller.
func (p *StagePolicy) Allowed(stage fsm.Stage) []string {
	return p.allowed[stage]
}

// Budget returns the per-turn call budget for the stage. EXECUTE is
// always 1: artifact generation must happen at most once per turn.
func (p *StagePolicy) Budget(stage fsm.Stage) int {
	if stage == fsm.StageExecute {
		return 1
	}
	if n, ok := p.budgets[stage]; ok && n > 0 {
		return n
	}
	return DefaultBudget
}
