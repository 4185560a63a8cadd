// Package orchestrator runs the per-turn loop: it classifies the user
// message into deterministic signals, advances the session stage,
// builds the bounded context pack, and drives the agent through a
// budgeted tool loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cvpilot/cvpilot/pkg/agent"
	"github.com/cvpilot/cvpilot/pkg/artifact"
	"github.com/cvpilot/cvpilot/pkg/contextpack"
	"github.com/cvpilot/cvpilot/pkg/fsm"
	"github.com/cvpilot/cvpilot/pkg/jobfetch"
	"github.com/cvpilot/cvpilot/pkg/sessionstore"
	"github.com/cvpilot/cvpilot/pkg/toolexecutor"
	"github.com/cvpilot/cvpilot/pkg/validate"
)

// ErrTurnConflict is returned when a concurrent writer advanced the
// session mid-turn. The turn had no effect and can be retried.
var ErrTurnConflict = errors.New("session changed during turn")

// Orchestrator coordinates one session turn end to end.
type Orchestrator struct {
	store       *sessionstore.Store
	machine     *fsm.Machine
	validator   *validate.Validator
	packBuilder *contextpack.Builder
	executor    *toolexecutor.Executor
	policy      *toolexecutor.StagePolicy
	caller      *agent.Caller
	latch       *artifact.Latch
	fetcher     jobfetch.Fetcher
	patcher     *sessionstore.FieldPatcher

	model       string
	temperature float64
	maxTokens   int
	logger      zerolog.Logger
}

// Config holds orchestrator dependencies and settings.
type Config struct {
	Store     *sessionstore.Store
	Machine   *fsm.Machine
	Validator *validate.Validator
	Policy    *toolexecutor.StagePolicy
	Caller    *agent.Caller
	Latch     *artifact.Latch
	Fetcher   jobfetch.Fetcher // optional

	Model        string
	Temperature  float64
	MaxTokens    int
	PackMaxBytes int
	ToolTimeout  time.Duration
	Logger       zerolog.Logger
}

// New creates an Orchestrator and registers its tool set.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Caller == nil {
		return nil, fmt.Errorf("agent caller is required")
	}
	if cfg.Latch == nil {
		return nil, fmt.Errorf("artifact latch is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Machine == nil {
		cfg.Machine = fsm.New(fsm.DefaultReviewTurnLimit)
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New(nil)
	}
	if cfg.Policy == nil {
		cfg.Policy = toolexecutor.DefaultStagePolicy()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	o := &Orchestrator{
		store:       cfg.Store,
		machine:     cfg.Machine,
		validator:   cfg.Validator,
		packBuilder: contextpack.NewBuilder(cfg.PackMaxBytes),
		executor:    toolexecutor.New(cfg.ToolTimeout),
		policy:      cfg.Policy,
		caller:      cfg.Caller,
		latch:       cfg.Latch,
		fetcher:     cfg.Fetcher,
		patcher:     sessionstore.NewFieldPatcher(),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
	if err := o.registerTools(); err != nil {
		return nil, err
	}
	return o, nil
}

// stagePrompts hold the per-stage system prompt fragments.
var stagePrompts = map[fsm.Stage]string{
	fsm.StageIngest:  "You are collecting the applicant's CV content. Ask for whatever contact details or experience entries are still missing, and record provided information with apply_edits.",
	fsm.StagePrepare: "You are preparing the CV for tailoring. Use validate_document to find gaps, fetch the job posting if a URL was given, and fill gaps with apply_edits.",
	fsm.StageReview:  "You are reviewing the tailored CV with the applicant. Propose concrete improvements, apply requested edits, and summarize what changed.",
	fsm.StageConfirm: "The applicant is confirming the final CV. Present a concise summary of the document and ask for explicit approval. Do not edit the document.",
	fsm.StageExecute: "Generate the final PDF now by calling generate_artifact once. Do not call any other tool.",
	fsm.StageDone:    "The PDF has been generated. Answer questions about the result and point the applicant at their artifact.",
}

const systemPrompt = "You are a CV tailoring assistant. Work only through the provided tools; never invent document content the applicant did not supply. The context pack below is the authoritative session state."

// HandleTurn processes one user message against a session.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userMessage string) (*TurnResponse, error) {
	doc, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	approved := classifyApproval(userMessage)
	editIntent := classifyEditIntent(userMessage)
	validation := o.validator.Validate(doc.Document)

	sig := fsm.Signals{
		HasMinimumFields:   hasMinimumFields(doc.Document),
		ReadinessOK:        validation.Ready,
		UserApproved:       approved,
		EditIntentDetected: editIntent,
		PDFGenerated:       doc.MetaBool(sessionstore.MetaPDFGenerated),
		PDFFailed:          doc.MetaBool(sessionstore.MetaPDFFailed),
	}
	if doc.Stage == fsm.StageReview {
		sig.ReviewTurnsSinceEntry = doc.MetaInt(sessionstore.MetaReviewTurns) + 1
	}

	next := o.machine.Next(doc.Stage, sig)

	pack, hashes, err := o.packBuilder.Build(doc.ID, next, doc.Document, doc.Metadata, metaHashes(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to build context pack: %w", err)
	}

	updated, err := o.store.Update(ctx, sessionID, doc.Version, func(d *sessionstore.Document) error {
		prevStage := d.Stage
		d.Stage = next
		switch {
		case next == fsm.StageReview && prevStage != fsm.StageReview:
			d.Metadata[sessionstore.MetaReviewTurns] = 0
			// Re-entering review to change content invalidates a
			// completed generation.
			if prevStage == fsm.StageDone || prevStage == fsm.StageExecute {
				delete(d.Metadata, sessionstore.MetaPDFGenerated)
				delete(d.Metadata, sessionstore.MetaPDFFailed)
			}
		case next == fsm.StageReview:
			d.Metadata[sessionstore.MetaReviewTurns] = sig.ReviewTurnsSinceEntry
		}
		d.Metadata[sessionstore.MetaPackHashes] = hashesToMeta(hashes)
		return nil
	})
	if err != nil {
		if sessionstore.IsConflict(err) {
			return nil, fmt.Errorf("%w: %v", ErrTurnConflict, err)
		}
		return nil, err
	}

	o.logger.Info().
		Str("session_id", sessionID).
		Str("stage", string(doc.Stage)).
		Str("next_stage", string(next)).
		Bool("edit_intent", editIntent).
		Bool("approved", approved).
		Msg("Turn started")

	resp, err := o.runAgentLoop(ctx, updated, pack, userMessage)
	if err != nil {
		return nil, err
	}
	resp.Validation = &validation
	resp.Sections, resp.Questions = buildGuidance(validation)

	// A successful generation completes the workflow in the same turn.
	if next == fsm.StageExecute {
		if err := o.settleExecution(ctx, sessionID, resp); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// runAgentLoop drives the agent until it answers without tool calls or
// the stage's call budget runs out.
func (o *Orchestrator) runAgentLoop(ctx context.Context, doc *sessionstore.Document, pack contextpack.Pack, userMessage string) (*TurnResponse, error) {
	stage := doc.Stage
	allowed := o.policy.Allowed(stage)
	budget := o.policy.Budget(stage)

	packJSON, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context pack: %w", err)
	}

	execSpecs := o.executor.Specs(allowed)
	tools := make([]agent.ToolSpec, 0, len(execSpecs))
	for _, s := range execSpecs {
		tools = append(tools, agent.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}

	messages := []agent.Message{
		{Role: "user", Content: fmt.Sprintf("Context pack:\n%s\n\nUser message:\n%s", packJSON, userMessage)},
	}
	toolCtx := withSessionID(ctx, doc.ID)

	response := newTurnResponse(ResponseMessage, doc.ID, stage, "")
	callsUsed := 0

	// One extra round lets the agent produce a closing message after
	// the budget is spent.
	for round := 0; round <= budget; round++ {
		agentResp, err := o.caller.Call(ctx, agent.Request{
			Model:        o.model,
			Messages:     messages,
			Tools:        tools,
			Temperature:  o.temperature,
			MaxTokens:    o.maxTokens,
			SystemPrompt: systemPrompt + "\n\n" + stagePrompts[stage],
		})
		if err != nil {
			// The caller has already retried transient failures. The
			// session was persisted before the loop started, so the
			// client can simply send the message again.
			o.logger.Error().
				Str("session_id", doc.ID).
				Str("stage", string(stage)).
				Err(err).
				Msg("Agent call failed after retries")
			response.Type = ResponseError
			response.Confidence = 0
			response.Error = err.Error()
			response.Message = "The assistant is temporarily unavailable. Nothing was changed; please send your message again."
			return response, nil
		}

		if len(agentResp.ToolCalls) == 0 {
			response.Message = agentResp.Content
			if response.BudgetExhausted {
				response.Confidence = 0.5
			}
			return response, nil
		}

		messages = append(messages, agent.Message{
			Role:      "assistant",
			Content:   agentResp.Content,
			ToolCalls: agentResp.ToolCalls,
		})

		for _, call := range agentResp.ToolCalls {
			var result toolexecutor.Result
			if callsUsed >= budget {
				response.BudgetExhausted = true
				result = toolexecutor.Result{
					Rejected: true,
					Error:    fmt.Sprintf("tool call budget of %d for this turn is exhausted", budget),
				}
			} else {
				callsUsed++
				result = o.executor.Execute(toolCtx, call.Name, call.Arguments, allowed)
				if sessionstore.IsConflict(result.Err) {
					return nil, fmt.Errorf("%w: %v", ErrTurnConflict, result.Err)
				}
				if call.Name == "generate_artifact" && result.Success {
					if out, ok := result.Output.(map[string]interface{}); ok {
						if id, ok := out["artifact_id"].(string); ok {
							response.ArtifactID = id
						}
					}
					// A successful generation ends the turn: the agent
					// is not offered another round once the artifact
					// exists.
					if stage == fsm.StageExecute {
						if response.Message == "" {
							response.Message = agentResp.Content
						}
						if response.Message == "" {
							response.Message = "Your tailored CV has been generated."
						}
						return response, nil
					}
				}
			}

			resultJSON, err := json.Marshal(result)
			if err != nil {
				resultJSON = []byte(`{"error":"failed to encode tool result"}`)
			}
			messages = append(messages, agent.Message{
				Role:       "tool",
				Content:    string(resultJSON),
				ToolCallID: call.ID,
			})
		}
	}

	// The agent never produced a final message within the round limit.
	response.BudgetExhausted = true
	response.Confidence = 0.5
	if response.Message == "" {
		response.Message = "I had to stop working on this turn. Send another message to continue."
	}
	o.logger.Warn().
		Str("session_id", doc.ID).
		Str("stage", string(stage)).
		Int("calls_used", callsUsed).
		Msg("Turn ended with budget exhausted")
	return response, nil
}

// settleExecution advances the session out of EXECUTE based on the
// generation outcome recorded by the generate tool.
func (o *Orchestrator) settleExecution(ctx context.Context, sessionID string, resp *TurnResponse) error {
	doc, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if doc.Stage != fsm.StageExecute {
		resp.Stage = doc.Stage
		return nil
	}

	sig := fsm.Signals{
		PDFGenerated: doc.MetaBool(sessionstore.MetaPDFGenerated),
		PDFFailed:    doc.MetaBool(sessionstore.MetaPDFFailed),
	}
	next := o.machine.Next(fsm.StageExecute, sig)
	if next == fsm.StageExecute {
		return nil
	}

	_, err = o.store.Update(ctx, sessionID, doc.Version, func(d *sessionstore.Document) error {
		d.Stage = next
		if next == fsm.StageReview {
			d.Metadata[sessionstore.MetaReviewTurns] = 0
			delete(d.Metadata, sessionstore.MetaPDFFailed)
		}
		return nil
	})
	if err != nil {
		if sessionstore.IsConflict(err) {
			return fmt.Errorf("%w: %v", ErrTurnConflict, err)
		}
		return err
	}

	resp.Stage = next
	o.logger.Info().
		Str("session_id", sessionID).
		Str("stage", string(next)).
		Bool("pdf_generated", sig.PDFGenerated).
		Msg("Execution settled")
	return nil
}
