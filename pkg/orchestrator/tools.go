package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cvpilot/cvpilot/pkg/sessionstore"
	"github.com/cvpilot/cvpilot/pkg/toolexecutor"
)

type ctxKey int

const sessionIDKey ctxKey = iota

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func sessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(sessionIDKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("no session bound to tool call")
	}
	return id, nil
}

// registerTools wires the deterministic operations the agent may call.
// Each handler reloads the session so tool calls within one turn
// observe each other's writes.
func (o *Orchestrator) registerTools() error {
	defs := []toolexecutor.Definition{
		{
			Name:        "read_session",
			Description: "Read the current session document, stage, and validation-relevant metadata. Optionally limit to one top-level section.",
			Params: []toolexecutor.Param{
				{Name: "section", Type: "string", Description: "Top-level section name to read, e.g. experience"},
			},
			Handler: o.handleReadSession,
		},
		{
			Name:        "apply_edits",
			Description: "Apply a batch of field edits to the session document. The batch is atomic: either every edit applies or none do.",
			Params: []toolexecutor.Param{
				{Name: "edits", Type: "array", Description: "Edits as objects with path, action (set, set-new, append, delete), and value", Required: true},
			},
			Handler: o.handleApplyEdits,
		},
		{
			Name:        "validate_document",
			Description: "Validate the session document and report errors, warnings, and generation readiness.",
			Handler:     o.handleValidate,
		},
		{
			Name:        "generate_artifact",
			Description: "Generate the tailored CV PDF for the current document content, reusing an existing artifact when the content is unchanged.",
			Handler:     o.handleGenerate,
		},
		{
			Name:        "fetch_artifact",
			Description: "Look up a previously generated artifact by id and return its metadata.",
			Params: []toolexecutor.Param{
				{Name: "artifact_id", Type: "string", Description: "Artifact identifier", Required: true},
			},
			Handler: o.handleFetchArtifact,
		},
		{
			Name:        "fetch_job_posting",
			Description: "Fetch the text of a job posting URL and store it in the session for tailoring.",
			Params: []toolexecutor.Param{
				{Name: "url", Type: "string", Description: "Job posting URL", Required: true},
			},
			Handler: o.handleFetchJobPosting,
		},
	}

	for _, def := range defs {
		if err := o.executor.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) handleReadSession(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"session_id": doc.ID,
		"version":    doc.Version,
		"stage":      string(doc.Stage),
	}
	if section, ok := args["section"].(string); ok && section != "" {
		content, found := doc.Document[section]
		if !found {
			return nil, fmt.Errorf("section %q not found", section)
		}
		out["section"] = section
		out["content"] = content
		return out, nil
	}
	out["document"] = doc.Document
	return out, nil
}

func (o *Orchestrator) handleApplyEdits(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	edits, err := decodeEdits(args["edits"])
	if err != nil {
		return nil, err
	}
	ops, err := o.patcher.Translate(edits)
	if err != nil {
		return nil, err
	}

	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := o.store.Patch(ctx, id, doc.Version, ops)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"applied": len(ops),
		"version": updated.Version,
	}, nil
}

// mutateLatest loads the session and applies mutate at its current
// version. A conflict here means an interleaved writer; the error
// propagates out of the tool dispatch and aborts the whole turn.
func (o *Orchestrator) mutateLatest(ctx context.Context, id string, mutate func(*sessionstore.Document) error) (*sessionstore.Document, error) {
	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.store.Update(ctx, id, doc.Version, mutate)
}

func decodeEdits(raw interface{}) ([]sessionstore.Edit, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid edits payload: %w", err)
	}
	var edits []sessionstore.Edit
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, fmt.Errorf("invalid edits payload: %w", err)
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("edits must not be empty")
	}
	return edits, nil
}

func (o *Orchestrator) handleValidate(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.validator.Validate(doc.Document), nil
}

func (o *Orchestrator) handleGenerate(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	// Readiness is re-checked at the point of generation, not just at
	// the CONFIRM gate.
	result := o.validator.Validate(doc.Document)
	if !result.Ready {
		return nil, fmt.Errorf("document is not ready for generation: %d validation errors", len(result.Errors))
	}

	genResult, err := o.latch.GenerateOrReuse(ctx, doc)
	if err != nil {
		if _, ferr := o.mutateLatest(ctx, id, func(d *sessionstore.Document) error {
			d.Metadata[sessionstore.MetaPDFFailed] = true
			delete(d.Metadata, sessionstore.MetaPDFGenerated)
			return nil
		}); ferr != nil {
			o.logger.Error().Err(ferr).Str("session_id", id).Msg("Failed to record generation failure")
		}
		return nil, err
	}

	session := genResult.Session
	if _, err := o.store.Update(ctx, id, session.Version, func(d *sessionstore.Document) error {
		d.Metadata[sessionstore.MetaPDFGenerated] = true
		delete(d.Metadata, sessionstore.MetaPDFFailed)
		return nil
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"artifact_id": genResult.Ref.ArtifactID,
		"reused":      genResult.Reused,
		"size_bytes":  genResult.Ref.SizeBytes,
		"page_count":  genResult.Ref.PageCount,
	}, nil
}

func (o *Orchestrator) handleFetchArtifact(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	artifactID, _ := args["artifact_id"].(string)

	doc, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, ref := range doc.ArtifactRefs {
		if ref.ArtifactID == artifactID {
			return map[string]interface{}{
				"artifact_id":  ref.ArtifactID,
				"created_at":   ref.CreatedAt,
				"content_hash": ref.ContentHash,
				"size_bytes":   ref.SizeBytes,
				"page_count":   ref.PageCount,
			}, nil
		}
	}
	return nil, fmt.Errorf("artifact %q not found in session", artifactID)
}

func (o *Orchestrator) handleFetchJobPosting(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := sessionIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if o.fetcher == nil {
		return nil, fmt.Errorf("job posting fetch is disabled")
	}
	rawURL, _ := args["url"].(string)

	posting, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if _, uerr := o.mutateLatest(ctx, id, func(d *sessionstore.Document) error {
			d.Metadata[sessionstore.MetaJobFetchStatus] = "failed"
			return nil
		}); uerr != nil {
			o.logger.Error().Err(uerr).Str("session_id", id).Msg("Failed to record fetch failure")
		}
		return nil, err
	}

	if _, err := o.mutateLatest(ctx, id, func(d *sessionstore.Document) error {
		d.Document["job_posting"] = map[string]interface{}{
			"url":   posting.URL,
			"title": posting.Title,
			"text":  posting.Text,
		}
		d.Metadata[sessionstore.MetaJobFetchStatus] = "fetched"
		return nil
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"url":       posting.URL,
		"title":     posting.Title,
		"truncated": posting.Truncated,
		"bytes":     len(posting.Text),
	}, nil
}
