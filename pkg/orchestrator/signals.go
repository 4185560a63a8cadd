package orchestrator

import (
	"strings"

	"github.com/cvpilot/cvpilot/pkg/sessionstore"
)

// approvalMarkers and editMarkers drive the deterministic message
// classification. Matching is substring and case-insensitive; the
// classifier never consults the agent, so the same message always
// yields the same signals.
var approvalMarkers = []string{
	"approve",
	"looks good",
	"lgtm",
	"go ahead",
	"ship it",
	"confirm",
	"generate it",
	"i'm happy with",
}

var editMarkers = []string{
	"change",
	"edit",
	"update",
	"revise",
	"reword",
	"rewrite",
	"instead",
	"replace",
	"remove",
	"delete",
	"add a",
	"add the",
	"fix",
	"tweak",
}

// classifyApproval reports whether the message expresses approval.
func classifyApproval(message string) bool {
	return containsAny(message, approvalMarkers)
}

// classifyEditIntent reports whether the message asks for changes.
func classifyEditIntent(message string) bool {
	return containsAny(message, editMarkers)
}

func containsAny(message string, markers []string) bool {
	lower := strings.ToLower(message)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// hasMinimumFields reports whether the document carries enough to
// leave INGEST: a named contact with email and phone, and at least one
// experience entry.
func hasMinimumFields(document map[string]interface{}) bool {
	contact, ok := document["contact"].(map[string]interface{})
	if !ok {
		return false
	}
	for _, field := range []string{"full_name", "email", "phone"} {
		s, ok := contact[field].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return false
		}
	}
	exp, ok := document["experience"].([]interface{})
	return ok && len(exp) > 0
}

// metaHashes reads the persisted section-hash ledger.
func metaHashes(doc *sessionstore.Document) map[string]string {
	raw, ok := doc.Metadata[sessionstore.MetaPackHashes].(map[string]interface{})
	if !ok {
		return nil
	}
	hashes := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			hashes[k] = s
		}
	}
	return hashes
}

func hashesToMeta(hashes map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(hashes))
	for k, v := range hashes {
		out[k] = v
	}
	return out
}
