// Package contextpack builds the bounded, deterministic snapshot of a
// session that is sent to the agent in place of raw session data.
package contextpack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cvpilot/cvpilot/pkg/fsm"
)

// Section is one top-level document section in a pack. Content is only
// populated when the section changed since the previous pack; unchanged
// sections carry their hash so the agent can refer back to them.
type Section struct {
	Name    string      `json:"name"`
	Hash    string      `json:"hash"`
	Changed bool        `json:"changed"`
	Content interface{} `json:"content,omitempty"`
}

// Pack is the structured snapshot handed to the agent. It never carries
// uploaded-file bytes or artifact bytes, only opaque references.
type Pack struct {
	SessionID string                 `json:"session_id"`
	Stage     fsm.Stage              `json:"stage"`
	Sections  []Section              `json:"sections"`
	Workflow  map[string]interface{} `json:"workflow"`
	Truncated bool                   `json:"truncated,omitempty"`
}

// Builder produces packs bounded to a maximum encoded size.
type Builder struct {
	maxBytes int
}

// DefaultMaxBytes bounds a pack when no limit is configured.
const DefaultMaxBytes = 64 * 1024

// NewBuilder creates a Builder with the given size bound.
func NewBuilder(maxBytes int) *Builder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Builder{maxBytes: maxBytes}
}

// workflowKeys are the metadata flags surfaced to the agent. Artifact
// refs and pack bookkeeping stay out.
var workflowKeys = []string{"pdf_generated", "pdf_failed", "job_fetch_status"}

// Build produces a pack for the document and the section-hash ledger to
// persist for the next turn. prevHashes is the ledger from the previous
// pack; sections whose hash is unchanged are sent hash-only. Build is
// pure: it reads its inputs and touches nothing else.
func (b *Builder) Build(sessionID string, stage fsm.Stage, document, metadata map[string]interface{}, prevHashes map[string]string) (Pack, map[string]string, error) {
	names := make([]string, 0, len(document))
	for name := range document {
		names = append(names, name)
	}
	sort.Strings(names)

	pack := Pack{
		SessionID: sessionID,
		Stage:     stage,
		Sections:  make([]Section, 0, len(names)),
		Workflow:  map[string]interface{}{},
	}
	for _, key := range workflowKeys {
		if v, ok := metadata[key]; ok {
			pack.Workflow[key] = v
		}
	}

	hashes := make(map[string]string, len(names))
	budget := b.maxBytes

	for _, name := range names {
		content := document[name]
		hash, err := hashSection(content)
		if err != nil {
			return Pack{}, nil, fmt.Errorf("failed to hash section %q: %w", name, err)
		}
		hashes[name] = hash

		section := Section{Name: name, Hash: hash}
		if prevHashes[name] != hash {
			section.Changed = true
			encoded, err := json.Marshal(content)
			if err != nil {
				return Pack{}, nil, fmt.Errorf("failed to encode section %q: %w", name, err)
			}
			if len(encoded) <= budget {
				section.Content = content
				budget -= len(encoded)
			} else {
				// Over budget: the section is reported changed but
				// content stays behind its hash.
				pack.Truncated = true
			}
		}
		pack.Sections = append(pack.Sections, section)
	}

	return pack, hashes, nil
}

// hashSection computes a deterministic hash of a section's canonical
// JSON encoding. Map keys are sorted by encoding/json, so equal values
// always hash equal.
func hashSection(content interface{}) (string, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
