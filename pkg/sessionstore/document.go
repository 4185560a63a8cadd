package sessionstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cvpilot/cvpilot/pkg/fsm"
)

// Metadata keys used by the workflow. Metadata is a flat mapping of
// bookkeeping flags and proposals; it never affects the artifact
// fingerprint.
const (
	MetaPDFGenerated   = "pdf_generated"
	MetaPDFFailed      = "pdf_failed"
	MetaJobFetchStatus = "job_fetch_status"
	MetaReviewTurns    = "review_turns"
	MetaPackHashes     = "pack_hashes"
)

// ArtifactRef is an immutable pointer to a generated artifact, keyed in
// the session document by content fingerprint. Entries are never mutated
// or deleted except by the expiry sweep.
type ArtifactRef struct {
	ArtifactID  string    `json:"artifact_id"`
	CreatedAt   time.Time `json:"created_at"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	PageCount   int       `json:"page_count"`
}

// Document is the durable unit of state for one tailoring session.
type Document struct {
	ID           string                 `json:"id"`
	Version      int64                  `json:"version"`
	Stage        fsm.Stage              `json:"stage"`
	Document     map[string]interface{} `json:"document"`
	Metadata     map[string]interface{} `json:"metadata"`
	ArtifactRefs map[string]ArtifactRef `json:"artifact_refs"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    time.Time              `json:"expires_at"`
}

// Expired reports whether the session is past its TTL at the given time.
func (d *Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// MetaBool reads a boolean metadata flag, treating absence as false.
func (d *Document) MetaBool(key string) bool {
	v, ok := d.Metadata[key].(bool)
	return ok && v
}

// MetaInt reads an integer metadata value, treating absence as zero.
// JSON round-trips store numbers as float64.
func (d *Document) MetaInt(key string) int {
	switch v := d.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Clone returns a deep copy of the document. Mutations are applied to a
// clone so a failed batch leaves the original untouched.
func (d *Document) Clone() (*Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	if out.Document == nil {
		out.Document = map[string]interface{}{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	if out.ArtifactRefs == nil {
		out.ArtifactRefs = map[string]ArtifactRef{}
	}
	return &out, nil
}

// checkInvariants verifies the properties no persisted document may
// break. prev is the document as stored before the mutation.
func checkInvariants(prev, next *Document) error {
	if !next.Stage.Valid() {
		return fmt.Errorf("%w: stage %q is not in the closed stage set", ErrInvariantViolated, next.Stage)
	}
	if next.MetaBool(MetaPDFGenerated) && next.MetaBool(MetaPDFFailed) {
		return fmt.Errorf("%w: pdf_generated and pdf_failed are mutually exclusive", ErrInvariantViolated)
	}
	for fp, ref := range prev.ArtifactRefs {
		got, ok := next.ArtifactRefs[fp]
		if !ok {
			return fmt.Errorf("%w: artifact ref %s removed", ErrInvariantViolated, fp)
		}
		if got.ArtifactID != ref.ArtifactID || got.ContentHash != ref.ContentHash {
			return fmt.Errorf("%w: artifact ref %s mutated", ErrInvariantViolated, fp)
		}
	}
	return nil
}
