package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the deterministic hash of the content-relevant
// part of a session: the CV document itself, never the workflow
// metadata. Two sessions with identical content produce identical
// fingerprints, which is what makes generation idempotent.
func Fingerprint(document map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("failed to encode document for fingerprint: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
