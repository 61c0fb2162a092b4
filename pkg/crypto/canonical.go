package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// CanonicalMarshal marshals v into RFC 8785 (JCS) canonical JSON: map keys
// sorted lexicographically, no HTML escaping, compact, no trailing newline.
// Used for envelope bodies and content addressing.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return canonical, nil
}

// ContentHash returns the hex SHA-256 of the canonical JSON form of v.
func ContentHash(v interface{}) (string, error) {
	canonical, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeString returns s in Unicode NFC form. Identifiers and resource
// names are normalized before entering canonical payloads so visually
// identical strings hash identically.
func NormalizeString(s string) string {
	return norm.NFC.String(s)
}

// CanonicalizeAttestation builds the canonical signing payload of an
// attestation: id|attester|surface_id|type|issued_at. Any change to a signed
// field invalidates the signature.
func CanonicalizeAttestation(id, attesterNodeID, surfaceID, attType string, issuedAt time.Time) []byte {
	payload := NormalizeString(id) + SigSeparator +
		NormalizeString(attesterNodeID) + SigSeparator +
		NormalizeString(surfaceID) + SigSeparator +
		NormalizeString(attType) + SigSeparator +
		issuedAt.UTC().Format(time.RFC3339Nano)
	return []byte(payload)
}
