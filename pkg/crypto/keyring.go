package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keyring derives per-node envelope keys from a fabric root secret via
// HKDF-SHA256. Envelope HMAC tags let a receiving node check integrity of a
// propagation envelope cheaply, before any full signature verification.
type Keyring struct {
	root []byte
}

// NewKeyring creates a keyring from a root secret. The secret must be at
// least 16 bytes.
func NewKeyring(root []byte) (*Keyring, error) {
	if len(root) < 16 {
		return nil, fmt.Errorf("root secret too short: %d bytes", len(root))
	}
	k := make([]byte, len(root))
	copy(k, root)
	return &Keyring{root: k}, nil
}

// NewRandomKeyring creates a keyring with a fresh 32-byte root secret.
func NewRandomKeyring() (*Keyring, error) {
	root := make([]byte, 32)
	if _, err := rand.Read(root); err != nil {
		return nil, fmt.Errorf("root secret generation failed: %w", err)
	}
	return &Keyring{root: root}, nil
}

// DeriveNodeKey derives the 32-byte envelope key for a target node. The
// derivation is deterministic: both ends derive the same key from the shared
// root and the node id.
func (k *Keyring) DeriveNodeKey(nodeID string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.root, nil, []byte("trustfabric/envelope/"+NormalizeString(nodeID)))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed for node %s: %w", nodeID, err)
	}
	return key, nil
}

// Seal computes the hex HMAC-SHA256 tag of payload under the target node's
// derived key.
func (k *Keyring) Seal(nodeID string, payload []byte) (string, error) {
	key, err := k.DeriveNodeKey(nodeID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Open verifies a sealed payload's tag. Returns false on any mismatch or
// malformed tag.
func (k *Keyring) Open(nodeID string, payload []byte, tagHex string) bool {
	want, err := k.Seal(nodeID, payload)
	if err != nil {
		return false
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(want)
	return hmac.Equal(expected, tag)
}
