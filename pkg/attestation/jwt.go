package attestation

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
)

// Claims is the JWT representation of an attestation: a portable form peers
// can validate with only the attester's public key.
type Claims struct {
	jwt.RegisteredClaims
	AttestationType     string `json:"attestation_type"`
	ParentAttestationID string `json:"parent_attestation_id,omitempty"`
}

// ExportJWT returns the attestation as an EdDSA-signed JWT with
// jti=attestation id, iss=attester, sub=surface id. Requires the configured
// signer to be the Ed25519 implementation.
func (a *Authority) ExportJWT(ctx context.Context, id string) (string, error) {
	ed, ok := a.signer.(*crypto.Ed25519Signer)
	if !ok {
		return "", fmt.Errorf("jwt export requires an ed25519 signer: %w", contracts.ErrUnavailable)
	}

	att, err := a.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if att.Status != contracts.AttestationValid {
		return "", fmt.Errorf("attestation %s is revoked: %w", id, contracts.ErrInvalidState)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        att.ID,
			Issuer:    att.AttesterNodeID,
			Subject:   att.SubjectSurfaceID,
			IssuedAt:  jwt.NewNumericDate(att.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(att.ExpiresAt),
		},
		AttestationType:     att.Type,
		ParentAttestationID: att.ParentAttestationID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(ed.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("jwt signing failed: %w", err)
	}
	return signed, nil
}

// ParseJWT validates an attestation token against a hex-encoded Ed25519
// public key and returns its claims.
func ParseJWT(tokenString, pubKeyHex string) (*Claims, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key: %w", contracts.ErrValidation)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ed25519.PublicKey(pubKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse failed: %v: %w", err, contracts.ErrIntegrity)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("jwt invalid: %w", contracts.ErrIntegrity)
	}
	return claims, nil
}
