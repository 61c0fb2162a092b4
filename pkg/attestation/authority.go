// Package attestation implements the AttestationAuthority: issuing,
// verifying, chaining and revoking signed claims over trust surfaces.
package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesheets/trustfabric/pkg/audit"
	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
	"github.com/wesheets/trustfabric/pkg/store"
)

// DefaultMaxChainDepth bounds parent-chain traversal.
const DefaultMaxChainDepth = 64

// DefaultTTL is the validity window of a new attestation.
const DefaultTTL = 24 * time.Hour

// SurfaceResolver resolves surface ids at issue time. Satisfied by
// *surface.Composer.
type SurfaceResolver interface {
	Get(ctx context.Context, id string) (*contracts.Surface, error)
}

// Authority issues and verifies attestations through a pluggable Signer.
type Authority struct {
	mu            sync.Mutex
	store         store.Store
	signer        crypto.Signer
	surfaces      SurfaceResolver
	auditSink     audit.Sink
	maxChainDepth int
	ttl           time.Duration
	logger        *slog.Logger
}

func NewAuthority(s store.Store, signer crypto.Signer, surfaces SurfaceResolver) *Authority {
	return &Authority{
		store:         s,
		signer:        signer,
		surfaces:      surfaces,
		maxChainDepth: DefaultMaxChainDepth,
		ttl:           DefaultTTL,
		logger:        slog.Default().With("component", "attestation"),
	}
}

// SetAuditSink wires the optional audit sink.
func (a *Authority) SetAuditSink(sink audit.Sink) { a.auditSink = sink }

// SetMaxChainDepth overrides the chain traversal bound.
func (a *Authority) SetMaxChainDepth(depth int) {
	if depth > 0 {
		a.maxChainDepth = depth
	}
}

// IssueOption customizes Issue.
type IssueOption func(*issueOptions)

type issueOptions struct {
	parentID string
	ttl      time.Duration
}

// WithParent chains the new attestation to a prior one.
func WithParent(parentID string) IssueOption {
	return func(o *issueOptions) { o.parentID = parentID }
}

// WithTTL overrides the validity window.
func WithTTL(ttl time.Duration) IssueOption {
	return func(o *issueOptions) { o.ttl = ttl }
}

// Issue signs a new attestation over the canonical payload
// id|attester|surface_id|type|issued_at.
func (a *Authority) Issue(ctx context.Context, attesterNodeID, surfaceID, attType string, metadata map[string]any, opts ...IssueOption) (*contracts.Attestation, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("signer not configured: %w", contracts.ErrUnavailable)
	}
	if attType == "" {
		return nil, fmt.Errorf("attestation type required: %w", contracts.ErrValidation)
	}
	if _, err := a.surfaces.Get(ctx, surfaceID); err != nil {
		return nil, fmt.Errorf("surface %s: %w", surfaceID, err)
	}

	o := issueOptions{ttl: a.ttl}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parentID != "" {
		if _, err := a.Get(ctx, o.parentID); err != nil {
			return nil, fmt.Errorf("parent attestation %s: %w", o.parentID, err)
		}
	}

	now := time.Now().UTC()
	att := &contracts.Attestation{
		ID:                  "att-" + uuid.NewString(),
		AttesterNodeID:      crypto.NormalizeString(attesterNodeID),
		SubjectSurfaceID:    surfaceID,
		Type:                attType,
		IssuedAt:            now,
		ExpiresAt:           now.Add(o.ttl),
		Status:              contracts.AttestationValid,
		ParentAttestationID: o.parentID,
		Metadata:            metadata,
	}

	payload := crypto.CanonicalizeAttestation(att.ID, att.AttesterNodeID, att.SubjectSurfaceID, att.Type, att.IssuedAt)
	sig, err := a.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	att.Signature = sig

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.put(ctx, att); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "attestation issued", "id", att.ID, "surface", surfaceID, "type", attType)
	return att, nil
}

// Verify recomputes the canonical payload and checks the signature. It never
// returns an error: a revoked, expired, unsigned or tampered attestation is
// simply false.
func (a *Authority) Verify(att *contracts.Attestation) bool {
	if a.signer == nil || att == nil || att.Signature == "" {
		return false
	}
	if att.Status != contracts.AttestationValid {
		return false
	}
	if !att.ExpiresAt.IsZero() && time.Now().After(att.ExpiresAt) {
		return false
	}
	payload := crypto.CanonicalizeAttestation(att.ID, att.AttesterNodeID, att.SubjectSurfaceID, att.Type, att.IssuedAt)
	return a.signer.Verify(payload, att.Signature)
}

// Revoke sets status to revoked. Idempotent: revoking an already-revoked
// attestation returns current state unchanged.
func (a *Authority) Revoke(ctx context.Context, id string) (*contracts.Attestation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	att, err := a.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if att.Status == contracts.AttestationRevoked {
		return att, nil
	}
	att.Status = contracts.AttestationRevoked
	if err := a.put(ctx, att); err != nil {
		return nil, err
	}
	if a.auditSink != nil {
		_ = a.auditSink.Record(ctx, audit.EventRevocation, "revoke", att.ID, map[string]any{
			"surface_id": att.SubjectSurfaceID,
		})
	}
	a.logger.InfoContext(ctx, "attestation revoked", "id", id)
	return att, nil
}

// Get returns the attestation by id.
func (a *Authority) Get(ctx context.Context, id string) (*contracts.Attestation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.get(ctx, id)
}

// List returns all attestations in id order.
func (a *Authority) List(ctx context.Context) ([]*contracts.Attestation, error) {
	return a.filter(ctx, func(*contracts.Attestation) bool { return true })
}

// FilterBySurface returns attestations over the given surface.
func (a *Authority) FilterBySurface(ctx context.Context, surfaceID string) ([]*contracts.Attestation, error) {
	return a.filter(ctx, func(att *contracts.Attestation) bool {
		return att.SubjectSurfaceID == surfaceID
	})
}

func (a *Authority) filter(ctx context.Context, keep func(*contracts.Attestation) bool) ([]*contracts.Attestation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := a.store.Scan(ctx, store.KindAttestation)
	if err != nil {
		return nil, err
	}
	var out []*contracts.Attestation
	for _, data := range raw {
		var att contracts.Attestation
		if err := json.Unmarshal(data, &att); err != nil {
			return nil, fmt.Errorf("corrupt attestation record: %w", err)
		}
		if keep(&att) {
			out = append(out, &att)
		}
	}
	return out, nil
}

func (a *Authority) get(ctx context.Context, id string) (*contracts.Attestation, error) {
	data, err := a.store.Get(ctx, store.KindAttestation, id)
	if err != nil {
		return nil, err
	}
	var att contracts.Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("corrupt attestation record %s: %w", id, err)
	}
	return &att, nil
}

func (a *Authority) put(ctx context.Context, att *contracts.Attestation) error {
	data, err := json.Marshal(att)
	if err != nil {
		return err
	}
	return a.store.Put(ctx, store.KindAttestation, att.ID, data)
}
