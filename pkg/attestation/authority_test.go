package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
	"github.com/wesheets/trustfabric/pkg/store"
)

type staticSurfaces struct {
	surfaces map[string]*contracts.Surface
}

func (s *staticSurfaces) Get(ctx context.Context, id string) (*contracts.Surface, error) {
	srf, ok := s.surfaces[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return srf, nil
}

type testAuthority struct {
	authority *Authority
	signer    *crypto.Ed25519Signer
	store     *store.MemoryStore
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("test-key")
	require.NoError(t, err)
	s := store.NewMemoryStore()
	surfaces := &staticSurfaces{surfaces: map[string]*contracts.Surface{
		"srf-1": {ID: "srf-1", OwnerNodeID: "node-a", Status: contracts.StatusActive},
	}}
	return &testAuthority{
		authority: NewAuthority(s, signer, surfaces),
		signer:    signer,
		store:     s,
	}
}

// seed writes an attestation directly, bypassing Issue. Used to build
// malformed chains.
func (ta *testAuthority) seed(t *testing.T, att *contracts.Attestation) {
	t.Helper()
	data, err := json.Marshal(att)
	require.NoError(t, err)
	require.NoError(t, ta.store.Put(context.Background(), store.KindAttestation, att.ID, data))
}

func TestIssueAndVerify(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	att, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", map[string]any{"scope": "full"})
	require.NoError(t, err)
	assert.NotEmpty(t, att.Signature)
	assert.Equal(t, contracts.AttestationValid, att.Status)
	assert.True(t, att.ExpiresAt.After(att.IssuedAt))

	assert.True(t, ta.authority.Verify(att))

	got, err := ta.authority.Get(ctx, att.ID)
	require.NoError(t, err)
	assert.True(t, ta.authority.Verify(got), "round-tripped attestation still verifies")
}

func TestVerifyRejectsTampered(t *testing.T) {
	ta := newTestAuthority(t)

	att, err := ta.authority.Issue(context.Background(), "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)

	tampered := *att
	tampered.SubjectSurfaceID = "srf-other"
	assert.False(t, ta.authority.Verify(&tampered))

	unsigned := *att
	unsigned.Signature = ""
	assert.False(t, ta.authority.Verify(&unsigned))
}

func TestVerifyRejectsExpired(t *testing.T) {
	ta := newTestAuthority(t)

	att, err := ta.authority.Issue(context.Background(), "node-a", "srf-1", "baseline", nil, WithTTL(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ta.authority.Verify(att))
}

func TestIssueUnknownSurface(t *testing.T) {
	ta := newTestAuthority(t)

	_, err := ta.authority.Issue(context.Background(), "node-a", "srf-missing", "baseline", nil)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestIssueMissingParent(t *testing.T) {
	ta := newTestAuthority(t)

	_, err := ta.authority.Issue(context.Background(), "node-a", "srf-1", "baseline", nil, WithParent("att-missing"))
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestRevokeIsIdempotent(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	att, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)

	revoked, err := ta.authority.Revoke(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttestationRevoked, revoked.Status)
	assert.False(t, ta.authority.Verify(revoked))

	again, err := ta.authority.Revoke(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttestationRevoked, again.Status)
}

func TestChainChildFirst(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	root, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)
	mid, err := ta.authority.Issue(ctx, "node-a", "srf-1", "renewal", nil, WithParent(root.ID))
	require.NoError(t, err)
	leaf, err := ta.authority.Issue(ctx, "node-a", "srf-1", "renewal", nil, WithParent(mid.ID))
	require.NoError(t, err)

	chain, err := ta.authority.Chain(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, leaf.ID, chain[0].ID)
	assert.Equal(t, mid.ID, chain[1].ID)
	assert.Equal(t, root.ID, chain[2].ID)
}

func TestChainDetectsCycle(t *testing.T) {
	ta := newTestAuthority(t)
	now := time.Now().UTC()

	ta.seed(t, &contracts.Attestation{
		ID: "att-a", AttesterNodeID: "node-a", SubjectSurfaceID: "srf-1",
		Type: "baseline", IssuedAt: now, Status: contracts.AttestationValid,
		ParentAttestationID: "att-b",
	})
	ta.seed(t, &contracts.Attestation{
		ID: "att-b", AttesterNodeID: "node-a", SubjectSurfaceID: "srf-1",
		Type: "baseline", IssuedAt: now, Status: contracts.AttestationValid,
		ParentAttestationID: "att-a",
	})

	_, err := ta.authority.Chain(context.Background(), "att-a")
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))
}

func TestChainMissingParent(t *testing.T) {
	ta := newTestAuthority(t)

	ta.seed(t, &contracts.Attestation{
		ID: "att-orphan", AttesterNodeID: "node-a", SubjectSurfaceID: "srf-1",
		Type: "baseline", IssuedAt: time.Now().UTC(), Status: contracts.AttestationValid,
		ParentAttestationID: "att-gone",
	})

	_, err := ta.authority.Chain(context.Background(), "att-orphan")
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))
}

func TestChainDepthBound(t *testing.T) {
	ta := newTestAuthority(t)
	ta.authority.SetMaxChainDepth(3)
	now := time.Now().UTC()

	ids := []string{"att-0", "att-1", "att-2", "att-3"}
	for i, id := range ids {
		parent := ""
		if i > 0 {
			parent = ids[i-1]
		}
		ta.seed(t, &contracts.Attestation{
			ID: id, AttesterNodeID: "node-a", SubjectSurfaceID: "srf-1",
			Type: "baseline", IssuedAt: now, Status: contracts.AttestationValid,
			ParentAttestationID: parent,
		})
	}

	_, err := ta.authority.Chain(context.Background(), "att-3")
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))

	chain, err := ta.authority.Chain(context.Background(), "att-2")
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestChainNotFound(t *testing.T) {
	ta := newTestAuthority(t)

	_, err := ta.authority.Chain(context.Background(), "att-missing")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestFilterBySurface(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	surfaces := ta.authority.surfaces.(*staticSurfaces)
	surfaces.surfaces["srf-2"] = &contracts.Surface{ID: "srf-2", OwnerNodeID: "node-b"}

	_, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)
	_, err = ta.authority.Issue(ctx, "node-a", "srf-2", "baseline", nil)
	require.NoError(t, err)

	matches, err := ta.authority.FilterBySurface(ctx, "srf-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "srf-1", matches[0].SubjectSurfaceID)

	all, err := ta.authority.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExportAndParseJWT(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	parent, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)
	att, err := ta.authority.Issue(ctx, "node-a", "srf-1", "renewal", nil, WithParent(parent.ID))
	require.NoError(t, err)

	token, err := ta.authority.ExportJWT(ctx, att.ID)
	require.NoError(t, err)

	claims, err := ParseJWT(token, ta.signer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, att.ID, claims.ID)
	assert.Equal(t, "node-a", claims.Issuer)
	assert.Equal(t, "srf-1", claims.Subject)
	assert.Equal(t, "renewal", claims.AttestationType)
	assert.Equal(t, parent.ID, claims.ParentAttestationID)

	other, err := crypto.NewEd25519Signer("other")
	require.NoError(t, err)
	_, err = ParseJWT(token, other.PublicKey())
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))
}

func TestExportJWTRevoked(t *testing.T) {
	ta := newTestAuthority(t)
	ctx := context.Background()

	att, err := ta.authority.Issue(ctx, "node-a", "srf-1", "baseline", nil)
	require.NoError(t, err)
	_, err = ta.authority.Revoke(ctx, att.ID)
	require.NoError(t, err)

	_, err = ta.authority.ExportJWT(ctx, att.ID)
	assert.True(t, errors.Is(err, contracts.ErrInvalidState))
}
