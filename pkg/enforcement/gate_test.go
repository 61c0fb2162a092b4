package enforcement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/schema"
	"github.com/wesheets/trustfabric/pkg/store"
)

type staticBoundaries struct{}

func (staticBoundaries) Get(ctx context.Context, id string) (*contracts.Boundary, error) {
	if id != "bnd-1" {
		return nil, contracts.ErrNotFound
	}
	return &contracts.Boundary{
		ID: id, OwnerNodeID: "node-a", Type: contracts.BoundaryInternal,
		Status: contracts.StatusActive,
	}, nil
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	v, err := schema.NewEntityValidator()
	require.NoError(t, err)
	g, err := NewGate(store.NewMemoryStore(), v, staticBoundaries{})
	require.NoError(t, err)
	return g
}

func createPolicy(t *testing.T, g *Gate, req CreatePolicyRequest) *contracts.EnforcementPolicy {
	t.Helper()
	if req.BoundaryID == "" {
		req.BoundaryID = "bnd-1"
	}
	p, err := g.CreatePolicy(context.Background(), req)
	require.NoError(t, err)
	return p
}

func TestCreatePolicyValidation(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	_, err := g.CreatePolicy(ctx, CreatePolicyRequest{BoundaryID: "bnd-1", Level: "draconian"})
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	_, err = g.CreatePolicy(ctx, CreatePolicyRequest{BoundaryID: "bnd-missing", Level: contracts.LevelStrict})
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	_, err = g.CreatePolicy(ctx, CreatePolicyRequest{
		BoundaryID: "bnd-1",
		Level:      contracts.LevelStrict,
		Condition:  "action ==", // malformed CEL
	})
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestEnforceGrantAndDeny(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelStrict,
		PermittedActions: []string{"read", "write"},
	})

	granted, err := g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	assert.True(t, granted.Granted)
	assert.Empty(t, granted.Reason)

	denied, err := g.Enforce(ctx, p.ID, "res-1", "execute", "user-1")
	require.NoError(t, err, "a denial is a decision, not an error")
	assert.False(t, denied.Granted)
	assert.Contains(t, denied.Reason, "not permitted")

	// Exactly one log entry per Enforce call, in order.
	log, err := g.GetLog(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, granted.ID, log[0].ID)
	assert.Equal(t, denied.ID, log[1].ID)
}

func TestEnforceMissingPolicy(t *testing.T) {
	g := newTestGate(t)

	_, err := g.Enforce(context.Background(), "pol-missing", "res-1", "read", "user-1")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestEnforceInactivePolicyDenies(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
	})

	inactive := contracts.StatusInactive
	_, err := g.Update(ctx, p.ID, Patch{Status: &inactive})
	require.NoError(t, err)

	d, err := g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, "policy inactive", d.Reason)
}

func TestEnforceAuditOnlyAlwaysGrants(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelAuditOnly,
		PermittedActions: []string{"read"},
	})

	d, err := g.Enforce(ctx, p.ID, "res-1", "delete", "user-1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Contains(t, d.Reason, "audit-only override:")
	assert.Contains(t, d.Reason, "not permitted")
}

func TestEnforceCondition(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
		Condition:        `requester.startsWith("svc-")`,
	})

	d, err := g.Enforce(ctx, p.ID, "res-1", "read", "svc-billing")
	require.NoError(t, err)
	assert.True(t, d.Granted)

	d, err = g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, "condition not satisfied", d.Reason)
}

func TestEnforceConditionRecompilesAfterRestart(t *testing.T) {
	v, err := schema.NewEntityValidator()
	require.NoError(t, err)
	s := store.NewMemoryStore()
	g1, err := NewGate(s, v, staticBoundaries{})
	require.NoError(t, err)

	ctx := context.Background()
	p, err := g1.CreatePolicy(ctx, CreatePolicyRequest{
		BoundaryID:       "bnd-1",
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
		Condition:        `resource == "res-1"`,
	})
	require.NoError(t, err)

	// A fresh gate over the same store has an empty program cache.
	g2, err := NewGate(s, v, staticBoundaries{})
	require.NoError(t, err)

	d, err := g2.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestEnforceRemediationHook(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	fired := make(chan contracts.EnforcementDecision, 1)
	g.SetRemediationHook(func(ctx context.Context, policyID string, d contracts.EnforcementDecision) {
		fired <- d
	})

	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelStrict,
		PermittedActions: []string{"read"},
		AutoRemediate:    true,
	})

	d, err := g.Enforce(ctx, p.ID, "res-1", "delete", "user-1")
	require.NoError(t, err)
	require.False(t, d.Granted)

	select {
	case got := <-fired:
		assert.Equal(t, d.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("remediation hook not invoked")
	}

	// A grant must not fire the hook.
	_, err = g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	select {
	case <-fired:
		t.Fatal("hook fired on a grant")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnforceRemediationNotFiredForModerate(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	fired := make(chan struct{}, 1)
	g.SetRemediationHook(func(context.Context, string, contracts.EnforcementDecision) {
		fired <- struct{}{}
	})

	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
		AutoRemediate:    true,
	})

	_, err := g.Enforce(ctx, p.ID, "res-1", "delete", "user-1")
	require.NoError(t, err)
	select {
	case <-fired:
		t.Fatal("hook fired for a non-strict policy")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnforceSurvivesHookPanic(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	entered := make(chan struct{})
	g.SetRemediationHook(func(context.Context, string, contracts.EnforcementDecision) {
		close(entered)
		panic("remediation exploded")
	})

	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelStrict,
		PermittedActions: []string{"read"},
		AutoRemediate:    true,
	})

	d, err := g.Enforce(ctx, p.ID, "res-1", "delete", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Granted)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("hook not invoked")
	}

	// The gate still works after the panic.
	_, err = g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	assert.NoError(t, err)
}

func TestUpdatePolicy(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
	})

	strict := contracts.LevelStrict
	actions := []string{"read", "write", "write"}
	condition := `action != "write" || requester == "admin"`
	updated, err := g.Update(ctx, p.ID, Patch{
		Level:            &strict,
		PermittedActions: &actions,
		Condition:        &condition,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.LevelStrict, updated.Level)
	assert.Equal(t, []string{"read", "write"}, updated.PermittedActions)

	d, err := g.Enforce(ctx, p.ID, "res-1", "write", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Granted)

	d, err = g.Enforce(ctx, p.ID, "res-1", "write", "admin")
	require.NoError(t, err)
	assert.True(t, d.Granted)

	bad := "nonsense ==("
	_, err = g.Update(ctx, p.ID, Patch{Condition: &bad})
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestClearLog(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	p := createPolicy(t, g, CreatePolicyRequest{
		Level:            contracts.LevelModerate,
		PermittedActions: []string{"read"},
	})

	_, err := g.Enforce(ctx, p.ID, "res-1", "read", "user-1")
	require.NoError(t, err)
	_, err = g.Enforce(ctx, p.ID, "res-1", "write", "user-1")
	require.NoError(t, err)

	log, err := g.GetLog(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)

	require.NoError(t, g.ClearLog(ctx, p.ID))
	log, err = g.GetLog(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestFilterByBoundary(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	createPolicy(t, g, CreatePolicyRequest{Level: contracts.LevelStrict, PermittedActions: []string{"read"}})
	createPolicy(t, g, CreatePolicyRequest{Level: contracts.LevelModerate, PermittedActions: []string{"read"}})

	all, err := g.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bound, err := g.FilterByBoundary(ctx, "bnd-1")
	require.NoError(t, err)
	assert.Len(t, bound, 2)

	none, err := g.FilterByBoundary(ctx, "bnd-other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
