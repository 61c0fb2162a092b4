// Package enforcement implements the EnforcementGate: access decisions
// evaluated against boundary-bound policies, with an append-only decision
// log per policy.
package enforcement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/uuid"

	"github.com/wesheets/trustfabric/pkg/audit"
	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/observability"
	"github.com/wesheets/trustfabric/pkg/schema"
	"github.com/wesheets/trustfabric/pkg/store"
)

// BoundaryResolver resolves boundary ids at policy creation time. Satisfied
// by *boundary.Manager.
type BoundaryResolver interface {
	Get(ctx context.Context, id string) (*contracts.Boundary, error)
}

// RemediationHook is invoked fire-and-forget on a strict-policy denial with
// auto_remediate enabled.
type RemediationHook func(ctx context.Context, policyID string, decision contracts.EnforcementDecision)

// Gate owns EnforcementPolicy entities and evaluates access requests.
// Business denials are normal, logged decisions, never errors.
type Gate struct {
	mu         sync.Mutex
	store      store.Store
	validator  schema.Validator
	boundaries BoundaryResolver
	remediate  RemediationHook
	auditSink  audit.Sink
	obs        *observability.Provider
	env        *cel.Env
	programs   map[string]cel.Program
	logger     *slog.Logger
}

func NewGate(s store.Store, v schema.Validator, boundaries BoundaryResolver) (*Gate, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("resource", types.StringType),
			decls.NewVariable("requester", types.StringType),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Gate{
		store:      s,
		validator:  v,
		boundaries: boundaries,
		env:        env,
		programs:   make(map[string]cel.Program),
		logger:     slog.Default().With("component", "enforcement"),
	}, nil
}

// SetRemediationHook wires the optional remediation hook.
func (g *Gate) SetRemediationHook(hook RemediationHook) { g.remediate = hook }

// SetAuditSink wires the optional audit sink.
func (g *Gate) SetAuditSink(sink audit.Sink) { g.auditSink = sink }

// SetObservability wires the optional metrics/tracing provider.
func (g *Gate) SetObservability(p *observability.Provider) { g.obs = p }

// CreatePolicyRequest carries the CreatePolicy parameters.
type CreatePolicyRequest struct {
	BoundaryID       string
	Level            contracts.EnforcementLevel
	PermittedActions []string
	AutoRemediate    bool
	Condition        string // optional CEL expression
	Metadata         map[string]any
}

// CreatePolicy validates and persists a new policy bound to an existing
// boundary.
func (g *Gate) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*contracts.EnforcementPolicy, error) {
	if !contracts.ValidEnforcementLevel(req.Level) {
		return nil, fmt.Errorf("unknown enforcement level %q: %w", req.Level, contracts.ErrValidation)
	}
	if _, err := g.boundaries.Get(ctx, req.BoundaryID); err != nil {
		return nil, fmt.Errorf("boundary %s: %w", req.BoundaryID, err)
	}

	now := time.Now().UTC()
	p := &contracts.EnforcementPolicy{
		ID:               "pol-" + uuid.NewString(),
		BoundaryID:       req.BoundaryID,
		Level:            req.Level,
		PermittedActions: dedupe(req.PermittedActions),
		AutoRemediate:    req.AutoRemediate,
		Condition:        req.Condition,
		Status:           contracts.StatusActive,
		Metadata:         req.Metadata,
		EnforcementLog:   []contracts.EnforcementDecision{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := g.validate(p); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Condition != "" {
		if err := g.compileLocked(p.ID, p.Condition); err != nil {
			return nil, err
		}
	}
	if err := g.put(ctx, p); err != nil {
		return nil, err
	}
	g.logger.InfoContext(ctx, "policy created", "id", p.ID, "boundary", p.BoundaryID, "level", p.Level)
	return p, nil
}

// Enforce evaluates one access request against a policy and appends the
// decision to the policy's log. It errors only when the policy is missing;
// a denial is a normal decision.
func (g *Gate) Enforce(ctx context.Context, policyID, resourceID, action, requesterID string) (*contracts.EnforcementDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.get(ctx, policyID)
	if err != nil {
		return nil, err
	}

	decision := contracts.EnforcementDecision{
		ID:          "dec-" + uuid.NewString(),
		ResourceID:  resourceID,
		Action:      action,
		RequesterID: requesterID,
		Timestamp:   time.Now().UTC(),
	}

	switch {
	case p.Status != contracts.StatusActive:
		decision.Granted = false
		decision.Reason = "policy inactive"
	default:
		granted := p.Permits(action)
		reason := ""
		if !granted {
			reason = fmt.Sprintf("action %q not permitted", action)
		}
		if granted && p.Condition != "" {
			ok, condErr := g.evalConditionLocked(p, resourceID, action, requesterID)
			if condErr != nil {
				// Fail closed on evaluation errors.
				granted = false
				reason = fmt.Sprintf("condition evaluation failed: %v", condErr)
			} else if !ok {
				granted = false
				reason = "condition not satisfied"
			}
		}
		if p.Level == contracts.LevelAuditOnly {
			// Audit-only always grants; the rule it would have produced is
			// preserved in the reason.
			if !granted {
				reason = "audit-only override: " + reason
			}
			granted = true
		}
		decision.Granted = granted
		decision.Reason = reason
	}

	if !decision.Granted && p.Level == contracts.LevelStrict && p.AutoRemediate && g.remediate != nil {
		go g.invokeRemediation(p.ID, decision)
	}

	p.EnforcementLog = append(p.EnforcementLog, decision)
	p.UpdatedAt = time.Now().UTC()
	if err := g.put(ctx, p); err != nil {
		return nil, err
	}

	g.obs.RecordDecision(ctx, p.ID, decision.Granted)
	if !decision.Granted && g.auditSink != nil {
		_ = g.auditSink.Record(ctx, audit.EventEnforcement, "denied", resourceID, map[string]any{
			"policy_id": p.ID,
			"action":    action,
			"requester": requesterID,
			"reason":    decision.Reason,
		})
	}
	return &decision, nil
}

// invokeRemediation runs the hook detached from the caller. Hook panics are
// recovered and audited.
func (g *Gate) invokeRemediation(policyID string, decision contracts.EnforcementDecision) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("remediation hook panicked", "policy", policyID, "panic", r)
			if g.auditSink != nil {
				_ = g.auditSink.Record(ctx, audit.EventEnforcement, "remediation_panic", policyID, map[string]any{
					"panic": fmt.Sprint(r),
				})
			}
		}
	}()
	g.remediate(ctx, policyID, decision)
}

// Patch is a partial policy update. Nil fields are left unchanged.
type Patch struct {
	Level            *contracts.EnforcementLevel
	PermittedActions *[]string
	AutoRemediate    *bool
	Condition        *string
	Metadata         map[string]any
	Status           *contracts.EntityStatus
}

// Update applies a partial update and re-validates the result.
func (g *Gate) Update(ctx context.Context, id string, patch Patch) (*contracts.EnforcementPolicy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Level != nil {
		if !contracts.ValidEnforcementLevel(*patch.Level) {
			return nil, fmt.Errorf("unknown enforcement level %q: %w", *patch.Level, contracts.ErrValidation)
		}
		p.Level = *patch.Level
	}
	if patch.PermittedActions != nil {
		p.PermittedActions = dedupe(*patch.PermittedActions)
	}
	if patch.AutoRemediate != nil {
		p.AutoRemediate = *patch.AutoRemediate
	}
	if patch.Condition != nil {
		if *patch.Condition != "" {
			if err := g.compileLocked(p.ID, *patch.Condition); err != nil {
				return nil, err
			}
		} else {
			delete(g.programs, p.ID)
		}
		p.Condition = *patch.Condition
	}
	if patch.Metadata != nil {
		p.Metadata = patch.Metadata
	}
	if patch.Status != nil {
		if !contracts.ValidEntityStatus(*patch.Status) {
			return nil, fmt.Errorf("unknown status %q: %w", *patch.Status, contracts.ErrValidation)
		}
		p.Status = *patch.Status
	}
	p.UpdatedAt = time.Now().UTC()

	if err := g.validate(p); err != nil {
		return nil, err
	}
	if err := g.put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the policy by id.
func (g *Gate) Get(ctx context.Context, id string) (*contracts.EnforcementPolicy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.get(ctx, id)
}

// List returns all policies in id order.
func (g *Gate) List(ctx context.Context) ([]*contracts.EnforcementPolicy, error) {
	return g.filter(ctx, func(*contracts.EnforcementPolicy) bool { return true })
}

// FilterByBoundary returns policies bound to the given boundary.
func (g *Gate) FilterByBoundary(ctx context.Context, boundaryID string) ([]*contracts.EnforcementPolicy, error) {
	return g.filter(ctx, func(p *contracts.EnforcementPolicy) bool { return p.BoundaryID == boundaryID })
}

// GetLog returns the policy's decision log.
func (g *Gate) GetLog(ctx context.Context, policyID string) ([]contracts.EnforcementDecision, error) {
	p, err := g.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return p.EnforcementLog, nil
}

// ClearLog resets the policy's decision log.
func (g *Gate) ClearLog(ctx context.Context, policyID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.get(ctx, policyID)
	if err != nil {
		return err
	}
	p.EnforcementLog = []contracts.EnforcementDecision{}
	p.UpdatedAt = time.Now().UTC()
	return g.put(ctx, p)
}

// compileLocked compiles and caches a condition program. Caller holds g.mu.
func (g *Gate) compileLocked(policyID, condition string) error {
	ast, issues := g.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("condition compilation failed: %v: %w", issues.Err(), contracts.ErrValidation)
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return fmt.Errorf("condition program construction failed: %v: %w", err, contracts.ErrValidation)
	}
	g.programs[policyID] = prg
	return nil
}

// evalConditionLocked evaluates the policy condition, compiling on first use
// after a restart. Caller holds g.mu.
func (g *Gate) evalConditionLocked(p *contracts.EnforcementPolicy, resourceID, action, requesterID string) (bool, error) {
	prg, ok := g.programs[p.ID]
	if !ok {
		if err := g.compileLocked(p.ID, p.Condition); err != nil {
			return false, err
		}
		prg = g.programs[p.ID]
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"action":    action,
		"resource":  resourceID,
		"requester": requesterID,
		"context":   p.Metadata,
	})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to bool")
	}
	return allowed, nil
}

func (g *Gate) filter(ctx context.Context, keep func(*contracts.EnforcementPolicy) bool) ([]*contracts.EnforcementPolicy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	raw, err := g.store.Scan(ctx, store.KindPolicy)
	if err != nil {
		return nil, err
	}
	var out []*contracts.EnforcementPolicy
	for _, data := range raw {
		var p contracts.EnforcementPolicy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("corrupt policy record: %w", err)
		}
		if keep(&p) {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (g *Gate) get(ctx context.Context, id string) (*contracts.EnforcementPolicy, error) {
	data, err := g.store.Get(ctx, store.KindPolicy, id)
	if err != nil {
		return nil, err
	}
	var p contracts.EnforcementPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt policy record %s: %w", id, err)
	}
	return &p, nil
}

func (g *Gate) put(ctx context.Context, p *contracts.EnforcementPolicy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return g.store.Put(ctx, store.KindPolicy, p.ID, data)
}

func (g *Gate) validate(p *contracts.EnforcementPolicy) error {
	if g.validator == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}
	return g.validator.Validate(record, schema.SchemaPolicy)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
