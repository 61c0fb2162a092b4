// Package contracts defines the shared entity types of the trust fabric.
// Every component package (boundary, surface, attestation, propagation,
// enforcement) operates on these types; none of them owns private copies.
package contracts

import "time"

// BoundaryType classifies a protected-resource boundary.
type BoundaryType string

const (
	BoundaryInternal BoundaryType = "internal"
	BoundaryExternal BoundaryType = "external"
	BoundaryHybrid   BoundaryType = "hybrid"
)

// ValidBoundaryType reports whether t is a known boundary type.
func ValidBoundaryType(t BoundaryType) bool {
	switch t {
	case BoundaryInternal, BoundaryExternal, BoundaryHybrid:
		return true
	}
	return false
}

// EntityStatus is the lifecycle status shared by boundaries, surfaces and
// enforcement policies. Transitions are deliberately unrestricted.
type EntityStatus string

const (
	StatusActive     EntityStatus = "active"
	StatusInactive   EntityStatus = "inactive"
	StatusPending    EntityStatus = "pending"
	StatusDeprecated EntityStatus = "deprecated"
)

// ValidEntityStatus reports whether s is a known lifecycle status.
func ValidEntityStatus(s EntityStatus) bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending, StatusDeprecated:
		return true
	}
	return false
}

// Boundary is a named, owned grouping of protected resources subject to
// access rules.
type Boundary struct {
	ID                 string         `json:"id"`
	OwnerNodeID        string         `json:"owner_node_id"`
	Type               BoundaryType   `json:"type"`
	ProtectedResources []string       `json:"protected_resources"`
	Status             EntityStatus   `json:"status"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SurfaceType classifies a trust surface.
type SurfaceType string

const (
	SurfaceStandard  SurfaceType = "standard"
	SurfaceEnhanced  SurfaceType = "enhanced"
	SurfaceMinimal   SurfaceType = "minimal"
	SurfaceComposite SurfaceType = "composite"
)

// ValidSurfaceType reports whether t is a known surface type.
func ValidSurfaceType(t SurfaceType) bool {
	switch t {
	case SurfaceStandard, SurfaceEnhanced, SurfaceMinimal, SurfaceComposite:
		return true
	}
	return false
}

// Surface is a composition of one or more boundaries presented as a single
// trust interface. BoundaryIDs is order-preserving and duplicate-free.
type Surface struct {
	ID          string         `json:"id"`
	OwnerNodeID string         `json:"owner_node_id"`
	BoundaryIDs []string       `json:"boundary_ids"`
	Type        SurfaceType    `json:"type"`
	Status      EntityStatus   `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AttestationStatus is the two-state attestation lifecycle.
type AttestationStatus string

const (
	AttestationValid   AttestationStatus = "valid"
	AttestationRevoked AttestationStatus = "revoked"
)

// Attestation is a signed, time-bounded claim about a surface's trust
// properties, optionally chaining to a prior attestation. Immutable except
// for the one-way valid -> revoked transition.
type Attestation struct {
	ID                  string            `json:"id"`
	AttesterNodeID      string            `json:"attester_node_id"`
	SubjectSurfaceID    string            `json:"subject_surface_id"`
	Type                string            `json:"type"`
	IssuedAt            time.Time         `json:"issued_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Signature           string            `json:"signature"`
	Status              AttestationStatus `json:"status"`
	ParentAttestationID string            `json:"parent_attestation_id,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
}

// PropagationType distinguishes first-hop from relayed propagation.
type PropagationType string

const (
	PropagationDirect     PropagationType = "direct"
	PropagationTransitive PropagationType = "transitive"
)

// ValidPropagationType reports whether t is a known propagation type.
func ValidPropagationType(t PropagationType) bool {
	return t == PropagationDirect || t == PropagationTransitive
}

// PropagationStatus is the aggregate state of a propagation record. It is a
// pure function of the per-target outcome map.
type PropagationStatus string

const (
	PropagationPending  PropagationStatus = "pending"
	PropagationComplete PropagationStatus = "complete"
	PropagationPartial  PropagationStatus = "partial"
	PropagationFailed   PropagationStatus = "failed"
)

// TargetOutcome is the per-target dispatch result.
type TargetOutcome string

const (
	OutcomePending TargetOutcome = "pending"
	OutcomeSuccess TargetOutcome = "success"
	OutcomeFailure TargetOutcome = "failure"
)

// PropagationRecord tracks the fan-out of a surface's trust assertion to a
// set of target nodes. Created once, mutated only by the coordinator until
// terminal; retry re-enters the record rather than creating a new one.
type PropagationRecord struct {
	ID           string                   `json:"id"`
	SourceNodeID string                   `json:"source_node_id"`
	SurfaceID    string                   `json:"surface_id"`
	TargetNodes  []string                 `json:"target_nodes"`
	Type         PropagationType          `json:"type"`
	Outcomes     map[string]TargetOutcome `json:"outcomes"`
	// Detail carries the transport failure reason per target, when any.
	Detail    map[string]string `json:"detail,omitempty"`
	Status    PropagationStatus `json:"status"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SuccessfulNodes returns the targets that have succeeded, in target order.
func (r *PropagationRecord) SuccessfulNodes() []string {
	return r.nodesWith(OutcomeSuccess)
}

// FailedNodes returns the targets that have failed, in target order.
func (r *PropagationRecord) FailedNodes() []string {
	return r.nodesWith(OutcomeFailure)
}

func (r *PropagationRecord) nodesWith(o TargetOutcome) []string {
	var nodes []string
	for _, t := range r.TargetNodes {
		if r.Outcomes[t] == o {
			nodes = append(nodes, t)
		}
	}
	return nodes
}

// DeriveStatus computes the aggregate status from the outcome map:
// complete iff all targets succeeded, failed iff none did after all attempts
// resolved, partial otherwise, pending while any target is still unresolved.
func (r *PropagationRecord) DeriveStatus() PropagationStatus {
	success, failure := 0, 0
	for _, t := range r.TargetNodes {
		switch r.Outcomes[t] {
		case OutcomeSuccess:
			success++
		case OutcomeFailure:
			failure++
		}
	}
	switch {
	case success+failure < len(r.TargetNodes):
		return PropagationPending
	case success == len(r.TargetNodes):
		return PropagationComplete
	case success == 0:
		return PropagationFailed
	default:
		return PropagationPartial
	}
}

// EnforcementLevel controls how strictly a policy is applied.
type EnforcementLevel string

const (
	LevelStrict    EnforcementLevel = "strict"
	LevelModerate  EnforcementLevel = "moderate"
	LevelAuditOnly EnforcementLevel = "audit-only"
)

// ValidEnforcementLevel reports whether l is a known enforcement level.
func ValidEnforcementLevel(l EnforcementLevel) bool {
	switch l {
	case LevelStrict, LevelModerate, LevelAuditOnly:
		return true
	}
	return false
}

// EnforcementPolicy binds an access rule set to a boundary. An action is
// granted when it is a member of PermittedActions.
type EnforcementPolicy struct {
	ID               string           `json:"id"`
	BoundaryID       string           `json:"boundary_id"`
	Level            EnforcementLevel `json:"level"`
	PermittedActions []string         `json:"permitted_actions"`
	AutoRemediate    bool             `json:"auto_remediate"`
	// Condition is an optional CEL expression over
	// {action, resource, requester, context}. Empty means unconditional.
	Condition string         `json:"condition,omitempty"`
	Status    EntityStatus   `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// EnforcementLog is append-only; its length never decreases except via
	// an explicit ClearLog call.
	EnforcementLog []EnforcementDecision `json:"enforcement_log"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Permits reports whether action is a member of the permitted set.
func (p *EnforcementPolicy) Permits(action string) bool {
	for _, a := range p.PermittedActions {
		if a == action {
			return true
		}
	}
	return false
}

// EnforcementDecision is an immutable record of a single access evaluation.
type EnforcementDecision struct {
	ID          string    `json:"id"`
	ResourceID  string    `json:"resource_id"`
	Action      string    `json:"action"`
	RequesterID string    `json:"requester_id"`
	Timestamp   time.Time `json:"timestamp"`
	Granted     bool      `json:"granted"`
	Reason      string    `json:"reason,omitempty"`
}
