// Package boundary implements the BoundaryManager: CRUD and lifecycle for
// protected-resource boundaries.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
	"github.com/wesheets/trustfabric/pkg/schema"
	"github.com/wesheets/trustfabric/pkg/store"
)

// SurfaceIndex reports whether any active surface references a boundary.
// Implemented by surface.Composer; injected to keep this package free of a
// surface import.
type SurfaceIndex interface {
	ActiveSurfaceReferences(ctx context.Context, boundaryID string) (bool, error)
}

// Manager owns Boundary entities. All mutations are atomic with respect to
// read-modify-write under an internal lock; state lives solely in the
// injected store.
type Manager struct {
	mu        sync.Mutex
	store     store.Store
	validator schema.Validator
	surfaces  SurfaceIndex
	logger    *slog.Logger
}

func NewManager(s store.Store, v schema.Validator) *Manager {
	return &Manager{
		store:     s,
		validator: v,
		logger:    slog.Default().With("component", "boundary"),
	}
}

// SetSurfaceIndex wires the surface reference check used by Delete.
// Without it, Delete refuses to run (ErrUnavailable) rather than risk
// orphaning an active surface.
func (m *Manager) SetSurfaceIndex(idx SurfaceIndex) {
	m.surfaces = idx
}

// Create validates and persists a new boundary.
func (m *Manager) Create(ctx context.Context, ownerNodeID string, typ contracts.BoundaryType, resources []string, metadata map[string]any) (*contracts.Boundary, error) {
	if !contracts.ValidBoundaryType(typ) {
		return nil, fmt.Errorf("unknown boundary type %q: %w", typ, contracts.ErrValidation)
	}
	if ownerNodeID == "" {
		return nil, fmt.Errorf("owner node id required: %w", contracts.ErrValidation)
	}

	now := time.Now().UTC()
	b := &contracts.Boundary{
		ID:                 "bnd-" + uuid.NewString(),
		OwnerNodeID:        crypto.NormalizeString(ownerNodeID),
		Type:               typ,
		ProtectedResources: dedupe(resources),
		Status:             contracts.StatusActive,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.validate(b); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.put(ctx, b); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "boundary created", "id", b.ID, "type", b.Type)
	return b, nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	ProtectedResources *[]string
	Metadata           map[string]any
	Status             *contracts.EntityStatus
}

// Update applies a partial update and re-validates the result.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (*contracts.Boundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.ProtectedResources != nil {
		b.ProtectedResources = dedupe(*p.ProtectedResources)
	}
	if p.Metadata != nil {
		b.Metadata = p.Metadata
	}
	if p.Status != nil {
		if !contracts.ValidEntityStatus(*p.Status) {
			return nil, fmt.Errorf("unknown status %q: %w", *p.Status, contracts.ErrValidation)
		}
		b.Status = *p.Status
	}
	b.UpdatedAt = time.Now().UTC()

	if err := m.validate(b); err != nil {
		return nil, err
	}
	if err := m.put(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes a boundary. Fails ErrConflict while any active surface
// still references it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.surfaces == nil {
		return fmt.Errorf("surface index not configured: %w", contracts.ErrUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.get(ctx, id); err != nil {
		return err
	}
	referenced, err := m.surfaces.ActiveSurfaceReferences(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("boundary %s referenced by an active surface: %w", id, contracts.ErrConflict)
	}
	if err := m.store.Delete(ctx, store.KindBoundary, id); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "boundary deleted", "id", id)
	return nil
}

// Get returns the boundary by id.
func (m *Manager) Get(ctx context.Context, id string) (*contracts.Boundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(ctx, id)
}

// List returns all boundaries in id order.
func (m *Manager) List(ctx context.Context) ([]*contracts.Boundary, error) {
	return m.filter(ctx, func(*contracts.Boundary) bool { return true })
}

// Filter returns boundaries of the given type.
func (m *Manager) Filter(ctx context.Context, typ contracts.BoundaryType) ([]*contracts.Boundary, error) {
	return m.filter(ctx, func(b *contracts.Boundary) bool { return b.Type == typ })
}

func (m *Manager) filter(ctx context.Context, keep func(*contracts.Boundary) bool) ([]*contracts.Boundary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.store.Scan(ctx, store.KindBoundary)
	if err != nil {
		return nil, err
	}
	var out []*contracts.Boundary
	for _, data := range raw {
		var b contracts.Boundary
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("corrupt boundary record: %w", err)
		}
		if keep(&b) {
			out = append(out, &b)
		}
	}
	return out, nil
}

func (m *Manager) get(ctx context.Context, id string) (*contracts.Boundary, error) {
	data, err := m.store.Get(ctx, store.KindBoundary, id)
	if err != nil {
		return nil, err
	}
	var b contracts.Boundary
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt boundary record %s: %w", id, err)
	}
	return &b, nil
}

func (m *Manager) put(ctx context.Context, b *contracts.Boundary) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, store.KindBoundary, b.ID, data)
}

func (m *Manager) validate(b *contracts.Boundary) error {
	if m.validator == nil {
		return nil
	}
	record, err := toRecord(b)
	if err != nil {
		return err
	}
	return m.validator.Validate(record, schema.SchemaBoundary)
}

func toRecord(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// dedupe removes duplicates preserving first-seen order.
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
