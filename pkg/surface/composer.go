// Package surface implements the SurfaceComposer: composition of boundaries
// into trust surfaces, including merge.
package surface

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

// BoundaryResolver resolves boundary ids at composition time. Satisfied by
// *boundary.Manager.
type BoundaryResolver interface {
	Get(ctx context.Context, id string) (*contracts.Boundary, error)
}

// Composer owns Surface entities.
type Composer struct {
	mu         sync.Mutex
	store      store.Store
	validator  schema.Validator
	boundaries BoundaryResolver
	logger     *slog.Logger
}

func NewComposer(s store.Store, v schema.Validator, boundaries BoundaryResolver) *Composer {
	return &Composer{
		store:      s,
		validator:  v,
		boundaries: boundaries,
		logger:     slog.Default().With("component", "surface"),
	}
}

// Create composes a new surface over existing boundaries. Every boundary id
// must resolve at creation time.
func (c *Composer) Create(ctx context.Context, ownerNodeID string, boundaryIDs []string, typ contracts.SurfaceType, metadata map[string]any) (*contracts.Surface, error) {
	if !contracts.ValidSurfaceType(typ) {
		return nil, fmt.Errorf("unknown surface type %q: %w", typ, contracts.ErrValidation)
	}
	ids := dedupe(boundaryIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one boundary id required: %w", contracts.ErrValidation)
	}
	if err := c.resolveAll(ctx, ids); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &contracts.Surface{
		ID:          "srf-" + uuid.NewString(),
		OwnerNodeID: crypto.NormalizeString(ownerNodeID),
		BoundaryIDs: ids,
		Type:        typ,
		Status:      contracts.StatusActive,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.validate(s); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.put(ctx, s); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "surface created", "id", s.ID, "boundaries", len(ids))
	return s, nil
}

// Merge composes a new surface whose boundary set is the deduplicated union
// of the input surfaces' boundary sets, preserving first-seen order.
func (c *Composer) Merge(ctx context.Context, ownerNodeID string, surfaceIDs []string, typ contracts.SurfaceType, metadata map[string]any) (*contracts.Surface, error) {
	if len(surfaceIDs) == 0 {
		return nil, fmt.Errorf("at least one surface id required: %w", contracts.ErrValidation)
	}

	var union []string
	for _, id := range surfaceIDs {
		s, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		union = append(union, s.BoundaryIDs...)
	}
	return c.Create(ctx, ownerNodeID, dedupe(union), typ, metadata)
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Metadata map[string]any
	Status   *contracts.EntityStatus
}

// Update applies a partial update and re-validates the result.
func (c *Composer) Update(ctx context.Context, id string, p Patch) (*contracts.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Metadata != nil {
		s.Metadata = p.Metadata
	}
	if p.Status != nil {
		if !contracts.ValidEntityStatus(*p.Status) {
			return nil, fmt.Errorf("unknown status %q: %w", *p.Status, contracts.ErrValidation)
		}
		s.Status = *p.Status
	}
	s.UpdatedAt = time.Now().UTC()

	if err := c.validate(s); err != nil {
		return nil, err
	}
	if err := c.put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a surface.
func (c *Composer) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.get(ctx, id); err != nil {
		return err
	}
	return c.store.Delete(ctx, store.KindSurface, id)
}

// Get returns the surface by id.
func (c *Composer) Get(ctx context.Context, id string) (*contracts.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(ctx, id)
}

// List returns all surfaces in id order.
func (c *Composer) List(ctx context.Context) ([]*contracts.Surface, error) {
	return c.filter(ctx, func(*contracts.Surface) bool { return true })
}

// FilterByType returns surfaces of the given type.
func (c *Composer) FilterByType(ctx context.Context, typ contracts.SurfaceType) ([]*contracts.Surface, error) {
	return c.filter(ctx, func(s *contracts.Surface) bool { return s.Type == typ })
}

// FilterByBoundary returns surfaces referencing the given boundary.
func (c *Composer) FilterByBoundary(ctx context.Context, boundaryID string) ([]*contracts.Surface, error) {
	return c.filter(ctx, func(s *contracts.Surface) bool {
		for _, id := range s.BoundaryIDs {
			if id == boundaryID {
				return true
			}
		}
		return false
	})
}

// ActiveSurfaceReferences implements boundary.SurfaceIndex: it reports
// whether any active surface references the boundary.
func (c *Composer) ActiveSurfaceReferences(ctx context.Context, boundaryID string) (bool, error) {
	surfaces, err := c.FilterByBoundary(ctx, boundaryID)
	if err != nil {
		return false, err
	}
	for _, s := range surfaces {
		if s.Status == contracts.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (c *Composer) resolveAll(ctx context.Context, boundaryIDs []string) error {
	for _, id := range boundaryIDs {
		if _, err := c.boundaries.Get(ctx, id); err != nil {
			return fmt.Errorf("boundary %s: %w", id, err)
		}
	}
	return nil
}

func (c *Composer) filter(ctx context.Context, keep func(*contracts.Surface) bool) ([]*contracts.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Scan(ctx, store.KindSurface)
	if err != nil {
		return nil, err
	}
	var out []*contracts.Surface
	for _, data := range raw {
		var s contracts.Surface
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("corrupt surface record: %w", err)
		}
		if keep(&s) {
			out = append(out, &s)
		}
	}
	return out, nil
}

func (c *Composer) get(ctx context.Context, id string) (*contracts.Surface, error) {
	data, err := c.store.Get(ctx, store.KindSurface, id)
	if err != nil {
		return nil, err
	}
	var s contracts.Surface
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt surface record %s: %w", id, err)
	}
	return &s, nil
}

func (c *Composer) put(ctx context.Context, s *contracts.Surface) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, store.KindSurface, s.ID, data)
}

func (c *Composer) validate(s *contracts.Surface) error {
	if c.validator == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}
	return c.validator.Validate(record, schema.SchemaSurface)
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
