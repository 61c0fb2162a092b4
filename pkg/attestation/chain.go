package attestation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/store"
)

// Chain returns the attestation and its ancestors, child first. Traversal is
// iterative over a consistent snapshot, with a visited set and the depth
// bound: a cycle or an overrun fails ErrIntegrity rather than looping.
func (a *Authority) Chain(ctx context.Context, id string) ([]*contracts.Attestation, error) {
	index, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	start, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("attestation %s: %w", id, contracts.ErrNotFound)
	}

	var chain []*contracts.Attestation
	visited := make(map[string]bool)
	current := start
	for {
		if visited[current.ID] {
			return nil, fmt.Errorf("attestation chain cycle at %s: %w", current.ID, contracts.ErrIntegrity)
		}
		if len(chain) >= a.maxChainDepth {
			return nil, fmt.Errorf("attestation chain exceeds depth %d: %w", a.maxChainDepth, contracts.ErrIntegrity)
		}
		visited[current.ID] = true
		chain = append(chain, current)

		if current.ParentAttestationID == "" {
			return chain, nil
		}
		parent, ok := index[current.ParentAttestationID]
		if !ok {
			return nil, fmt.Errorf("attestation %s parent %s missing: %w",
				current.ID, current.ParentAttestationID, contracts.ErrIntegrity)
		}
		current = parent
	}
}

// snapshot loads all attestations into an id-indexed map under the lock, so
// traversal sees one consistent state.
func (a *Authority) snapshot(ctx context.Context) (map[string]*contracts.Attestation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := a.store.Scan(ctx, store.KindAttestation)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*contracts.Attestation, len(raw))
	for _, data := range raw {
		var att contracts.Attestation
		if err := json.Unmarshal(data, &att); err != nil {
			return nil, fmt.Errorf("corrupt attestation record: %w", err)
		}
		index[att.ID] = &att
	}
	return index, nil
}
