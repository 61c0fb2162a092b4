// Package store defines the PersistenceStore abstraction used by every
// component manager, plus in-memory, SQLite, Postgres and Redis
// implementations. Entities are stored as JSON documents keyed by
// (kind, id); managers own serialization and locking.
package store

import "context"

// Entity kinds. One logical table per kind.
const (
	KindBoundary    = "boundary"
	KindSurface     = "surface"
	KindAttestation = "attestation"
	KindPropagation = "propagation"
	KindPolicy      = "policy"
)

// Store is the persistence interface. Get returns contracts.ErrNotFound
// (wrapped) for a missing record. Scan returns all records of a kind in
// ascending id order.
type Store interface {
	Get(ctx context.Context, kind, id string) ([]byte, error)
	Put(ctx context.Context, kind, id string, data []byte) error
	Delete(ctx context.Context, kind, id string) error
	Scan(ctx context.Context, kind string) ([][]byte, error)
}
