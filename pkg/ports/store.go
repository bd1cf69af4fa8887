package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
)

// SnapshotStore defines the interface for persisting parameter values.
// This allows application state to survive restarts and be shared between replicas.
type SnapshotStore interface {
	// Save persists the snapshot under key.
	Save(ctx context.Context, key string, snap *domain.Snapshot) error

	// Load retrieves the snapshot stored under key.
	// Returns domain.ErrSnapshotNotFound if the key does not exist.
	Load(ctx context.Context, key string) (*domain.Snapshot, error)

	// Delete removes the snapshot stored under key.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all stored snapshots.
	List(ctx context.Context) ([]string, error)
}
