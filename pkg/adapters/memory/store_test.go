package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSnapshotStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	snap := &domain.Snapshot{Key: "k", Values: map[string]any{"speed": 1.0}}
	require.NoError(t, store.Save(ctx, "k", snap))
	snap.Values["speed"] = 2.0

	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, loaded.Values["speed"])

	loaded.Values["speed"] = 3.0
	again, _ := store.Load(ctx, "k")
	assert.Equal(t, 1.0, again.Values["speed"])
}
