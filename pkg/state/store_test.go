package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Path:   filepath.Join(t.TempDir(), "state.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreGetMissingRow(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), 1, "calendar")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, PluginState{
		TenantID: 1,
		PluginID: "calendar",
		Enabled:  true,
		Config: map[string]interface{}{
			"features": map[string]interface{}{
				"booking": false,
			},
		},
	}))

	st, err := store.Get(ctx, 1, "calendar")
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	override, ok := st.FeatureOverride("booking")
	require.True(t, ok)
	assert.False(t, override)

	_, ok = st.FeatureOverride("unknown")
	assert.False(t, ok)
}

func TestStoreUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, PluginState{TenantID: 1, PluginID: "calendar", Enabled: true}))
	require.NoError(t, store.Upsert(ctx, PluginState{TenantID: 1, PluginID: "calendar", Enabled: false}))

	st, err := store.Get(ctx, 1, "calendar")
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestStoreScopesByTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, PluginState{TenantID: 1, PluginID: "calendar", Enabled: true}))

	_, err := store.Get(ctx, 2, "calendar")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFeatureOverrideNilState(t *testing.T) {
	var st *PluginState

	_, ok := st.FeatureOverride("booking")
	assert.False(t, ok)
}

func TestStoreCheckpoint(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.Checkpoint(context.Background()))
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}
