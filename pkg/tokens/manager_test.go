package tokens

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerOptions{
		StorePath: filepath.Join(t.TempDir(), "tokens.json"),
		Now:       now,
	})
	require.NoError(t, err)
	return manager
}

func TestCreateAndVerify(t *testing.T) {
	manager := newTestManager(t, nil)

	token, err := manager.Create("calendar", 1, "ci")
	require.NoError(t, err)
	require.NotEmpty(t, token.Secret)

	verified, err := manager.Verify(token.Secret)
	require.NoError(t, err)
	assert.Equal(t, "calendar", verified.PluginID)
	assert.Equal(t, int64(1), verified.TenantID)

	_, err = manager.Verify("nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestVerifyExpiredToken(t *testing.T) {
	current := time.Now()
	manager := newTestManager(t, func() time.Time { return current })

	token, err := manager.Create("calendar", 1, "")
	require.NoError(t, err)

	current = current.Add(DefaultTTL + time.Hour)

	_, err = manager.Verify(token.Secret)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevoke(t *testing.T) {
	manager := newTestManager(t, nil)

	token, err := manager.Create("calendar", 1, "")
	require.NoError(t, err)

	require.NoError(t, manager.Revoke(token.ID))

	_, err = manager.Verify(token.Secret)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.ErrorIs(t, manager.Revoke(token.ID), ErrTokenNotFound)
}

func TestRevokeAllForPlugin(t *testing.T) {
	manager := newTestManager(t, nil)

	first, err := manager.Create("calendar", 1, "")
	require.NoError(t, err)
	_, err = manager.Create("calendar", 2, "")
	require.NoError(t, err)
	other, err := manager.Create("notes", 1, "")
	require.NoError(t, err)

	removed, err := manager.RevokeAllForPlugin("calendar")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = manager.Verify(first.Secret)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = manager.Verify(other.Secret)
	assert.NoError(t, err)
}

func TestPurgeExpired(t *testing.T) {
	current := time.Now()
	manager := newTestManager(t, func() time.Time { return current })

	_, err := manager.Create("calendar", 1, "")
	require.NoError(t, err)

	current = current.Add(DefaultTTL + time.Hour)
	fresh, err := manager.Create("calendar", 2, "")
	require.NoError(t, err)

	removed, err := manager.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = manager.Verify(fresh.Secret)
	assert.NoError(t, err)
}

func TestListForPluginBlanksSecrets(t *testing.T) {
	manager := newTestManager(t, nil)

	_, err := manager.Create("calendar", 1, "a")
	require.NoError(t, err)
	_, err = manager.Create("calendar", 2, "b")
	require.NoError(t, err)

	listed := manager.ListForPlugin("calendar")
	require.Len(t, listed, 2)
	for _, token := range listed {
		assert.Empty(t, token.Secret)
	}

	assert.Empty(t, manager.ListForPlugin("notes"))
}

func TestPersistenceAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	manager, err := NewManager(ManagerOptions{StorePath: path})
	require.NoError(t, err)

	token, err := manager.Create("calendar", 1, "")
	require.NoError(t, err)

	reloaded, err := NewManager(ManagerOptions{StorePath: path})
	require.NoError(t, err)

	verified, err := reloaded.Verify(token.Secret)
	require.NoError(t, err)
	assert.Equal(t, token.ID, verified.ID)
}
