package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCarriers(t *testing.T) {
	ctx := context.Background()

	_, ok := GetTenantID(ctx)
	assert.False(t, ok)
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetPluginID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenantID(ctx, 42)
	ctx = WithPluginID(ctx, "calendar")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "calendar", GetPluginID(ctx))

	tenantID, ok := GetTenantID(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(42), tenantID)
	assert.Equal(t, "42", TenantIDString(ctx))
}

func TestNewRequestIDUnique(t *testing.T) {
	first := NewRequestID()
	second := NewRequestID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
