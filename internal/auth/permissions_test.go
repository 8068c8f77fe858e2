package auth

import (
	"testing"

	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGranted(t *testing.T) {
	assert.True(t, Granted(AllPermissions, PermHistoryWrite))
	assert.False(t, Granted([]Permission{PermHistoryRead}, PermHistoryWrite))
	assert.False(t, Granted(nil, PermHistoryRead))
}

func TestForVariant(t *testing.T) {
	catalog, err := history.DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, PermHistoryRead, ForVariant(catalog, history.TagReadRaw))
	assert.Equal(t, PermHistoryRead, ForVariant(catalog, history.TagReadEvents))
	assert.Equal(t, PermHistoryRead, ForVariant(catalog, history.TagReadAnnotations))
	assert.Equal(t, PermHistoryWrite, ForVariant(catalog, history.TagUpsertValues))
	assert.Equal(t, PermHistoryWrite, ForVariant(catalog, history.TagDeleteEvents))
	assert.Equal(t, PermHistoryWrite, ForVariant(catalog, history.Tag("ReadVendorDetails")))
}
