package opcua

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/registry"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProber_ProbeAll(t *testing.T) {
	store, err := registry.NewMemoryStore(
		types.EndpointRecord{ID: "up", SecurityDescriptor: types.SecurityDescriptor{URL: "opc.tcp://up"},
			State: types.EndpointStateConnecting, Activated: true},
		types.EndpointRecord{ID: "gone", SecurityDescriptor: types.SecurityDescriptor{URL: "opc.tcp://gone"},
			State: types.EndpointStateReady, Activated: true, Connected: true},
		types.EndpointRecord{ID: "idle", SecurityDescriptor: types.SecurityDescriptor{URL: "opc.tcp://idle"},
			State: types.EndpointStateConnecting},
	)
	require.NoError(t, err)

	var probed []string
	probe := func(ctx context.Context, rec types.EndpointRecord) types.EndpointState {
		probed = append(probed, rec.ID)
		if rec.URL == "opc.tcp://up" {
			return types.EndpointStateReady
		}
		return types.EndpointStateNotReachable
	}

	p := NewProber(store, store, probe, time.Minute, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, 2, p.ProbeAll(ctx))
	assert.ElementsMatch(t, []string{"up", "gone"}, probed)

	up, err := store.Get(ctx, "up")
	require.NoError(t, err)
	assert.Equal(t, types.EndpointStateReady, up.State)
	assert.True(t, up.Connected)

	gone, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, types.EndpointStateNotReachable, gone.State)
	assert.False(t, gone.Connected)

	assert.Equal(t, 0, p.ProbeAll(ctx))
}

func TestProber_StartStop(t *testing.T) {
	store, err := registry.NewMemoryStore()
	require.NoError(t, err)

	p := NewProber(store, store, nil, 10*time.Millisecond, zap.NewNop())
	p.Start()
	p.Start()
	assert.True(t, p.IsRunning())

	p.Stop()
	assert.False(t, p.IsRunning())
	p.Stop()
}
