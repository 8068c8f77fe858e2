package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const seed = `
endpoints:
  - id: e1
    url: opc.tcp://plc-1:4840
    security_mode: None
    state: Ready
    activated: true
  - id: e2
    url: opc.tcp://plc-2:4840
    state: NotReachable
  - id: e3
    url: opc.tcp://plc-3:4840
    state: Ready
    not_seen_since: 2024-05-01T10:00:00Z
`

func testConfig(t *testing.T, seedBody string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if seedBody != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "endpoints.yaml"), []byte(seedBody), 0o600))
	}
	return &config.Config{
		Registry: config.RegistryConfig{
			Backend:         "memory",
			SeedFile:        "endpoints.yaml",
			SearchPaths:     []string{dir},
			DefaultPageSize: 10,
			MaxPageSize:     10,
		},
		History: config.HistoryConfig{RequestTimeout: time.Second},
		OPCUA:   config.OPCUAConfig{RequestTimeout: time.Second},
	}
}

func healthOf(t *testing.T, lm *LifecycleManager, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := lm.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestLifecycle_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	lm, err := NewLifecycleManager(ctx, testConfig(t, seed), zap.NewNop())
	require.NoError(t, err)

	status := lm.GetCurrentStatus(ctx)
	assert.Equal(t, "INITIALIZING", status.State)
	assert.Equal(t, "memory", status.RegistryBackend)
	assert.Equal(t, map[string]int{"Ready": 1, "NotReachable": 1}, status.EndpointsByState)
	assert.False(t, status.ProberRunning)

	rec, err := lm.Registry().Resolve(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "opc.tcp://plc-1:4840", rec.URL)
	assert.Len(t, lm.Catalog().Tags(), 15)
	assert.NotNil(t, lm.Historian())
}

func TestLifecycle_EmptyRegistryWithoutSeed(t *testing.T) {
	lm, err := NewLifecycleManager(context.Background(), testConfig(t, ""), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, lm.GetCurrentStatus(context.Background()).EndpointsByState)
}

func TestLifecycle_HealthFollowsState(t *testing.T) {
	lm, err := NewLifecycleManager(context.Background(), testConfig(t, seed), zap.NewNop())
	require.NoError(t, err)

	lm.setState(StateRunning)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthOf(t, lm, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthOf(t, lm, HistorianService))

	counts := lm.refreshCounts(context.Background())
	assert.Equal(t, 1, counts["Ready"])
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthOf(t, lm, RegistryService))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, lm.refreshCounts(cancelled))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, healthOf(t, lm, RegistryService))

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, StateRunning.servingStatus())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, StateStopping.servingStatus())
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}
