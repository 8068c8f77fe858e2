package interfaces

import (
	"context"
	"net/http"

	"github.com/KevinKickass/EndpointRegistry/internal/config"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/registry"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string         `json:"state"`
	RegistryBackend  string         `json:"registry_backend"`
	EndpointsByState map[string]int `json:"endpoints_by_state,omitempty"`
	LiveSubscribers  int            `json:"live_subscribers"`
	ProberRunning    bool           `json:"prober_running"`
}

type LifecycleManager interface {
	Config() *config.Config
	Registry() *registry.Engine
	Historian() *historian.Dispatcher
	Catalog() *history.Catalog
	MetricsHandler() http.Handler
	GetCurrentStatus(ctx context.Context) SystemStatus
	Shutdown(ctx context.Context) error
}
