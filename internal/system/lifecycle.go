package system

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/api/rest"
	"github.com/KevinKickass/EndpointRegistry/internal/api/rpc"
	"github.com/KevinKickass/EndpointRegistry/internal/api/websocket"
	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/config"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/interfaces"
	"github.com/KevinKickass/EndpointRegistry/internal/metrics"
	"github.com/KevinKickass/EndpointRegistry/internal/opcua"
	"github.com/KevinKickass/EndpointRegistry/internal/registry"
	"github.com/KevinKickass/EndpointRegistry/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// gRPC health service names, besides the overall "" entry.
const (
	RegistryService  = "endpointregistry.Registry"
	HistorianService = rpc.ServiceName
)

const countsRefreshInterval = 15 * time.Second

// endpointStore is what both registration backends provide.
type endpointStore interface {
	registry.Store
	registry.Registrar
	Counts(ctx context.Context) (map[string]int, error)
}

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	postgres   *storage.PostgresClient
	store      endpointStore
	engine     *registry.Engine
	catalog    *history.Catalog
	gateway    *opcua.Gateway
	dispatcher *historian.Dispatcher
	prober     *opcua.Prober
	metrics    *metrics.Metrics
	wsHub      *websocket.Hub
	jwtHandler *auth.JWTHandler

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	stateMu      sync.RWMutex
	currentState SystemState

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewLifecycleManager builds every component. Nothing listens or polls until Start.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		metrics:      metrics.New(),
		health:       health.NewServer(),
		currentState: StateInitializing,
	}

	if err := lm.openStore(ctx); err != nil {
		return nil, err
	}

	lm.engine = registry.NewEngine(lm.store, logger)
	lm.engine.SetRecorder(lm.metrics)

	catalog, err := history.DefaultCatalog()
	if err != nil {
		lm.closeStore()
		return nil, fmt.Errorf("failed to build details catalog: %w", err)
	}
	lm.catalog = catalog

	if cfg.Auth.Enabled {
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("JWT secret is not production ready", zap.String("env", cfg.Auth.JWTSecretEnv))
		}
		lm.jwtHandler = auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer)
	} else {
		logger.Warn("Authentication disabled")
	}

	lm.wsHub = websocket.NewHub(logger, lm.jwtHandler)
	lm.wsHub.SetGauge(lm.metrics)

	lm.gateway = opcua.NewGateway(opcua.Config{
		ApplicationName: cfg.OPCUA.ApplicationName,
		ApplicationURI:  cfg.OPCUA.ApplicationURI,
		CertificateFile: cfg.OPCUA.CertificateFile,
		PrivateKeyFile:  cfg.OPCUA.PrivateKeyFile,
		RequestTimeout:  cfg.OPCUA.RequestTimeout,
	}, logger)

	lm.dispatcher = historian.NewDispatcher(lm.engine, history.NewCodec(catalog), lm.gateway, logger, cfg.History.RequestTimeout)
	lm.dispatcher.SetObserver(lm.wsHub)
	lm.dispatcher.SetRecorder(lm.metrics)

	if cfg.OPCUA.ProbeInterval > 0 {
		lm.prober = opcua.NewProber(lm.store, lm.store, opcua.Probe, cfg.OPCUA.ProbeInterval, logger)
	}

	return lm, nil
}

func (lm *LifecycleManager) openStore(ctx context.Context) error {
	seed, seedErr := registry.LoadSeed(lm.config.Registry.SeedFile, lm.config.Registry.SearchPaths)

	switch lm.config.Registry.Backend {
	case "postgres":
		client, err := storage.NewPostgresClient(ctx, lm.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := client.Migrate(ctx); err != nil {
			client.Close()
			return err
		}
		store := storage.NewEndpointStore(client)
		lm.postgres = client
		lm.store = store

		if seedErr != nil {
			lm.logger.Info("No seed file applied", zap.String("reason", seedErr.Error()))
			return nil
		}
		for _, rec := range seed {
			if err := store.Upsert(ctx, rec); err != nil {
				client.Close()
				return fmt.Errorf("failed to seed endpoint %s: %w", rec.ID, err)
			}
		}

	default:
		if seedErr != nil {
			lm.logger.Warn("Starting with an empty registry", zap.Error(seedErr))
			seed = nil
		}
		store, err := registry.NewMemoryStore(seed...)
		if err != nil {
			return fmt.Errorf("failed to load seed: %w", err)
		}
		lm.store = store
	}

	lm.logger.Info("Endpoint registry ready",
		zap.String("backend", lm.config.Registry.Backend),
		zap.Int("seeded", len(seed)))
	return nil
}

func (lm *LifecycleManager) closeStore() {
	if lm.postgres != nil {
		lm.postgres.Close()
	}
}

// Start starts the hub, prober, gRPC services and REST API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting endpoint registry")

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.wg.Add(2)
	go func() {
		defer lm.wg.Done()
		lm.wsHub.Run(ctx)
	}()
	go func() {
		defer lm.wg.Done()
		lm.refreshLoop(ctx)
	}()

	if lm.prober != nil {
		lm.prober.Start()
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.jwtHandler)
	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("auth_enabled", lm.jwtHandler != nil),
		zap.Bool("prober_enabled", lm.prober != nil))

	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		rpc.RecoveryUnaryInterceptor(lm.logger),
		rpc.LoggingUnaryInterceptor(lm.logger),
		rpc.ErrorUnaryInterceptor(),
		rpc.AuthUnaryInterceptor(lm.jwtHandler),
	))
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	rpc.RegisterHistorianServer(lm.grpcServer, rpc.NewHistorianHandler(lm.dispatcher, lm.catalog))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.Strings("services", []string{"grpc.health.v1.Health", rpc.ServiceName}))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// refreshLoop keeps the per-state gauge and the registry health entry current.
func (lm *LifecycleManager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(countsRefreshInterval)
	defer ticker.Stop()

	lm.refreshCounts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.refreshCounts(ctx)
		}
	}
}

func (lm *LifecycleManager) refreshCounts(ctx context.Context) map[string]int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	counts, err := lm.store.Counts(ctx)
	if err != nil {
		lm.logger.Warn("Failed to count endpoints", zap.Error(err))
		lm.health.SetServingStatus(RegistryService, healthpb.HealthCheckResponse_NOT_SERVING)
		return nil
	}
	lm.metrics.SetEndpointCounts(counts)
	lm.health.SetServingStatus(RegistryService, lm.State().servingStatus())
	return counts
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	if lm.prober != nil {
		lm.prober.Stop()
	}

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.gateway.Close(ctx); err != nil {
			errChan <- fmt.Errorf("gateway close failed: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		select {
		case err = <-errChan:
		default:
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	if lm.cancel != nil {
		lm.cancel()
		lm.wg.Wait()
	}
	lm.closeStore()
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	status := state.servingStatus()
	for _, service := range []string{"", RegistryService, HistorianService} {
		lm.health.SetServingStatus(service, status)
	}
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus(ctx context.Context) interfaces.SystemStatus {
	counts, err := lm.store.Counts(ctx)
	if err != nil {
		lm.logger.Warn("Failed to count endpoints", zap.Error(err))
	}
	return interfaces.SystemStatus{
		State:            lm.State().String(),
		RegistryBackend:  lm.config.Registry.Backend,
		EndpointsByState: counts,
		LiveSubscribers:  lm.wsHub.GetClientCount(),
		ProberRunning:    lm.prober != nil && lm.prober.IsRunning(),
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Registry() *registry.Engine {
	return lm.engine
}

func (lm *LifecycleManager) Historian() *historian.Dispatcher {
	return lm.dispatcher
}

func (lm *LifecycleManager) Catalog() *history.Catalog {
	return lm.catalog
}

func (lm *LifecycleManager) MetricsHandler() http.Handler {
	return lm.metrics.Handler()
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)
