package opcua

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/registry"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gopcua/opcua"
	"go.uber.org/zap"
)

// StateUpdater persists probe results.
type StateUpdater interface {
	SetState(ctx context.Context, id string, state types.EndpointState, connected bool) error
}

// ProbeFunc reports the reachability state of one endpoint.
type ProbeFunc func(ctx context.Context, rec types.EndpointRecord) types.EndpointState

// Probe asks the server for its endpoints. A server that does not present the
// registered certificate is reported as CertificateInvalid.
func Probe(ctx context.Context, rec types.EndpointRecord) types.EndpointState {
	endpoints, err := opcua.GetEndpoints(ctx, rec.URL)
	if err != nil {
		return types.EndpointStateNotReachable
	}
	if len(endpoints) == 0 {
		return types.EndpointStateError
	}
	if len(rec.Certificate) == 0 {
		return types.EndpointStateReady
	}
	for _, ep := range endpoints {
		if ep != nil && bytes.Equal(ep.ServerCertificate, rec.Certificate) {
			return types.EndpointStateReady
		}
	}
	return types.EndpointStateCertificateInvalid
}

// Prober periodically probes activated endpoints and records their state.
type Prober struct {
	store    registry.Store
	updater  StateUpdater
	probe    ProbeFunc
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewProber(store registry.Store, updater StateUpdater, probe ProbeFunc, interval time.Duration, logger *zap.Logger) *Prober {
	if probe == nil {
		probe = Probe
	}
	return &Prober{
		store:    store,
		updater:  updater,
		probe:    probe,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.wg.Add(1)
	go p.loop()

	p.logger.Info("Endpoint prober started", zap.Duration("interval", p.interval))
}

func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.logger.Info("Endpoint prober stopped")
}

func (p *Prober) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Prober) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval/2)
			p.ProbeAll(ctx)
			cancel()
		}
	}
}

// ProbeAll probes every live activated endpoint once and returns the number of state changes.
func (p *Prober) ProbeAll(ctx context.Context) int {
	activated := true
	records, err := p.store.Find(ctx, types.QueryFilter{Activated: &activated})
	if err != nil {
		p.logger.Error("Failed to list endpoints for probing", zap.Error(err))
		return 0
	}

	changed := 0
	for _, rec := range records {
		state := p.probe(ctx, rec)
		connected := state == types.EndpointStateReady
		if state == rec.State && connected == rec.Connected {
			continue
		}
		if err := p.updater.SetState(ctx, rec.ID, state, connected); err != nil {
			p.logger.Error("Failed to record endpoint state",
				zap.String("endpoint_id", rec.ID),
				zap.Error(err))
			continue
		}
		changed++
		p.logger.Info("Endpoint state changed",
			zap.String("endpoint_id", rec.ID),
			zap.String("from", string(rec.State)),
			zap.String("to", string(state)))
	}
	return changed
}
