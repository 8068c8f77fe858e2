package registry

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

// Store is the endpoint registration store supplied by the persistence/discovery side.
// Find may return a superset of the matching records; the Engine re-applies the filter.
type Store interface {
	Find(ctx context.Context, filter types.QueryFilter) ([]types.EndpointRecord, error)
	Get(ctx context.Context, id string) (types.EndpointRecord, error)
}

// Registrar is the write side used by discovery and supervision.
type Registrar interface {
	Upsert(ctx context.Context, r types.EndpointRecord) error
	MarkNotSeen(ctx context.Context, id string, since time.Time) error
	Revive(ctx context.Context, id string) error
	SetState(ctx context.Context, id string, state types.EndpointState, connected bool) error
}

// MemoryStore keeps registrations in process. Reads hand out copies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.EndpointRecord
}

func NewMemoryStore(records ...types.EndpointRecord) (*MemoryStore, error) {
	s := &MemoryStore{records: make(map[string]types.EndpointRecord, len(records))}
	for _, r := range records {
		if err := s.Upsert(context.Background(), r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Upsert inserts or replaces a registration after normalizing it.
func (s *MemoryStore) Upsert(ctx context.Context, r types.EndpointRecord) error {
	r = r.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.records[r.ID] = r
	s.mu.Unlock()
	return nil
}

// MarkNotSeen soft-deletes a registration. The record stays queryable with IncludeNotSeenSince.
func (s *MemoryStore) MarkNotSeen(ctx context.Context, id string, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return types.Errorf(types.KindEndpointNotFound, "mark not seen", "endpoint %s not registered", id)
	}
	since = since.UTC()
	r.NotSeenSince = &since
	s.records[id] = r
	return nil
}

// Revive clears the soft-delete marker, e.g. when discovery sees the endpoint again.
func (s *MemoryStore) Revive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return types.Errorf(types.KindEndpointNotFound, "revive", "endpoint %s not registered", id)
	}
	r.NotSeenSince = nil
	s.records[id] = r
	return nil
}

// SetState records a connectivity transition reported by a supervisor.
func (s *MemoryStore) SetState(ctx context.Context, id string, state types.EndpointState, connected bool) error {
	if _, err := types.ParseEndpointState(string(state)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return types.Errorf(types.KindEndpointNotFound, "set state", "endpoint %s not registered", id)
	}
	r.State = state
	r.Connected = connected
	s.records[id] = r
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, filter types.QueryFilter) ([]types.EndpointRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindTimeout, "memory find", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.EndpointRecord, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(&r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (types.EndpointRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.EndpointRecord{}, types.NewError(types.KindTimeout, "memory get", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return types.EndpointRecord{}, types.Errorf(types.KindEndpointNotFound, "memory get",
			"endpoint %s not registered", id)
	}
	return r.Clone(), nil
}

// Len returns the number of registrations, soft-deleted ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Counts returns the number of live registrations per state.
func (s *MemoryStore) Counts(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindTimeout, "memory counts", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.records {
		if !r.IsSoftDeleted() {
			counts[string(r.State)]++
		}
	}
	return counts, nil
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Registrar = (*MemoryStore)(nil)
)
