package registry

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"go.uber.org/zap"
)

// Recorder receives query timings. Implemented by metrics.Metrics.
type Recorder interface {
	ObserveRegistryQuery(outcome string, elapsed time.Duration)
}

// Page is one slice of a stable query result.
type Page struct {
	Items             []types.EndpointRecord `json:"items"`
	ContinuationToken string                 `json:"continuationToken,omitempty"`
}

// Engine evaluates query filters over a Store. It keeps no state of its own and is
// safe for concurrent use as long as the store is.
type Engine struct {
	store    Store
	logger   *zap.Logger
	recorder Recorder
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Find returns copies of all records matching filter, ordered by id.
func (e *Engine) Find(ctx context.Context, filter types.QueryFilter) ([]types.EndpointRecord, error) {
	start := time.Now()

	candidates, err := e.store.Find(ctx, filter)
	if err != nil {
		e.observe("error", start)
		e.logger.Warn("Endpoint query failed", zap.Error(err))
		return nil, asStoreError(ctx, "find", err)
	}

	out := make([]types.EndpointRecord, 0, len(candidates))
	for i := range candidates {
		if filter.Matches(&candidates[i]) {
			out = append(out, candidates[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	e.observe("ok", start)
	e.logger.Debug("Endpoint query executed",
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(out)))

	return out, nil
}

// Query returns at most pageSize records following the position encoded in continuation.
func (e *Engine) Query(ctx context.Context, filter types.QueryFilter, continuation string, pageSize int) (Page, error) {
	after, err := decodeContinuation(continuation)
	if err != nil {
		return Page{}, err
	}

	all, err := e.Find(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	rest := all[sort.Search(len(all), func(i int) bool { return all[i].ID > after }):]

	if pageSize <= 0 || pageSize >= len(rest) {
		return Page{Items: rest}, nil
	}
	items := rest[:pageSize]
	return Page{
		Items:             items,
		ContinuationToken: encodeContinuation(items[len(items)-1].ID),
	}, nil
}

// Resolve looks up a live endpoint by id. Soft-deleted endpoints resolve as not found.
func (e *Engine) Resolve(ctx context.Context, id string) (types.EndpointRecord, error) {
	if id == "" {
		return types.EndpointRecord{}, types.Errorf(types.KindEndpointNotFound, "resolve", "endpoint id is empty")
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if types.KindOf(err) == types.KindEndpointNotFound {
			return types.EndpointRecord{}, err
		}
		return types.EndpointRecord{}, asStoreError(ctx, "resolve", err)
	}
	if rec.IsSoftDeleted() {
		return types.EndpointRecord{}, types.Errorf(types.KindEndpointNotFound, "resolve",
			"endpoint %s not seen since %s", id, rec.NotSeenSince.Format(time.RFC3339))
	}
	return rec.Clone(), nil
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveRegistryQuery(outcome, time.Since(start))
	}
}

// asStoreError classifies a store failure. A caller whose context ended sees
// Timeout whatever the store reported.
func asStoreError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return types.NewError(types.KindTimeout, op, err)
	}
	if types.KindOf(err) != "" {
		return err
	}
	return types.NewError(types.KindStoreUnavailable, op, err)
}

func encodeContinuation(lastID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastID))
}

func decodeContinuation(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(b) == 0 {
		return "", types.Errorf(types.KindMalformedPayload, "query", "invalid continuation token")
	}
	return string(b), nil
}
