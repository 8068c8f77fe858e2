package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/api/websocket"
	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/config"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/interfaces"
	"github.com/KevinKickass/EndpointRegistry/internal/metrics"
	"github.com/KevinKickass/EndpointRegistry/internal/registry"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubBackend implements the calls these tests reach; anything else panics.
type stubBackend struct {
	historian.Backend
	page     historian.Page
	statuses []history.StatusCode
}

func (b *stubBackend) ReadRaw(ctx context.Context, t historian.Target, d *history.ReadRaw) (historian.Page, error) {
	return b.page, nil
}

func (b *stubBackend) ReadNext(ctx context.Context, t historian.Target, c historian.Continuation) (historian.Page, error) {
	return historian.Page{}, nil
}

func (b *stubBackend) Insert(ctx context.Context, t historian.Target, values []history.HistoricValue) ([]history.StatusCode, error) {
	return b.statuses, nil
}

type testLifecycle struct {
	cfg        *config.Config
	engine     *registry.Engine
	dispatcher *historian.Dispatcher
	catalog    *history.Catalog
	metrics    *metrics.Metrics
}

func (l *testLifecycle) Config() *config.Config             { return l.cfg }
func (l *testLifecycle) Registry() *registry.Engine         { return l.engine }
func (l *testLifecycle) Historian() *historian.Dispatcher   { return l.dispatcher }
func (l *testLifecycle) Catalog() *history.Catalog          { return l.catalog }
func (l *testLifecycle) MetricsHandler() http.Handler       { return l.metrics.Handler() }
func (l *testLifecycle) Shutdown(ctx context.Context) error { return nil }
func (l *testLifecycle) GetCurrentStatus(ctx context.Context) interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", RegistryBackend: "memory"}
}

func record(id string, state types.EndpointState) types.EndpointRecord {
	return types.EndpointRecord{
		ID:                 id,
		SecurityDescriptor: types.SecurityDescriptor{URL: "opc.tcp://" + id, SecurityMode: types.SecurityModeNone},
		State:              state,
		Activated:          true,
	}
}

func newTestServer(t *testing.T, jwt *auth.JWTHandler, backend historian.Backend) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := registry.NewMemoryStore(
		record("e1", types.EndpointStateReady),
		record("e2", types.EndpointStateBusy),
		record("e3", types.EndpointStateReady),
	)
	require.NoError(t, err)

	catalog, err := history.DefaultCatalog()
	require.NoError(t, err)

	logger := zap.NewNop()
	engine := registry.NewEngine(store, logger)
	cfg := &config.Config{
		Registry: config.RegistryConfig{DefaultPageSize: 2, MaxPageSize: 2},
		History:  config.HistoryConfig{RequestTimeout: time.Second},
	}
	lm := &testLifecycle{
		cfg:        cfg,
		engine:     engine,
		dispatcher: historian.NewDispatcher(engine, history.NewCodec(catalog), backend, logger, time.Second),
		catalog:    catalog,
		metrics:    metrics.New(),
	}
	return NewServer(cfg, lm, logger, websocket.NewHub(logger, jwt), jwt)
}

func do(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorBody {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "", nil).Code)

	w := do(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListEndpoints_PagesAndFilters(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})

	w := do(s, http.MethodGet, "/api/v1/endpoints?pageSize=50", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page registry.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2, "pageSize is clamped to the configured maximum")
	require.NotEmpty(t, page.ContinuationToken)

	w = do(s, http.MethodGet, "/api/v1/endpoints?continuationToken="+page.ContinuationToken, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "e3", page.Items[0].ID)

	w = do(s, http.MethodGet, "/api/v1/endpoints?state=Busy", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "e2", page.Items[0].ID)
}

func TestListEndpoints_BadQuery(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})

	for _, q := range []string{"state=Sleeping", "activated=maybe", "pageSize=-1", "securityMode=Paranoid", "continuationToken=%25%25"} {
		w := do(s, http.MethodGet, "/api/v1/endpoints?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "MalformedPayload", decodeError(t, w).Code, q)
	}
}

func TestGetEndpoint(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})

	w := do(s, http.MethodGet, "/api/v1/endpoints/e1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec types.EndpointRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "opc.tcp://e1", rec.URL)

	w = do(s, http.MethodGet, "/api/v1/endpoints/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "EndpointNotFound", decodeError(t, w).Code)
}

func TestExecuteHistory(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &stubBackend{
		page:     historian.Page{Values: []history.HistoricValue{{Timestamp: ts, Value: json.RawMessage(`21.5`)}}, ContinuationToken: "cp"},
		statuses: []history.StatusCode{history.StatusGood, history.StatusBadEntryExists},
	}
	s := newTestServer(t, nil, backend)

	w := do(s, http.MethodPost, "/api/v1/endpoints/e1/history/ReadRawModifiedDetails", "", gin.H{
		"nodeId":  "ns=2;s=Temperature",
		"details": gin.H{"startTime": "2024-01-01T00:00:00Z", "numValuesPerNode": 10},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result historian.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "e1", result.EndpointID)
	assert.Equal(t, "cp", result.ContinuationToken)
	require.Len(t, result.Values, 1)

	w = do(s, http.MethodPost, "/api/v1/endpoints/e1/history/InsertValuesDetails", "", gin.H{
		"nodeId": "ns=2;s=Temperature",
		"details": gin.H{"values": []gin.H{
			{"timestamp": "2024-01-01T00:00:00Z", "value": 1},
			{"timestamp": "2024-01-01T00:01:00Z", "value": 2},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, []history.StatusCode{history.StatusGood, history.StatusBadEntryExists}, result.Statuses)

	w = do(s, http.MethodPost, "/api/v1/endpoints/e1/history/next", "", gin.H{
		"nodeId": "ns=2;s=Temperature", "continuationToken": "cp",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestExecuteHistory_Errors(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})
	readRaw := gin.H{"nodeId": "ns=2;s=T", "details": gin.H{"startTime": "2024-01-01T00:00:00Z", "numValuesPerNode": 1}}

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"not ready", "/api/v1/endpoints/e2/history/ReadRawModifiedDetails", readRaw, http.StatusConflict, "EndpointNotReady"},
		{"unknown endpoint", "/api/v1/endpoints/nope/history/ReadRawModifiedDetails", readRaw, http.StatusNotFound, "EndpointNotFound"},
		{"unknown variant", "/api/v1/endpoints/e1/history/ReadVendorDetails", readRaw, http.StatusBadRequest, "UnknownVariant"},
		{"empty insert", "/api/v1/endpoints/e1/history/InsertValuesDetails",
			gin.H{"nodeId": "ns=2;s=T", "details": gin.H{"values": []gin.H{}}}, http.StatusBadRequest, "EmptyRequest"},
		{"bad index range", "/api/v1/endpoints/e1/history/ReadRawModifiedDetails",
			gin.H{"nodeId": "ns=2;s=T", "indexRange": "5:2", "details": readRaw["details"]}, http.StatusBadRequest, "InvalidIndexRange"},
		{"not json", "/api/v1/endpoints/e1/history/ReadRawModifiedDetails", "[", http.StatusBadRequest, "MalformedPayload"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(s, http.MethodPost, tc.path, "", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decodeError(t, w).Code)
		})
	}
}

func TestExecuteHistory_Permissions(t *testing.T) {
	jwt := auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "endpoint-registry")
	s := newTestServer(t, jwt, &stubBackend{statuses: []history.StatusCode{history.StatusGood}})

	reader, err := jwt.GenerateAccessToken("reader", []auth.Permission{auth.PermHistoryRead}, time.Minute)
	require.NoError(t, err)

	insert := gin.H{"nodeId": "ns=2;s=T", "details": gin.H{"values": []gin.H{{"timestamp": "2024-01-01T00:00:00Z", "value": 1}}}}
	read := gin.H{"nodeId": "ns=2;s=T", "details": gin.H{"startTime": "2024-01-01T00:00:00Z", "numValuesPerNode": 1}}

	assert.Equal(t, http.StatusUnauthorized,
		do(s, http.MethodPost, "/api/v1/endpoints/e1/history/ReadRawModifiedDetails", "", read).Code)
	assert.Equal(t, http.StatusOK,
		do(s, http.MethodPost, "/api/v1/endpoints/e1/history/ReadRawModifiedDetails", reader, read).Code)
	assert.Equal(t, http.StatusForbidden,
		do(s, http.MethodPost, "/api/v1/endpoints/e1/history/InsertValuesDetails", reader, insert).Code)
	assert.Equal(t, http.StatusForbidden,
		do(s, http.MethodGet, "/api/v1/endpoints", reader, nil).Code)
}

func TestListVariantsAndStatus(t *testing.T) {
	s := newTestServer(t, nil, &stubBackend{})

	w := do(s, http.MethodGet, "/api/v1/history/variants", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Variants []struct {
			Tag  string `json:"tag"`
			Kind string `json:"kind"`
		} `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Variants, 15)

	w = do(s, http.MethodGet, "/api/v1/system/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"RUNNING"`)
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(types.KindStoreUnavailable))
	assert.Equal(t, http.StatusBadGateway, statusForKind(types.KindBackendError))
	assert.Equal(t, http.StatusGatewayTimeout, statusForKind(types.KindTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(""))
}
