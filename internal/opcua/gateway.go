package opcua

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
)

type Config struct {
	ApplicationName string
	ApplicationURI  string
	CertificateFile string
	PrivateKeyFile  string
	RequestTimeout  time.Duration
}

// session is one endpoint's client. ready closes once the connect attempt
// finished; client and err are set before that.
type session struct {
	ready       chan struct{}
	client      *opcua.Client
	err         error
	fingerprint string
}

func (s *session) done() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Gateway is a historian.Backend speaking OPC UA to the registered servers.
// It keeps one session per endpoint and reopens it when the endpoint's
// security descriptor changes. Connects run outside the lock, so a slow
// server only delays requests to that endpoint.
type Gateway struct {
	cfg      Config
	logger   *zap.Logger
	mu       sync.Mutex
	sessions map[string]*session
}

func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = "EndpointRegistry"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func fingerprint(rec types.EndpointRecord) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", rec.URL, rec.SecurityMode, rec.SecurityPolicy)
	h.Write(rec.Certificate)
	if rec.Credential != nil {
		fmt.Fprintf(h, "|%s|", rec.Credential.Type)
		h.Write(rec.Credential.Value)
	}
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}

// client returns the session for rec, connecting when there is none. Callers
// that find a connect in progress wait for it or for ctx.
func (g *Gateway) client(ctx context.Context, rec types.EndpointRecord) (*opcua.Client, error) {
	fp := fingerprint(rec)

	g.mu.Lock()
	s, ok := g.sessions[rec.ID]
	if ok && s.fingerprint != fp {
		delete(g.sessions, rec.ID)
		g.retire(s)
		ok = false
	}
	if !ok {
		s = &session{ready: make(chan struct{}), fingerprint: fp}
		g.sessions[rec.ID] = s
	}
	g.mu.Unlock()

	if !ok {
		g.open(ctx, rec, s)
	}

	select {
	case <-s.ready:
		return s.client, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) open(ctx context.Context, rec types.EndpointRecord, s *session) {
	s.client, s.err = g.connect(ctx, rec)
	close(s.ready)

	if s.err != nil {
		g.mu.Lock()
		if g.sessions[rec.ID] == s {
			delete(g.sessions, rec.ID)
		}
		g.mu.Unlock()
		return
	}
	g.logger.Info("OPC UA session opened",
		zap.String("endpoint_id", rec.ID),
		zap.String("url", rec.URL),
		zap.String("security_mode", string(rec.SecurityMode)))
}

func (g *Gateway) connect(ctx context.Context, rec types.EndpointRecord) (*opcua.Client, error) {
	opts, err := g.clientOptions(ctx, rec)
	if err != nil {
		return nil, err
	}
	c, err := opcua.NewClient(rec.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", rec.URL, err)
	}
	if err := c.Connect(ctx); err != nil {
		g.closeClient(c)
		return nil, fmt.Errorf("failed to connect to %s: %w", rec.URL, err)
	}
	return c, nil
}

func (g *Gateway) closeClient(c *opcua.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()
	_ = c.Close(ctx)
}

// retire closes s once its connect attempt has finished. Callers hold g.mu.
func (g *Gateway) retire(s *session) {
	go func() {
		<-s.ready
		if s.client != nil {
			g.closeClient(s.client)
		}
	}()
}

// forget drops the session that produced err after a transport failure. Service
// faults reported as status codes and request errors keep the session, as does
// a session that was already replaced.
func (g *Gateway) forget(ctx context.Context, endpointID string, c *opcua.Client, err error) {
	var status ua.StatusCode
	if types.KindOf(err) != "" || errors.As(err, &status) || ctx.Err() != nil {
		return
	}

	g.mu.Lock()
	s, ok := g.sessions[endpointID]
	ok = ok && s.done() && s.client == c
	if ok {
		delete(g.sessions, endpointID)
	}
	g.mu.Unlock()

	if ok {
		g.closeClient(c)
		g.logger.Warn("OPC UA session dropped", zap.String("endpoint_id", endpointID), zap.Error(err))
	}
}

// Close ends all sessions. Sessions still connecting are closed once the
// attempt finishes.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	sessions := g.sessions
	g.sessions = make(map[string]*session)
	for id, s := range sessions {
		if !s.done() {
			g.retire(s)
			delete(sessions, id)
		}
	}
	g.mu.Unlock()

	var errs error
	for id, s := range sessions {
		if s.client == nil {
			continue
		}
		if err := s.client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = errors.Join(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errs
}

func (g *Gateway) resolveNode(ctx context.Context, c *opcua.Client, t historian.Target) (*ua.NodeID, error) {
	start, err := parseNodeID(t.NodeID)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "resolve node", err)
	}
	if len(t.BrowsePath) == 0 {
		return start, nil
	}

	req := &ua.TranslateBrowsePathsToNodeIDsRequest{
		BrowsePaths: []*ua.BrowsePath{{StartingNode: start, RelativePath: relativePath(t.BrowsePath)}},
	}
	var resp *ua.TranslateBrowsePathsToNodeIDsResponse
	err = c.Send(ctx, req, func(v ua.Response) error {
		r, ok := v.(*ua.TranslateBrowsePathsToNodeIDsResponse)
		if !ok {
			return fmt.Errorf("unexpected response %T", v)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to translate browse path: %w", err)
	}
	if len(resp.Results) != 1 {
		return nil, fmt.Errorf("browse path translation returned %d results", len(resp.Results))
	}
	res := resp.Results[0]
	if res.StatusCode != ua.StatusOK {
		return nil, fmt.Errorf("browse path %v: %w", t.BrowsePath, res.StatusCode)
	}
	if len(res.Targets) == 0 || res.Targets[0].TargetID == nil {
		return nil, fmt.Errorf("browse path %v has no target", t.BrowsePath)
	}
	return res.Targets[0].TargetID.NodeID, nil
}

type readCall func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error)

func (g *Gateway) read(ctx context.Context, t historian.Target, continuation []byte, call readCall) (*ua.HistoryReadResult, error) {
	c, err := g.client(ctx, t.Endpoint)
	if err != nil {
		return nil, err
	}
	nodeID, err := g.resolveNode(ctx, c, t)
	if err != nil {
		g.forget(ctx, t.Endpoint.ID, c, err)
		return nil, err
	}

	resp, err := call(ctx, c, []*ua.HistoryReadValueID{{
		NodeID:            nodeID,
		IndexRange:        t.IndexRange.String(),
		DataEncoding:      &ua.QualifiedName{},
		ContinuationPoint: continuation,
	}})
	if err != nil {
		g.forget(ctx, t.Endpoint.ID, c, err)
		return nil, fmt.Errorf("history read failed: %w", err)
	}
	if len(resp.Results) != 1 {
		return nil, fmt.Errorf("history read returned %d results for 1 node", len(resp.Results))
	}
	res := resp.Results[0]
	if history.StatusCode(res.StatusCode).IsBad() {
		return nil, fmt.Errorf("history read of %s: %w", t.NodeID, res.StatusCode)
	}
	return res, nil
}

func valuePage(res *ua.HistoryReadResult) (historian.Page, error) {
	page := historian.Page{ContinuationToken: encodeContinuationPoint(res.ContinuationPoint)}
	if res.HistoryData == nil || res.HistoryData.Value == nil {
		return page, nil
	}

	var values []*ua.DataValue
	switch data := res.HistoryData.Value.(type) {
	case *ua.HistoryData:
		values = data.DataValues
	case *ua.HistoryModifiedData:
		values = data.DataValues
	default:
		return historian.Page{}, fmt.Errorf("unexpected history data %T", data)
	}
	page.Values = make([]history.HistoricValue, 0, len(values))
	for _, dv := range values {
		if dv != nil {
			page.Values = append(page.Values, fromDataValue(dv))
		}
	}
	return page, nil
}

func eventPage(res *ua.HistoryReadResult) (historian.Page, error) {
	page := historian.Page{ContinuationToken: encodeContinuationPoint(res.ContinuationPoint)}
	if res.HistoryData == nil || res.HistoryData.Value == nil {
		return page, nil
	}
	data, ok := res.HistoryData.Value.(*ua.HistoryEvent)
	if !ok {
		return historian.Page{}, fmt.Errorf("unexpected history data %T", res.HistoryData.Value)
	}
	page.Events = make([]history.HistoricEvent, 0, len(data.Events))
	for _, fields := range data.Events {
		if fields != nil {
			page.Events = append(page.Events, fromEventFields(fields))
		}
	}
	return page, nil
}

func encodeContinuationPoint(cp []byte) string {
	if len(cp) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(cp)
}

func decodeContinuationPoint(token string) ([]byte, error) {
	cp, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(cp) == 0 {
		return nil, types.Errorf(types.KindMalformedPayload, "read next", "invalid continuation token")
	}
	return cp, nil
}

func rawModifiedDetails(start, end *time.Time, n uint32, bounds, modified bool) *ua.ReadRawModifiedDetails {
	return &ua.ReadRawModifiedDetails{
		IsReadModified:   modified,
		StartTime:        timeOrZero(start),
		EndTime:          timeOrZero(end),
		NumValuesPerNode: n,
		ReturnBounds:     bounds,
	}
}

func (g *Gateway) ReadRaw(ctx context.Context, t historian.Target, d *history.ReadRaw) (historian.Page, error) {
	details := rawModifiedDetails(d.StartTime, d.EndTime, d.NumValuesPerNode, d.ReturnBounds, false)
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadRawModified(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

func (g *Gateway) ReadModified(ctx context.Context, t historian.Target, d *history.ReadModified) (historian.Page, error) {
	details := rawModifiedDetails(d.StartTime, d.EndTime, d.NumValuesPerNode, false, true)
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadRawModified(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

func (g *Gateway) ReadAtTime(ctx context.Context, t historian.Target, d *history.ReadAtTime) (historian.Page, error) {
	details := &ua.ReadAtTimeDetails{ReqTimes: d.ReqTimes, UseSimpleBounds: d.UseSimpleBounds}
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadAtTime(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

func (g *Gateway) ReadProcessed(ctx context.Context, t historian.Target, d *history.ReadProcessed) (historian.Page, error) {
	name := d.AggregateType
	if name == "" {
		name = "Interpolative"
	}
	aggregate, err := aggregateNodeID(name)
	if err != nil {
		return historian.Page{}, types.NewError(types.KindMalformedPayload, "read processed", err)
	}
	details := &ua.ReadProcessedDetails{
		StartTime:              timeOrZero(d.StartTime),
		EndTime:                timeOrZero(d.EndTime),
		ProcessingInterval:     d.ProcessingInterval,
		AggregateType:          []*ua.NodeID{aggregate},
		AggregateConfiguration: toAggregateConfiguration(d.AggregateConfiguration),
	}
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadProcessed(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

// eventFilter returns f with its select clauses defaulted.
func eventFilter(f *history.EventFilter) (*ua.EventFilter, error) {
	clauses := &history.EventFilter{SelectClauses: f.Clauses()}
	if f != nil {
		clauses.TypeDefinitionID = f.TypeDefinitionID
	}
	return toEventFilter(clauses)
}

func (g *Gateway) ReadEvents(ctx context.Context, t historian.Target, d *history.ReadEvents) (historian.Page, error) {
	uaFilter, err := eventFilter(d.Filter)
	if err != nil {
		return historian.Page{}, types.NewError(types.KindMalformedPayload, "read events", err)
	}
	details := &ua.ReadEventDetails{
		NumValuesPerNode: d.NumEvents,
		StartTime:        timeOrZero(d.StartTime),
		EndTime:          timeOrZero(d.EndTime),
		Filter:           uaFilter,
	}
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadEvent(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return eventPage(res)
}

// ReadAnnotations reads the Annotations property below the target node at the
// requested times.
func (g *Gateway) ReadAnnotations(ctx context.Context, t historian.Target, d *history.ReadAnnotations) (historian.Page, error) {
	t.BrowsePath = append(append([]string(nil), t.BrowsePath...), "Annotations")
	details := &ua.ReadAtTimeDetails{ReqTimes: d.ReqTimes}
	res, err := g.read(ctx, t, nil, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadAtTime(ctx, nodes, details)
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

// ReadNext continues a paged read. An event continuation repeats the filter of
// the first request; the server rejects a continuation point issued for a
// different one.
func (g *Gateway) ReadNext(ctx context.Context, t historian.Target, next historian.Continuation) (historian.Page, error) {
	cp, err := decodeContinuationPoint(next.Token)
	if err != nil {
		return historian.Page{}, err
	}

	if next.Events {
		filter, err := eventFilter(next.Filter)
		if err != nil {
			return historian.Page{}, types.NewError(types.KindMalformedPayload, "read next", err)
		}
		res, err := g.read(ctx, t, cp, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
			return c.HistoryReadEvent(ctx, nodes, &ua.ReadEventDetails{Filter: filter})
		})
		if err != nil {
			return historian.Page{}, err
		}
		return eventPage(res)
	}

	res, err := g.read(ctx, t, cp, func(ctx context.Context, c *opcua.Client, nodes []*ua.HistoryReadValueID) (*ua.HistoryReadResponse, error) {
		return c.HistoryReadRawModified(ctx, nodes, &ua.ReadRawModifiedDetails{})
	})
	if err != nil {
		return historian.Page{}, err
	}
	return valuePage(res)
}

// update sends a single HistoryUpdate and returns the per-item operation results,
// or the overall status when the server reports none.
func (g *Gateway) update(ctx context.Context, t historian.Target, build func(node *ua.NodeID) any) (ua.StatusCode, []ua.StatusCode, error) {
	c, err := g.client(ctx, t.Endpoint)
	if err != nil {
		return 0, nil, err
	}
	nodeID, err := g.resolveNode(ctx, c, t)
	if err != nil {
		g.forget(ctx, t.Endpoint.ID, c, err)
		return 0, nil, err
	}

	req := &ua.HistoryUpdateRequest{
		HistoryUpdateDetails: []*ua.ExtensionObject{ua.NewExtensionObject(build(nodeID))},
	}
	var resp *ua.HistoryUpdateResponse
	err = c.Send(ctx, req, func(v ua.Response) error {
		r, ok := v.(*ua.HistoryUpdateResponse)
		if !ok {
			return fmt.Errorf("unexpected response %T", v)
		}
		resp = r
		return nil
	})
	if err != nil {
		g.forget(ctx, t.Endpoint.ID, c, err)
		return 0, nil, fmt.Errorf("history update failed: %w", err)
	}
	if len(resp.Results) != 1 || resp.Results[0] == nil {
		return 0, nil, fmt.Errorf("history update returned %d results for 1 node", len(resp.Results))
	}
	res := resp.Results[0]
	return res.StatusCode, res.OperationResults, nil
}

func (g *Gateway) perItem(ctx context.Context, t historian.Target, n int, build func(node *ua.NodeID) any) ([]history.StatusCode, error) {
	overall, results, err := g.update(ctx, t, build)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		if history.StatusCode(overall).IsBad() {
			return nil, fmt.Errorf("history update of %s: %w", t.NodeID, overall)
		}
		out := make([]history.StatusCode, n)
		for i := range out {
			out[i] = history.StatusCode(overall)
		}
		return out, nil
	}
	return toStatusCodes(results), nil
}

func (g *Gateway) writeValues(ctx context.Context, t historian.Target, values []history.HistoricValue, mode ua.PerformUpdateType) ([]history.StatusCode, error) {
	dvs, err := toDataValues(values)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "write values", err)
	}
	return g.perItem(ctx, t, len(values), func(node *ua.NodeID) any {
		return &ua.UpdateDataDetails{
			NodeID:               node,
			PerformInsertReplace: mode,
			UpdateValues:         dvs,
		}
	})
}

func (g *Gateway) Insert(ctx context.Context, t historian.Target, values []history.HistoricValue) ([]history.StatusCode, error) {
	return g.writeValues(ctx, t, values, ua.PerformUpdateTypeInsert)
}

func (g *Gateway) Replace(ctx context.Context, t historian.Target, values []history.HistoricValue) ([]history.StatusCode, error) {
	return g.writeValues(ctx, t, values, ua.PerformUpdateTypeReplace)
}

func (g *Gateway) Upsert(ctx context.Context, t historian.Target, values []history.HistoricValue) ([]history.StatusCode, error) {
	return g.writeValues(ctx, t, values, ua.PerformUpdateTypeUpdate)
}

func (g *Gateway) UpdateEvents(ctx context.Context, t historian.Target, mode history.UpdateMode, filter *history.EventFilter, events []history.HistoricEvent) ([]history.StatusCode, error) {
	uaFilter, err := eventFilter(filter)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "update events", err)
	}
	data, err := toEventFieldLists(events)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "update events", err)
	}
	return g.perItem(ctx, t, len(events), func(node *ua.NodeID) any {
		return &ua.UpdateEventDetails{
			NodeID:               node,
			PerformInsertReplace: performUpdateType(mode),
			Filter:               uaFilter,
			EventData:            data,
		}
	})
}

func (g *Gateway) DeleteEvents(ctx context.Context, t historian.Target, eventIDs [][]byte) ([]history.StatusCode, error) {
	return g.perItem(ctx, t, len(eventIDs), func(node *ua.NodeID) any {
		return &ua.DeleteEventDetails{NodeID: node, EventIDs: eventIDs}
	})
}

func (g *Gateway) Delete(ctx context.Context, t historian.Target, reqTimes []time.Time) ([]history.StatusCode, error) {
	return g.perItem(ctx, t, len(reqTimes), func(node *ua.NodeID) any {
		return &ua.DeleteAtTimeDetails{NodeID: node, ReqTimes: reqTimes}
	})
}

func (g *Gateway) DeleteRange(ctx context.Context, t historian.Target, d *history.DeleteRange) (history.StatusCode, error) {
	overall, _, err := g.update(ctx, t, func(node *ua.NodeID) any {
		return &ua.DeleteRawModifiedDetails{
			NodeID:           node,
			IsDeleteModified: d.IsDeleteModified,
			StartTime:        timeOrZero(d.StartTime),
			EndTime:          timeOrZero(d.EndTime),
		}
	})
	if err != nil {
		return 0, err
	}
	return history.StatusCode(overall), nil
}

var _ historian.Backend = (*Gateway)(nil)
