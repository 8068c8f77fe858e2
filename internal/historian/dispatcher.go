package historian

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseReceived  Phase = "Received"
	PhaseResolved  Phase = "Resolved"
	PhaseDecoded   Phase = "Decoded"
	PhaseExecuting Phase = "Executing"
	PhaseCompleted Phase = "Completed"
	PhaseFailed    Phase = "Failed"
)

// Event reports a lifecycle transition of one dispatched request.
type Event struct {
	OperationID string          `json:"operationId"`
	EndpointID  string          `json:"endpointId"`
	Variant     history.Tag     `json:"variant,omitempty"`
	Phase       Phase           `json:"phase"`
	ErrorKind   types.ErrorKind `json:"errorKind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type Observer interface {
	OnPhase(ev Event)
}

// Recorder receives execution timings. Implemented by metrics.Metrics.
type Recorder interface {
	ObserveExecution(variant, outcome string, elapsed time.Duration)
}

// Result is the packaged outcome of a dispatched request. Reads fill Values or
// Events; updates fill Statuses with one entry per input item.
type Result struct {
	OperationID       string                  `json:"operationId"`
	EndpointID        string                  `json:"endpointId"`
	Variant           history.Tag             `json:"variant,omitempty"`
	Values            []history.HistoricValue `json:"values,omitempty"`
	Events            []history.HistoricEvent `json:"events,omitempty"`
	Statuses          []history.StatusCode    `json:"statuses,omitempty"`
	ContinuationToken string                  `json:"continuationToken,omitempty"`
}

// NextRequest continues a paged read. Event reads repeat the filter of the
// first request.
type NextRequest struct {
	NodeID            string                `json:"nodeId"`
	ContinuationToken string                `json:"continuationToken"`
	Events            bool                  `json:"events,omitempty"`
	Filter            *history.EventFilter  `json:"filter,omitempty"`
	Header            history.RequestHeader `json:"header,omitempty"`
}

// Dispatcher routes decoded history requests to the backend. It never retries.
type Dispatcher struct {
	resolver Resolver
	codec    *history.Codec
	backend  Backend
	logger   *zap.Logger
	timeout  time.Duration
	observer Observer
	recorder Recorder
}

func NewDispatcher(resolver Resolver, codec *history.Codec, backend Backend, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		codec:    codec,
		backend:  backend,
		logger:   logger,
		timeout:  timeout,
	}
}

func (d *Dispatcher) SetObserver(o Observer) { d.observer = o }
func (d *Dispatcher) SetRecorder(r Recorder) { d.recorder = r }

type operation struct {
	id         string
	endpointID string
	variant    history.Tag
	started    time.Time
}

// Execute resolves endpointID, decodes env as variant tag and runs exactly one backend call.
func (d *Dispatcher) Execute(ctx context.Context, endpointID string, env history.Envelope, tag history.Tag) (*Result, error) {
	op := d.begin(endpointID, tag)

	record, err := d.resolveReady(ctx, endpointID)
	if err != nil {
		return nil, d.fail(op, err)
	}
	d.emit(op, PhaseResolved, nil)

	req, err := d.codec.DecodeEnvelope(env, tag)
	if err != nil {
		return nil, d.fail(op, err)
	}
	if err := history.Validate(req.Details); err != nil {
		return nil, d.fail(op, err)
	}
	d.emit(op, PhaseDecoded, nil)

	target := Target{
		Endpoint:   record,
		NodeID:     req.NodeID,
		BrowsePath: req.BrowsePath,
		IndexRange: req.IndexRange,
		Header:     req.Header,
	}

	d.emit(op, PhaseExecuting, nil)
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	result, err := d.invoke(callCtx, target, req.Details)
	if err != nil {
		return nil, d.fail(op, classify(callCtx, err))
	}
	return d.complete(op, result), nil
}

// Next fetches the page following req.ContinuationToken.
func (d *Dispatcher) Next(ctx context.Context, endpointID string, req NextRequest) (*Result, error) {
	op := d.begin(endpointID, "")

	record, err := d.resolveReady(ctx, endpointID)
	if err != nil {
		return nil, d.fail(op, err)
	}
	d.emit(op, PhaseResolved, nil)

	if req.NodeID == "" || req.ContinuationToken == "" {
		return nil, d.fail(op, types.Errorf(types.KindMalformedPayload, "next", "nodeId and continuationToken are required"))
	}
	d.emit(op, PhaseDecoded, nil)

	d.emit(op, PhaseExecuting, nil)
	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	page, err := d.backend.ReadNext(callCtx, Target{Endpoint: record, NodeID: req.NodeID, Header: req.Header},
		Continuation{Token: req.ContinuationToken, Events: req.Events, Filter: req.Filter})
	if err != nil {
		return nil, d.fail(op, classify(callCtx, err))
	}
	return d.complete(op, pageResult(page)), nil
}

func (d *Dispatcher) resolveReady(ctx context.Context, endpointID string) (types.EndpointRecord, error) {
	record, err := d.resolver.Resolve(ctx, endpointID)
	if err != nil {
		return types.EndpointRecord{}, err
	}
	if record.State != types.EndpointStateReady {
		return types.EndpointRecord{}, types.Errorf(types.KindEndpointNotReady, "dispatch",
			"endpoint %s is %s", endpointID, record.State)
	}
	return record, nil
}

func (d *Dispatcher) invoke(ctx context.Context, t Target, details history.Details) (*Result, error) {
	switch v := details.(type) {
	case *history.ReadRaw:
		return pageOf(d.backend.ReadRaw(ctx, t, v))
	case *history.ReadModified:
		return pageOf(d.backend.ReadModified(ctx, t, v))
	case *history.ReadAtTime:
		return pageOf(d.backend.ReadAtTime(ctx, t, v))
	case *history.ReadProcessed:
		return pageOf(d.backend.ReadProcessed(ctx, t, v))
	case *history.ReadEvents:
		return pageOf(d.backend.ReadEvents(ctx, t, v))
	case *history.ReadAnnotations:
		return pageOf(d.backend.ReadAnnotations(ctx, t, v))
	case *history.InsertValues:
		return statusesOf(len(v.Values))(d.backend.Insert(ctx, t, v.Values))
	case *history.ReplaceValues:
		return statusesOf(len(v.Values))(d.backend.Replace(ctx, t, v.Values))
	case *history.UpsertValues:
		return statusesOf(len(v.Values))(d.backend.Upsert(ctx, t, v.Values))
	case *history.InsertEvents:
		return statusesOf(len(v.Events))(d.backend.UpdateEvents(ctx, t, history.UpdateInsert, v.Filter, v.Events))
	case *history.ReplaceEvents:
		return statusesOf(len(v.Events))(d.backend.UpdateEvents(ctx, t, history.UpdateReplace, v.Filter, v.Events))
	case *history.UpsertEvents:
		return statusesOf(len(v.Events))(d.backend.UpdateEvents(ctx, t, history.UpdateUpsert, v.Filter, v.Events))
	case *history.DeleteEvents:
		return statusesOf(len(v.EventIDs))(d.backend.DeleteEvents(ctx, t, v.EventIDs))
	case *history.DeleteValues:
		return statusesOf(len(v.ReqTimes))(d.backend.Delete(ctx, t, v.ReqTimes))
	case *history.DeleteRange:
		status, err := d.backend.DeleteRange(ctx, t, v)
		if err != nil {
			return nil, err
		}
		return &Result{Statuses: []history.StatusCode{status}}, nil
	default:
		return nil, types.Errorf(types.KindUnknownVariant, "dispatch", "no historian operation for %T", details)
	}
}

func pageOf(page Page, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	return pageResult(page), nil
}

func pageResult(page Page) *Result {
	return &Result{
		Values:            page.Values,
		Events:            page.Events,
		ContinuationToken: page.ContinuationToken,
	}
}

func statusesOf(want int) func([]history.StatusCode, error) (*Result, error) {
	return func(statuses []history.StatusCode, err error) (*Result, error) {
		if err != nil {
			return nil, err
		}
		if len(statuses) != want {
			return nil, types.Errorf(types.KindBackendError, "dispatch",
				"backend returned %d statuses for %d items", len(statuses), want)
		}
		return &Result{Statuses: statuses}, nil
	}
}

// classify maps a backend failure onto the error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewError(types.KindTimeout, "dispatch", err)
	}
	if types.KindOf(err) != "" {
		return err
	}
	return types.NewError(types.KindBackendError, "dispatch", err)
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

func (d *Dispatcher) begin(endpointID string, tag history.Tag) *operation {
	op := &operation{
		id:         uuid.NewString(),
		endpointID: endpointID,
		variant:    tag,
		started:    time.Now(),
	}
	d.emit(op, PhaseReceived, nil)
	return op
}

func (d *Dispatcher) complete(op *operation, result *Result) *Result {
	result.OperationID = op.id
	result.EndpointID = op.endpointID
	result.Variant = op.variant

	d.emit(op, PhaseCompleted, nil)
	d.record(op, "ok")
	d.logger.Info("History request completed",
		zap.String("operation_id", op.id),
		zap.String("endpoint_id", op.endpointID),
		zap.String("variant", string(op.variant)),
		zap.Int("values", len(result.Values)),
		zap.Int("events", len(result.Events)),
		zap.Int("statuses", len(result.Statuses)),
		zap.Duration("elapsed", time.Since(op.started)))
	return result
}

func (d *Dispatcher) fail(op *operation, err error) error {
	kind := types.KindOf(err)
	d.emit(op, PhaseFailed, err)
	d.record(op, string(kind))

	fields := []zap.Field{
		zap.String("operation_id", op.id),
		zap.String("endpoint_id", op.endpointID),
		zap.String("variant", string(op.variant)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if kind.Retryable() {
		d.logger.Warn("History request failed", fields...)
	} else {
		d.logger.Info("History request rejected", fields...)
	}
	return err
}

func (d *Dispatcher) emit(op *operation, phase Phase, err error) {
	if d.observer == nil {
		return
	}
	ev := Event{
		OperationID: op.id,
		EndpointID:  op.endpointID,
		Variant:     op.variant,
		Phase:       phase,
		Timestamp:   time.Now().UTC(),
	}
	if err != nil {
		ev.ErrorKind = types.KindOf(err)
		ev.Error = err.Error()
	}
	d.observer.OnPhase(ev)
}

func (d *Dispatcher) record(op *operation, outcome string) {
	if d.recorder == nil {
		return
	}
	d.recorder.ObserveExecution(d.variantLabel(op.variant), outcome, time.Since(op.started))
}

// variantLabel keeps metric labels to the registered tags. Callers choose the
// tag, so anything else collapses into "unknown".
func (d *Dispatcher) variantLabel(tag history.Tag) string {
	switch {
	case tag == "":
		return "next"
	case d.codec.Catalog().Has(tag):
		return string(tag)
	default:
		return "unknown"
	}
}
