package historian

import (
	"context"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

// Target addresses one node on one resolved endpoint.
type Target struct {
	Endpoint   types.EndpointRecord
	NodeID     string
	BrowsePath []string
	IndexRange history.NumericRange
	Header     history.RequestHeader
}

// Page is one chunk of a paged historical read. Exactly one of Values or Events is used.
type Page struct {
	Values            []history.HistoricValue
	Events            []history.HistoricEvent
	ContinuationToken string
}

// Continuation resumes a paged read. For event reads Filter must select the
// same fields as the request that produced the first page.
type Continuation struct {
	Token  string
	Events bool
	Filter *history.EventFilter
}

// Backend executes historian operations against a device-protocol gateway.
// Update calls return one status per input item, in input order.
type Backend interface {
	ReadRaw(ctx context.Context, t Target, d *history.ReadRaw) (Page, error)
	ReadModified(ctx context.Context, t Target, d *history.ReadModified) (Page, error)
	ReadAtTime(ctx context.Context, t Target, d *history.ReadAtTime) (Page, error)
	ReadProcessed(ctx context.Context, t Target, d *history.ReadProcessed) (Page, error)
	ReadEvents(ctx context.Context, t Target, d *history.ReadEvents) (Page, error)
	ReadAnnotations(ctx context.Context, t Target, d *history.ReadAnnotations) (Page, error)
	ReadNext(ctx context.Context, t Target, c Continuation) (Page, error)

	Insert(ctx context.Context, t Target, values []history.HistoricValue) ([]history.StatusCode, error)
	Replace(ctx context.Context, t Target, values []history.HistoricValue) ([]history.StatusCode, error)
	Upsert(ctx context.Context, t Target, values []history.HistoricValue) ([]history.StatusCode, error)
	Delete(ctx context.Context, t Target, reqTimes []time.Time) ([]history.StatusCode, error)
	DeleteRange(ctx context.Context, t Target, d *history.DeleteRange) (history.StatusCode, error)

	UpdateEvents(ctx context.Context, t Target, mode history.UpdateMode, filter *history.EventFilter, events []history.HistoricEvent) ([]history.StatusCode, error)
	DeleteEvents(ctx context.Context, t Target, eventIDs [][]byte) ([]history.StatusCode, error)
}

// Resolver finds live endpoints. Implemented by registry.Engine.
type Resolver interface {
	Resolve(ctx context.Context, id string) (types.EndpointRecord, error)
}
