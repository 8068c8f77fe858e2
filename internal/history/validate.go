package history

import (
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

// Validate checks the semantic constraints a schema cannot express: time window
// bounds and non-empty update sets. Decoding alone never fails on these, so a
// decoded value always re-encodes to the same payload.
func Validate(d Details) error {
	const op = "validate"

	switch v := d.(type) {
	case *ReadRaw:
		return checkWindow(op, v.StartTime, v.EndTime, v.NumValuesPerNode)
	case *ReadModified:
		return checkWindow(op, v.StartTime, v.EndTime, v.NumValuesPerNode)
	case *ReadEvents:
		return checkWindow(op, v.StartTime, v.EndTime, v.NumEvents)
	case *ReadProcessed:
		if v.StartTime == nil || v.EndTime == nil {
			return types.Errorf(types.KindMalformedPayload, op, "processed reads need both start and end time")
		}
		if v.ProcessingInterval < 0 {
			return types.Errorf(types.KindMalformedPayload, op, "processing interval must not be negative")
		}
		return nil
	case *ReadAtTime:
		return checkReqTimes(op, v.ReqTimes)
	case *ReadAnnotations:
		return checkReqTimes(op, v.ReqTimes)
	case *InsertValues:
		return checkValues(op, v.Values)
	case *ReplaceValues:
		return checkValues(op, v.Values)
	case *UpsertValues:
		return checkValues(op, v.Values)
	case *InsertEvents:
		return checkEvents(op, v.Filter, v.Events)
	case *ReplaceEvents:
		return checkEvents(op, v.Filter, v.Events)
	case *UpsertEvents:
		return checkEvents(op, v.Filter, v.Events)
	case *DeleteEvents:
		if len(v.EventIDs) == 0 {
			return types.Errorf(types.KindEmptyRequest, op, "no events to delete")
		}
		for i, id := range v.EventIDs {
			if len(id) == 0 {
				return types.Errorf(types.KindMalformedPayload, op, "eventIds[%d] is empty", i)
			}
		}
		return nil
	case *DeleteValues:
		if len(v.ReqTimes) == 0 {
			return types.Errorf(types.KindEmptyRequest, op, "no timestamps to delete")
		}
		return nil
	case *DeleteRange:
		if v.StartTime == nil && v.EndTime == nil {
			return types.Errorf(types.KindMalformedPayload, op, "start or end time is required")
		}
		return nil
	case nil:
		return types.Errorf(types.KindMalformedPayload, op, "details are nil")
	default:
		return types.Errorf(types.KindUnknownVariant, op, "unsupported details %T", d)
	}
}

// checkWindow requires at least one bound, and a count when only one bound is given.
func checkWindow(op string, start, end *time.Time, count uint32) error {
	if start == nil && end == nil {
		return types.Errorf(types.KindMalformedPayload, op, "start or end time is required")
	}
	if (start == nil || end == nil) && count == 0 {
		return types.Errorf(types.KindMalformedPayload, op, "a value count is required when only one time bound is set")
	}
	return nil
}

func checkReqTimes(op string, reqTimes []time.Time) error {
	if len(reqTimes) == 0 {
		return types.Errorf(types.KindMalformedPayload, op, "at least one request time is required")
	}
	return nil
}

// checkEvents requires one field per select clause in every event.
func checkEvents(op string, filter *EventFilter, events []HistoricEvent) error {
	if len(events) == 0 {
		return types.Errorf(types.KindEmptyRequest, op, "no events to write")
	}
	want := len(filter.Clauses())
	for i := range events {
		if got := len(events[i].EventFields); got != want {
			return types.Errorf(types.KindMalformedPayload, op, "events[%d] has %d fields for %d select clauses", i, got, want)
		}
	}
	return nil
}

func checkValues(op string, values []HistoricValue) error {
	if len(values) == 0 {
		return types.Errorf(types.KindEmptyRequest, op, "no values to write")
	}
	for i := range values {
		if values[i].Timestamp.IsZero() {
			return types.Errorf(types.KindMalformedPayload, op, "values[%d] has no timestamp", i)
		}
	}
	return nil
}
