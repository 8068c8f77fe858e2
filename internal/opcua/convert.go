package opcua

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

func parseNodeID(s string) (*ua.NodeID, error) {
	n, err := ua.ParseNodeID(s)
	if err != nil {
		return nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return n, nil
}

// parseBrowseName accepts "Name" or "ns:Name", the OPC UA text form of a qualified name.
func parseBrowseName(segment string) *ua.QualifiedName {
	if ns, name, ok := strings.Cut(segment, ":"); ok {
		if n, err := strconv.ParseUint(ns, 10, 16); err == nil && name != "" {
			return &ua.QualifiedName{NamespaceIndex: uint16(n), Name: name}
		}
	}
	return &ua.QualifiedName{Name: segment}
}

func relativePath(segments []string) *ua.RelativePath {
	elements := make([]*ua.RelativePathElement, 0, len(segments))
	for _, s := range segments {
		elements = append(elements, &ua.RelativePathElement{
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
			IncludeSubtypes: true,
			TargetName:      parseBrowseName(s),
		})
	}
	return &ua.RelativePath{Elements: elements}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// toVariant decodes a JSON value into a scalar variant. Integral numbers become
// Int64, other numbers Double. Arrays and objects have no variant form.
func toVariant(raw json.RawMessage) (*ua.Variant, error) {
	if len(raw) == 0 {
		return ua.NewVariant(nil)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch n := v.(type) {
	case []any, map[string]any:
		return nil, fmt.Errorf("%s has no scalar variant form", raw)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			v = i
		} else {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			v = f
		}
	}
	return ua.NewVariant(v)
}

// fromVariant renders a variant value as JSON, falling back to its text form.
func fromVariant(v *ua.Variant) json.RawMessage {
	if v == nil || v.Value() == nil {
		return nil
	}
	raw, err := history.ValueOf(v.Value())
	if err != nil {
		raw, _ = history.ValueOf(fmt.Sprint(v.Value()))
	}
	return raw
}

func toDataValue(v history.HistoricValue) (*ua.DataValue, error) {
	variant, err := toVariant(v.Value)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %s at %s: %w", v.Value, v.Timestamp.Format(time.RFC3339), err)
	}
	dv := &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueStatusCode | ua.DataValueServerTimestamp,
		Value:           variant,
		Status:          ua.StatusCode(v.StatusCode),
		ServerTimestamp: v.Timestamp,
	}
	if v.SourceTimestamp != nil {
		dv.EncodingMask |= ua.DataValueSourceTimestamp
		dv.SourceTimestamp = *v.SourceTimestamp
	}
	return dv, nil
}

func toDataValues(values []history.HistoricValue) ([]*ua.DataValue, error) {
	out := make([]*ua.DataValue, 0, len(values))
	for _, v := range values {
		dv, err := toDataValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, nil
}

// fromDataValue prefers the server timestamp, falling back to the source timestamp.
func fromDataValue(dv *ua.DataValue) history.HistoricValue {
	hv := history.HistoricValue{
		Timestamp:  dv.ServerTimestamp,
		StatusCode: history.StatusCode(dv.Status),
	}
	hv.Value = fromVariant(dv.Value)
	if !dv.SourceTimestamp.IsZero() {
		ts := dv.SourceTimestamp
		hv.SourceTimestamp = &ts
		if hv.Timestamp.IsZero() {
			hv.Timestamp = ts
		}
	}
	return hv
}

func fromEventFields(fields *ua.HistoryEventFieldList) history.HistoricEvent {
	ev := history.HistoricEvent{EventFields: make([]json.RawMessage, 0, len(fields.EventFields))}
	for _, f := range fields.EventFields {
		ev.EventFields = append(ev.EventFields, fromVariant(f))
	}
	return ev
}

func toEventFieldLists(events []history.HistoricEvent) ([]*ua.HistoryEventFieldList, error) {
	out := make([]*ua.HistoryEventFieldList, 0, len(events))
	for i, ev := range events {
		fields := make([]*ua.Variant, 0, len(ev.EventFields))
		for j, f := range ev.EventFields {
			v, err := toVariant(f)
			if err != nil {
				return nil, fmt.Errorf("event %d field %d: %w", i, j, err)
			}
			fields = append(fields, v)
		}
		out = append(out, &ua.HistoryEventFieldList{EventFields: fields})
	}
	return out, nil
}

func performUpdateType(mode history.UpdateMode) ua.PerformUpdateType {
	switch mode {
	case history.UpdateReplace:
		return ua.PerformUpdateTypeReplace
	case history.UpdateUpsert:
		return ua.PerformUpdateTypeUpdate
	default:
		return ua.PerformUpdateTypeInsert
	}
}

func toStatusCodes(codes []ua.StatusCode) []history.StatusCode {
	out := make([]history.StatusCode, len(codes))
	for i, c := range codes {
		out[i] = history.StatusCode(c)
	}
	return out
}

func toEventFilter(f *history.EventFilter) (*ua.EventFilter, error) {
	if f == nil {
		return nil, nil
	}
	typeDef := ua.NewNumericNodeID(0, id.BaseEventType)
	if f.TypeDefinitionID != "" {
		n, err := parseNodeID(f.TypeDefinitionID)
		if err != nil {
			return nil, err
		}
		typeDef = n
	}

	clauses := make([]*ua.SimpleAttributeOperand, 0, len(f.SelectClauses))
	for _, name := range f.SelectClauses {
		clauses = append(clauses, &ua.SimpleAttributeOperand{
			TypeDefinitionID: typeDef,
			BrowsePath:       []*ua.QualifiedName{parseBrowseName(name)},
			AttributeID:      ua.AttributeIDValue,
		})
	}
	return &ua.EventFilter{
		SelectClauses: clauses,
		WhereClause:   &ua.ContentFilter{},
	}, nil
}

func toAggregateConfiguration(c *history.AggregateConfiguration) *ua.AggregateConfiguration {
	if c == nil {
		return &ua.AggregateConfiguration{UseServerCapabilitiesDefaults: true}
	}
	return &ua.AggregateConfiguration{
		UseServerCapabilitiesDefaults: c.UseServerCapabilitiesDefaults,
		TreatUncertainAsBad:           c.TreatUncertainAsBad,
		PercentDataBad:                c.PercentDataBad,
		PercentDataGood:               c.PercentDataGood,
		UseSlopedExtrapolation:        c.UseSlopedExtrapolation,
	}
}

// aggregateNodeID maps well-known aggregate names to their standard node ids;
// anything else must be a node id.
func aggregateNodeID(name string) (*ua.NodeID, error) {
	known := map[string]uint32{
		"Interpolative": id.AggregateFunction_Interpolative,
		"Average":       id.AggregateFunction_Average,
		"Minimum":       id.AggregateFunction_Minimum,
		"Maximum":       id.AggregateFunction_Maximum,
		"Count":         id.AggregateFunction_Count,
		"Total":         id.AggregateFunction_Total,
		"Start":         id.AggregateFunction_Start,
		"End":           id.AggregateFunction_End,
	}
	if n, ok := known[name]; ok {
		return ua.NewNumericNodeID(0, n), nil
	}
	return parseNodeID(name)
}
