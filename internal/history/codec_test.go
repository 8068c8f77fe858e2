package history

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	return NewCodec(catalog)
}

func at(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	ts = ts.UTC()
	return &ts
}

func jsonOf(v any) json.RawMessage {
	raw, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestDefaultCatalog_RegistersAllVariants(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	for _, v := range builtinVariants() {
		assert.True(t, catalog.Has(v.Tag), "missing %s", v.Tag)
	}
	assert.Len(t, catalog.Tags(), len(builtinVariants()))

	kind, ok := catalog.KindOf(TagReadEvents)
	assert.True(t, ok)
	assert.Equal(t, KindReadEvents, kind)
	kind, _ = catalog.KindOf(TagDeleteRange)
	assert.Equal(t, KindUpdate, kind)
	_, ok = catalog.KindOf("ReadVendorDetails")
	assert.False(t, ok)
}

func TestNewCatalog_RejectsDuplicateTags(t *testing.T) {
	schema := []byte(`{"type":"object"}`)
	_, err := NewCatalog(
		Variant{Tag: TagReadRaw, Schema: schema, New: func() Details { return &ReadRaw{} }},
		Variant{Tag: TagReadRaw, Schema: schema, New: func() Details { return &ReadRaw{} }},
	)
	assert.Error(t, err)

	_, err = NewCatalog(Variant{Tag: TagReadRaw, Schema: schema, New: func() Details { return &ReadEvents{} }})
	assert.Error(t, err)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	cases := []Details{
		&ReadRaw{StartTime: at("2024-01-01T00:00:00Z"), EndTime: at("2024-01-02T00:00:00Z"), NumValuesPerNode: 100, ReturnBounds: true},
		&ReadModified{StartTime: at("2024-01-01T00:00:00Z"), NumValuesPerNode: 5},
		&ReadAtTime{ReqTimes: []time.Time{*at("2024-03-01T12:00:00Z")}, UseSimpleBounds: true},
		&ReadProcessed{
			StartTime:              at("2024-01-01T00:00:00Z"),
			EndTime:                at("2024-01-01T01:00:00Z"),
			ProcessingInterval:     60000,
			AggregateType:          "Average",
			AggregateConfiguration: &AggregateConfiguration{TreatUncertainAsBad: true, PercentDataGood: 80},
		},
		&ReadEvents{EndTime: at("2024-01-01T00:00:00Z"), NumEvents: 10, Filter: &EventFilter{SelectClauses: []string{"Message", "Severity"}}},
		&InsertValues{Values: []HistoricValue{
			{Timestamp: *at("2024-01-01T00:00:00Z"), Value: jsonOf(21.5)},
			{Timestamp: *at("2024-01-01T00:01:00Z"), Value: jsonOf("open"), StatusCode: StatusUncertain, SourceTimestamp: at("2024-01-01T00:00:59Z")},
			{Timestamp: *at("2024-01-01T00:02:00Z"), Value: jsonOf(5)},
			{Timestamp: *at("2024-01-01T00:03:00Z"), Value: jsonOf(struct {
				Setpoint int    `json:"setpoint"`
				Unit     string `json:"unit"`
			}{80, "<degC>"})},
			{Timestamp: *at("2024-01-01T00:04:00Z")},
		}},
		&ReplaceValues{Values: []HistoricValue{{Timestamp: *at("2024-01-01T00:00:00Z"), Value: jsonOf(true)}}},
		&UpsertValues{Values: []HistoricValue{{
			Timestamp: *at("2024-01-01T00:00:00Z"),
			Value:     jsonOf([]int{1, 2}),
			Extra:     Extensions{"quality": json.RawMessage(`"vendor"`)},
		}}},
		&DeleteValues{ReqTimes: []time.Time{*at("2024-01-01T00:00:00Z"), *at("2024-01-01T00:00:01Z")}},
		&DeleteRange{StartTime: at("2024-01-01T00:00:00Z"), EndTime: at("2024-02-01T00:00:00Z"), IsDeleteModified: true},
		&ReadAnnotations{ReqTimes: []time.Time{*at("2024-01-01T00:00:00Z")}},
		&InsertEvents{
			Filter: &EventFilter{SelectClauses: []string{"Message", "Severity"}},
			Events: []HistoricEvent{{EventFields: []json.RawMessage{jsonOf("overheat"), jsonOf(700)}}},
		},
		&ReplaceEvents{Events: []HistoricEvent{{EventFields: []json.RawMessage{jsonOf(1)}, Extra: Extensions{"origin": json.RawMessage(`{"line":3}`)}}}},
		&UpsertEvents{Filter: &EventFilter{TypeDefinitionID: "i=2041", Extra: Extensions{"where": json.RawMessage(`[]`)}}},
		&DeleteEvents{EventIDs: [][]byte{{0x01, 0x02}, []byte("evt-7")}},
	}

	for _, d := range cases {
		t.Run(string(d.Tag()), func(t *testing.T) {
			raw, err := codec.Encode(d)
			require.NoError(t, err)

			decoded, err := codec.Decode(raw, d.Tag())
			require.NoError(t, err)
			assert.Equal(t, d, decoded)
		})
	}
}

func TestCodec_PreservesUnknownMembers(t *testing.T) {
	codec := newTestCodec(t)
	raw := []byte(`{"startTime":"2024-01-01T00:00:00Z","numValuesPerNode":3,"vendorHint":{"cache":true},"StartTime":"x"}`)

	d, err := codec.Decode(raw, TagReadRaw)
	require.NoError(t, err)

	rr := d.(*ReadRaw)
	assert.Equal(t, uint32(3), rr.NumValuesPerNode)
	assert.Equal(t, at("2024-01-01T00:00:00Z"), rr.StartTime)
	assert.JSONEq(t, `{"cache":true}`, string(rr.Extra["vendorHint"]))
	assert.JSONEq(t, `"x"`, string(rr.Extra["StartTime"]))

	out, err := codec.Encode(d)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestCodec_PreservesNestedUnknownMembers(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		tag Tag
		raw string
	}{
		{TagInsertValues, `{"values":[{"timestamp":"2024-01-01T00:00:00Z","value":1,"quality":"vendor"}]}`},
		{TagReadProcessed, `{"startTime":"2024-01-01T00:00:00Z","endTime":"2024-01-01T01:00:00Z",` +
			`"aggregateConfiguration":{"percentDataGood":80,"stepped":true}}`},
		{TagReadEvents, `{"startTime":"2024-01-01T00:00:00Z","numEvents":5,` +
			`"filter":{"selectClauses":["Message"],"whereClause":{"op":"eq"}}}`},
		{TagUpsertEvents, `{"events":[{"eventFields":["a",1],"receivedAt":"2024-01-01T00:00:00Z"}],"batch":7}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			d, err := codec.Decode([]byte(tt.raw), tt.tag)
			require.NoError(t, err)

			out, err := codec.Encode(d)
			require.NoError(t, err)
			assert.JSONEq(t, tt.raw, string(out))
		})
	}

	d, err := codec.Decode([]byte(tests[0].raw), TagInsertValues)
	require.NoError(t, err)
	v := d.(*InsertValues).Values[0]
	assert.JSONEq(t, `"vendor"`, string(v.Extra["quality"]))
	assert.Equal(t, json.RawMessage(`1`), v.Value)
}

func TestCodec_EncodeRejectsWhatDecodeWould(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Encode(&ReadProcessed{
		StartTime:              at("2024-01-01T00:00:00Z"),
		EndTime:                at("2024-01-01T01:00:00Z"),
		AggregateConfiguration: &AggregateConfiguration{PercentDataBad: 200},
	})
	assert.True(t, errors.Is(err, types.ErrMalformedPayload), "got %v", err)

	_, err = codec.Encode(&ReadProcessed{ProcessingInterval: -1})
	assert.True(t, errors.Is(err, types.ErrMalformedPayload), "got %v", err)
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		raw  string
		tag  Tag
		want error
	}{
		{"unknown variant", `{}`, Tag("ReadVendorDetails"), types.ErrUnknownVariant},
		{"not an object", `[1,2]`, TagReadRaw, types.ErrMalformedPayload},
		{"null", `null`, TagReadRaw, types.ErrMalformedPayload},
		{"broken json", `{"startTime":`, TagReadRaw, types.ErrMalformedPayload},
		{"missing required", `{}`, TagInsertValues, types.ErrMalformedPayload},
		{"wrong type", `{"numValuesPerNode":"ten"}`, TagReadRaw, types.ErrMalformedPayload},
		{"negative count", `{"numValuesPerNode":-1}`, TagReadRaw, types.ErrMalformedPayload},
		{"bad timestamp", `{"reqTimes":["yesterday"]}`, TagDeleteValues, types.ErrMalformedPayload},
		{"value without timestamp", `{"values":[{"value":1}]}`, TagInsertValues, types.ErrMalformedPayload},
		{"event without fields", `{"events":[{}]}`, TagInsertEvents, types.ErrMalformedPayload},
		{"event id not base64", `{"eventIds":["***"]}`, TagDeleteEvents, types.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode([]byte(tt.raw), tt.tag)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCodec_DecodeEnvelope(t *testing.T) {
	codec := newTestCodec(t)

	env := Envelope{
		NodeID:     "ns=2;s=Line3.Temperature",
		BrowsePath: []string{"Objects", "Line3"},
		IndexRange: "1:2,0:1",
		Details:    json.RawMessage(`{"values":[{"timestamp":"2024-01-01T00:00:00Z","value":1}]}`),
		Header:     RequestHeader{"auditEntryId": json.RawMessage(`"op-7"`)},
	}

	req, err := codec.DecodeEnvelope(env, TagInsertValues)
	require.NoError(t, err)
	assert.Equal(t, NumericRange{{Low: 1, High: 2}, {Low: 0, High: 1}}, req.IndexRange)
	assert.Equal(t, env.Header, req.Header)
	require.IsType(t, &InsertValues{}, req.Details)

	back, err := codec.EncodeEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, env.IndexRange, back.IndexRange)
	assert.JSONEq(t, string(env.Details), string(back.Details))

	env.IndexRange = "abc"
	_, err = codec.DecodeEnvelope(env, TagInsertValues)
	assert.True(t, errors.Is(err, types.ErrInvalidIndexRange))

	env.IndexRange = ""
	env.NodeID = " "
	_, err = codec.DecodeEnvelope(env, TagInsertValues)
	assert.True(t, errors.Is(err, types.ErrMalformedPayload))
}

func TestCodec_EncodeUnknownVariant(t *testing.T) {
	catalog, err := NewCatalog(Variant{Tag: TagReadRaw, Schema: []byte(`{"type":"object"}`), New: func() Details { return &ReadRaw{} }})
	require.NoError(t, err)

	_, err = NewCodec(catalog).Encode(&DeleteRange{})
	assert.True(t, errors.Is(err, types.ErrUnknownVariant))
}
