package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tag identifies a details variant. It travels beside the envelope, never inside it.
type Tag string

const (
	TagReadRaw       Tag = "ReadRawModifiedDetails"
	TagReadModified  Tag = "ReadModifiedDetails"
	TagReadAtTime    Tag = "ReadAtTimeDetails"
	TagReadProcessed Tag = "ReadProcessedDetails"
	TagReadEvents    Tag = "ReadEventDetails"
	TagInsertValues  Tag = "InsertValuesDetails"
	TagReplaceValues Tag = "ReplaceValuesDetails"
	TagDeleteValues  Tag = "DeleteAtTimeDetails"
	TagDeleteRange   Tag = "DeleteRawModifiedDetails"

	TagReadAnnotations Tag = "ReadAnnotationDataDetails"
	TagUpsertValues    Tag = "UpsertValuesDetails"
	TagInsertEvents    Tag = "InsertEventDetails"
	TagReplaceEvents   Tag = "ReplaceEventDetails"
	TagUpsertEvents    Tag = "UpsertEventDetails"
	TagDeleteEvents    Tag = "DeleteEventDetails"
)

// Kind groups variants by the shape of their result.
type Kind int

const (
	KindReadValues Kind = iota
	KindReadEvents
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindReadValues:
		return "read_values"
	case KindReadEvents:
		return "read_events"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Extensions holds payload members that the variant schema does not name.
// They are kept verbatim so clients can echo data they do not understand.
type Extensions map[string]json.RawMessage

// Details is the closed union of history details variants.
type Details interface {
	Tag() Tag
	Kind() Kind
	Extensions() Extensions
	setExtensions(Extensions)
}

type extensible struct {
	Extra Extensions `json:"-"`
}

func (e *extensible) Extensions() Extensions     { return e.Extra }
func (e *extensible) setExtensions(x Extensions) { e.Extra = x }

type ReadRaw struct {
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	NumValuesPerNode uint32     `json:"numValuesPerNode,omitempty"`
	ReturnBounds     bool       `json:"returnBounds,omitempty"`
	extensible
}

func (*ReadRaw) Tag() Tag   { return TagReadRaw }
func (*ReadRaw) Kind() Kind { return KindReadValues }

type ReadModified struct {
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	NumValuesPerNode uint32     `json:"numValuesPerNode,omitempty"`
	extensible
}

func (*ReadModified) Tag() Tag   { return TagReadModified }
func (*ReadModified) Kind() Kind { return KindReadValues }

type ReadAtTime struct {
	ReqTimes        []time.Time `json:"reqTimes"`
	UseSimpleBounds bool        `json:"useSimpleBounds,omitempty"`
	extensible
}

func (*ReadAtTime) Tag() Tag   { return TagReadAtTime }
func (*ReadAtTime) Kind() Kind { return KindReadValues }

type AggregateConfiguration struct {
	UseServerCapabilitiesDefaults bool  `json:"useServerCapabilitiesDefaults,omitempty"`
	TreatUncertainAsBad           bool  `json:"treatUncertainAsBad,omitempty"`
	PercentDataBad                uint8 `json:"percentDataBad,omitempty"`
	PercentDataGood               uint8 `json:"percentDataGood,omitempty"`
	UseSlopedExtrapolation        bool  `json:"useSlopedExtrapolation,omitempty"`

	Extra Extensions `json:"-"`
}

var aggregateConfigurationMembers = newMemberSet("useServerCapabilitiesDefaults", "treatUncertainAsBad",
	"percentDataBad", "percentDataGood", "useSlopedExtrapolation")

func (a AggregateConfiguration) MarshalJSON() ([]byte, error) {
	type plain AggregateConfiguration
	b, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}
	return aggregateConfigurationMembers.merge(b, a.Extra)
}

func (a *AggregateConfiguration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	known, extra, err := aggregateConfigurationMembers.split(b)
	if err != nil {
		return err
	}
	type plain AggregateConfiguration
	var p plain
	if err := json.Unmarshal(known, &p); err != nil {
		return err
	}
	p.Extra = extra
	*a = AggregateConfiguration(p)
	return nil
}

type ReadProcessed struct {
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// ProcessingInterval is in milliseconds.
	ProcessingInterval     float64                 `json:"processingInterval,omitempty"`
	AggregateType          string                  `json:"aggregateType,omitempty"`
	AggregateConfiguration *AggregateConfiguration `json:"aggregateConfiguration,omitempty"`
	extensible
}

func (*ReadProcessed) Tag() Tag   { return TagReadProcessed }
func (*ReadProcessed) Kind() Kind { return KindReadValues }

// EventFilter selects event fields by browse name, optionally scoped to an event type.
type EventFilter struct {
	SelectClauses    []string `json:"selectClauses,omitempty"`
	TypeDefinitionID string   `json:"typeDefinitionId,omitempty"`

	Extra Extensions `json:"-"`
}

var eventFilterMembers = newMemberSet("selectClauses", "typeDefinitionId")

// DefaultEventFields are selected when a filter names none.
var DefaultEventFields = []string{"EventId", "EventType", "SourceName", "Time", "Message", "Severity"}

// Clauses returns the select clauses of f, or DefaultEventFields when f names none.
func (f *EventFilter) Clauses() []string {
	if f == nil || len(f.SelectClauses) == 0 {
		return DefaultEventFields
	}
	return f.SelectClauses
}

func (f EventFilter) MarshalJSON() ([]byte, error) {
	type plain EventFilter
	b, err := json.Marshal(plain(f))
	if err != nil {
		return nil, err
	}
	return eventFilterMembers.merge(b, f.Extra)
}

func (f *EventFilter) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	known, extra, err := eventFilterMembers.split(b)
	if err != nil {
		return err
	}
	type plain EventFilter
	var p plain
	if err := json.Unmarshal(known, &p); err != nil {
		return err
	}
	p.Extra = extra
	*f = EventFilter(p)
	return nil
}

type ReadEvents struct {
	StartTime *time.Time   `json:"startTime,omitempty"`
	EndTime   *time.Time   `json:"endTime,omitempty"`
	NumEvents uint32       `json:"numEvents,omitempty"`
	Filter    *EventFilter `json:"filter,omitempty"`
	extensible
}

func (*ReadEvents) Tag() Tag   { return TagReadEvents }
func (*ReadEvents) Kind() Kind { return KindReadEvents }

type InsertValues struct {
	Values []HistoricValue `json:"values"`
	extensible
}

func (*InsertValues) Tag() Tag   { return TagInsertValues }
func (*InsertValues) Kind() Kind { return KindUpdate }

type ReplaceValues struct {
	Values []HistoricValue `json:"values"`
	extensible
}

func (*ReplaceValues) Tag() Tag   { return TagReplaceValues }
func (*ReplaceValues) Kind() Kind { return KindUpdate }

// UpsertValues inserts new values and replaces existing ones.
type UpsertValues struct {
	Values []HistoricValue `json:"values"`
	extensible
}

func (*UpsertValues) Tag() Tag   { return TagUpsertValues }
func (*UpsertValues) Kind() Kind { return KindUpdate }

// DeleteValues removes the values stored at the given timestamps.
type DeleteValues struct {
	ReqTimes []time.Time `json:"reqTimes"`
	extensible
}

func (*DeleteValues) Tag() Tag   { return TagDeleteValues }
func (*DeleteValues) Kind() Kind { return KindUpdate }

// DeleteRange removes all raw (or modified) values in a time window.
type DeleteRange struct {
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	IsDeleteModified bool       `json:"isDeleteModified,omitempty"`
	extensible
}

func (*DeleteRange) Tag() Tag   { return TagDeleteRange }
func (*DeleteRange) Kind() Kind { return KindUpdate }

// ReadAnnotations reads the annotations recorded against a node at the given times.
type ReadAnnotations struct {
	ReqTimes []time.Time `json:"reqTimes"`
	extensible
}

func (*ReadAnnotations) Tag() Tag   { return TagReadAnnotations }
func (*ReadAnnotations) Kind() Kind { return KindReadValues }

// UpdateMode selects how a history update treats existing entries.
type UpdateMode int

const (
	UpdateInsert UpdateMode = iota
	UpdateReplace
	UpdateUpsert
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateInsert:
		return "insert"
	case UpdateReplace:
		return "replace"
	case UpdateUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// Events are written field by field in the order of the filter's select clauses.
type InsertEvents struct {
	Filter *EventFilter    `json:"filter,omitempty"`
	Events []HistoricEvent `json:"events"`
	extensible
}

func (*InsertEvents) Tag() Tag   { return TagInsertEvents }
func (*InsertEvents) Kind() Kind { return KindUpdate }

type ReplaceEvents struct {
	Filter *EventFilter    `json:"filter,omitempty"`
	Events []HistoricEvent `json:"events"`
	extensible
}

func (*ReplaceEvents) Tag() Tag   { return TagReplaceEvents }
func (*ReplaceEvents) Kind() Kind { return KindUpdate }

type UpsertEvents struct {
	Filter *EventFilter    `json:"filter,omitempty"`
	Events []HistoricEvent `json:"events"`
	extensible
}

func (*UpsertEvents) Tag() Tag   { return TagUpsertEvents }
func (*UpsertEvents) Kind() Kind { return KindUpdate }

// DeleteEvents removes events by their EventId.
type DeleteEvents struct {
	EventIDs [][]byte `json:"eventIds"`
	extensible
}

func (*DeleteEvents) Tag() Tag   { return TagDeleteEvents }
func (*DeleteEvents) Kind() Kind { return KindUpdate }

// HistoricValue is one stored sample. Value holds the sample in its JSON form;
// see ValueOf.
type HistoricValue struct {
	Timestamp       time.Time       `json:"timestamp"`
	Value           json.RawMessage `json:"value,omitempty"`
	StatusCode      StatusCode      `json:"statusCode,omitempty"`
	SourceTimestamp *time.Time      `json:"sourceTimestamp,omitempty"`

	Extra Extensions `json:"-"`
}

var historicValueMembers = newMemberSet("timestamp", "value", "statusCode", "sourceTimestamp")

func (v HistoricValue) MarshalJSON() ([]byte, error) {
	type plain HistoricValue
	b, err := json.Marshal(plain(v))
	if err != nil {
		return nil, err
	}
	return historicValueMembers.merge(b, v.Extra)
}

func (v *HistoricValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	known, extra, err := historicValueMembers.split(b)
	if err != nil {
		return err
	}
	type plain HistoricValue
	var p plain
	if err := json.Unmarshal(known, &p); err != nil {
		return err
	}
	p.Value = normalizeJSON(p.Value)
	p.Extra = extra
	*v = HistoricValue(p)
	return nil
}

type HistoricEvent struct {
	EventFields []json.RawMessage `json:"eventFields"`

	Extra Extensions `json:"-"`
}

var historicEventMembers = newMemberSet("eventFields")

func (e HistoricEvent) MarshalJSON() ([]byte, error) {
	type plain HistoricEvent
	b, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	return historicEventMembers.merge(b, e.Extra)
}

func (e *HistoricEvent) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	known, extra, err := historicEventMembers.split(b)
	if err != nil {
		return err
	}
	type plain HistoricEvent
	var p plain
	if err := json.Unmarshal(known, &p); err != nil {
		return err
	}
	for i := range p.EventFields {
		p.EventFields[i] = normalizeJSON(p.EventFields[i])
	}
	p.Extra = extra
	*e = HistoricEvent(p)
	return nil
}

// StatusCode is an OPC UA status code; the top two bits carry the severity.
type StatusCode uint32

const (
	StatusGood             StatusCode = 0x00000000
	StatusUncertain        StatusCode = 0x40000000
	StatusBad              StatusCode = 0x80000000
	StatusBadNoData        StatusCode = 0x809B0000
	StatusBadEntryExists   StatusCode = 0x80A00000
	StatusBadNoEntryExists StatusCode = 0x80A10000
)

func (s StatusCode) IsGood() bool { return s&0xC0000000 == 0 }
func (s StatusCode) IsBad() bool  { return s&0x80000000 != 0 }

func (s StatusCode) String() string {
	switch {
	case s == StatusGood:
		return "Good"
	case s.IsBad():
		return fmt.Sprintf("Bad (0x%08X)", uint32(s))
	case s.IsGood():
		return fmt.Sprintf("Good (0x%08X)", uint32(s))
	default:
		return fmt.Sprintf("Uncertain (0x%08X)", uint32(s))
	}
}
