package history

import (
	"encoding/json"
	"errors"
)

var errNotObject = errors.New("not a JSON object")

// memberSet names the JSON members a type declares.
type memberSet map[string]struct{}

func newMemberSet(names ...string) memberSet {
	m := make(memberSet, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// split separates a JSON object into the members m declares, re-encoded as an
// object, and everything else. Names match case-sensitively, so "StartTime"
// never folds onto startTime.
func (m memberSet) split(raw []byte) ([]byte, Extensions, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, nil, err
	}
	if all == nil {
		return nil, nil, errNotObject
	}

	known := make(map[string]json.RawMessage, len(all))
	var extra Extensions
	for name, value := range all {
		if _, ok := m[name]; ok {
			known[name] = value
			continue
		}
		if extra == nil {
			extra = make(Extensions)
		}
		extra[name] = normalizeJSON(value)
	}
	b, err := json.Marshal(known)
	return b, extra, err
}

// merge adds the members of extra that m does not declare to the encoded object b.
func (m memberSet) merge(b []byte, extra Extensions) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for name, value := range extra {
		if _, declared := m[name]; !declared {
			all[name] = value
		}
	}
	return json.Marshal(all)
}

// normalizeJSON returns raw in the form encoding/json emits it: compact, with
// HTML characters escaped. Re-encoding a normalized value is the identity.
func normalizeJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return raw
	}
	return b
}

// ValueOf renders v in the JSON form HistoricValue.Value and event fields hold.
func ValueOf(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
