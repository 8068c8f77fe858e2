package history

import (
	"encoding/json"
	"strings"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

// RequestHeader is passed through to the backend untouched.
type RequestHeader map[string]json.RawMessage

// Envelope is the wire form of a history request addressed to one node.
type Envelope struct {
	NodeID     string          `json:"nodeId"`
	BrowsePath []string        `json:"browsePath,omitempty"`
	IndexRange string          `json:"indexRange,omitempty"`
	Details    json.RawMessage `json:"details"`
	Header     RequestHeader   `json:"header,omitempty"`
}

// Request is a decoded envelope.
type Request struct {
	NodeID     string
	BrowsePath []string
	IndexRange NumericRange
	Details    Details
	Header     RequestHeader
}

// Codec converts between raw payloads and typed details using a Catalog.
type Codec struct {
	catalog *Catalog
}

func NewCodec(catalog *Catalog) *Codec {
	return &Codec{catalog: catalog}
}

func (c *Codec) Catalog() *Catalog {
	return c.catalog
}

// Decode validates raw against the schema registered for tag and returns the
// typed details. Members no schema names land in the Extra bag of the object
// that carries them, at any depth.
func (c *Codec) Decode(raw []byte, tag Tag) (Details, error) {
	e, ok := c.catalog.lookup(tag)
	if !ok {
		return nil, types.Errorf(types.KindUnknownVariant, "decode", "unknown details variant %q", tag)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "decode", err)
	}
	if _, isObject := doc.(map[string]any); !isObject {
		return nil, types.Errorf(types.KindMalformedPayload, "decode", "%s details must be a JSON object", tag)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, types.Errorf(types.KindMalformedPayload, "decode", "%s: %v", tag, err)
	}

	known, extra, err := e.known.split(raw)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "decode", err)
	}
	d := e.newFn()
	if err := json.Unmarshal(known, d); err != nil {
		return nil, types.Errorf(types.KindMalformedPayload, "decode", "%s: %v", tag, err)
	}
	d.setExtensions(extra)
	return d, nil
}

// Encode renders d as a JSON object, merging its extensions back in. The output
// is checked against the variant schema, so Encode never emits what Decode rejects.
func (c *Codec) Encode(d Details) ([]byte, error) {
	if d == nil {
		return nil, types.Errorf(types.KindMalformedPayload, "encode", "details are nil")
	}
	e, ok := c.catalog.lookup(d.Tag())
	if !ok {
		return nil, types.Errorf(types.KindUnknownVariant, "encode", "unknown details variant %q", d.Tag())
	}

	b, err := json.Marshal(d)
	if err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "encode", err)
	}
	b, err = e.known.merge(b, d.Extensions())
	if err != nil {
		return nil, types.Errorf(types.KindMalformedPayload, "encode", "invalid extension member: %v", err)
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, types.NewError(types.KindMalformedPayload, "encode", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, types.Errorf(types.KindMalformedPayload, "encode", "%s: %v", d.Tag(), err)
	}
	return b, nil
}

// DecodeEnvelope validates the addressing part of env and decodes its details.
func (c *Codec) DecodeEnvelope(env Envelope, tag Tag) (*Request, error) {
	if strings.TrimSpace(env.NodeID) == "" {
		return nil, types.Errorf(types.KindMalformedPayload, "decode envelope", "nodeId is required")
	}
	for i, segment := range env.BrowsePath {
		if segment == "" {
			return nil, types.Errorf(types.KindMalformedPayload, "decode envelope", "browsePath[%d] is empty", i)
		}
	}
	indexRange, err := ParseIndexRange(env.IndexRange)
	if err != nil {
		return nil, err
	}
	if len(env.Details) == 0 {
		return nil, types.Errorf(types.KindMalformedPayload, "decode envelope", "details are required")
	}
	details, err := c.Decode(env.Details, tag)
	if err != nil {
		return nil, err
	}

	return &Request{
		NodeID:     env.NodeID,
		BrowsePath: env.BrowsePath,
		IndexRange: indexRange,
		Details:    details,
		Header:     env.Header,
	}, nil
}

// EncodeEnvelope is the inverse of DecodeEnvelope.
func (c *Codec) EncodeEnvelope(req *Request) (Envelope, error) {
	details, err := c.Encode(req.Details)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		NodeID:     req.NodeID,
		BrowsePath: req.BrowsePath,
		IndexRange: req.IndexRange.String(),
		Details:    details,
		Header:     req.Header,
	}, nil
}
