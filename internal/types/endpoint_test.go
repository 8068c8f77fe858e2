package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func sampleRecord() EndpointRecord {
	return EndpointRecord{
		ID: "e1",
		SecurityDescriptor: SecurityDescriptor{
			URL:             "opc.tcp://a",
			AlternativeURLs: []string{"opc.tcp://a-alt"},
			SecurityMode:    SecurityModeSign,
			SecurityPolicy:  "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
			Certificate:     []byte{0x01, 0x02},
		},
		State:           EndpointStateReady,
		Activated:       true,
		Connected:       true,
		DiscovererID:    "disc-1",
		ApplicationID:   "app-1",
		SupervisorID:    "sup-1",
		SiteOrGatewayID: "site-1",
	}
}

func TestQueryFilter_Matches(t *testing.T) {
	rec := sampleRecord()

	tests := []struct {
		name   string
		filter QueryFilter
		want   bool
	}{
		{"empty filter is wildcard", QueryFilter{}, true},
		{"primary url", QueryFilter{URL: ptr("opc.tcp://a")}, true},
		{"alternative url", QueryFilter{URL: ptr("opc.tcp://a-alt")}, true},
		{"url is case sensitive", QueryFilter{URL: ptr("OPC.TCP://A")}, false},
		{"security mode match", QueryFilter{SecurityMode: ptr(SecurityModeSign)}, true},
		{"security mode mismatch", QueryFilter{SecurityMode: ptr(SecurityModeNone)}, false},
		{"certificate match", QueryFilter{Certificate: []byte{0x01, 0x02}}, true},
		{"certificate mismatch", QueryFilter{Certificate: []byte{0x01}}, false},
		{"state", QueryFilter{State: ptr(EndpointStateReady)}, true},
		{"activated false", QueryFilter{Activated: ptr(false)}, false},
		{"connected", QueryFilter{Connected: ptr(true)}, true},
		{"ownership tags", QueryFilter{
			DiscovererID:    ptr("disc-1"),
			ApplicationID:   ptr("app-1"),
			SupervisorID:    ptr("sup-1"),
			SiteOrGatewayID: ptr("site-1"),
		}, true},
		{"one tag off", QueryFilter{ApplicationID: ptr("app-1"), SupervisorID: ptr("sup-2")}, false},
		{"endpoint id", QueryFilter{EndpointID: ptr("e1")}, true},
		{"policy mismatch", QueryFilter{SecurityPolicy: ptr("None")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(&rec))
		})
	}

	noCert := sampleRecord()
	noCert.Certificate = nil
	assert.True(t, QueryFilter{Certificate: []byte{}}.Matches(&noCert), "empty certificate filter matches a record without one")
}

func TestQueryFilter_SoftDeletedExcludedByDefault(t *testing.T) {
	rec := sampleRecord()
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec.NotSeenSince = &seen

	assert.False(t, QueryFilter{}.Matches(&rec))
	assert.False(t, QueryFilter{URL: ptr("opc.tcp://a")}.Matches(&rec))
	assert.True(t, QueryFilter{IncludeNotSeenSince: true}.Matches(&rec))
}

func TestEnums_RejectUnknownValues(t *testing.T) {
	var mode SecurityMode
	err := json.Unmarshal([]byte(`"Encrypt"`), &mode)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))

	var state EndpointState
	err = json.Unmarshal([]byte(`"Sleeping"`), &state)
	require.Error(t, err)
	assert.Equal(t, KindMalformedPayload, KindOf(err))

	require.NoError(t, json.Unmarshal([]byte(`"SignAndEncrypt"`), &mode))
	assert.Equal(t, SecurityModeSignAndEncrypt, mode)
}

func TestSecurityDescriptor_NormalizeAndValidate(t *testing.T) {
	sd := SecurityDescriptor{
		URL:             "opc.tcp://a",
		AlternativeURLs: []string{"opc.tcp://b", "opc.tcp://c", "opc.tcp://b"},
	}
	require.Error(t, sd.Validate())

	sd.Normalize()
	assert.Equal(t, SecurityModeBest, sd.SecurityMode)
	assert.Equal(t, []string{"opc.tcp://b", "opc.tcp://c"}, sd.AlternativeURLs)
	assert.NoError(t, sd.Validate())

	assert.Error(t, (&SecurityDescriptor{SecurityMode: SecurityModeNone}).Validate())
}

func TestEndpointRecord_CloneIsDeep(t *testing.T) {
	rec := sampleRecord()
	seen := time.Now().UTC()
	rec.NotSeenSince = &seen
	rec.Credential = &Credential{Type: "UserName", Value: json.RawMessage(`{"user":"x"}`)}

	cp := rec.Clone()
	cp.AlternativeURLs[0] = "changed"
	cp.Certificate[0] = 0xff
	cp.Credential.Value[2] = 'X'
	*cp.NotSeenSince = seen.Add(time.Hour)

	assert.Equal(t, "opc.tcp://a-alt", rec.AlternativeURLs[0])
	assert.Equal(t, byte(0x01), rec.Certificate[0])
	assert.Equal(t, `{"user":"x"}`, string(rec.Credential.Value))
	assert.Equal(t, seen, *rec.NotSeenSince)
}

func TestError_KindsAndWrapping(t *testing.T) {
	base := NewError(KindEndpointNotReady, "execute", fmt.Errorf("state is NotReachable"))
	wrapped := fmt.Errorf("dispatch: %w", base)

	assert.True(t, errors.Is(wrapped, ErrEndpointNotReady))
	assert.False(t, errors.Is(wrapped, ErrEndpointNotFound))
	assert.Equal(t, KindEndpointNotReady, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Contains(t, base.Error(), "EndpointNotReady")
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindEmptyRequest.Retryable())
}
