package types

import (
	"bytes"
	"time"
)

type EndpointState string

const (
	EndpointStateConnecting         EndpointState = "Connecting"
	EndpointStateNotReachable       EndpointState = "NotReachable"
	EndpointStateBusy               EndpointState = "Busy"
	EndpointStateNoTrust            EndpointState = "NoTrust"
	EndpointStateCertificateInvalid EndpointState = "CertificateInvalid"
	EndpointStateReady              EndpointState = "Ready"
	EndpointStateError              EndpointState = "Error"
)

func ParseEndpointState(s string) (EndpointState, error) {
	switch st := EndpointState(s); st {
	case EndpointStateConnecting, EndpointStateNotReachable, EndpointStateBusy,
		EndpointStateNoTrust, EndpointStateCertificateInvalid, EndpointStateReady,
		EndpointStateError:
		return st, nil
	default:
		return "", Errorf(KindMalformedPayload, "parse endpoint state", "unknown endpoint state %q", s)
	}
}

func (s EndpointState) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *EndpointState) UnmarshalText(b []byte) error {
	parsed, err := ParseEndpointState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EndpointRecord is a registered endpoint. A non-nil NotSeenSince marks it soft-deleted.
type EndpointRecord struct {
	ID                 string `json:"id" yaml:"id"`
	SecurityDescriptor `yaml:",inline"`

	State     EndpointState `json:"state" yaml:"state"`
	Activated bool          `json:"activated" yaml:"activated"`
	Connected bool          `json:"connected" yaml:"connected"`

	DiscovererID    string `json:"discovererId,omitempty" yaml:"discoverer_id,omitempty"`
	ApplicationID   string `json:"applicationId,omitempty" yaml:"application_id,omitempty"`
	SupervisorID    string `json:"supervisorId,omitempty" yaml:"supervisor_id,omitempty"`
	SiteOrGatewayID string `json:"siteOrGatewayId,omitempty" yaml:"site_or_gateway_id,omitempty"`

	NotSeenSince *time.Time `json:"notSeenSince,omitempty" yaml:"not_seen_since,omitempty"`
}

// Clone returns a deep copy that shares no memory with r.
func (r EndpointRecord) Clone() EndpointRecord {
	out := r
	out.SecurityDescriptor = r.SecurityDescriptor.clone()
	if r.NotSeenSince != nil {
		t := *r.NotSeenSince
		out.NotSeenSince = &t
	}
	return out
}

func (r *EndpointRecord) IsSoftDeleted() bool {
	return r.NotSeenSince != nil
}

func (r *EndpointRecord) Validate() error {
	if r.ID == "" {
		return Errorf(KindMalformedPayload, "validate endpoint", "id is required")
	}
	if _, err := ParseEndpointState(string(r.State)); err != nil {
		return err
	}
	return r.SecurityDescriptor.Validate()
}

// QueryFilter holds optional equality predicates. A nil field matches everything.
type QueryFilter struct {
	EndpointID          *string        `json:"endpointId,omitempty"`
	URL                 *string        `json:"url,omitempty"`
	Certificate         []byte         `json:"certificate,omitempty"`
	SecurityMode        *SecurityMode  `json:"securityMode,omitempty"`
	SecurityPolicy      *string        `json:"securityPolicy,omitempty"`
	Activated           *bool          `json:"activated,omitempty"`
	Connected           *bool          `json:"connected,omitempty"`
	State               *EndpointState `json:"state,omitempty"`
	IncludeNotSeenSince bool           `json:"includeNotSeenSince,omitempty"`
	DiscovererID        *string        `json:"discovererId,omitempty"`
	ApplicationID       *string        `json:"applicationId,omitempty"`
	SupervisorID        *string        `json:"supervisorId,omitempty"`
	SiteOrGatewayID     *string        `json:"siteOrGatewayId,omitempty"`
}

// Matches reports whether r satisfies every set predicate of f.
func (f QueryFilter) Matches(r *EndpointRecord) bool {
	if r.IsSoftDeleted() && !f.IncludeNotSeenSince {
		return false
	}
	if f.EndpointID != nil && *f.EndpointID != r.ID {
		return false
	}
	if f.URL != nil && !r.HasURL(*f.URL) {
		return false
	}
	if f.Certificate != nil && !bytes.Equal(f.Certificate, r.Certificate) {
		return false
	}
	if f.SecurityMode != nil && *f.SecurityMode != r.SecurityMode {
		return false
	}
	if f.SecurityPolicy != nil && *f.SecurityPolicy != r.SecurityPolicy {
		return false
	}
	if f.Activated != nil && *f.Activated != r.Activated {
		return false
	}
	if f.Connected != nil && *f.Connected != r.Connected {
		return false
	}
	if f.State != nil && *f.State != r.State {
		return false
	}
	if f.DiscovererID != nil && *f.DiscovererID != r.DiscovererID {
		return false
	}
	if f.ApplicationID != nil && *f.ApplicationID != r.ApplicationID {
		return false
	}
	if f.SupervisorID != nil && *f.SupervisorID != r.SupervisorID {
		return false
	}
	if f.SiteOrGatewayID != nil && *f.SiteOrGatewayID != r.SiteOrGatewayID {
		return false
	}
	return true
}
