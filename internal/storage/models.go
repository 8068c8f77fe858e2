package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
)

const endpointColumns = `id, url, alternative_urls, credential, security_mode, security_policy,
	certificate, state, activated, connected, discoverer_id, application_id,
	supervisor_id, site_or_gateway_id, not_seen_since`

// endpointRow mirrors one row of the endpoints table.
type endpointRow struct {
	ID              string
	URL             string
	AlternativeURLs []string
	Credential      []byte // JSONB
	SecurityMode    string
	SecurityPolicy  string
	Certificate     []byte
	State           string
	Activated       bool
	Connected       bool
	DiscovererID    string
	ApplicationID   string
	SupervisorID    string
	SiteOrGatewayID string
	NotSeenSince    *time.Time
}

func (r *endpointRow) scanTargets() []any {
	return []any{
		&r.ID, &r.URL, &r.AlternativeURLs, &r.Credential, &r.SecurityMode, &r.SecurityPolicy,
		&r.Certificate, &r.State, &r.Activated, &r.Connected, &r.DiscovererID, &r.ApplicationID,
		&r.SupervisorID, &r.SiteOrGatewayID, &r.NotSeenSince,
	}
}

// toRecord converts a row, rejecting enum values this build does not know.
func (r *endpointRow) toRecord() (types.EndpointRecord, error) {
	mode, err := types.ParseSecurityMode(r.SecurityMode)
	if err != nil {
		return types.EndpointRecord{}, fmt.Errorf("endpoint %s: %w", r.ID, err)
	}
	state, err := types.ParseEndpointState(r.State)
	if err != nil {
		return types.EndpointRecord{}, fmt.Errorf("endpoint %s: %w", r.ID, err)
	}

	rec := types.EndpointRecord{
		ID: r.ID,
		SecurityDescriptor: types.SecurityDescriptor{
			URL:             r.URL,
			AlternativeURLs: r.AlternativeURLs,
			SecurityMode:    mode,
			SecurityPolicy:  r.SecurityPolicy,
			Certificate:     r.Certificate,
		},
		State:           state,
		Activated:       r.Activated,
		Connected:       r.Connected,
		DiscovererID:    r.DiscovererID,
		ApplicationID:   r.ApplicationID,
		SupervisorID:    r.SupervisorID,
		SiteOrGatewayID: r.SiteOrGatewayID,
	}
	if len(rec.AlternativeURLs) == 0 {
		rec.AlternativeURLs = nil
	}
	if len(r.Credential) > 0 {
		var cred types.Credential
		if err := json.Unmarshal(r.Credential, &cred); err != nil {
			return types.EndpointRecord{}, fmt.Errorf("failed to unmarshal credential of %s: %w", r.ID, err)
		}
		rec.Credential = &cred
	}
	if r.NotSeenSince != nil {
		ts := r.NotSeenSince.UTC()
		rec.NotSeenSince = &ts
	}
	return rec, nil
}

func rowFromRecord(rec types.EndpointRecord) (endpointRow, error) {
	row := endpointRow{
		ID:              rec.ID,
		URL:             rec.URL,
		AlternativeURLs: rec.AlternativeURLs,
		SecurityMode:    string(rec.SecurityMode),
		SecurityPolicy:  rec.SecurityPolicy,
		Certificate:     rec.Certificate,
		State:           string(rec.State),
		Activated:       rec.Activated,
		Connected:       rec.Connected,
		DiscovererID:    rec.DiscovererID,
		ApplicationID:   rec.ApplicationID,
		SupervisorID:    rec.SupervisorID,
		SiteOrGatewayID: rec.SiteOrGatewayID,
		NotSeenSince:    rec.NotSeenSince,
	}
	if row.AlternativeURLs == nil {
		row.AlternativeURLs = []string{}
	}
	if rec.Credential != nil {
		b, err := json.Marshal(rec.Credential)
		if err != nil {
			return endpointRow{}, fmt.Errorf("failed to marshal credential: %w", err)
		}
		row.Credential = b
	}
	return row, nil
}
