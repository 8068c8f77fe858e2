package opcua

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

// Credential types understood when opening a session.
const (
	CredentialAnonymous = "None"
	CredentialUserName  = "UserName"
)

type userNameCredential struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// selectBestEndpoint picks the offered endpoint with the highest security level.
func selectBestEndpoint(endpoints []*ua.EndpointDescription) *ua.EndpointDescription {
	var best *ua.EndpointDescription
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if best == nil || ep.SecurityLevel > best.SecurityLevel {
			best = ep
		}
	}
	return best
}

func securityModeString(mode types.SecurityMode) string {
	switch mode {
	case types.SecurityModeSign:
		return "Sign"
	case types.SecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func authOptions(cred *types.Credential) ([]opcua.Option, ua.UserTokenType, error) {
	if cred == nil || cred.Type == "" || cred.Type == CredentialAnonymous {
		return []opcua.Option{opcua.AuthAnonymous()}, ua.UserTokenTypeAnonymous, nil
	}
	switch cred.Type {
	case CredentialUserName:
		var u userNameCredential
		if err := json.Unmarshal(cred.Value, &u); err != nil {
			return nil, 0, fmt.Errorf("invalid %s credential: %w", cred.Type, err)
		}
		return []opcua.Option{opcua.AuthUsername(u.User, u.Password)}, ua.UserTokenTypeUserName, nil
	default:
		return nil, 0, fmt.Errorf("unsupported credential type %q", cred.Type)
	}
}

// clientOptions builds the gopcua options for a registered endpoint. For mode
// Best the server is asked for its endpoints first.
func (g *Gateway) clientOptions(ctx context.Context, rec types.EndpointRecord) ([]opcua.Option, error) {
	opts := []opcua.Option{
		opcua.ApplicationName(g.cfg.ApplicationName),
		opcua.RequestTimeout(g.cfg.RequestTimeout),
	}
	if g.cfg.ApplicationURI != "" {
		opts = append(opts, opcua.ApplicationURI(g.cfg.ApplicationURI))
	}
	if g.cfg.CertificateFile != "" && g.cfg.PrivateKeyFile != "" {
		opts = append(opts,
			opcua.CertificateFile(g.cfg.CertificateFile),
			opcua.PrivateKeyFile(g.cfg.PrivateKeyFile))
	}

	auth, tokenType, err := authOptions(rec.Credential)
	if err != nil {
		return nil, err
	}
	opts = append(opts, auth...)

	if rec.SecurityMode == types.SecurityModeBest {
		endpoints, err := opcua.GetEndpoints(ctx, rec.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to get endpoints from %s: %w", rec.URL, err)
		}
		ep := selectBestEndpoint(endpoints)
		if ep == nil {
			return nil, fmt.Errorf("server %s offers no endpoints", rec.URL)
		}
		return append(opts, opcua.SecurityFromEndpoint(ep, tokenType)), nil
	}

	policy := rec.SecurityPolicy
	if policy == "" {
		policy = "None"
	}
	opts = append(opts,
		opcua.SecurityModeString(securityModeString(rec.SecurityMode)),
		opcua.SecurityPolicy(policy))
	if len(rec.Certificate) > 0 {
		opts = append(opts, opcua.RemoteCertificate(rec.Certificate))
	}
	return opts, nil
}
