package types

import (
	"encoding/json"
	"fmt"
)

type SecurityMode string

const (
	SecurityModeBest           SecurityMode = "Best"
	SecurityModeSign           SecurityMode = "Sign"
	SecurityModeSignAndEncrypt SecurityMode = "SignAndEncrypt"
	SecurityModeNone           SecurityMode = "None"
)

// ParseSecurityMode accepts only the closed set of modes.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch m := SecurityMode(s); m {
	case SecurityModeBest, SecurityModeSign, SecurityModeSignAndEncrypt, SecurityModeNone:
		return m, nil
	default:
		return "", Errorf(KindMalformedPayload, "parse security mode", "unknown security mode %q", s)
	}
}

func (m SecurityMode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

func (m *SecurityMode) UnmarshalText(b []byte) error {
	parsed, err := ParseSecurityMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Credential is carried opaquely; only the transport collaborator interprets it.
type Credential struct {
	Type  string          `json:"type" yaml:"type"`
	Value json.RawMessage `json:"value,omitempty" yaml:"-"`
}

// SecurityDescriptor describes how to reach and secure a single endpoint.
type SecurityDescriptor struct {
	URL             string       `json:"url" yaml:"url"`
	AlternativeURLs []string     `json:"alternativeUrls,omitempty" yaml:"alternative_urls,omitempty"`
	Credential      *Credential  `json:"credential,omitempty" yaml:"credential,omitempty"`
	SecurityMode    SecurityMode `json:"securityMode" yaml:"security_mode"`
	SecurityPolicy  string       `json:"securityPolicy,omitempty" yaml:"security_policy,omitempty"`
	Certificate     []byte       `json:"certificate,omitempty" yaml:"certificate,omitempty"`
}

// Normalize applies the default security mode and drops duplicate alternative urls,
// keeping first occurrences in order.
func (s *SecurityDescriptor) Normalize() {
	if s.SecurityMode == "" {
		s.SecurityMode = SecurityModeBest
	}
	if len(s.AlternativeURLs) == 0 {
		s.AlternativeURLs = nil
		return
	}
	seen := make(map[string]struct{}, len(s.AlternativeURLs))
	unique := s.AlternativeURLs[:0]
	for _, u := range s.AlternativeURLs {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	s.AlternativeURLs = unique
}

func (s *SecurityDescriptor) Validate() error {
	if s.URL == "" {
		return Errorf(KindMalformedPayload, "validate security descriptor", "url is required")
	}
	if _, err := ParseSecurityMode(string(s.SecurityMode)); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(s.AlternativeURLs))
	for _, u := range s.AlternativeURLs {
		if _, dup := seen[u]; dup {
			return Errorf(KindMalformedPayload, "validate security descriptor",
				"duplicate alternative url %q", u)
		}
		seen[u] = struct{}{}
	}
	return nil
}

// HasURL reports whether url is the primary or one of the alternative urls.
func (s *SecurityDescriptor) HasURL(url string) bool {
	if s.URL == url {
		return true
	}
	for _, alt := range s.AlternativeURLs {
		if alt == url {
			return true
		}
	}
	return false
}

func (s SecurityDescriptor) clone() SecurityDescriptor {
	out := s
	if s.AlternativeURLs != nil {
		out.AlternativeURLs = append([]string(nil), s.AlternativeURLs...)
	}
	if s.Certificate != nil {
		out.Certificate = append([]byte(nil), s.Certificate...)
	}
	if s.Credential != nil {
		cred := *s.Credential
		if cred.Value != nil {
			cred.Value = append(json.RawMessage(nil), cred.Value...)
		}
		out.Credential = &cred
	}
	return out
}

func (s SecurityDescriptor) String() string {
	return fmt.Sprintf("%s (%s)", s.URL, s.SecurityMode)
}
