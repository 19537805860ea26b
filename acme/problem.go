package acme

import "strings"

// Problem is the RFC 7807 problem document an ACME server returns for
// non-2xx responses, extended with the ACME-specific subproblems,
// algorithms and retryAfter members (RFC 8555 section 6.7).
type Problem struct {
	Type        string    `json:"type,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Status      int       `json:"status,omitempty"`
	Instance    string    `json:"instance,omitempty"`
	Subproblems []Problem `json:"subproblems,omitempty"`
	Algorithms  []string  `json:"algorithms,omitempty"`
	RetryAfter  string    `json:"retryAfter,omitempty"`
}

// errorType strips the urn:ietf:params:acme:error: prefix, returning the
// bare type name ("badNonce", "rateLimited", ...) used to key the error
// factory table.
func (p Problem) errorType() string {
	return strings.TrimPrefix(p.Type, ErrorURNPrefix)
}
