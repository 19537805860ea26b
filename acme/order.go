package acme

// Order represents a request to issue a certificate for a set of
// identifiers. See RFC 8555 section 7.1.3.
//
// Invariant: Status == OrderValid implies Certificate is non-empty.
// Invariant: Status == OrderReady implies every authorization it
// references has Status == AuthzValid.
type Order struct {
	// URL is the order's own resource URL, populated from the Location
	// header of the newOrder response. Not part of the wire JSON.
	URL string `json:"-"`

	Status         string       `json:"status"`
	Identifiers    []Identifier `json:"identifiers"`
	NotBefore      string       `json:"notBefore,omitempty"`
	NotAfter       string       `json:"notAfter,omitempty"`
	Expires        string       `json:"expires,omitempty"`
	Error          *Problem     `json:"error,omitempty"`
	Authorizations []string     `json:"authorizations"`
	Finalize       string       `json:"finalize"`
	Certificate    string       `json:"certificate,omitempty"`
}

// Done reports whether the order has reached a terminal status.
func (o Order) Done() bool {
	return o.Status == OrderValid || o.Status == OrderInvalid
}
