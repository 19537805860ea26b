package acme

// Authorization represents an account's authorization to request a
// certificate for one identifier. See RFC 8555 section 7.1.4.
//
// Invariant: Status == AuthzValid implies at least one challenge has
// Status == ChallengeValid.
type Authorization struct {
	// URL is the authorization's own resource URL. Not part of the wire JSON.
	URL string `json:"-"`

	Status     string      `json:"status"`
	Identifier Identifier  `json:"identifier"`
	Challenges []Challenge `json:"challenges"`
	Expires    string      `json:"expires,omitempty"`
	Wildcard   bool        `json:"wildcard,omitempty"`
}

// ChallengeByType returns the first challenge of the given type, or false
// if the authorization offers none.
func (a Authorization) ChallengeByType(typ string) (Challenge, bool) {
	for _, c := range a.Challenges {
		if c.Type == typ {
			return c, true
		}
	}
	return Challenge{}, false
}
