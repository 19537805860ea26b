package acme

import (
	"strconv"
	"strings"
	"time"
)

// knownErrorTypes lists the urn:ietf:params:acme:error: suffixes the
// factory recognizes. Anything outside this set is still wrapped in an
// *AcmeError (Kind holds whatever the server sent), it just isn't given a
// dedicated Go type.
var knownErrorTypes = map[string]bool{
	"accountDoesNotExist":     true,
	"alreadyRevoked":          true,
	"badCSR":                  true,
	"badNonce":                true,
	"badPublicKey":            true,
	"badRevocationReason":     true,
	"badSignatureAlgorithm":   true,
	"caa":                     true,
	"compound":                true,
	"connection":              true,
	"dns":                     true,
	"externalAccountRequired": true,
	"incorrectResponse":       true,
	"invalidContact":          true,
	"malformed":               true,
	"orderNotReady":           true,
	"rateLimited":             true,
	"rejectedIdentifier":      true,
	"serverInternal":          true,
	"tls":                     true,
	"unauthorized":            true,
	"unsupportedContact":      true,
	"unsupportedIdentifier":   true,
	"userActionRequired":      true,
}

// maintenancePhrases are recognized (case-insensitively) in a
// serverInternal problem's detail as a maintenance signal. Status-page
// hostnames in the detail are not recognized.
var maintenancePhrases = []string{"maintenance", "service is down"}

// NewFromProblem maps a decoded RFC 7807 problem document to a typed ACME
// error, recursing into subproblems. It handles the serverInternal/
// maintenance heuristic, badSignatureAlgorithm's algorithm list,
// rateLimited's default status and retryAfter, userActionRequired's
// instance, and the CompoundError fallback for an unrecognized/empty type
// carrying subproblems.
func NewFromProblem(p Problem) error {
	kind := p.errorType()

	base := &AcmeError{
		Kind:     kind,
		Detail:   p.Detail,
		Status:   p.Status,
		Instance: p.Instance,
	}
	for _, sub := range p.Subproblems {
		base.Subproblems = append(base.Subproblems, asAcmeError(NewFromProblem(sub)))
	}

	switch {
	case kind == "serverInternal" && isMaintenance(p):
		return &ServerMaintenanceError{AcmeError: base}

	case kind == "badSignatureAlgorithm":
		return &BadSignatureAlgorithmError{AcmeError: base, Algorithms: p.Algorithms}

	case kind == "rateLimited":
		if base.Status == 0 {
			base.Status = 429
		}
		out := &RateLimitedError{AcmeError: base}
		if p.RetryAfter != "" {
			if secs, err := strconv.Atoi(p.RetryAfter); err == nil {
				out.RetryAfter = time.Duration(secs) * time.Second
				out.HasRetryAfter = true
			}
		}
		return out

	case kind == "userActionRequired":
		if base.Status == 0 {
			base.Status = 403
		}
		return &UserActionRequiredError{AcmeError: base}

	case kind == "compound":
		return &CompoundError{AcmeError: base}

	case (kind == "" || !knownErrorTypes[kind]) && len(p.Subproblems) > 0 && p.Detail == "Errors during validation":
		// Fallback: missing/unknown type with subproblems and this exact
		// detail text is treated as a compound error even though the
		// server didn't send type "compound".
		if kind == "" {
			base.Kind = "compound"
		}
		return &CompoundError{AcmeError: base}

	case kind == "" && len(p.Subproblems) == 0 && p.Status == 503:
		return &ServerMaintenanceError{AcmeError: base}
	}

	return base
}

func isMaintenance(p Problem) bool {
	if p.Status == 503 && p.Detail == "" {
		return true
	}
	detail := strings.ToLower(p.Detail)
	for _, phrase := range maintenancePhrases {
		if strings.Contains(detail, phrase) {
			return true
		}
	}
	return false
}

func asAcmeError(err error) *AcmeError {
	switch e := err.(type) {
	case *AcmeError:
		return e
	case *CompoundError:
		return e.AcmeError
	case *ServerMaintenanceError:
		return e.AcmeError
	case *BadSignatureAlgorithmError:
		return e.AcmeError
	case *RateLimitedError:
		return e.AcmeError
	case *UserActionRequiredError:
		return e.AcmeError
	default:
		return &AcmeError{Kind: "unknown", Detail: err.Error()}
	}
}

