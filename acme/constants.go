package acme

// Directory entry names, as specified by RFC 8555 section 7.1.1.
const (
	EndpointNewNonce   = "newNonce"
	EndpointNewAccount = "newAccount"
	EndpointNewOrder   = "newOrder"
	EndpointNewAuthz   = "newAuthz"
	EndpointRevokeCert = "revokeCert"
	EndpointKeyChange  = "keyChange"
)

// Header names the client reads or writes on every request/response.
const (
	HeaderReplayNonce = "Replay-Nonce"
	HeaderRetryAfter  = "Retry-After"
	HeaderLocation    = "Location"
	HeaderContentType = "Content-Type"
)

// Content types the transport understands when decoding response bodies.
const (
	ContentTypeJSON         = "application/json"
	ContentTypeProblemJSON  = "application/problem+json"
	ContentTypeJOSE         = "application/jose+json"
	ContentTypePEMCertChain = "application/pem-certificate-chain"
)

// Order status values, RFC 8555 section 7.1.6.
const (
	OrderPending    = "pending"
	OrderReady      = "ready"
	OrderProcessing = "processing"
	OrderValid      = "valid"
	OrderInvalid    = "invalid"
)

// Authorization status values, RFC 8555 section 7.1.6.
const (
	AuthzPending     = "pending"
	AuthzValid       = "valid"
	AuthzInvalid     = "invalid"
	AuthzDeactivated = "deactivated"
	AuthzExpired     = "expired"
	AuthzRevoked     = "revoked"
)

// Challenge status values, RFC 8555 section 7.1.6.
const (
	ChallengePending    = "pending"
	ChallengeProcessing = "processing"
	ChallengeValid      = "valid"
	ChallengeInvalid    = "invalid"
)

// Challenge type names, RFC 8555 section 8.
const (
	ChallengeHTTP01    = "http-01"
	ChallengeDNS01     = "dns-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// IdentifierDNS is the only identifier type ACME servers commonly support.
const IdentifierDNS = "dns"

// ErrorURNPrefix is the RFC 8555 section 6.7 namespace for problem type URNs.
const ErrorURNPrefix = "urn:ietf:params:acme:error:"

// Default tuning values for the nonce pool, rate limiter, order polling
// and HTTP-01 self-check.
const (
	DefaultNonceMaxAgeMs         = 120_000
	DefaultNonceMaxPoolSize      = 32
	DefaultNoncePrefetchLowWater = 5
	DefaultNoncePrefetchHigh     = 10
	DefaultNonceWaiterTimeoutMs  = 30_000

	DefaultRateLimitMaxRetries = 3
	DefaultRateLimitBaseDelay  = 1_000
	DefaultRateLimitMaxDelay   = 300_000

	DefaultOrderPollIntervalMs  = 5_000
	DefaultOrderPollMaxAttempts = 60

	DefaultHTTP01Timeout      = 4_000
	DefaultHTTP01MaxRedirects = 3
)
