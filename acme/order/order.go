// Package order drives the certificate-issuance state machine RFC 8555
// section 7.4 describes: newOrder, authorization polling, challenge
// selection and proof publication, validation triggering, order polling,
// finalization, and certificate download.
package order

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/account"
	"github.com/thebitrock/acme-love/acme/alog"
	"github.com/thebitrock/acme-love/acme/client"
	"github.com/thebitrock/acme-love/acme/csr"
	"github.com/thebitrock/acme-love/acme/keys"
	"github.com/thebitrock/acme-love/acme/validate"
)

// ChallengeInfo is what a ChallengeSolver is given to publish proof.
type ChallengeInfo struct {
	Domain     string
	Type       string
	Token      string
	KeyAuth    string
	DNS01Value string
}

// ChallengeSolver publishes the proof for one challenge (e.g. writing a
// file for http-01, creating a TXT record for dns-01) and returns once the
// proof is externally visible.
type ChallengeSolver func(ctx context.Context, info ChallengeInfo) error

// ChallengePicker selects which offered challenge to attempt for an
// authorization. The default, Default, requires dns-01 for wildcard names
// and prefers http-01 otherwise.
type ChallengePicker func(authz acme.Authorization) (acme.Challenge, error)

// Default picks dns-01 for a wildcard authorization (the only challenge
// type RFC 8555 section 8.1 permits there), returning a
// ChallengeNotSupportedError if it is not offered. For any other
// authorization it picks http-01, falling back to the first offered
// challenge.
func Default(authz acme.Authorization) (acme.Challenge, error) {
	if authz.Wildcard {
		if c, ok := authz.ChallengeByType(acme.ChallengeDNS01); ok {
			return c, nil
		}
		return acme.Challenge{}, &acme.ChallengeNotSupportedError{
			Identifier: authz.Identifier.Value,
			Type:       acme.ChallengeDNS01,
			Reason:     "wildcard authorization did not offer dns-01",
		}
	}
	if c, ok := authz.ChallengeByType(acme.ChallengeHTTP01); ok {
		return c, nil
	}
	if len(authz.Challenges) > 0 {
		return authz.Challenges[0], nil
	}
	return acme.Challenge{}, &acme.ChallengeNotSupportedError{
		Identifier: authz.Identifier.Value,
		Reason:     "authorization offered no challenges",
	}
}

// PollConfig tunes the authorization/order polling loops.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollConfig returns the acme-love defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    time.Duration(acme.DefaultOrderPollIntervalMs) * time.Millisecond,
		MaxAttempts: acme.DefaultOrderPollMaxAttempts,
	}
}

// Request describes one certificate to obtain.
type Request struct {
	Identifiers []string
	// KeyAlgorithm generates a fresh CSR key if Key is nil.
	KeyAlgorithm keys.Algorithm
	// Key, if set, signs the CSR instead of a freshly generated key.
	Key crypto.Signer

	Picker ChallengePicker
	Solver ChallengeSolver

	// DisableSelfCheck skips the client-side validator that otherwise runs
	// before triggering server-side validation. The self-check runs by
	// default; a failure is logged but never fatal either way.
	DisableSelfCheck bool
	HTTP01           validate.HTTP01Config
	DNSResolver      validate.Resolver

	Poll PollConfig
}

// Result is the outcome of a successful issuance.
type Result struct {
	OrderURL       string
	CertificatePEM string
	CertificateKey crypto.Signer
}

// Engine drives issuance for one account session.
type Engine struct {
	client  *client.Client
	session *account.Session
	log     alog.Logger
}

// New builds an Engine bound to a registered account session.
func New(c *client.Client, session *account.Session) *Engine {
	return &Engine{client: c, session: session, log: alog.For("order")}
}

func (e *Engine) signer() client.Signer {
	return client.Signer{KeyID: e.session.Account.KeyID, Key: e.session.Account.Signer}
}

// IssueCertificate drives the full pipeline: newOrder, authorize, solve,
// finalize, download. It honors ctx cancellation at every suspension
// point (network call, poll interval, solver invocation); on
// cancellation it stops promptly and issues no further requests, leaving
// any unused nonces in the pool.
func (e *Engine) IssueCertificate(ctx context.Context, req Request) (*Result, error) {
	if req.Picker == nil {
		req.Picker = Default
	}
	if req.Poll == (PollConfig{}) {
		req.Poll = DefaultPollConfig()
	}
	if req.HTTP01 == (validate.HTTP01Config{}) {
		req.HTTP01 = validate.DefaultHTTP01Config()
	}

	orderURL, ord, err := e.newOrder(ctx, req.Identifiers)
	if err != nil {
		return nil, err
	}

	if ord.Status != acme.OrderPending && ord.Status != acme.OrderReady {
		return nil, fmt.Errorf("order: unexpected initial status %q", ord.Status)
	}

	if ord.Status == acme.OrderPending {
		for _, authzURL := range ord.Authorizations {
			if err := ctx.Err(); err != nil {
				return nil, &acme.CancellationError{Cause: err}
			}
			authz, err := e.fetchAuthorization(ctx, authzURL)
			if err != nil {
				return nil, err
			}
			if authz.Status == acme.AuthzValid {
				continue
			}
			if err := e.authorize(ctx, authz, req); err != nil {
				return nil, err
			}
		}
	}

	ord, err = e.pollOrder(ctx, orderURL, req.Poll)
	if err != nil {
		return nil, err
	}
	if ord.Status != acme.OrderReady && ord.Status != acme.OrderValid {
		return nil, fmt.Errorf("order: did not reach ready status, got %q", ord.Status)
	}

	certKey := req.Key
	if ord.Status == acme.OrderReady {
		der, key, err := csr.Build(req.Identifiers, req.KeyAlgorithm, req.Key)
		if err != nil {
			return nil, err
		}
		certKey = key
		if err := e.finalize(ctx, ord.Finalize, der); err != nil {
			return nil, err
		}
		ord, err = e.pollOrder(ctx, orderURL, req.Poll)
		if err != nil {
			return nil, err
		}
	}

	if ord.Status != acme.OrderValid {
		return nil, fmt.Errorf("order: finalize did not reach valid status, got %q", ord.Status)
	}

	certPEM, err := e.downloadCertificate(ctx, ord.Certificate)
	if err != nil {
		return nil, err
	}

	return &Result{OrderURL: orderURL, CertificatePEM: certPEM, CertificateKey: certKey}, nil
}

func (e *Engine) newOrder(ctx context.Context, identifiers []string) (string, acme.Order, error) {
	newOrderURL, err := e.client.Endpoint(ctx, acme.EndpointNewOrder)
	if err != nil {
		return "", acme.Order{}, err
	}

	idents := make([]acme.Identifier, len(identifiers))
	for i, name := range identifiers {
		idents[i] = acme.DNSIdentifier(name)
	}
	body := struct {
		Identifiers []acme.Identifier `json:"identifiers"`
	}{Identifiers: idents}

	resp, err := e.client.Post(ctx, newOrderURL, body, e.signer())
	if err != nil {
		return "", acme.Order{}, err
	}
	loc, ok := resp.Location()
	if !ok {
		return "", acme.Order{}, fmt.Errorf("order: newOrder response had no Location header")
	}

	var ord acme.Order
	if err := resp.DecodeJSON(&ord); err != nil {
		return "", acme.Order{}, err
	}
	ord.URL = loc
	return loc, ord, nil
}

func (e *Engine) fetchAuthorization(ctx context.Context, url string) (acme.Authorization, error) {
	resp, err := e.client.PostAsGet(ctx, url, e.signer())
	if err != nil {
		return acme.Authorization{}, err
	}
	var authz acme.Authorization
	if err := resp.DecodeJSON(&authz); err != nil {
		return acme.Authorization{}, err
	}
	authz.URL = url
	return authz, nil
}

// authorize runs steps 3-6 of the pipeline for one authorization: pick a
// challenge, publish proof, optionally self-check, trigger validation,
// and poll until the authorization reaches a terminal status.
func (e *Engine) authorize(ctx context.Context, authz acme.Authorization, req Request) error {
	chall, err := req.Picker(authz)
	if err != nil {
		return err
	}

	keyAuth := keys.KeyAuth(e.session.Account.Signer, chall.Token)

	info := ChallengeInfo{
		Domain:  authz.Identifier.Value,
		Type:    chall.Type,
		Token:   chall.Token,
		KeyAuth: keyAuth,
	}
	if chall.Type == acme.ChallengeDNS01 {
		info.DNS01Value = keys.DNS01Value(e.session.Account.Signer, chall.Token)
	}

	if req.Solver != nil {
		if err := req.Solver(ctx, info); err != nil {
			return fmt.Errorf("order: challenge solver failed: %w", err)
		}
	}

	if !req.DisableSelfCheck {
		e.selfCheck(ctx, info, req)
	}

	if err := e.triggerValidation(ctx, chall.URL); err != nil {
		return err
	}

	final, err := e.pollAuthorization(ctx, authz.URL, req.Poll)
	if err != nil {
		return err
	}
	if final.Status != acme.AuthzValid {
		if c, ok := final.ChallengeByType(chall.Type); ok && c.Error != nil {
			return acme.NewFromProblem(*c.Error)
		}
		return fmt.Errorf("order: authorization %q ended in status %q", authz.URL, final.Status)
	}
	return nil
}

// selfCheck performs a client-side confirmation that the published
// challenge response is reachable and correct before triggering
// server-side validation. It never fails the pipeline: a failure is a
// warning only.
func (e *Engine) selfCheck(ctx context.Context, info ChallengeInfo, req Request) {
	var err error
	switch info.Type {
	case acme.ChallengeHTTP01:
		err = validate.HTTP01(ctx, info.Domain, info.Token, info.KeyAuth, req.HTTP01)
	case acme.ChallengeDNS01:
		err = validate.DNS01(ctx, req.DNSResolver, info.Domain, info.DNS01Value)
	default:
		return
	}
	if err != nil {
		e.log.Warn().Str("domain", info.Domain).Str("type", info.Type).Err(err).Msg("challenge self-check failed, proceeding anyway")
	}
}

func (e *Engine) triggerValidation(ctx context.Context, challengeURL string) error {
	_, err := e.client.Post(ctx, challengeURL, json.RawMessage("{}"), e.signer())
	return err
}

func (e *Engine) pollAuthorization(ctx context.Context, url string, poll PollConfig) (acme.Authorization, error) {
	var lastStatus string
	for attempt := 1; attempt <= poll.MaxAttempts; attempt++ {
		authz, err := e.fetchAuthorization(ctx, url)
		if err != nil {
			return acme.Authorization{}, err
		}
		lastStatus = authz.Status
		if isTerminalAuthzStatus(authz.Status) {
			return authz, nil
		}
		if err := sleepCtx(ctx, poll.Interval); err != nil {
			return acme.Authorization{}, err
		}
	}
	return acme.Authorization{}, &acme.PollTimeoutError{Resource: "authorization", URL: url, LastStatus: lastStatus, Attempts: poll.MaxAttempts}
}

func isTerminalAuthzStatus(status string) bool {
	switch status {
	case acme.AuthzValid, acme.AuthzInvalid, acme.AuthzExpired, acme.AuthzDeactivated, acme.AuthzRevoked:
		return true
	}
	return false
}

func (e *Engine) finalize(ctx context.Context, finalizeURL string, der []byte) error {
	body := struct {
		CSR string `json:"csr"`
	}{CSR: csr.Base64URL(der)}
	_, err := e.client.Post(ctx, finalizeURL, body, e.signer())
	return err
}

func (e *Engine) pollOrder(ctx context.Context, url string, poll PollConfig) (acme.Order, error) {
	var lastStatus string
	for attempt := 1; attempt <= poll.MaxAttempts; attempt++ {
		resp, err := e.client.PostAsGet(ctx, url, e.signer())
		if err != nil {
			return acme.Order{}, err
		}
		var ord acme.Order
		if err := resp.DecodeJSON(&ord); err != nil {
			return acme.Order{}, err
		}
		ord.URL = url
		lastStatus = ord.Status
		if ord.Status != acme.OrderPending && ord.Status != acme.OrderProcessing {
			return ord, nil
		}
		if err := sleepCtx(ctx, poll.Interval); err != nil {
			return acme.Order{}, err
		}
	}
	return acme.Order{}, &acme.PollTimeoutError{Resource: "order", URL: url, LastStatus: lastStatus, Attempts: poll.MaxAttempts}
}

func (e *Engine) downloadCertificate(ctx context.Context, certURL string) (string, error) {
	resp, err := e.client.PostAsGet(ctx, certURL, e.signer())
	if err != nil {
		return "", err
	}
	ct := resp.Header.Get(acme.HeaderContentType)
	if !strings.HasPrefix(ct, acme.ContentTypePEMCertChain) {
		return "", fmt.Errorf("order: certificate download returned unexpected content type %q", ct)
	}
	return string(resp.Body), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &acme.CancellationError{Cause: ctx.Err()}
	}
}
