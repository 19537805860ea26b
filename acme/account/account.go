// Package account implements the ACME account lifecycle: registration
// (with optional external account binding), contact updates,
// deactivation, and key rollover (RFC 8555 sections 7.3-7.3.6).
package account

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/client"
	"github.com/thebitrock/acme-love/acme/keys"
	"github.com/thebitrock/acme-love/acme/transport"
)

// Account mirrors the server-side Account resource this session
// authenticates as. KeyID is empty until Register succeeds.
type Account struct {
	KeyID   string
	Contact []string
	Signer  crypto.Signer
	Orders  []string
}

// Session ties an Account to the low-level client used to reach one ACME
// server.
type Session struct {
	client  *client.Client
	Account *Account
}

// New creates a Session for the given Account (not yet registered).
func New(c *client.Client, acct *Account) *Session {
	return &Session{client: c, Account: acct}
}

// RegisterOptions configures a newAccount request.
type RegisterOptions struct {
	Contact                []string
	TermsOfServiceAgreed   bool
	OnlyReturnExisting     bool
	ExternalAccountBinding *ExternalAccountBinding
}

// ExternalAccountBinding carries the CA-issued MAC key used to bind a new
// ACME account to an existing external account, per RFC 8555 section 7.3.4.
type ExternalAccountBinding struct {
	KeyID  string
	MACKey []byte
}

type newAccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// Register creates (or, with OnlyReturnExisting, looks up) the account
// with the ACME server, binding the returned Location header as the
// session's KeyID. Register must not be called concurrently on the same
// Session: it writes Account.KeyID without locking.
func (s *Session) Register(ctx context.Context, opts RegisterOptions) error {
	if s.Account.Signer == nil {
		return fmt.Errorf("account: session has no signer")
	}

	newAccountURL, err := s.client.Endpoint(ctx, acme.EndpointNewAccount)
	if err != nil {
		return err
	}

	req := newAccountRequest{
		Contact:              opts.Contact,
		TermsOfServiceAgreed: opts.TermsOfServiceAgreed,
		OnlyReturnExisting:   opts.OnlyReturnExisting,
	}

	if opts.ExternalAccountBinding != nil {
		eab, err := s.signEAB(newAccountURL, *opts.ExternalAccountBinding)
		if err != nil {
			return fmt.Errorf("account: building external account binding: %w", err)
		}
		req.ExternalAccountBinding = eab
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(ctx, newAccountURL, json.RawMessage(body), client.Signer{
		EmbedKey: true,
		Key:      s.Account.Signer,
	})
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("account: register returned status %d", resp.StatusCode)
	}

	loc, ok := resp.Location()
	if !ok {
		return fmt.Errorf("account: register response had no Location header")
	}
	s.Account.KeyID = loc
	s.Account.Contact = opts.Contact

	return nil
}

// signEAB produces the inner HS256 JWS over the account's public JWK that
// binds the new account to an existing external one, per RFC 8555 section
// 7.3.4: protected header {alg:"HS256", kid, url}, payload = account JWK.
func (s *Session) signEAB(url string, eab ExternalAccountBinding) (json.RawMessage, error) {
	jwk := jose.JSONWebKey{Key: s.Account.Signer.Public()}
	payload, err := json.Marshal(jwk)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       eab.MACKey,
	}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
			"kid": eab.KeyID,
		},
	})
	if err != nil {
		return nil, err
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(signed.FullSerialize()), nil
}

// UpdateContacts replaces the account's contact addresses.
func (s *Session) UpdateContacts(ctx context.Context, contacts []string) error {
	body := struct {
		Contact []string `json:"contact"`
	}{Contact: contacts}

	resp, err := s.signedAccountPost(ctx, body)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("account: update contacts returned status %d", resp.StatusCode)
	}
	s.Account.Contact = contacts
	return nil
}

// Deactivate marks the account status "deactivated", irreversibly.
func (s *Session) Deactivate(ctx context.Context) error {
	body := struct {
		Status string `json:"status"`
	}{Status: "deactivated"}

	resp, err := s.signedAccountPost(ctx, body)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("account: deactivate returned status %d", resp.StatusCode)
	}
	return nil
}

// signedAccountPost signs and POSTs payload to the session's own account
// URL, used by UpdateContacts and Deactivate.
func (s *Session) signedAccountPost(ctx context.Context, payload interface{}) (*transport.Response, error) {
	if s.Account.KeyID == "" {
		return nil, fmt.Errorf("account: session has no KeyID, register first")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return s.client.Post(ctx, s.Account.KeyID, json.RawMessage(body), client.Signer{
		KeyID: s.Account.KeyID,
		Key:   s.Account.Signer,
	})
}

// KeyChange rolls the account over to newKey: an inner JWS signed by
// newKey (embedding its JWK) is wrapped in an outer JWS signed by the
// current key, both bound to the keyChange URL, per RFC 8555 section
// 7.3.5. Unlike the ECDSA-only rollover this is generalized from, newKey
// may be any supported algorithm (REDESIGN FLAG).
func (s *Session) KeyChange(ctx context.Context, newKey crypto.Signer) error {
	if s.Account.KeyID == "" {
		return fmt.Errorf("account: session has no KeyID, register first")
	}

	keyChangeURL, err := s.client.Endpoint(ctx, acme.EndpointKeyChange)
	if err != nil {
		return err
	}

	oldJWK := jose.JSONWebKey{Key: s.Account.Signer.Public()}
	inner := struct {
		Account string          `json:"account"`
		OldKey  jose.JSONWebKey `json:"oldKey"`
	}{
		Account: s.Account.KeyID,
		OldKey:  oldJWK,
	}
	innerBody, err := json.Marshal(inner)
	if err != nil {
		return err
	}

	innerSigningKey, err := keys.SigningKeyForSigner(newKey, "")
	if err != nil {
		return err
	}
	innerSigner, err := jose.NewSigner(innerSigningKey, &jose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": keyChangeURL,
		},
	})
	if err != nil {
		return err
	}
	innerSigned, err := innerSigner.Sign(innerBody)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(ctx, keyChangeURL, json.RawMessage(innerSigned.FullSerialize()), client.Signer{
		KeyID: s.Account.KeyID,
		Key:   s.Account.Signer,
	})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("account: key change returned status %d", resp.StatusCode)
	}

	s.Account.Signer = newKey
	return nil
}
