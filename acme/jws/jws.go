// Package jws produces the flattened JWS bodies ACME requests are carried
// in (RFC 8555 section 6.2), either embedding the account's JWK (for
// newAccount and revokeCert-by-key) or referencing it by KID (every other
// request once an account exists).
package jws

import (
	"crypto"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/thebitrock/acme-love/acme/keys"
)

// NonceSource supplies the Replay-Nonce header value for a signed request.
// acme/client adapts a nonce it has already taken from its acme/nonce.Pool
// to this interface.
type NonceSource interface {
	Nonce() (string, error)
}

// Options controls how a payload is signed. Exactly one of EmbedKey or KeyID
// must be set, mirroring RFC 8555 section 6.2's "jwk or kid, not both" rule.
type Options struct {
	// EmbedKey, if true, embeds the account's public key as a JWK instead of
	// using a kid header. Used for newAccount and key-based revocation.
	EmbedKey bool
	// KeyID identifies the ACME account (its account URL) for every other
	// request once registration is complete.
	KeyID string
	// Signer is the account (or, for key-change, the new) private key.
	Signer crypto.Signer
	// Nonce supplies the anti-replay nonce for this request.
	Nonce NonceSource
}

func (o *Options) validate() error {
	if o.KeyID != "" && o.EmbedKey {
		return fmt.Errorf("jws: cannot specify both KeyID and EmbedKey")
	}
	if o.KeyID == "" && !o.EmbedKey {
		return fmt.Errorf("jws: must specify a KeyID or EmbedKey")
	}
	if o.Signer == nil {
		return fmt.Errorf("jws: no signer specified")
	}
	if o.Nonce == nil {
		return fmt.Errorf("jws: no nonce source specified")
	}
	return nil
}

// Result holds a signed request body and the parsed JWS it was built from.
type Result struct {
	URL           string
	Payload       []byte
	JWS           *jose.JSONWebSignature
	SerializedJWS []byte
}

type nonceSourceAdapter struct{ src NonceSource }

func (a nonceSourceAdapter) Nonce() (string, error) { return a.src.Nonce() }

// Sign produces a flattened-serialization JWS over payload with the
// protected "url" header RFC 8555 section 6.2 requires. A nil/empty payload
// signs an empty string, the POST-as-GET convention (section 6.3).
func Sign(url string, payload []byte, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.EmbedKey {
		return signEmbedded(url, payload, opts)
	}
	return signKeyID(url, payload, opts)
}

func signEmbedded(url string, payload []byte, opts Options) (*Result, error) {
	signingKey, err := keys.SigningKeyForSigner(opts.Signer, "")
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: nonceSourceAdapter{opts.Nonce},
		EmbedJWK:    true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}
	return sign(signer, url, payload)
}

func signKeyID(url string, payload []byte, opts Options) (*Result, error) {
	signingKey, err := keys.SigningKeyForSigner(opts.Signer, opts.KeyID)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: nonceSourceAdapter{opts.Nonce},
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}
	return sign(signer, url, payload)
}

func sign(signer jose.Signer, url string, payload []byte) (*Result, error) {
	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	serializedStr := signed.FullSerialize()

	// Re-parse so the returned JWS reflects exactly what was transmitted.
	parsed, err := jose.ParseSigned(serializedStr, []jose.SignatureAlgorithm{
		jose.ES256, jose.ES384, jose.ES512, jose.RS256,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		URL:           url,
		Payload:       payload,
		JWS:           parsed,
		SerializedJWS: []byte(serializedStr),
	}, nil
}
