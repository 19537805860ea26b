package jws

import (
	"encoding/json"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebitrock/acme-love/acme/keys"
)

type fixedNonce string

func (n fixedNonce) Nonce() (string, error) { return string(n), nil }

func TestSignValidatesOptions(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{"neither KeyID nor EmbedKey", Options{Signer: signer, Nonce: fixedNonce("n")}},
		{"both KeyID and EmbedKey", Options{Signer: signer, Nonce: fixedNonce("n"), KeyID: "kid", EmbedKey: true}},
		{"no signer", Options{Nonce: fixedNonce("n"), EmbedKey: true}},
		{"no nonce source", Options{Signer: signer, EmbedKey: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sign("https://example.com/acme/new-order", []byte(`{}`), tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestSignEmbedsJWKForNewAccount(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	result, err := Sign("https://example.com/acme/new-account", []byte(`{"termsOfServiceAgreed":true}`), Options{
		EmbedKey: true,
		Signer:   signer,
		Nonce:    fixedNonce("abc123"),
	})
	require.NoError(t, err)
	require.NotNil(t, result.JWS)

	header := result.JWS.Signatures[0].Header
	assert.Equal(t, "abc123", header.Nonce)
	urlHeader, err := json.Marshal(header.ExtraHeaders[jose.HeaderKey("url")])
	require.NoError(t, err)
	assert.Equal(t, `"https://example.com/acme/new-account"`, string(urlHeader))
	require.NotNil(t, header.JSONWebKey)
	assert.Empty(t, header.KeyID)
}

func TestSignUsesKeyIDForSubsequentRequests(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	result, err := Sign("https://example.com/acme/acct/1", []byte(`{}`), Options{
		KeyID:  "https://example.com/acme/acct/1",
		Signer: signer,
		Nonce:  fixedNonce("xyz"),
	})
	require.NoError(t, err)

	header := result.JWS.Signatures[0].Header
	assert.Equal(t, "https://example.com/acme/acct/1", header.KeyID)
	assert.Nil(t, header.JSONWebKey)
}

func TestSignedPayloadVerifiesAgainstPublicKey(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	payload := []byte(`{"contact":["mailto:admin@example.com"]}`)
	result, err := Sign("https://example.com/acme/acct/1", payload, Options{
		EmbedKey: true,
		Signer:   signer,
		Nonce:    fixedNonce("n1"),
	})
	require.NoError(t, err)

	verified, err := result.JWS.Verify(&jose.JSONWebKey{Key: signer.Public()})
	require.NoError(t, err)
	assert.Equal(t, payload, verified)
}
