package csr

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebitrock/acme-love/acme/keys"
)

func TestBuildGeneratesKeyWhenNoneProvided(t *testing.T) {
	der, signer, err := Build([]string{"example.com", "www.example.com"}, keys.ECDSAP256, nil)
	require.NoError(t, err)
	require.NotNil(t, signer)

	req, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	assert.Equal(t, "example.com", req.Subject.CommonName)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, req.DNSNames)
}

func TestBuildUsesProvidedKey(t *testing.T) {
	signer, err := keys.NewSigner(keys.RSA2048)
	require.NoError(t, err)

	der, returned, err := Build([]string{"example.org"}, keys.RSA2048, signer)
	require.NoError(t, err)
	assert.Equal(t, keys.JWKThumbprint(signer), keys.JWKThumbprint(returned))

	req, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	assert.NoError(t, req.CheckSignature())
}

func TestBuildRejectsEmptyIdentifiers(t *testing.T) {
	_, _, err := Build(nil, keys.ECDSAP256, nil)
	assert.Error(t, err)
}

func TestBase64URLAndPEM(t *testing.T) {
	der, _, err := Build([]string{"example.net"}, keys.ECDSAP256, nil)
	require.NoError(t, err)

	b64 := Base64URL(der)
	assert.NotContains(t, b64, "=")
	assert.NotContains(t, b64, "+")
	assert.NotContains(t, b64, "/")

	pemStr := PEM(der)
	assert.Contains(t, pemStr, "BEGIN CERTIFICATE REQUEST")
}
