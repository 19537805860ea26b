// package keys offers utility functions for working with crypto.Signers, JWS,
// JWKs and PEM serialization.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// Algorithm identifies an account or CSR key's type and size/curve: three
// ECDSA curves and three RSA modulus sizes, all with the fixed public
// exponent 65537.
type Algorithm string

const (
	ECDSAP256 Algorithm = "ecdsa-p256"
	ECDSAP384 Algorithm = "ecdsa-p384"
	ECDSAP521 Algorithm = "ecdsa-p521"
	RSA2048   Algorithm = "rsa-2048"
	RSA3072   Algorithm = "rsa-3072"
	RSA4096   Algorithm = "rsa-4096"
)

func sigAlgForKey(signer crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("keys: unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
	case *rsa.PrivateKey:
		return jose.RS256, nil
	default:
		return "", fmt.Errorf("keys: signer was unknown type: %T", k)
	}
}

func algForKey(signer crypto.Signer) string {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	}
	return "unknown"
}

func JWKJSON(signer crypto.Signer) string {
	jwk := JWKForSigner(signer)
	jwkJSON, err := json.Marshal(&jwk)
	if err != nil {
		return ""
	}
	return string(jwkJSON)
}

func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

func JWKThumbprint(signer crypto.Signer) string {
	thumbprintBytes := JWKThumbprintBytes(signer)
	return base64.RawURLEncoding.EncodeToString(thumbprintBytes)
}

// KeyAuth computes token + "." + base64url(thumbprint), the value every
// ACME challenge response is derived from (RFC 8555 section 8.1).
func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

// DNS01Value computes the TXT record value for a dns-01 challenge:
// base64url(SHA-256(keyAuthorization)), per RFC 8555 section 8.4.
func DNS01Value(signer crypto.Signer, token string) string {
	sum := sha256.Sum256([]byte(KeyAuth(signer, token)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TLSALPN01Digest computes the raw 32-byte SHA-256 digest a tls-alpn-01
// "id-pe-acmeIdentifier" certificate extension embeds, per RFC 8737.
func TLSALPN01Digest(signer crypto.Signer, token string) [32]byte {
	return sha256.Sum256([]byte(KeyAuth(signer, token)))
}

func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: algForKey(signer),
	}
}

func SigningKeyForSigner(signer crypto.Signer, keyID string) (jose.SigningKey, error) {
	sigAlg, err := sigAlgForKey(signer)
	if err != nil {
		return jose.SigningKey{}, err
	}
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(sigAlg),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: sigAlg,
	}, nil
}

func MarshalSigner(signer crypto.Signer) ([]byte, string, error) {
	var keyBytes []byte
	var keyType string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyType = "ecdsa"
		keyBytes, err = x509.MarshalECPrivateKey(k)
	case *rsa.PrivateKey:
		keyType = "rsa"
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
	default:
		err = fmt.Errorf("signer was unknown type: %T", k)
	}
	if err != nil {
		return nil, "", err
	}
	return keyBytes, keyType, nil
}

func UnmarshalSigner(keyBytes []byte, keyType string) (crypto.Signer, error) {
	var privKey crypto.Signer
	var err error
	switch keyType {
	case "ecdsa":
		privKey, err = x509.ParseECPrivateKey(keyBytes)
	case "rsa":
		privKey, err = x509.ParsePKCS1PrivateKey(keyBytes)
	default:
		err = fmt.Errorf("unknown key type %q", keyType)
	}
	if err != nil {
		return nil, err
	}
	return privKey, nil
}

func SignerToPEM(signer crypto.Signer) (string, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = "EC PRIVATE KEY"
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = "RSA PRIVATE KEY"
	default:
		err = fmt.Errorf("unknown key type: %T", k)
	}
	if err != nil {
		return "", err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	})
	return string(pemBytes), nil
}

// NewSigner generates a fresh private key for the given algorithm, using
// the Algorithm enum so callers can pick a specific curve or modulus
// size.
func NewSigner(alg Algorithm) (crypto.Signer, error) {
	switch alg {
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case ECDSAP521:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case RSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case RSA3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case RSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	default:
		return nil, fmt.Errorf("keys: unknown algorithm %q", alg)
	}
}
