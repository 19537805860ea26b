// Package csr builds the certificate signing request an order's finalize
// step submits, per RFC 8555 section 7.4.
package csr

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/thebitrock/acme-love/acme/keys"
)

// Build produces a DER-encoded CSR for the given identifiers: CN is the
// first identifier, SAN covers all of them. If key is nil, a fresh key of
// the given algorithm is generated; the returned Signer is always the one
// the CSR was signed with (the caller needs it to later use the issued
// certificate).
func Build(names []string, alg keys.Algorithm, key crypto.Signer) (der []byte, signer crypto.Signer, err error) {
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("csr: no identifiers specified")
	}

	signer = key
	if signer == nil {
		signer, err = keys.NewSigner(alg)
		if err != nil {
			return nil, nil, err
		}
	}

	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}

	der, err = x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return nil, nil, err
	}
	return der, signer, nil
}

// Base64URL renders a DER CSR the way the finalize payload's "csr" member
// expects: unpadded base64url.
func Base64URL(der []byte) string {
	return base64.RawURLEncoding.EncodeToString(der)
}

// PEM renders a DER CSR as a PEM "CERTIFICATE REQUEST" block, for callers
// that want to keep a copy on disk.
func PEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}
