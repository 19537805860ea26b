// The acmelove command drives a single certificate issuance against an
// ACME server from the command line: register (or reuse) an account,
// request a certificate for the given domains, solve http-01 challenges by
// writing response files under a webroot, and write the issued chain and
// key to disk.
package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/account"
	"github.com/thebitrock/acme-love/acme/client"
	"github.com/thebitrock/acme-love/acme/keys"
	"github.com/thebitrock/acme-love/acme/order"
	"github.com/thebitrock/acme-love/acme/transport"
)

const (
	directoryDefault = "https://acme-staging-v02.api.letsencrypt.org/directory"
	accountDefault   = "acmelove.account.json"
	webrootDefault   = "./webroot"
)

func main() {
	directory := flag.String("directory", directoryDefault, "Directory URL for ACME server")
	caCert := flag.String("ca", "", "PEM file of additional trusted roots for the ACME server's HTTPS")
	contact := flag.String("contact", "", "Contact email address for account registration, e.g. mailto:admin@example.com")
	acctPath := flag.String("account", accountDefault, "JSON filepath to save/restore the account key and KID")
	domains := flag.String("domains", "", "Comma-separated list of domains to request a certificate for")
	webroot := flag.String("webroot", webrootDefault, "Directory to write http-01 challenge response files under")
	keyOut := flag.String("keyout", "cert.key.pem", "Path to write the issued certificate's private key")
	certOut := flag.String("certout", "cert.pem", "Path to write the issued certificate chain")
	keyAlg := flag.String("alg", string(keys.ECDSAP256), "Key algorithm for the certificate key: ecdsa-p256, ecdsa-p384, ecdsa-p521, rsa-2048, rsa-3072, rsa-4096")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout for the issuance")

	flag.Parse()

	if *domains == "" {
		fmt.Fprintln(os.Stderr, "acmelove: -domains is required")
		os.Exit(1)
	}
	names := strings.Split(*domains, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, runConfig{
		directory: *directory,
		caCert:    *caCert,
		contact:   *contact,
		acctPath:  *acctPath,
		names:     names,
		webroot:   *webroot,
		keyOut:    *keyOut,
		certOut:   *certOut,
		keyAlg:    keys.Algorithm(*keyAlg),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "acmelove: %v\n", err)
		os.Exit(1)
	}
}

type runConfig struct {
	directory string
	caCert    string
	contact   string
	acctPath  string
	names     []string
	webroot   string
	keyOut    string
	certOut   string
	keyAlg    keys.Algorithm
}

func run(ctx context.Context, cfg runConfig) error {
	var tOpts []transport.Option
	if cfg.caCert != "" {
		tOpts = append(tOpts, transport.WithCABundle(cfg.caCert))
	}
	t := transport.New(tOpts...)
	c := client.New(cfg.directory, t)

	acct, err := loadOrCreateAccount(cfg.acctPath, cfg.keyAlg)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	session := account.New(c, acct)

	if acct.KeyID == "" {
		var contacts []string
		if cfg.contact != "" {
			contacts = []string{cfg.contact}
		}
		if err := session.Register(ctx, account.RegisterOptions{
			Contact:              contacts,
			TermsOfServiceAgreed: true,
		}); err != nil {
			return fmt.Errorf("registering account: %w", err)
		}
		if err := saveAccount(cfg.acctPath, acct); err != nil {
			return fmt.Errorf("saving account: %w", err)
		}
	}

	engine := order.New(c, session)

	result, err := engine.IssueCertificate(ctx, order.Request{
		Identifiers:  cfg.names,
		KeyAlgorithm: cfg.keyAlg,
		Solver:       webrootSolver(cfg.webroot),
	})
	if err != nil {
		return fmt.Errorf("issuing certificate: %w", err)
	}

	if err := os.WriteFile(cfg.certOut, []byte(result.CertificatePEM), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.certOut, err)
	}
	if err := writeKeyPEM(cfg.keyOut, result.CertificateKey); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.keyOut, err)
	}

	fmt.Printf("issued certificate for %s -> %s (key %s)\n", strings.Join(cfg.names, ", "), cfg.certOut, cfg.keyOut)
	return nil
}

// webrootSolver publishes an http-01 proof by writing the expected body
// under webroot/.well-known/acme-challenge/{token}, the layout a static
// file server (or a reverse proxy in front of one) exposes at the path the
// CA will request.
func webrootSolver(webroot string) order.ChallengeSolver {
	return func(ctx context.Context, info order.ChallengeInfo) error {
		if info.Type != acme.ChallengeHTTP01 {
			return fmt.Errorf("acmelove: no solver for challenge type %q, only http-01 is supported by this command", info.Type)
		}
		dir := filepath.Join(webroot, ".well-known", "acme-challenge")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, info.Token)
		return os.WriteFile(path, []byte(info.KeyAuth), 0o644)
	}
}

type accountFile struct {
	KeyID   string   `json:"keyId"`
	KeyType string   `json:"keyType"`
	KeyB64  string   `json:"key"`
	Contact []string `json:"contact,omitempty"`
}

func loadOrCreateAccount(path string, alg keys.Algorithm) (*account.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			signer, err := keys.NewSigner(alg)
			if err != nil {
				return nil, err
			}
			return &account.Account{Signer: signer}, nil
		}
		return nil, err
	}

	var f accountFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	keyBytes, err := base64.StdEncoding.DecodeString(f.KeyB64)
	if err != nil {
		return nil, err
	}
	signer, err := keys.UnmarshalSigner(keyBytes, f.KeyType)
	if err != nil {
		return nil, err
	}
	return &account.Account{KeyID: f.KeyID, Contact: f.Contact, Signer: signer}, nil
}

func saveAccount(path string, acct *account.Account) error {
	keyBytes, keyType, err := keys.MarshalSigner(acct.Signer)
	if err != nil {
		return err
	}
	f := accountFile{
		KeyID:   acct.KeyID,
		KeyType: keyType,
		KeyB64:  base64.StdEncoding.EncodeToString(keyBytes),
		Contact: acct.Contact,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeKeyPEM(path string, signer crypto.Signer) error {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}
