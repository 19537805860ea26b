// Package validate implements optional client-side self-checks:
// confirming an HTTP-01 or DNS-01 challenge response is externally
// visible before telling the CA to validate it. Failures here are
// advisory; the caller decides whether to proceed regardless.
package validate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/thebitrock/acme-love/acme"
)

// HTTP01Config tunes the HTTP-01 self-check.
type HTTP01Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// DefaultHTTP01Config returns the acme-love defaults.
func DefaultHTTP01Config() HTTP01Config {
	return HTTP01Config{
		Timeout:      time.Duration(acme.DefaultHTTP01Timeout) * time.Millisecond,
		MaxRedirects: acme.DefaultHTTP01MaxRedirects,
		UserAgent:    "acme-love-validator",
	}
}

// HTTP01 fetches http://{domain}/.well-known/acme-challenge/{token} and
// reports whether its trimmed body equals the expected key authorization.
// On failure the returned error explains why (network error, non-200
// status, too many redirects, or a body mismatch).
func HTTP01(ctx context.Context, domain, token, expectedKeyAuth string, cfg HTTP01Config) error {
	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", domain, token)

	redirects := 0
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > cfg.MaxRedirects {
				return fmt.Errorf("validate: too many redirects (>%d)", cfg.MaxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("validate: http-01 request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validate: http-01 %q returned status %d, expected 200", url, resp.StatusCode)
	}

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		n, err := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
		if len(buf) > 4096 {
			break
		}
	}

	body := strings.TrimSpace(string(buf))
	if body != expectedKeyAuth {
		return fmt.Errorf("validate: http-01 %q body %q does not match expected key authorization", url, body)
	}
	return nil
}

// Resolver looks up TXT records, abstracting the DNS-01 self-check so
// callers/tests can substitute a fake. The default implementation speaks
// directly to the resolvers in /etc/resolv.conf via miekg/dns.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// defaultResolver issues a direct dns.Client.Exchange against the system
// resolver configuration rather than a net.LookupTXT call, so the
// validator can see the authoritative rcode rather than only a boolean
// success/failure.
type defaultResolver struct {
	servers []string
}

// NewDefaultResolver reads /etc/resolv.conf for nameserver entries. If
// none can be read, it falls back to 127.0.0.1:53 per miekg/dns
// convention; callers needing different behavior should inject their own
// Resolver.
func NewDefaultResolver() Resolver {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return &defaultResolver{servers: []string{"127.0.0.1:53"}}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return &defaultResolver{servers: servers}
}

func (r *defaultResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	client := new(dns.Client)
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("validate: dns server %s returned rcode %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		var values []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				values = append(values, strings.Join(txt.Txt, ""))
			}
		}
		return values, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("validate: no DNS servers configured")
	}
	return nil, lastErr
}

// DNS01 resolves TXT records for _acme-challenge.{domain} and reports
// whether any of them equals the expected dns-01 value.
func DNS01(ctx context.Context, resolver Resolver, domain, expectedValue string) error {
	if resolver == nil {
		resolver = NewDefaultResolver()
	}
	name := "_acme-challenge." + strings.TrimSuffix(domain, ".")

	values, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		return fmt.Errorf("validate: dns-01 lookup for %q failed: %w", name, err)
	}
	for _, v := range values {
		if v == expectedValue {
			return nil
		}
	}
	return fmt.Errorf("validate: dns-01 %q has no TXT record matching the expected value", name)
}
