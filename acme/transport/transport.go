// Package transport wraps an *http.Client with the request/response
// plumbing every ACME endpoint needs: a stable User-Agent, context-aware
// GET/HEAD/POST, and decoding of either a JSON body or an RFC 7807 problem
// document based on Content-Type.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/alog"
)

const (
	userAgentBase = "acme-love"
	version       = "0.1.0"
)

// Response is the decoded result of one HTTP round trip: the raw body, the
// status code and headers, and a parsed Problem if the server used
// application/problem+json.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Problem    *acme.Problem
}

// Transport performs the HTTP calls the ACME client issues against a CA.
// The zero value is not usable; construct with New.
type Transport struct {
	client *http.Client
	log    alog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the default *http.Client, e.g. to install a
// custom RootCAs pool for a staging CA with a private trust anchor.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithCABundle loads a PEM bundle of additional trusted roots to extend
// the system trust store with, e.g. a staging CA's private root.
func WithCABundle(path string) Option {
	return func(t *Transport) {
		pemBundle, err := os.ReadFile(path)
		if err != nil {
			return
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		pool.AppendCertsFromPEM(pemBundle)
		t.client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		}
	}
}

// New builds a Transport using http.DefaultClient unless overridden by an
// Option.
func New(opts ...Option) *Transport {
	t := &Transport{
		client: http.DefaultClient,
		log:    alog.For("http"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) userAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", userAgentBase, version, runtime.GOOS, runtime.GOARCH)
}

// Get issues a GET request, used for fetching the directory and
// POST-as-GET-ineligible resources.
func (t *Transport) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &acme.ConnectionError{Cause: err}
	}
	return t.do(req)
}

// Head issues a HEAD request, used to fetch a fresh nonce from the
// newNonce endpoint (RFC 8555 section 7.2).
func (t *Transport) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, &acme.ConnectionError{Cause: err}
	}
	return t.do(req)
}

// Post issues a POST of a JWS body with the application/jose+json
// content type RFC 8555 section 6.2 requires.
func (t *Transport) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &acme.ConnectionError{Cause: err}
	}
	req.Header.Set("Content-Type", acme.ContentTypeJOSE)
	return t.do(req)
}

func (t *Transport) do(req *http.Request) (*Response, error) {
	req.Header.Set("User-Agent", t.userAgent())
	req.Header.Set("Accept-Language", "en-us")

	t.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("request")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &acme.ConnectionError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &acme.ConnectionError{Cause: err}
	}

	t.log.Debug().Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("response")

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}

	if isProblemContentType(resp.Header.Get("Content-Type")) && len(body) > 0 {
		var p acme.Problem
		if jsonErr := json.Unmarshal(body, &p); jsonErr == nil {
			out.Problem = &p
		}
	}

	return out, nil
}

func isProblemContentType(ct string) bool {
	return ct == acme.ContentTypeProblemJSON
}

// Nonce extracts the Replay-Nonce header from a response, if present.
func (r *Response) Nonce() (string, bool) {
	v := r.Header.Get(acme.HeaderReplayNonce)
	return v, v != ""
}

// Location extracts the Location header from a response, if present.
func (r *Response) Location() (string, bool) {
	v := r.Header.Get(acme.HeaderLocation)
	return v, v != ""
}

// DecodeJSON unmarshals the response body into dst.
func (r *Response) DecodeJSON(dst interface{}) error {
	return json.Unmarshal(r.Body, dst)
}

// IsSuccess reports whether the response's status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
