// Package client composes the HTTP transport, JWS signer, and nonce pool
// into the signed request/response cycle every higher-level ACME
// operation (account, order) is built from.
package client

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/alog"
	"github.com/thebitrock/acme-love/acme/jws"
	"github.com/thebitrock/acme-love/acme/nonce"
	"github.com/thebitrock/acme-love/acme/ratelimit"
	"github.com/thebitrock/acme-love/acme/transport"
)

// Client is a low-level signed-request client for one ACME server. It
// caches the directory document and owns a nonce.Registry namespaced by
// directory URL + account KID.
type Client struct {
	directoryURL string
	transport    *transport.Transport
	log          alog.Logger

	dirOnce   sync.Once
	dirErr    error
	directory acme.Directory

	nonces  *nonce.Registry
	limiter *ratelimit.Limiter
}

// New constructs a Client for the ACME server whose directory document
// lives at directoryURL.
func New(directoryURL string, t *transport.Transport) *Client {
	if t == nil {
		t = transport.New()
	}
	c := &Client{
		directoryURL: directoryURL,
		transport:    t,
		log:          alog.For("client"),
	}
	c.nonces = nonce.NewRegistry(nonce.DefaultConfig(), c.fetcherFor)
	c.limiter = ratelimit.New(ratelimit.DefaultConfig())
	return c
}

// Directory returns the cached directory document, fetching it on first
// use. Safe for concurrent use; the fetch happens at most once unless
// InvalidateDirectory is called.
func (c *Client) Directory(ctx context.Context) (acme.Directory, error) {
	c.dirOnce.Do(func() {
		c.directory, c.dirErr = c.fetchDirectory(ctx)
	})
	return c.directory, c.dirErr
}

// InvalidateDirectory forces the next Directory call to re-fetch, for
// callers that suspect the CA rotated its endpoint URLs. The client never
// does this automatically.
func (c *Client) InvalidateDirectory() {
	c.dirOnce = sync.Once{}
}

func (c *Client) fetchDirectory(ctx context.Context) (acme.Directory, error) {
	resp, err := c.transport.Get(ctx, c.directoryURL)
	if err != nil {
		return acme.Directory{}, err
	}
	if !resp.IsSuccess() {
		return acme.Directory{}, c.errorFromResponse(resp)
	}
	var dir acme.Directory
	if err := resp.DecodeJSON(&dir); err != nil {
		return acme.Directory{}, fmt.Errorf("client: invalid directory document: %w", err)
	}
	c.log.Debug().Msg("fetched directory")
	return dir, nil
}

// Endpoint resolves a named directory entry, e.g. "newOrder".
func (c *Client) Endpoint(ctx context.Context, name string) (string, error) {
	dir, err := c.Directory(ctx)
	if err != nil {
		return "", err
	}
	url, ok := dir.Endpoint(name)
	if !ok {
		return "", fmt.Errorf("client: directory has no %q endpoint", name)
	}
	return url, nil
}

func (c *Client) namespace(keyID string) string {
	return c.directoryURL + "|" + keyID
}

func (c *Client) fetcherFor(namespace string) nonce.Fetcher {
	return func(ctx context.Context) (string, error) {
		newNonceURL, err := c.Endpoint(ctx, acme.EndpointNewNonce)
		if err != nil {
			return "", err
		}
		resp, err := c.transport.Head(ctx, newNonceURL)
		if err != nil {
			return "", err
		}
		n, ok := resp.Nonce()
		if !ok {
			return "", fmt.Errorf("client: %q returned no Replay-Nonce header", acme.EndpointNewNonce)
		}
		return n, nil
	}
}

// Signer identifies the key (and, once registered, the account URL) used
// to authenticate requests.
type Signer struct {
	KeyID    string // account URL once registered; empty before newAccount
	EmbedKey bool
	Key      crypto.Signer
}

// Post signs payload (JSON-marshaling it unless it's already raw bytes, a
// string, or the zero value, which signs an empty payload for POST-as-GET per RFC
// 8555 section 6.3) and POSTs it to url, retrying exactly once on a
// badNonce response. The whole attempt is wrapped by the rate limiter,
// keyed by url.
func (c *Client) Post(ctx context.Context, url string, payload interface{}, signer Signer) (*transport.Response, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	namespace := c.namespace(signer.KeyID)
	pool := c.nonces.Pool(namespace)

	var resp *transport.Response
	limitErr := c.limiter.Do(ctx, url, func(ctx context.Context) ratelimit.Result {
		var err error
		resp, err = c.postOnce(ctx, url, body, signer, pool, namespace)
		if err != nil && isBadNonce(err) {
			pool.InvalidateAll()
			resp, err = c.postOnce(ctx, url, body, signer, pool, namespace)
		}
		return ratelimit.Result{RetryAfter: retryAfterOf(err), Err: err}
	})
	if limitErr != nil {
		return resp, limitErr
	}
	return resp, nil
}

func retryAfterOf(err error) string {
	if rle, ok := err.(*acme.RateLimitedError); ok && rle.HasRetryAfter {
		return fmt.Sprintf("%d", int64(rle.RetryAfter/time.Second))
	}
	return ""
}

// PostAsGet performs a POST-as-GET request (RFC 8555 section 6.3): an
// empty-payload authenticated POST used to fetch a resource.
func (c *Client) PostAsGet(ctx context.Context, url string, signer Signer) (*transport.Response, error) {
	return c.Post(ctx, url, nil, signer)
}

func (c *Client) postOnce(ctx context.Context, url string, body []byte, signer Signer, pool *nonce.Pool, namespace string) (*transport.Response, error) {
	n, err := pool.Get(ctx, namespace)
	if err != nil {
		return nil, err
	}

	signed, err := jws.Sign(url, body, jws.Options{
		EmbedKey: signer.EmbedKey,
		KeyID:    signer.KeyID,
		Signer:   signer.Key,
		Nonce:    staticNonce(n),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, url, signed.SerializedJWS)
	if err != nil {
		return nil, err
	}
	if fresh, ok := resp.Nonce(); ok {
		pool.Put(fresh)
	}

	if !resp.IsSuccess() {
		return resp, c.errorFromResponse(resp)
	}
	return resp, nil
}

func (c *Client) errorFromResponse(resp *transport.Response) error {
	if resp.Problem != nil {
		return acme.NewFromProblem(*resp.Problem)
	}
	return fmt.Errorf("client: unexpected status %d", resp.StatusCode)
}

func isBadNonce(err error) bool {
	ae, ok := err.(*acme.AcmeError)
	if ok {
		return ae.Kind == "badNonce"
	}
	return false
}

// encodePayload renders an ACME request body: nil signs an empty payload,
// []byte and string pass through, everything else is JSON-marshaled.
func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// staticNonce adapts a single already-acquired nonce value to
// jws.NonceSource, since the pool has already handed out the nonce by the
// time jws.Sign runs.
type staticNonce string

func (s staticNonce) Nonce() (string, error) { return string(s), nil }

// DirectoryURL returns the URL the client was constructed with.
func (c *Client) DirectoryURL() string { return c.directoryURL }
