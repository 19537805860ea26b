// Package nonce implements the anti-replay nonce pool RFC 8555 section 6.5
// requires: a bounded, concurrency-safe supply of nonces with background
// prefetch, kept fresh per directory/account namespace.
package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/thebitrock/acme-love/acme"
	"github.com/thebitrock/acme-love/acme/alog"
)

// Fetcher issues a HEAD request against the newNonce endpoint and returns
// the Replay-Nonce header value it carried. acme/transport.Transport.Head
// satisfies this through a small adapter at the call site.
type Fetcher func(ctx context.Context) (string, error)

// Config tunes a Pool's bounds.
type Config struct {
	MaxAge           time.Duration
	MaxPoolSize      int
	PrefetchLowWater int
	PrefetchHigh     int
	WaiterTimeout    time.Duration
}

// DefaultConfig returns the acme-love defaults.
func DefaultConfig() Config {
	return Config{
		MaxAge:           time.Duration(acme.DefaultNonceMaxAgeMs) * time.Millisecond,
		MaxPoolSize:      acme.DefaultNonceMaxPoolSize,
		PrefetchLowWater: acme.DefaultNoncePrefetchLowWater,
		PrefetchHigh:     acme.DefaultNoncePrefetchHigh,
		WaiterTimeout:    time.Duration(acme.DefaultNonceWaiterTimeoutMs) * time.Millisecond,
	}
}

type entry struct {
	value      string
	insertedAt time.Time
}

// Pool is a single namespace's bounded nonce supply: a FIFO of fresh
// nonces plus a FIFO of waiters blocked on get() when the pool is empty.
type Pool struct {
	cfg   Config
	fetch Fetcher
	log   alog.Logger

	mu            sync.Mutex
	entries       []entry
	waiters       []chan result
	fetchInFlight bool
	seen          map[string]bool
}

type result struct {
	nonce string
	err   error
}

// New constructs a Pool that calls fetch to replenish itself.
func New(cfg Config, fetch Fetcher) *Pool {
	return &Pool{
		cfg:   cfg,
		fetch: fetch,
		log:   alog.For("nonce"),
		seen:  make(map[string]bool),
	}
}

// Put adds a freshly observed nonce to the pool. Idempotent: a duplicate
// (already seen) nonce is silently rejected, and the pool never grows
// past MaxPoolSize; excess fetched nonces are dropped.
func (p *Pool) Put(n string) {
	if n == "" {
		return
	}
	p.mu.Lock()
	p.putLocked(n)
	needFetch := p.needsPrefetchLocked()
	p.mu.Unlock()

	if needFetch {
		go p.prefetch(context.Background())
	}
}

func (p *Pool) putLocked(n string) {
	if p.seen[n] {
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.seen[n] = true
		w <- result{nonce: n}
		close(w)
		return
	}
	if len(p.entries) >= p.cfg.MaxPoolSize {
		return
	}
	p.seen[n] = true
	p.entries = append(p.entries, entry{value: n, insertedAt: time.Now()})
}

func (p *Pool) dropStaleLocked() {
	if p.cfg.MaxAge <= 0 {
		return
	}
	now := time.Now()
	fresh := p.entries[:0]
	for _, e := range p.entries {
		if now.Sub(e.insertedAt) <= p.cfg.MaxAge {
			fresh = append(fresh, e)
		} else {
			delete(p.seen, e.value)
		}
	}
	p.entries = fresh
}

// Get returns a fresh nonce, blocking (subject to ctx and the configured
// waiter timeout) if the pool is empty. A returned nonce is removed from
// the pool and belongs to exactly one caller.
func (p *Pool) Get(ctx context.Context, namespace string) (string, error) {
	p.mu.Lock()
	p.dropStaleLocked()

	if len(p.entries) > 0 {
		e := p.entries[0]
		p.entries = p.entries[1:]
		delete(p.seen, e.value)
		needFetch := p.needsPrefetchLocked()
		p.mu.Unlock()
		if needFetch {
			go p.prefetch(context.Background())
		}
		return e.value, nil
	}

	w := make(chan result, 1)
	p.waiters = append(p.waiters, w)
	needFetch := p.needsPrefetchLocked()
	p.mu.Unlock()

	if needFetch {
		go p.prefetch(context.Background())
	}

	timeout := p.cfg.WaiterTimeout
	if timeout <= 0 {
		timeout = time.Duration(acme.DefaultNonceWaiterTimeoutMs) * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w:
		if r.err != nil {
			return "", r.err
		}
		return r.nonce, nil
	case <-timer.C:
		return "", &acme.NonceTimeoutError{Namespace: namespace, Timeout: timeout}
	case <-ctx.Done():
		return "", &acme.CancellationError{Cause: ctx.Err()}
	}
}

// needsPrefetchLocked reports whether the pool has fallen below
// PrefetchLowWater and no fetch is already in flight, claiming
// fetchInFlight on the caller's behalf if so. Callers must hold p.mu and
// launch prefetch in a new goroutine after unlocking when this returns
// true.
func (p *Pool) needsPrefetchLocked() bool {
	if p.fetchInFlight || len(p.entries) >= p.cfg.PrefetchLowWater {
		return false
	}
	p.fetchInFlight = true
	return true
}

// prefetch requests up to PrefetchHigh-poolSize nonces in parallel,
// refilling the pool proactively whenever it drops below
// PrefetchLowWater rather than waiting for it to run dry.
func (p *Pool) prefetch(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.fetchInFlight = false
		p.mu.Unlock()
	}()

	p.mu.Lock()
	need := p.cfg.PrefetchHigh - len(p.entries)
	p.mu.Unlock()
	if need <= 0 {
		need = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < need; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := p.fetch(ctx)
			if err != nil {
				p.log.Debug().Err(err).Msg("nonce prefetch failed")
				return
			}
			p.Put(n)
		}()
	}
	wg.Wait()
}

// InvalidateAll clears the pool, used on badNonce recovery: the offending
// nonce must never be reused and the rest of the stale pool is discarded.
func (p *Pool) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.seen = make(map[string]bool)
}

// Registry keys distinct Pool instances by namespace (directory base URL +
// account KID), so concurrent multi-account use never cross-contaminates
// nonces.
type Registry struct {
	mu    sync.Mutex
	cfg   Config
	fetch func(namespace string) Fetcher
	pools map[string]*Pool
}

// NewRegistry builds a Registry. fetchFor must return a Fetcher bound to
// the newNonce endpoint for the given namespace.
func NewRegistry(cfg Config, fetchFor func(namespace string) Fetcher) *Registry {
	return &Registry{
		cfg:   cfg,
		fetch: fetchFor,
		pools: make(map[string]*Pool),
	}
}

// Pool returns (creating if necessary) the Pool for namespace.
func (r *Registry) Pool(namespace string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[namespace]; ok {
		return p
	}
	p := New(r.cfg, r.fetch(namespace))
	r.pools[namespace] = p
	return p
}
