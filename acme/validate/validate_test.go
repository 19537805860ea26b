package validate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP01SucceedsOnMatchingBody(t *testing.T) {
	const token = "test-token"
	const keyAuth = "test-token.thumbprint-value"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/acme-challenge/"+token, r.URL.Path)
		_, _ = w.Write([]byte(keyAuth + "\n"))
	}))
	defer srv.Close()

	domain := srv.Listener.Addr().String()
	err := HTTP01(context.Background(), domain, token, keyAuth, DefaultHTTP01Config())
	require.NoError(t, err)
}

func TestHTTP01FailsOnBodyMismatch(t *testing.T) {
	const token = "test-token"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wrong-value"))
	}))
	defer srv.Close()

	domain := srv.Listener.Addr().String()
	err := HTTP01(context.Background(), domain, token, "expected-value", DefaultHTTP01Config())
	assert.Error(t, err)
}

func TestHTTP01FailsOnNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	domain := srv.Listener.Addr().String()
	err := HTTP01(context.Background(), domain, "tok", "expected", DefaultHTTP01Config())
	assert.Error(t, err)
}

type fakeResolver struct {
	values map[string][]string
	err    error
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.values[name], nil
}

func TestDNS01SucceedsOnMatchingTXT(t *testing.T) {
	resolver := &fakeResolver{values: map[string][]string{
		"_acme-challenge.example.com": {"expected-value"},
	}}
	err := DNS01(context.Background(), resolver, "example.com", "expected-value")
	assert.NoError(t, err)
}

func TestDNS01FailsWhenNoRecordMatches(t *testing.T) {
	resolver := &fakeResolver{values: map[string][]string{
		"_acme-challenge.example.com": {"some-other-value"},
	}}
	err := DNS01(context.Background(), resolver, "example.com", "expected-value")
	assert.Error(t, err)
}

func TestDNS01PropagatesResolverError(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("nxdomain")}
	err := DNS01(context.Background(), resolver, "example.com", "expected-value")
	assert.Error(t, err)
}
