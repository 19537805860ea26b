package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Replay-Nonce", "srv-nonce")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"newNonce":"https://example.com/new-nonce"}`))
	}))
	defer srv.Close()

	tr := New()
	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	nonce, ok := resp.Nonce()
	assert.True(t, ok)
	assert.Equal(t, "srv-nonce", nonce)

	var dir struct {
		NewNonce string `json:"newNonce"`
	}
	require.NoError(t, resp.DecodeJSON(&dir))
	assert.Equal(t, "https://example.com/new-nonce", dir.NewNonce)
}

func TestPostSetsJOSEContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/jose+json", r.Header.Get("Content-Type"))
		w.Header().Set("Location", "https://example.com/acme/acct/1")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := New()
	resp, err := tr.Post(context.Background(), srv.URL, []byte(`{"protected":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	loc, ok := resp.Location()
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/acme/acct/1", loc)
}

func TestDoParsesProblemDocumentOnErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"urn:ietf:params:acme:error:badNonce","detail":"nonce expired"}`))
	}))
	defer srv.Close()

	tr := New()
	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess())
	require.NotNil(t, resp.Problem)
	assert.Equal(t, "urn:ietf:params:acme:error:badNonce", resp.Problem.Type)
	assert.Equal(t, "nonce expired", resp.Problem.Detail)
}

func TestHeadReturnsNonceWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Replay-Nonce", "head-nonce")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New()
	resp, err := tr.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	n, ok := resp.Nonce()
	assert.True(t, ok)
	assert.Equal(t, "head-nonce", n)
}
