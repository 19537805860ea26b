package account

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebitrock/acme-love/acme/client"
	"github.com/thebitrock/acme-love/acme/keys"
	"github.com/thebitrock/acme-love/acme/transport"
)

func newTestSession(t *testing.T, mux *http.ServeMux) (*httptest.Server, *Session) {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n1")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/dir", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"newNonce":   srv.URL + "/new-nonce",
			"newAccount": srv.URL + "/new-account",
			"newOrder":   srv.URL + "/new-order",
			"revokeCert": srv.URL + "/revoke",
			"keyChange":  srv.URL + "/key-change",
		})
	})

	c := client.New(srv.URL+"/dir", transport.New())
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	return srv, New(c, &Account{Signer: signer})
}

func TestRegisterBindsKeyIDFromLocation(t *testing.T) {
	mux := http.NewServeMux()
	srv, session := newTestSession(t, mux)

	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n2")
		w.Header().Set("Location", srv.URL+"/acct/1")
		w.WriteHeader(http.StatusCreated)
	})

	err := session.Register(context.Background(), RegisterOptions{
		Contact:              []string{"mailto:admin@example.com"},
		TermsOfServiceAgreed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/acct/1", session.Account.KeyID)
	assert.Equal(t, []string{"mailto:admin@example.com"}, session.Account.Contact)
}

func TestRegisterWithExternalAccountBindingSignsEAB(t *testing.T) {
	mux := http.NewServeMux()
	srv, session := newTestSession(t, mux)

	var receivedBody []byte
	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = body
		w.Header().Set("Replay-Nonce", "n2")
		w.Header().Set("Location", srv.URL+"/acct/2")
		w.WriteHeader(http.StatusCreated)
	})

	err := session.Register(context.Background(), RegisterOptions{
		TermsOfServiceAgreed: true,
		ExternalAccountBinding: &ExternalAccountBinding{
			KeyID:  "eab-kid-123",
			MACKey: []byte("super-secret-mac-key-0123456789"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/acct/2", session.Account.KeyID)

	var outer struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(receivedBody, &outer))
	payloadBytes, err := decodeBase64URL(outer.Payload)
	require.NoError(t, err)

	var req newAccountRequest
	require.NoError(t, json.Unmarshal(payloadBytes, &req))
	assert.NotEmpty(t, req.ExternalAccountBinding)

	var eabJWS struct {
		Protected string `json:"protected"`
	}
	require.NoError(t, json.Unmarshal(req.ExternalAccountBinding, &eabJWS))
	protectedBytes, err := decodeBase64URL(eabJWS.Protected)
	require.NoError(t, err)

	var protected struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(protectedBytes, &protected))
	assert.Equal(t, "HS256", protected.Alg)
	assert.Equal(t, "eab-kid-123", protected.Kid)
}

func TestUpdateContactsRequiresRegistration(t *testing.T) {
	mux := http.NewServeMux()
	_, session := newTestSession(t, mux)

	err := session.UpdateContacts(context.Background(), []string{"mailto:new@example.com"})
	assert.Error(t, err)
}

func TestUpdateContactsUpdatesLocalState(t *testing.T) {
	mux := http.NewServeMux()
	srv, session := newTestSession(t, mux)
	session.Account.KeyID = srv.URL + "/acct/9"

	mux.HandleFunc("/acct/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n3")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"valid"}`))
	})

	err := session.UpdateContacts(context.Background(), []string{"mailto:new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mailto:new@example.com"}, session.Account.Contact)
}

func TestDeactivateSendsDeactivatedStatus(t *testing.T) {
	mux := http.NewServeMux()
	srv, session := newTestSession(t, mux)
	session.Account.KeyID = srv.URL + "/acct/5"

	var receivedBody []byte
	mux.HandleFunc("/acct/5", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = body
		w.Header().Set("Replay-Nonce", "n4")
		w.WriteHeader(http.StatusOK)
	})

	err := session.Deactivate(context.Background())
	require.NoError(t, err)

	var outer struct {
		Payload string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(receivedBody, &outer))
	payloadBytes, err := decodeBase64URL(outer.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(payloadBytes), `"deactivated"`)
}

func TestKeyChangeRollsOverSigner(t *testing.T) {
	mux := http.NewServeMux()
	srv, session := newTestSession(t, mux)
	session.Account.KeyID = srv.URL + "/acct/7"

	mux.HandleFunc("/key-change", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "n5")
		w.WriteHeader(http.StatusOK)
	})

	newKey, err := keys.NewSigner(keys.RSA2048)
	require.NoError(t, err)
	oldThumb := keys.JWKThumbprint(session.Account.Signer)

	err = session.KeyChange(context.Background(), newKey)
	require.NoError(t, err)
	assert.NotEqual(t, oldThumb, keys.JWKThumbprint(session.Account.Signer))
}
