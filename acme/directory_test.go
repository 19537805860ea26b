package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectoryEndpointLookup(t *testing.T) {
	dir := Directory{
		NewNonce:   "https://example.com/new-nonce",
		NewAccount: "https://example.com/new-account",
		NewOrder:   "https://example.com/new-order",
		KeyChange:  "https://example.com/key-change",
		RevokeCert: "https://example.com/revoke",
	}

	url, ok := dir.Endpoint(EndpointNewOrder)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/new-order", url)

	_, ok = dir.Endpoint(EndpointNewAuthz)
	assert.False(t, ok, "newAuthz is optional and unset here")

	_, ok = dir.Endpoint("notAnEndpoint")
	assert.False(t, ok)
}

func TestDNSIdentifier(t *testing.T) {
	id := DNSIdentifier("example.com")
	assert.Equal(t, IdentifierDNS, id.Type)
	assert.Equal(t, "example.com", id.Value)
}

func TestOrderDone(t *testing.T) {
	assert.True(t, Order{Status: OrderValid}.Done())
	assert.True(t, Order{Status: OrderInvalid}.Done())
	assert.False(t, Order{Status: OrderPending}.Done())
	assert.False(t, Order{Status: OrderReady}.Done())
}

func TestAuthorizationChallengeByType(t *testing.T) {
	authz := Authorization{
		Challenges: []Challenge{
			{Type: ChallengeHTTP01, Token: "h"},
			{Type: ChallengeDNS01, Token: "d"},
		},
	}
	c, ok := authz.ChallengeByType(ChallengeDNS01)
	assert.True(t, ok)
	assert.Equal(t, "d", c.Token)

	_, ok = authz.ChallengeByType(ChallengeTLSALPN01)
	assert.False(t, ok)
}
