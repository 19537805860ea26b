package acme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromProblemKnownTypes(t *testing.T) {
	tests := []struct {
		name    string
		problem Problem
		check   func(t *testing.T, err error)
	}{
		{
			name:    "badNonce maps to a plain AcmeError",
			problem: Problem{Type: ErrorURNPrefix + "badNonce", Detail: "nonce expired", Status: 400},
			check: func(t *testing.T, err error) {
				ae, ok := err.(*AcmeError)
				require.True(t, ok)
				assert.Equal(t, "badNonce", ae.Kind)
				assert.Equal(t, 400, ae.Status)
			},
		},
		{
			name:    "rateLimited without retryAfter defaults status to 429",
			problem: Problem{Type: ErrorURNPrefix + "rateLimited", Detail: "too many requests"},
			check: func(t *testing.T, err error) {
				rle, ok := err.(*RateLimitedError)
				require.True(t, ok)
				assert.Equal(t, 429, rle.Status)
				assert.False(t, rle.HasRetryAfter)
			},
		},
		{
			name:    "rateLimited with a numeric retryAfter is parsed as seconds",
			problem: Problem{Type: ErrorURNPrefix + "rateLimited", RetryAfter: "30"},
			check: func(t *testing.T, err error) {
				rle, ok := err.(*RateLimitedError)
				require.True(t, ok)
				assert.True(t, rle.HasRetryAfter)
				assert.Equal(t, 30*time.Second, rle.RetryAfter)
			},
		},
		{
			name:    "badSignatureAlgorithm carries the offered algorithm list",
			problem: Problem{Type: ErrorURNPrefix + "badSignatureAlgorithm", Algorithms: []string{"ES256", "RS256"}},
			check: func(t *testing.T, err error) {
				bse, ok := err.(*BadSignatureAlgorithmError)
				require.True(t, ok)
				assert.Equal(t, []string{"ES256", "RS256"}, bse.Algorithms)
			},
		},
		{
			name:    "userActionRequired defaults status to 403",
			problem: Problem{Type: ErrorURNPrefix + "userActionRequired", Instance: "https://example.com/tos"},
			check: func(t *testing.T, err error) {
				uar, ok := err.(*UserActionRequiredError)
				require.True(t, ok)
				assert.Equal(t, 403, uar.Status)
				assert.Equal(t, "https://example.com/tos", uar.Instance)
			},
		},
		{
			name: "compound carries its subproblems as AcmeErrors",
			problem: Problem{
				Type: ErrorURNPrefix + "compound",
				Subproblems: []Problem{
					{Type: ErrorURNPrefix + "dns", Detail: "no TXT record"},
					{Type: ErrorURNPrefix + "connection", Detail: "timed out"},
				},
			},
			check: func(t *testing.T, err error) {
				ce, ok := err.(*CompoundError)
				require.True(t, ok)
				require.Len(t, ce.Subproblems, 2)
				assert.Equal(t, "dns", ce.Subproblems[0].Kind)
				assert.Equal(t, "connection", ce.Subproblems[1].Kind)
			},
		},
		{
			name:    "serverInternal with a maintenance phrase maps to ServerMaintenanceError",
			problem: Problem{Type: ErrorURNPrefix + "serverInternal", Detail: "service is down for maintenance", Status: 503},
			check: func(t *testing.T, err error) {
				_, ok := err.(*ServerMaintenanceError)
				assert.True(t, ok)
			},
		},
		{
			name:    "serverInternal with an unrelated detail stays a plain AcmeError",
			problem: Problem{Type: ErrorURNPrefix + "serverInternal", Detail: "unexpected panic", Status: 500},
			check: func(t *testing.T, err error) {
				_, ok := err.(*ServerMaintenanceError)
				assert.False(t, ok)
				ae, ok := err.(*AcmeError)
				require.True(t, ok)
				assert.Equal(t, "serverInternal", ae.Kind)
			},
		},
		{
			name:    "empty status-503 with no type or subproblems is treated as maintenance",
			problem: Problem{Status: 503},
			check: func(t *testing.T, err error) {
				_, ok := err.(*ServerMaintenanceError)
				assert.True(t, ok)
			},
		},
		{
			name: "missing type with validation-error subproblems falls back to compound",
			problem: Problem{
				Detail: "Errors during validation",
				Subproblems: []Problem{
					{Type: ErrorURNPrefix + "dns", Detail: "no TXT record"},
				},
			},
			check: func(t *testing.T, err error) {
				ce, ok := err.(*CompoundError)
				require.True(t, ok)
				assert.Equal(t, "compound", ce.Kind)
				require.Len(t, ce.Subproblems, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewFromProblem(tt.problem))
		})
	}
}

func TestAcmeErrorURNAndError(t *testing.T) {
	ae := &AcmeError{Kind: "badNonce", Detail: "nonce expired", Status: 400}
	assert.Equal(t, ErrorURNPrefix+"badNonce", ae.URN())
	assert.Contains(t, ae.Error(), "badNonce")
	assert.Contains(t, ae.Error(), "nonce expired")
}
