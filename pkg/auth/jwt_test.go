package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iamasit07/broadside/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("alice", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	token, err := NewVerifier("one").Issue("alice", time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier("two").Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("alice", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestAuthenticateSources(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("bob", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func(r *http.Request)
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: httputil.AuthCookieName, Value: token}) }},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + token }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/lobby", nil)
			tt.build(r)

			user, err := v.Authenticate(r)
			require.NoError(t, err)
			assert.Equal(t, "bob", user)
		})
	}

	_, err = v.Authenticate(httptest.NewRequest(http.MethodGet, "/ws/lobby", nil))
	assert.Error(t, err)
}
