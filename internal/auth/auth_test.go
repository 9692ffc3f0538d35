package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

const testSecret = "test-secret"

func newAuth(t *testing.T, issuer string) *Authenticator {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, issuer)
	require.NoError(t, err)
	return NewAuthenticator(v)
}

func TestAuthenticateValidToken(t *testing.T) {
	a := newAuth(t, "")
	tok, err := Issue(testSecret, "", models.Identity{UserID: "D1", Role: models.RoleDriver}, time.Minute)
	require.NoError(t, err)

	for _, cred := range []string{tok, "Bearer " + tok, "bearer " + tok} {
		id, err := a.Authenticate(context.Background(), cred)
		require.NoError(t, err)
		assert.Equal(t, models.Identity{UserID: "D1", Role: models.RoleDriver}, id)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a := newAuth(t, "dispatch")
	good := models.Identity{UserID: "C1", Role: models.RoleCustomer}

	expired, err := Issue(testSecret, "dispatch", good, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Issue("other-secret", "dispatch", good, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := Issue(testSecret, "someone-else", good, time.Minute)
	require.NoError(t, err)
	badRole, err := Issue(testSecret, "dispatch", models.Identity{UserID: "X", Role: "root"}, time.Minute)
	require.NoError(t, err)
	noExp, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, &Claims{
		Role:             "customer",
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "C1", Issuer: "dispatch"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"blank bearer": "Bearer   ",
		"malformed":    "not-a-jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"bad role":     badRole,
		"no expiry":    noExp,
	}
	for name, cred := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), cred)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
			assert.NotContains(t, apperr.PublicMessage(err), "signature")
		})
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier("  ", "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	got, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "q", got)

	r.Header.Set("Authorization", "Bearer h")
	got, err = FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "Bearer h", got)

	_, err = FromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrNoCredential)
}
