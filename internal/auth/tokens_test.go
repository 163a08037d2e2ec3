package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/itdesk/internal/rbac"
)

func fixedIssuer(at time.Time) *TokenIssuer {
	tokens := NewTokenIssuer("unit-test-secret", 15*time.Minute)
	tokens.now = func() time.Time { return at }
	return tokens
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	tokens := fixedIssuer(now)

	raw, exp, err := tokens.Issue(&User{ID: 42, Username: "ana"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), exp)

	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "ana", claims.Username)
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	raw, _, err := fixedIssuer(now).Issue(&User{ID: 42})
	require.NoError(t, err)

	_, err = fixedIssuer(now.Add(time.Hour)).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongSecret(t *testing.T) {
	raw, _, err := NewTokenIssuer("one", time.Hour).Issue(&User{ID: 1})
	require.NoError(t, err)

	_, err = NewTokenIssuer("two", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolverPrefersBearer(t *testing.T) {
	tokens := NewTokenIssuer("secret", time.Hour)
	raw, _, err := tokens.Issue(&User{ID: 9, Username: "lee"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	id, err := NewResolver(tokens).Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, rbac.Identity{UserID: 9, Username: "lee"}, id)
	assert.True(t, IsBearer(req))
}

func TestResolverRejectsOtherSchemes(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	_, err := NewResolver(NewTokenIssuer("secret", time.Hour)).Resolve(req)

	var unauth *rbac.UnauthenticatedError
	assert.ErrorAs(t, err, &unauth)
	assert.False(t, IsBearer(req))
}

func TestResolverFallsBackToSession(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, err := NewResolver(NewTokenIssuer("secret", time.Hour)).Resolve(req)
	assert.ErrorIs(t, err, rbac.ErrNoIdentity)
}
