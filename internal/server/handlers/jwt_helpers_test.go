package handlers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/internal/server/access"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	cfg := JWTConfig{Secret: []byte("test-secret-key"), AccessTokenTTL: 15 * time.Minute}

	token, expiresIn, err := GenerateAccessToken(cfg, testPrincipal)
	require.NoError(t, err)
	assert.Equal(t, int64(900), expiresIn)

	claims, err := ValidateAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, testPrincipal, claims.Principal())
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, testPrincipal.UserID, claims.Subject)
}

func TestValidateAccessToken_Errors(t *testing.T) {
	cfg := JWTConfig{Secret: []byte("test-secret-key"), AccessTokenTTL: 15 * time.Minute}

	expired, _, err := GenerateAccessToken(JWTConfig{Secret: cfg.Secret, AccessTokenTTL: -time.Minute}, testPrincipal)
	require.NoError(t, err)

	wrongSecret, _, err := GenerateAccessToken(JWTConfig{Secret: []byte("other"), AccessTokenTTL: time.Minute}, testPrincipal)
	require.NoError(t, err)

	noUser, _, err := GenerateAccessToken(cfg, access.Principal{Username: "ghost"})
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	foreignIssuer, err := foreign.SignedString(cfg.Secret)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{UserID: "u1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expired},
		{name: "wrong secret", token: wrongSecret},
		{name: "missing user id", token: noUser},
		{name: "foreign issuer", token: foreignIssuer},
		{name: "none algorithm", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateAccessToken(cfg, tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}
