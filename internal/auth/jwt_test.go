package auth

import (
	"testing"
	"time"

	"paycore/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWT() *config.JWTConfig {
	return &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: time.Hour, Issuer: "paycore"}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := testJWT()
	tok, err := GenerateAccessToken(cfg, "donor-1", "DONOR")
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, tok)
	require.NoError(t, err)
	assert.Equal(t, "donor-1", claims.DonorID)
	assert.Equal(t, "DONOR", claims.Role)
}

func TestParseAccessToken_Rejects(t *testing.T) {
	cfg := testJWT()
	tok, err := GenerateAccessToken(cfg, "donor-1", "DONOR")
	require.NoError(t, err)

	other := *cfg
	other.AccessSecret = "different"
	_, err = ParseAccessToken(&other, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := *cfg
	expired.AccessExpiry = -time.Minute
	old, err := GenerateAccessToken(&expired, "donor-1", "DONOR")
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseAccessToken(cfg, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
