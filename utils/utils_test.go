package utils

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hash)

	assert.NoError(t, CheckPassword(hash, "correct horse battery"))
	assert.Error(t, CheckPassword(hash, "correct horse batterz"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@Example.COM "))
	// fullwidth letters fold under NFKC
	assert.Equal(t, "abc@example.com", NormalizeEmail("ＡＢＣ@example.com"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("jane@example.com"))
	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("jane"))
	assert.False(t, ValidEmail("jane@localhost"))
	assert.False(t, ValidEmail("Jane <jane@example.com>"))
}

func TestGenerateOneTimePasswordRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		otp, err := GenerateOneTimePassword()
		require.NoError(t, err)
		require.Len(t, otp, 6)
		n, err := strconv.Atoi(otp)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestGenerateResetToken(t *testing.T) {
	a, err := GenerateResetToken()
	require.NoError(t, err)
	b, err := GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, a, 40)
	assert.NotEqual(t, a, b)
}

func TestHashAndVerifySecret(t *testing.T) {
	h := HashSecret("123456")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashSecret("123456"))
	assert.True(t, VerifySecret("123456", h))
	assert.False(t, VerifySecret("123457", h))
	assert.False(t, VerifySecret("123456", ""))
}

func newCodec(t *testing.T) *TokenCodec {
	t.Helper()
	tc, err := NewTokenCodec("access-secret", "refresh-secret", "test")
	require.NoError(t, err)
	return tc
}

func TestNewTokenCodecRejectsSharedSecret(t *testing.T) {
	_, err := NewTokenCodec("same", "same", "")
	assert.Error(t, err)
	_, err = NewTokenCodec("", "x", "")
	assert.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	tc := newCodec(t)
	tok, err := tc.SignAccessToken("u1", "jane@example.com", "USER", "d1", time.Minute)
	require.NoError(t, err)

	claims, err := tc.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.Equal(t, "USER", claims.Role)
	assert.Equal(t, "d1", claims.DeviceID)
}

func TestRefreshTokenNotAcceptedAsAccess(t *testing.T) {
	tc := newCodec(t)
	refresh, err := tc.SignRefreshToken("u1", "d1", time.Hour)
	require.NoError(t, err)

	_, err = tc.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	claims, err := tc.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "d1", claims.DeviceID)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	tc := newCodec(t)
	a, err := tc.SignRefreshToken("u1", "d1", time.Hour)
	require.NoError(t, err)
	b, err := tc.SignRefreshToken("u1", "d1", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestExpiredToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tc := newCodec(t).WithClock(func() time.Time { return now })
	tok, err := tc.SignAccessToken("u1", "", "USER", "", time.Minute)
	require.NoError(t, err)

	later := tc.WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = later.VerifyAccessToken(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestGarbageToken(t *testing.T) {
	tc := newCodec(t)
	_, err := tc.VerifyRefreshToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = tc.VerifyRefreshToken("")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
