package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	token, err := Issue("secret", "user-1", Claims{Email: "ana@example.com"}, time.Hour)
	require.NoError(t, err)

	claims, err := NewVerifier("secret").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier("secret")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := Issue("other-secret", "user-1", Claims{}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Issue("secret", "user-1", Claims{}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	anonymous, err := Issue("secret", "", Claims{}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseUnverified(t *testing.T) {
	token, err := Issue("whatever", "user-9", Claims{UserMetadata: map[string]any{"full_name": "Ana"}}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID())
	assert.Equal(t, "Ana", claims.UserMetadata["full_name"])

	_, err = ParseUnverified("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
}
