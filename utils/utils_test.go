package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("admin", "secret", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "Bearer "))

	subject, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	subject, err = ParseJWT(strings.TrimPrefix(token, "Bearer "), "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", subject, "prefix is optional")
}

func TestParseJWTRejects(t *testing.T) {
	valid, err := GenerateJWT("admin", "secret", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT("admin", "secret", -time.Minute)
	require.NoError(t, err)
	noSubject, err := GenerateJWT("", "secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "other"},
		{"expired", expired, "secret"},
		{"no subject", noSubject, "secret"},
		{"garbage", "Bearer not.a.token", "secret"},
		{"empty secret", valid, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJWT(tc.token, tc.secret)
			assert.Error(t, err)
		})
	}
}

func TestGenerateJWTNeedsSecret(t *testing.T) {
	_, err := GenerateJWT("admin", "", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
