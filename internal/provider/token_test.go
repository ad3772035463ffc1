package provider

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_Bearer(t *testing.T) {
	t.Parallel()

	issued := time.Unix(1700000000, 0)
	signer := NewTokenSigner("ak-123", "s3cret")
	signer.now = func() time.Time { return issued }

	raw, err := signer.Bearer()
	require.NoError(t, err)

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		require.IsType(t, &jwt.SigningMethodHMAC{}, token.Method)
		return []byte("s3cret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return issued }))
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "ak-123", claims["iss"])
	assert.Equal(t, float64(issued.Add(defaultTokenTTL).Unix()), claims["exp"])
	assert.Equal(t, float64(issued.Add(-5*time.Second).Unix()), claims["nbf"])
}

func TestTokenSigner_Bearer_FreshPerCall(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("ak-123", "s3cret")

	base := time.Unix(1700000000, 0)
	signer.now = func() time.Time { return base }
	first, err := signer.Bearer()
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(time.Minute) }
	second, err := signer.Bearer()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenSigner_WrongSecretRejected(t *testing.T) {
	t.Parallel()

	signer := NewTokenSigner("ak-123", "s3cret")

	raw, err := signer.Bearer()
	require.NoError(t, err)

	_, err = jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte("other"), nil
	})
	assert.Error(t, err)
}
