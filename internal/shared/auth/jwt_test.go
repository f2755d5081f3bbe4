package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	token, err := SignJWT(Claims{Sub: "user-1", Email: "a@example.com"})
	require.NoError(t, err)

	claims, err := VerifyJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, Issuer, claims.Iss)
	assert.Equal(t, int64(DefaultTTL/time.Second), claims.Exp-claims.Iat)
}

func TestVerifyRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	good, err := SignJWT(Claims{Sub: "user-1"})
	require.NoError(t, err)

	parts := strings.Split(good, ".")
	otherIssuer, err := SignJWT(Claims{Sub: "user-1", Iss: "someone-else"})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":       "not-a-token",
		"bad signature": parts[0] + "." + parts[1] + ".AAAA",
		"wrong issuer":  otherIssuer,
	} {
		_, err := VerifyJWT(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	t.Setenv("JWT_SECRET", "rotated")
	_, err = VerifyJWT(good)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return issued }
	t.Cleanup(func() { now = time.Now })

	token, err := SignJWT(Claims{Sub: "user-1"})
	require.NoError(t, err)

	now = func() time.Time { return issued.Add(DefaultTTL + time.Second) }
	_, err = VerifyJWT(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENV", "production")
	_, err := SignJWT(Claims{Sub: "user-1"})
	assert.ErrorIs(t, err, errMissingSecret)
}
