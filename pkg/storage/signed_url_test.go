package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("test_secret", time.Minute)

	token, expiresAt, err := signer.Generate("enr-1", "enr-1/proof.jpg")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	enrollmentID, relPath, _, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "enr-1", enrollmentID)
	require.Equal(t, "enr-1/proof.jpg", relPath)
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("test_secret", time.Minute)

	token, _, err := signer.Generate("enr-1", "enr-1/proof.jpg")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token + "x")
	require.Error(t, err)
}

func TestSignedURLRejectsWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("test_secret", time.Minute)
	other := NewSignedURLSigner("other_secret", time.Minute)

	token, _, err := signer.Generate("enr-1", "enr-1/proof.jpg")
	require.NoError(t, err)

	_, _, _, err = other.Parse(token)
	require.Error(t, err)
}

func TestSignedURLRejectsExpired(t *testing.T) {
	signer := &SignedURLSigner{secret: []byte("test_secret"), ttl: -time.Minute}

	token, _, err := signer.Generate("enr-1", "enr-1/proof.jpg")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token)
	require.Error(t, err)
}

func TestSignedURLRequiresFields(t *testing.T) {
	signer := NewSignedURLSigner("test_secret", time.Minute)

	_, _, err := signer.Generate("", "path")
	require.Error(t, err)

	_, _, err = signer.Generate("enr-1", "")
	require.Error(t, err)
}
