package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCodec_RoundTrip(t *testing.T) {
	c := newStateCodec("a-test-secret-key-value-0123456789")
	encoded, err := c.encode("https://app.example.com/cb", "portal", "xyz", time.Now())
	require.NoError(t, err)

	decoded, err := c.decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", decoded.RedirectURI)
	assert.Equal(t, "portal", decoded.ClientID)
	assert.Equal(t, "xyz", decoded.OriginalState)
}

func TestStateCodec_RejectsWrongKey(t *testing.T) {
	a := newStateCodec("secret-a-0123456789012345678901234")
	b := newStateCodec("secret-b-0123456789012345678901234")

	encoded, err := a.encode("https://app.example.com/cb", "portal", "", time.Now())
	require.NoError(t, err)

	_, err = b.decode(encoded)
	assert.Error(t, err)
}

func TestStateCodec_RejectsExpiredState(t *testing.T) {
	c := newStateCodec("a-test-secret-key-value-0123456789")
	encoded, err := c.encode("https://app.example.com/cb", "portal", "", time.Now().Add(-1*time.Hour))
	require.NoError(t, err)

	_, err = c.decode(encoded)
	assert.Error(t, err)
}
