package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	raw, err := hex.DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestSign(t *testing.T) {
	// echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	got := Sign("secret", []byte("payload"))
	assert.Equal(t, "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4", got)
}

func TestVerify(t *testing.T) {
	secret := "0f3b2a1c"
	payload := []byte(`{"event":"integration.connected"}`)

	sig := Sign(secret, payload)
	assert.True(t, Verify(secret, payload, sig))
	assert.False(t, Verify(secret, payload, sig[:len(sig)-1]+"0"))
	assert.False(t, Verify("wrong", payload, sig))
	assert.False(t, Verify(secret, []byte("tampered"), sig))
}
