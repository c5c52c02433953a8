package webhooksig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("top-secret-key")
	body := []byte(`{"chain_id":"1","tx_hash":"0xabc"}`)

	sig := Sign(secret, body)
	assert.True(t, len(sig) > len("sha256="))

	err := Verify(secret, body, sig)
	require.NoError(t, err)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := []byte("top-secret-key")
	sig := Sign(secret, []byte("original"))

	err := Verify(secret, []byte("tampered"), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	sig := Sign([]byte("secret-a"), body)

	err := Verify([]byte("secret-b"), body, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	cases := []string{
		"",
		"not-even-hex",
		"sha256=zzzz",
		"sha1=abcd",
	}
	for _, sig := range cases {
		err := Verify([]byte("secret"), []byte("payload"), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature, "signature %q should be rejected", sig)
	}
}
