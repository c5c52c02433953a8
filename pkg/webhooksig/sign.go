// Package webhooksig computes and verifies the HMAC-SHA256 signature the
// Webhook Delivery service attaches to every outgoing POST, in the same
// "sha256=<hex>" shape GitHub and Stripe webhooks use.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HeaderName is the HTTP header the signature is sent under.
const HeaderName = "X-Webhook-Signature"

// ErrInvalidSignature is returned by Verify when the signature doesn't match.
var ErrInvalidSignature = errors.New("webhooksig: invalid signature")

// Sign computes the "sha256=<hex>" signature of body under secret.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the correct "sha256=<hex>" signature
// of body under secret, using a constant-time comparison so the check
// leaks no timing information about the correct value.
func Verify(secret []byte, body []byte, signature string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, prefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
