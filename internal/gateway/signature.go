package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayment computes the hex HMAC-SHA256 the provider issues for a
// completed payment: the message is "providerOrderID|paymentID".
func SignPayment(secret []byte, providerOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(providerOrderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBody computes the hex HMAC-SHA256 over a raw webhook body. The
// signature covers raw bytes, not re-encoded JSON, so formatting differences
// can never cause a mismatch.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares an expected hex signature to a provided one in constant
// time. Possession of the shared secret is the only proof of origin here;
// no provider API call is made.
func verify(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(provided))
}
