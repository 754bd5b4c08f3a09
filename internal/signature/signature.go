// Package signature proves that a payment callback was produced by the gateway.
//
// The gateway signs `orderId|remotePaymentRef` with the shared secret using HMAC-SHA256 and
// sends the lowercase hex digest along with the callback.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const separator = "|"

// Sign returns the hex digest the gateway is expected to send for the pair.
func Sign(orderID, remotePaymentRef, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + separator + remotePaymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of the pair under secret.
// Any malformed input yields false.
func Verify(orderID, remotePaymentRef, provided, secret string) bool {
	if orderID == "" || remotePaymentRef == "" || provided == "" || secret == "" {
		return false
	}
	// the separator must not be forgeable by shifting it between the two fields
	if strings.Contains(orderID, separator) || strings.Contains(remotePaymentRef, separator) {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + separator + remotePaymentRef))
	return hmac.Equal(mac.Sum(nil), got)
}
