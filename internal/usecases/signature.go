package usecases

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureVerifier proves a payment callback originated from the gateway.
// The gateway signs the byte sequence "<orderID>|<paymentID>" with HMAC-SHA256
// under the shared webhook secret and sends the result as lowercase hex.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if secret == "" {
		return nil, errors.New("gateway webhook secret is not configured")
	}
	return &SignatureVerifier{secret: []byte(secret)}, nil
}

// Verify recomputes the signature and compares it in constant time. The
// claimed value is decoded from hex first, which also makes the comparison
// case-insensitive on the hex alphabet. Any malformed input fails closed.
func (v *SignatureVerifier) Verify(orderID, paymentID, claimed string) bool {
	claimedMAC, err := hex.DecodeString(claimed)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))

	return hmac.Equal(mac.Sum(nil), claimedMAC)
}
