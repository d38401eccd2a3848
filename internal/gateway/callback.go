package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Signature"

// Callback is the body the processor posts when a payment settles.  One
// of OrderID, PaymentID or ParkingTransactionID identifies the payment.
type Callback struct {
	OrderID               string `json:"order_id"`
	PaymentID             uint64 `json:"payment_id"`
	ParkingTransactionID  uint64 `json:"parking_transaction_id"`
	Status                string `json:"status"`
	ExternalTransactionID string `json:"external_transaction_id"`
	MpesaTransactionID    string `json:"mpesa_transaction_id"`
}

// Reference returns the processor's transaction id, if any.
func (c Callback) Reference() string {
	if c.ExternalTransactionID != "" {
		return c.ExternalTransactionID
	}
	return c.MpesaTransactionID
}

// NormalizedStatus upper-cases and trims Status.
func (c Callback) NormalizedStatus() string {
	return strings.ToUpper(strings.TrimSpace(c.Status))
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// Verify reports whether sig is the signature of body under secret.  An
// optional "sha256=" prefix on sig is accepted.
func Verify(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hmac.Equal(got, m.Sum(nil))
}
