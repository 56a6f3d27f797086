package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayment computes the checkout confirmation signature for a payment.
func SignPayment(secret, paymentID, gatewaySubscriptionID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(paymentID + "|" + gatewaySubscriptionID))
	return hex.EncodeToString(mac.Sum(nil))
}

func validPaymentSignature(secret, paymentID, gatewaySubscriptionID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignPayment(secret, paymentID, gatewaySubscriptionID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
