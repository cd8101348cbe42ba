package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"subscription.updated"}`)
	secret := "whsec_test"

	assert.True(t, VerifyWebhookSignature(payload, sign(payload, secret), secret))

	// Upper-case hex is accepted.
	upper := sign(payload, secret)
	assert.True(t, VerifyWebhookSignature(payload, "  "+upper+"  ", secret))

	assert.False(t, VerifyWebhookSignature(payload, sign(payload, "wrong"), secret))
	assert.False(t, VerifyWebhookSignature([]byte("tampered"), sign(payload, secret), secret))
	assert.False(t, VerifyWebhookSignature(payload, "not-hex", secret))
	assert.False(t, VerifyWebhookSignature(payload, "", secret))
	assert.False(t, VerifyWebhookSignature(payload, sign(payload, secret), ""))
}
