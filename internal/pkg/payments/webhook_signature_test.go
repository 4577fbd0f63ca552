package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","credits":200}`)
	secret := "whsec_test"
	sig := signPayload(payload, secret)

	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{name: "valid signature", header: sig, secret: secret, want: true},
		{name: "valid with scheme prefix", header: "sha256=" + sig, secret: secret, want: true},
		{name: "valid uppercase hex", header: "SHA256=" + signPayload(payload, secret), secret: secret, want: true},
		{name: "wrong secret", header: sig, secret: "other", want: false},
		{name: "tampered signature", header: signPayload([]byte("tampered"), secret), secret: secret, want: false},
		{name: "garbage header", header: "not-hex", secret: secret, want: false},
		{name: "empty header", header: "", secret: secret, want: false},
		{name: "empty secret", header: sig, secret: "", want: false},
	}

	for _, tt := range tests {
		if got := VerifyWebhookSignature(payload, tt.header, tt.secret); got != tt.want {
			t.Fatalf("%s: VerifyWebhookSignature() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
