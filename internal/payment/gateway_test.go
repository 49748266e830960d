package payment

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netflow-hotspot/netflow-server/internal/config"
	"github.com/netflow-hotspot/netflow-server/pkg/crypto"
)

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"255712345678", "255712345678"},
		{"+255712345678", "255712345678"},
		{"0712345678", "255712345678"},
		{"0652345678", "255652345678"},
		{"712345678", "255712345678"},
		{"652345678", "255652345678"},
		{"0712 345 678", "255712345678"},
		{"+255-712-345-678", "255712345678"},
		// Not recognizable as a Tanzanian mobile number, returned as digits.
		{"12345", "12345"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPhoneNumber(tt.in))
		})
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"reference":"NF-ABCDEF1234","status":"COMPLETED"}`)
	secret := "webhook-secret"
	hexSig := crypto.SignHMACSHA256(secret, body)

	raw, err := hex.DecodeString(hexSig)
	assert.NoError(t, err)
	b64Sig := base64.StdEncoding.EncodeToString(raw)

	gw := NewGateway(config.PaymentConfig{WebhookSecret: secret})

	assert.True(t, gw.VerifySignature(body, hexSig))
	assert.True(t, gw.VerifySignature(body, "sha256="+hexSig))
	assert.True(t, gw.VerifySignature(body, b64Sig))

	assert.False(t, gw.VerifySignature(body, "deadbeef"))
	assert.False(t, gw.VerifySignature(body, ""))
	assert.False(t, gw.VerifySignature([]byte("tampered"), hexSig))
}

func TestVerifySignatureNoSecret(t *testing.T) {
	gw := NewGateway(config.PaymentConfig{})

	// Development mode: no secret configured means every payload passes.
	assert.True(t, gw.VerifySignature([]byte("anything"), ""))
	assert.True(t, gw.VerifySignature([]byte("anything"), "bogus"))
}
