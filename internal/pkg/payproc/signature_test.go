package payproc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestVerifyEventSignature(t *testing.T) {
	payload := []byte(`{"type":"payment_succeeded"}`)
	secret := "top-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	validSig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyEventSignature(payload, validSig, secret) {
		t.Fatalf("expected signature to validate")
	}
	if !VerifyEventSignature(payload, "sha256="+validSig, secret) {
		t.Fatalf("expected prefixed signature to validate")
	}
	if VerifyEventSignature(payload, "deadbeef", secret) {
		t.Fatalf("expected invalid signature to fail")
	}
	if VerifyEventSignature(payload, validSig, "") {
		t.Fatalf("expected unconfigured secret to fail")
	}
	if VerifyEventSignature(payload, "", secret) {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestMinorToDecimal(t *testing.T) {
	tests := []struct {
		in   int64
		want float64
	}{
		{in: 0, want: 0},
		{in: 1999, want: 19.99},
		{in: 500, want: 5},
		{in: -250, want: -2.5},
	}

	for _, tt := range tests {
		if got := MinorToDecimal(tt.in); got != tt.want {
			t.Fatalf("MinorToDecimal(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecimalToMinor(t *testing.T) {
	if got := DecimalToMinor(5.00); got != 500 {
		t.Fatalf("DecimalToMinor(5.00) = %d, want 500", got)
	}
	if got := DecimalToMinor(19.995); got != 2000 {
		t.Fatalf("DecimalToMinor(19.995) = %d, want 2000", got)
	}
	if got := DecimalToMinor(-2.5); got != -250 {
		t.Fatalf("DecimalToMinor(-2.5) = %d, want -250", got)
	}
}
