package idgate

import (
	"strings"
	"testing"
	"time"
)

// RFC 4226 appendix D vectors, secret "12345678901234567890".
func TestHOTPReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	for counter, expected := range want {
		if got := hotpCode(secret, int64(counter), 6); got != expected {
			t.Fatalf("counter %d: expected %s, got %s", counter, expected, got)
		}
	}
}

// RFC 6238 appendix B vectors for the SHA-1 mode, 8 digits.
func TestTOTPReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	cases := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}

	for _, tc := range cases {
		counter := tc.unix / 30
		if got := hotpCode(secret, counter, 8); got != tc.want {
			t.Fatalf("time %d: expected %s, got %s", tc.unix, tc.want, got)
		}
	}
}

func TestVerifyCodeSkewWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "idgate", Period: 30, Digits: 6, Skew: 1})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111109, 0)
	base := now.Unix() / 30

	for _, offset := range []int64{-1, 0, 1} {
		code := hotpCode(secret, base+offset, 6)
		ok, counter, err := m.VerifyCode(secret, code, now)
		if err != nil || !ok {
			t.Fatalf("offset %d: expected match, got ok=%v err=%v", offset, ok, err)
		}
		if counter != base+offset {
			t.Fatalf("offset %d: expected counter %d, got %d", offset, base+offset, counter)
		}
	}

	// Two steps out is beyond the window.
	outside := hotpCode(secret, base+2, 6)
	if ok, _, err := m.VerifyCode(secret, outside, now); err != nil || ok {
		t.Fatalf("expected out-of-window code to fail, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyCodeInputHygiene(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "idgate", Period: 30, Digits: 6, Skew: 1})
	secret := []byte("12345678901234567890")
	now := time.Unix(1111111109, 0)
	code := hotpCode(secret, now.Unix()/30, 6)

	// Surrounding whitespace is forgiven; anything else is not.
	if ok, _, err := m.VerifyCode(secret, "  "+code+" ", now); err != nil || !ok {
		t.Fatalf("expected trimmed code to match, got ok=%v err=%v", ok, err)
	}
	for _, bad := range []string{"", "12345", "1234567", "12a456"} {
		if ok, _, err := m.VerifyCode(secret, bad, now); err != nil || ok {
			t.Fatalf("expected %q to fail, got ok=%v err=%v", bad, ok, err)
		}
	}

	if _, _, err := m.VerifyCode(nil, code, now); err == nil {
		t.Fatal("expected empty secret to error")
	}
}

func TestProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "idgate", Period: 30, Digits: 6, Skew: 1})

	_, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if strings.Contains(encoded, "=") {
		t.Fatal("expected unpadded base32 secret")
	}

	uri := m.ProvisionURI(encoded, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/idgate:alice@example.com?") {
		t.Fatalf("unexpected URI prefix: %s", uri)
	}
	for _, part := range []string{"secret=" + encoded, "issuer=idgate", "period=30", "digits=6", "algorithm=SHA1"} {
		if !strings.Contains(uri, part) {
			t.Fatalf("URI missing %q: %s", part, uri)
		}
	}
}
