package internal

import (
	"strings"
	"testing"
)

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}

	s := id.String()
	if len(s) != 22 {
		t.Fatalf("expected 22-char id, got %q", s)
	}

	parsed, err := ParseID(s)
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}
	if parsed != id {
		t.Fatal("id changed in round trip")
	}

	if _, err := ParseID("short"); err == nil {
		t.Fatal("expected short id to fail")
	}
	if _, err := ParseID("not+valid+base64url!!"); err == nil {
		t.Fatal("expected invalid encoding to fail")
	}
}

func TestRefreshTokenFraming(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}

	token, err := EncodeRefreshToken(id.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	sid, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken failed: %v", err)
	}
	if sid != id.String() {
		t.Fatalf("expected session id %q, got %q", id.String(), sid)
	}
	if gotSecret != secret {
		t.Fatal("secret changed in round trip")
	}

	if _, _, err := DecodeRefreshToken("garbage!"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
	if _, _, err := DecodeRefreshToken(token[:10]); err == nil {
		t.Fatal("expected truncated token to fail")
	}
	if _, err := EncodeRefreshToken("not-an-id", secret); err == nil {
		t.Fatal("expected bad session id to fail")
	}
}

func TestHashRefreshSecretIsStable(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) != HashRefreshSecret(secret) {
		t.Fatal("expected deterministic hash")
	}

	other, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if HashRefreshSecret(secret) == HashRefreshSecret(other) {
		t.Fatal("expected distinct hashes for distinct secrets")
	}
}

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("expected %d digits, got %q", digits, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}

	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("expected NewOTP(%d) to fail", digits)
		}
	}
}

func TestNewClientSecret(t *testing.T) {
	a, err := NewClientSecret()
	if err != nil {
		t.Fatalf("NewClientSecret failed: %v", err)
	}
	if !strings.HasPrefix(a, "igs_") {
		t.Fatalf("expected igs_ prefix, got %q", a)
	}

	b, err := NewClientSecret()
	if err != nil {
		t.Fatalf("NewClientSecret failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct secrets")
	}
}

func TestHashTokenIsDeterministic(t *testing.T) {
	a := HashToken("let-me-look")
	b := HashToken("let-me-look")
	if a != b {
		t.Fatal("expected identical hashes for identical tokens")
	}
	if a == HashToken("let-me-look!") {
		t.Fatal("expected different hashes for different tokens")
	}
	if a == ([32]byte{}) {
		t.Fatal("expected a nonzero hash")
	}
}
