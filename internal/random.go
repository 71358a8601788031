package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// ID is a 128-bit random identifier used for sessions and login challenges.
type ID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
	clientSecretBytes   = 32
	clientSecretPrefix  = "igs_"
)

// NewID returns a fresh random ID.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

// String renders the ID as compact unpadded base64url.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID reverses [ID.String].
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}
	copy(id[:], raw)
	return id, nil
}

// NewRefreshSecret returns 32 bytes of entropy for a refresh token. Only
// its SHA-256 hash is ever persisted.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret hashes the refresh secret for storage and comparison.
func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashToken hashes an arbitrary secret string (verification codes, debug
// keys) for storage and constant-time comparison.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// EncodeRefreshToken frames sessionID||secret as one opaque bearer string.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque refresh token back into its session
// id and secret. Any framing defect is an error; the caller normalizes it.
func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid ID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}

// NewOTP returns a uniformly random numeric code of the given length,
// zero-padded. Lengths outside [6,10] are rejected.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	limit := big.NewInt(1)
	for i := 0; i < digits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}

	s := n.String()
	if pad := digits - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}

// NewClientSecret returns a fresh plaintext client secret. The prefix makes
// leaked secrets greppable without weakening entropy.
func NewClientSecret() (string, error) {
	raw := make([]byte, clientSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return clientSecretPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
