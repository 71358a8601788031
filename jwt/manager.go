package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm for all tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA; verification uses the public key.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs and verifies with a shared symmetric key.
	MethodHS256 SigningMethod = "hs256"
)

// Config holds signing material and validation hardening knobs.
type Config struct {
	AccessTTL     time.Duration
	StepTTL       time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// Manager issues and parses tokens. Immutable after construction.
type Manager struct {
	config Config
}

// AccessClaims is the payload of an access token. Claims are kept compact:
// the session record, not the token, is authoritative for roles.
type AccessClaims struct {
	UID string   `json:"uid"`
	SID string   `json:"sid"`
	Scp []string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// StepClaims is the payload of a login state capsule. It carries the whole
// continuation state of an in-progress login: the factor still required,
// the bounded failure counter, and the opaque challenge id echoed to the
// caller as the step code.
type StepClaims struct {
	Step        string `json:"stp"`
	Email       string `json:"eml,omitempty"`
	UID         string `json:"uid,omitempty"`
	ChallengeID string `json:"cid"`
	Attempts    int    `json:"att"`
	TOTPPending bool   `json:"tpd,omitempty"`
	jwt.RegisteredClaims
}

const (
	tokenUseClaim = "use"
	useAccess     = "access"
	useStep       = "step"
)

// NewManager validates the config and returns a token manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL configuration")
	}
	if cfg.StepTTL <= 0 {
		return nil, errors.New("invalid step TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess signs an access token for the given session.
func (m *Manager) CreateAccess(uid, sid string, scopes []string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UID: uid,
		SID: sid,
		Scp: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	return m.sign(jwt.NewWithClaims(m.method(), claims), useAccess)
}

// ParseAccess verifies signature, expiry, and issuer, and rejects tokens
// issued too far in the future or signed for a different use.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, useAccess); err != nil {
		return nil, err
	}
	return claims, nil
}

// CreateStep signs a login state capsule. The capsule's expiry is
// independent of any store lookup; a stale capsule fails parsing.
func (m *Manager) CreateStep(claims StepClaims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(m.config.StepTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    m.config.Issuer,
	}
	return m.sign(jwt.NewWithClaims(m.method(), claims), useStep)
}

// ParseStep verifies and decodes a login state capsule.
func (m *Manager) ParseStep(tokenStr string) (*StepClaims, error) {
	claims := &StepClaims{}
	if err := m.parse(tokenStr, claims, useStep); err != nil {
		return nil, err
	}
	if claims.ChallengeID == "" {
		return nil, errors.New("step capsule missing challenge id")
	}
	return claims, nil
}

func (m *Manager) sign(token *jwt.Token, use string) (string, error) {
	token.Header[tokenUseClaim] = use

	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, wantUse string) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		// An access token must never be replayable as a step capsule, nor
		// the reverse.
		if use, _ := t.Header[tokenUseClaim].(string); use != wantUse {
			return nil, errors.New("token use mismatch")
		}
		return m.verifyKey()
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}

	if iat, iatErr := claims.GetIssuedAt(); iatErr == nil && iat != nil && m.config.MaxFutureIAT > 0 {
		if iat.Time.After(time.Now().Add(m.config.MaxFutureIAT)) {
			return errors.New("token iat too far in the future")
		}
	}
	return nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
