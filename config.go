package idgate

import (
	"errors"
	"time"
)

// Config groups all tunables of the engine. Populate it once, pass it to the
// builder, and treat it as immutable afterwards.
type Config struct {
	Tokens       TokenConfig
	Login        LoginConfig
	Session      SessionConfig
	Secrets      SecretConfig
	Verification VerificationConfig
	TOTP         TOTPConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Debug        DebugConfig
}

// TokenConfig controls the signed tokens the engine mints: short-lived access
// tokens and the step capsules that carry multi-step login state.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	StepTTL       time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// LoginConfig controls the multi-step login flow.
type LoginConfig struct {
	// MaxStepAttempts is the number of wrong answers a single step accepts
	// before the whole flow is voided.
	MaxStepAttempts int
	// RequireVerifiedEmail gates login-kind verification codes on the
	// address being confirmed.
	RequireVerifiedEmail bool
}

// SessionConfig controls the Redis-backed session records.
type SessionConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
	// MaxSessionsPerUser caps live sessions per user; zero means unlimited.
	MaxSessionsPerUser int
}

// SecretConfig controls argon2id hashing of passwords and client secrets.
type SecretConfig struct {
	Memory      uint32 // KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinPasswordLength gates SetUserPassword and reset confirmation.
	MinPasswordLength int
	UpgradeOnLogin    bool
}

// VerificationConfig controls one-time email codes (login, email
// confirmation, password reset).
type VerificationConfig struct {
	CodeTTL     time.Duration
	CodeDigits  int
	MaxAttempts int
	RedisPrefix string
}

// TOTPConfig controls the time-based second factor.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// AuditConfig controls the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DebugConfig controls diagnostic verbosity. Debug mode never changes an
// authorization outcome; it only widens what failures report about
// themselves.
type DebugConfig struct {
	// KeyHash is the SHA-256 of the shared debug key. Empty disables debug
	// requests entirely.
	KeyHash [32]byte
}

// DefaultConfig returns the baseline configuration [New] starts from.
// Callers override signing material and whatever else differs, then pass
// the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			StepTTL:       5 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
			MaxFutureIAT:  2 * time.Minute,
		},
		Login: LoginConfig{
			MaxStepAttempts:      5,
			RequireVerifiedEmail: true,
		},
		Session: SessionConfig{
			RedisPrefix: "ig",
			Lifetime:    7 * 24 * time.Hour,
		},
		Secrets: SecretConfig{
			Memory:            64 * 1024,
			Time:              3,
			Parallelism:       2,
			SaltLength:        16,
			KeyLength:         32,
			MinPasswordLength: 10,
			UpgradeOnLogin:    true,
		},
		Verification: VerificationConfig{
			CodeTTL:     10 * time.Minute,
			CodeDigits:  6,
			MaxAttempts: 5,
			RedisPrefix: "ig",
		},
		TOTP: TOTPConfig{
			Issuer: "idgate",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.PrivateKey = cloneBytes(cfg.Tokens.PrivateKey)
	out.Tokens.PublicKey = cloneBytes(cfg.Tokens.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internally inconsistent or insecure
// values. The builder calls it before constructing the engine.
func (c *Config) Validate() error {
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.StepTTL <= 0 {
		return errors.New("Tokens StepTTL must be > 0")
	}
	switch c.Tokens.SigningMethod {
	case "ed25519":
		if len(c.Tokens.PrivateKey) == 0 || len(c.Tokens.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.Tokens.PrivateKey) < 32 {
			return errors.New("hs256 requires PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported signing method")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.MaxFutureIAT < 0 {
		return errors.New("Tokens Leeway and MaxFutureIAT must be >= 0")
	}

	if c.Login.MaxStepAttempts <= 0 {
		return errors.New("Login MaxStepAttempts must be > 0")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.MaxSessionsPerUser < 0 {
		return errors.New("Session MaxSessionsPerUser must be >= 0")
	}

	if c.Secrets.Memory < 8*1024 {
		return errors.New("Secrets Memory must be >= 8192 KB")
	}
	if c.Secrets.Time < 1 {
		return errors.New("Secrets Time must be >= 1")
	}
	if c.Secrets.Parallelism < 1 {
		return errors.New("Secrets Parallelism must be >= 1")
	}
	if c.Secrets.SaltLength < 16 {
		return errors.New("Secrets SaltLength must be >= 16")
	}
	if c.Secrets.KeyLength < 16 {
		return errors.New("Secrets KeyLength must be >= 16")
	}
	if c.Secrets.MinPasswordLength < 8 {
		return errors.New("Secrets MinPasswordLength must be >= 8")
	}

	if c.Verification.CodeTTL <= 0 {
		return errors.New("Verification CodeTTL must be > 0")
	}
	if c.Verification.CodeDigits < 6 || c.Verification.CodeDigits > 10 {
		return errors.New("Verification CodeDigits must be between 6 and 10")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}
	if c.Verification.RedisPrefix == "" {
		return errors.New("Verification RedisPrefix is required")
	}

	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
