package idgate

import "time"

// SecurityReport summarizes the posture of a built engine for operators and
// compliance checks. It contains configuration facts only, never secrets.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	StepTTL               time.Duration
	Argon2                SecretConfigReport
	MaxStepAttempts       int
	VerifiedEmailForLogin bool
	SessionCapsActive     bool
	AuditEnabled          bool
	DebugKeyConfigured    bool
}

// SecretConfigReport mirrors the argon2id parameters in effect.
type SecretConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm: e.config.Tokens.SigningMethod,
		AccessTTL:        e.config.Tokens.AccessTTL,
		RefreshTTL:       e.config.Tokens.RefreshTTL,
		StepTTL:          e.config.Tokens.StepTTL,
		Argon2: SecretConfigReport{
			Memory:      e.config.Secrets.Memory,
			Time:        e.config.Secrets.Time,
			Parallelism: e.config.Secrets.Parallelism,
			SaltLength:  e.config.Secrets.SaltLength,
			KeyLength:   e.config.Secrets.KeyLength,
		},
		MaxStepAttempts:       e.config.Login.MaxStepAttempts,
		VerifiedEmailForLogin: e.config.Login.RequireVerifiedEmail,
		SessionCapsActive:     e.config.Session.MaxSessionsPerUser > 0,
		AuditEnabled:          e.config.Audit.Enabled,
		DebugKeyConfigured:    e.config.Debug.KeyHash != [32]byte{},
	}
}
