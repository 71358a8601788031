package idgate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nmoreaux/idgate/internal"
	"github.com/nmoreaux/idgate/internal/audit"
)

// IssueVerificationCode creates a one-time code for the given purpose and
// stores only its hash. Issuing replaces any earlier live code for the same
// (kind, email) pair. Login codes require a verified address when the
// engine is configured to demand one; verification codes do not, since
// proving the address is their whole point.
func (e *Engine) IssueVerificationCode(ctx context.Context, kind VerificationKind, email string) (*VerificationIssue, error) {
	if e == nil || e.codes == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)

	rec, err := e.directory.GetEmail(ctx, email)
	if err != nil {
		return nil, ErrNotFound
	}
	user, err := e.directory.GetUserByID(ctx, rec.UserID)
	if err != nil || !user.active() {
		return nil, ErrUnauthenticated
	}
	if kind == KindLogin && e.config.Login.RequireVerifiedEmail && rec.VerifiedAt == nil {
		return nil, ErrForbidden
	}

	return e.issueCode(ctx, kind, email, rec, user)
}

func (e *Engine) issueLoginCode(ctx context.Context, email string, rec EmailRecord, user UserRecord) (*VerificationIssue, error) {
	if e.config.Login.RequireVerifiedEmail && rec.VerifiedAt == nil {
		return nil, ErrForbidden
	}
	return e.issueCode(ctx, KindLogin, email, rec, user)
}

func (e *Engine) issueCode(ctx context.Context, kind VerificationKind, email string, rec EmailRecord, user UserRecord) (*VerificationIssue, error) {
	code, err := internal.NewOTP(e.config.Verification.CodeDigits)
	if err != nil {
		return nil, err
	}
	userToken := uuid.NewString()

	expiresAt := time.Now().Add(e.config.Verification.CodeTTL)
	record := &codeRecord{
		CodeHash:  internal.HashToken(code),
		UserToken: userToken,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.codes.Save(ctx, kind, email, record, e.config.Verification.CodeTTL); err != nil {
		return nil, err
	}

	if e.sender != nil {
		if err := e.sender.Send(ctx, email, kind, code, userToken); err != nil {
			// A code nobody received must not stay consumable.
			_ = e.codes.Delete(ctx, kind, email)
			return nil, err
		}
	}

	e.metricInc(MetricCodeIssued)
	e.emitAudit(ctx, auditEventCodeIssued, audit.SeverityInfo, "", user.UserID, "", true, nil, func() map[string]string {
		return map[string]string{"kind": string(kind), "token": userToken}
	})

	return &VerificationIssue{Code: code, UserToken: userToken, ExpiresAt: expiresAt}, nil
}

// ConsumeVerificationCode redeems a code and returns the user token it was
// issued with. Success is single-shot: the record is deleted before this
// returns, so redeeming the same code twice fails the second time exactly
// like an unknown code.
func (e *Engine) ConsumeVerificationCode(ctx context.Context, kind VerificationKind, email, code string) (string, error) {
	if e == nil || e.codes == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)

	record, err := e.codes.Consume(ctx, kind, email, code, e.config.Verification.MaxAttempts)
	if err != nil {
		e.metricInc(MetricCodeRejected)
		e.emitAudit(ctx, auditEventCodeRejected, audit.SeverityWarn, "", "", "", false, ErrCodeExpiredOrInvalid, func() map[string]string {
			return map[string]string{"kind": string(kind)}
		})
		switch {
		case errors.Is(err, errCodeNotFound),
			errors.Is(err, errCodeMismatch),
			errors.Is(err, errCodeAttemptsExceeded):
			return "", ErrCodeExpiredOrInvalid
		default:
			return "", err
		}
	}

	e.metricInc(MetricCodeConsumed)
	e.emitAudit(ctx, auditEventCodeConsumed, audit.SeverityInfo, "", "", "", true, nil, func() map[string]string {
		return map[string]string{"kind": string(kind), "token": record.UserToken}
	})
	return record.UserToken, nil
}

// ConfirmEmail redeems a verification-kind code and marks the address
// verified.
func (e *Engine) ConfirmEmail(ctx context.Context, email, code string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)

	if _, err := e.ConsumeVerificationCode(ctx, KindVerification, email, code); err != nil {
		return err
	}
	if err := e.directory.MarkEmailVerified(ctx, email); err != nil {
		return err
	}

	rec, err := e.directory.GetEmail(ctx, email)
	if err == nil {
		e.metricInc(MetricEmailVerified)
		e.emitAudit(ctx, auditEventEmailVerified, audit.SeverityInfo, "", rec.UserID, "", true, nil, nil)
	}
	return nil
}

// RequestPasswordReset issues a verification-kind code bound to the
// account's verified address. Resets through an unverified address are
// refused outright.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*VerificationIssue, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)

	rec, err := e.directory.GetEmail(ctx, email)
	if err != nil {
		return nil, ErrNotFound
	}
	if rec.VerifiedAt == nil {
		return nil, ErrForbidden
	}
	user, err := e.directory.GetUserByID(ctx, rec.UserID)
	if err != nil || !user.active() {
		return nil, ErrUnauthenticated
	}

	issue, err := e.issueCode(ctx, KindVerification, email, rec, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordResetRequest)
	return issue, nil
}

// ConfirmPasswordReset redeems the reset code, installs the new password,
// and revokes every session of the user so stolen tokens die with the old
// credential.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)

	if len(newPassword) < e.config.Secrets.MinPasswordLength {
		return ErrPasswordPolicy
	}

	if _, err := e.ConsumeVerificationCode(ctx, KindVerification, email, code); err != nil {
		return err
	}

	rec, err := e.directory.GetEmail(ctx, email)
	if err != nil {
		return ErrNotFound
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdateUserPasswordHash(ctx, rec.UserID, newHash); err != nil {
		return err
	}
	if _, err := e.RevokeAllSessions(ctx, rec.UserID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordReset, audit.SeverityHigh, "", rec.UserID, "", true, nil, nil)
	return nil
}
