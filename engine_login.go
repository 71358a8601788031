package idgate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nmoreaux/idgate/internal"
	"github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/jwt"
)

// BeginLogin starts a login flow for the given email address and returns the
// first step the caller must complete: the password for users that have one,
// an emailed one-time code otherwise. Unknown, banned, and deleted
// identities all fail with the same error so the endpoint cannot be used to
// probe for accounts.
func (e *Engine) BeginLogin(ctx context.Context, email string) (*LoginResult, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)

	rec, err := e.directory.GetEmail(ctx, email)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, audit.SeverityWarn, "", "", "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"reason": "email_not_found"}
		})
		return nil, ErrUnauthenticated
	}

	user, err := e.directory.GetUserByID(ctx, rec.UserID)
	if err != nil || !user.active() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, audit.SeverityWarn, "", rec.UserID, "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"reason": "inactive_user"}
		})
		return nil, ErrUnauthenticated
	}

	cid, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	challengeID := cid.String()

	step := StepPassword
	if user.PasswordHash == "" {
		// No password on file: authentication starts with an emailed code.
		if _, err := e.issueLoginCode(ctx, email, rec, user); err != nil {
			return nil, err
		}
		step = StepCode
	}

	state, err := e.tokens.CreateStep(jwt.StepClaims{
		Step:        step,
		Email:       email,
		UID:         user.UserID,
		ChallengeID: challengeID,
		TOTPPending: user.TwoFactorEnabled,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricStepIssued)
	e.emitAudit(ctx, auditEventLoginStepIssued, audit.SeverityInfo, "", user.UserID, "", true, nil, func() map[string]string {
		return map[string]string{"step": step, "challenge": challengeID}
	})

	return &LoginResult{Step: &StepResponse{
		T:     "step",
		Step:  step,
		Code:  challengeID,
		State: state,
	}}, nil
}

// AdvanceLogin resumes a flow with the state capsule from the previous
// response and the caller's answer for the pending step. A wrong answer
// burns one attempt but leaves the capsule valid; once the budget is spent
// the whole flow is voided and the caller must start over. A tampered or
// expired capsule voids the flow immediately.
func (e *Engine) AdvanceLogin(ctx context.Context, state, value string) (*LoginResult, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseStep(state)
	if err != nil {
		e.metricInc(MetricStepRejected)
		e.emitAudit(ctx, auditEventLoginVoided, audit.SeverityWarn, "", "", "", false, ErrStepExpiredOrInvalid, func() map[string]string {
			return map[string]string{"reason": "capsule_invalid"}
		})
		return nil, ErrStepExpiredOrInvalid
	}

	// The counter lives server side, so replaying an older capsule cannot
	// buy extra attempts.
	failures, err := e.attempts.Failures(ctx, claims.ChallengeID)
	if err != nil {
		return nil, err
	}
	if failures >= e.config.Login.MaxStepAttempts {
		e.metricInc(MetricStepAttemptsExceeded)
		return nil, ErrStepExpiredOrInvalid
	}

	user, err := e.directory.GetUserByID(ctx, claims.UID)
	if err != nil || !user.active() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, audit.SeverityWarn, "", claims.UID, "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"reason": "inactive_user", "step": claims.Step}
		})
		return nil, ErrUnauthenticated
	}

	var ok bool
	switch claims.Step {
	case StepPassword:
		ok, err = e.checkPassword(ctx, user, value)
	case StepCode:
		ok, err = e.checkLoginCode(ctx, claims.Email, value)
	case StepTOTP:
		ok, err = e.checkTOTP(ctx, user, value)
	default:
		return nil, ErrStepExpiredOrInvalid
	}
	if err != nil {
		return nil, err
	}

	if !ok {
		count, err := e.attempts.RecordFailure(ctx, claims.ChallengeID, e.config.Tokens.StepTTL)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricStepRejected)
		if count >= e.config.Login.MaxStepAttempts {
			e.metricInc(MetricStepAttemptsExceeded)
			e.emitAudit(ctx, auditEventLoginVoided, audit.SeverityHigh, "", user.UserID, "", false, ErrStepExpiredOrInvalid, func() map[string]string {
				return map[string]string{"step": claims.Step, "attempts": strconv.Itoa(count)}
			})
			return nil, ErrStepExpiredOrInvalid
		}
		e.emitAudit(ctx, auditEventLoginStepRejected, audit.SeverityWarn, "", user.UserID, "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"step": claims.Step, "attempts": strconv.Itoa(count)}
		})
		return nil, ErrUnauthenticated
	}

	// Second factor still outstanding: hand back a fresh capsule for it.
	if claims.TOTPPending && claims.Step != StepTOTP {
		state, err := e.tokens.CreateStep(jwt.StepClaims{
			Step:        StepTOTP,
			Email:       claims.Email,
			UID:         claims.UID,
			ChallengeID: claims.ChallengeID,
		})
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricStepIssued)
		e.emitAudit(ctx, auditEventLoginStepIssued, audit.SeverityInfo, "", user.UserID, "", true, nil, func() map[string]string {
			return map[string]string{"step": StepTOTP, "challenge": claims.ChallengeID}
		})
		return &LoginResult{Step: &StepResponse{
			T:     "step",
			Step:  StepTOTP,
			Code:  claims.ChallengeID,
			State: state,
		}}, nil
	}

	e.attempts.Clear(ctx, claims.ChallengeID)

	authn, err := e.mintSession(ctx, user, nil)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, audit.SeverityInfo, "", user.UserID, "", true, nil, nil)

	return &LoginResult{Session: authn}, nil
}

func (e *Engine) checkPassword(ctx context.Context, user UserRecord, password string) (bool, error) {
	if password == "" || user.PasswordHash == "" {
		return false, nil
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return false, nil
	}

	if e.config.Secrets.UpgradeOnLogin {
		if stale, err := e.hasher.NeedsRehash(user.PasswordHash); err == nil && stale {
			if newHash, err := e.hasher.Hash(password); err == nil {
				// Best effort: a failed rehash must not block the login.
				_ = e.directory.UpdateUserPasswordHash(ctx, user.UserID, newHash)
			}
		}
	}

	return true, nil
}

func (e *Engine) checkLoginCode(ctx context.Context, email, code string) (bool, error) {
	_, err := e.codes.Consume(ctx, KindLogin, email, code, e.config.Verification.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errCodeMismatch),
			errors.Is(err, errCodeNotFound),
			errors.Is(err, errCodeAttemptsExceeded):
			return false, nil
		default:
			return false, err
		}
	}
	e.metricInc(MetricCodeConsumed)
	return true, nil
}

func (e *Engine) checkTOTP(ctx context.Context, user UserRecord, code string) (bool, error) {
	record, err := e.directory.GetTOTP(ctx, user.UserID)
	if err != nil {
		return false, err
	}
	if record == nil || !record.Confirmed || len(record.Secret) == 0 {
		return false, nil
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return false, nil
	}
	// Each time step is accepted once.
	if counter <= record.LastUsedCounter {
		e.metricInc(MetricTOTPFailure)
		return false, nil
	}
	if err := e.directory.UpdateTOTPLastUsedCounter(ctx, user.UserID, counter); err != nil {
		return false, err
	}

	e.metricInc(MetricTOTPSuccess)
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
