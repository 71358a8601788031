package idgate

import (
	"context"
	"time"

	"github.com/nmoreaux/idgate/internal/audit"
)

// TOTPProvision is the setup material returned by [Engine.ProvisionTOTP].
// The secret is stored unconfirmed; it takes effect only after
// [Engine.ConfirmTOTPSetup] proves the authenticator works.
type TOTPProvision struct {
	Secret string
	URI    string
}

// ProvisionTOTP generates a fresh TOTP secret for the user and returns it
// with the otpauth URI for enrollment. Re-provisioning before confirmation
// replaces the pending secret.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID, account string) (*TOTPProvision, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil || !user.active() {
		return nil, ErrNotFound
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	if err := e.directory.SaveTOTP(ctx, userID, TOTPRecord{Secret: raw}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPProvisioned, audit.SeverityInfo, "", userID, "", true, nil, nil)

	return &TOTPProvision{
		Secret: encoded,
		URI:    e.totp.ProvisionURI(encoded, account),
	}, nil
}

// ConfirmTOTPSetup verifies one code from the enrolled authenticator and
// activates the second factor. Subsequent logins will require it.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, userID, code string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	record, err := e.directory.GetTOTP(ctx, userID)
	if err != nil {
		return err
	}
	if record == nil || len(record.Secret) == 0 {
		return ErrNotFound
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrUnauthenticated
	}

	record.Confirmed = true
	record.LastUsedCounter = counter
	if err := e.directory.SaveTOTP(ctx, userID, *record); err != nil {
		return err
	}
	if err := e.directory.SetUserTwoFactor(ctx, userID, true); err != nil {
		return err
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPConfirmed, audit.SeverityInfo, "", userID, "", true, nil, nil)
	return nil
}

// DisableTOTP turns the second factor off and discards the enrollment. The
// next login is single-factor again.
func (e *Engine) DisableTOTP(ctx context.Context, userID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	if _, err := e.directory.GetUserByID(ctx, userID); err != nil {
		return ErrNotFound
	}

	if err := e.directory.SetUserTwoFactor(ctx, userID, false); err != nil {
		return err
	}
	if err := e.directory.SaveTOTP(ctx, userID, TOTPRecord{}); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, audit.SeverityInfo, "", userID, "", true, nil, nil)
	return nil
}
