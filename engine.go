package idgate

import (
	"context"
	"fmt"
	"time"

	"github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/jwt"
	"github.com/nmoreaux/idgate/roles"
	"github.com/nmoreaux/idgate/secret"
	"github.com/nmoreaux/idgate/session"
)

// Engine is the identity core. Construct it with [New]; all methods
// are safe for concurrent use once Build returns.
type Engine struct {
	config    Config
	registry  *roles.Registry
	directory Directory
	sessions  *session.Store
	codes     *codeStore
	attempts  *attemptStore
	hasher    *secret.Hasher
	tokens    *jwt.Manager
	totp      *totpManager
	audit     *audit.Dispatcher
	metrics   *Metrics
	sender    CodeSender
}

// Close flushes and stops the audit pipeline. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Registry returns the frozen role registry, for callers who build
// bitmask role sets or decode one back into names.
func (e *Engine) Registry() *roles.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

// checkRegistered rejects role sets that reference roles the engine was
// never configured with. A names set must only use registered names; a
// bits set must stay inside the assigned bit range.
func (e *Engine) checkRegistered(s roles.Set) error {
	switch s.Encoding() {
	case roles.EncodingNames:
		names, err := s.NameList()
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, ok := e.registry.Bit(name); !ok {
				return fmt.Errorf("%w: unregistered role %q", ErrForbidden, name)
			}
		}
	case roles.EncodingBits:
		mask, err := s.Mask()
		if err != nil {
			return err
		}
		if count := e.registry.Count(); count < roles.MaxBits && mask>>uint(count) != 0 {
			return fmt.Errorf("%w: role bits outside registry range", ErrForbidden)
		}
	}
	return nil
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit builds and dispatches one event. metadata is lazy so callers pay
// nothing when auditing is disabled.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	severity audit.Severity,
	clientID, userID, sessionID string,
	success bool,
	failure error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	ev := audit.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		Severity:  severity,
		ClientID:  clientID,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if failure != nil {
		ev.Error = failure.Error()
	}
	if metadata != nil {
		ev.Metadata = metadata()
	}

	e.audit.Emit(ctx, ev)
}

const (
	auditEventLoginStepIssued   = "login.step_issued"
	auditEventLoginStepRejected = "login.step_rejected"
	auditEventLoginVoided       = "login.voided"
	auditEventLoginSuccess      = "login.success"
	auditEventLoginFailure      = "login.failure"
	auditEventSessionCreated    = "session.created"
	auditEventSessionRevoked    = "session.revoked"
	auditEventSessionRevokedAll = "session.revoked_all"
	auditEventRefreshSuccess    = "refresh.success"
	auditEventRefreshFailure    = "refresh.failure"
	auditEventRefreshReuse      = "refresh.reuse_detected"
	auditEventValidateFailure   = "validate.failure"
	auditEventCodeIssued        = "code.issued"
	auditEventCodeConsumed      = "code.consumed"
	auditEventCodeRejected      = "code.rejected"
	auditEventClientCreated     = "client.created"
	auditEventSecretRotated     = "client.secret_rotated"
	auditEventPasswordChanged   = "user.password_changed"
	auditEventPasswordReset     = "user.password_reset"
	auditEventEmailVerified     = "user.email_verified"
	auditEventUserBanned        = "user.banned"
	auditEventUserUnbanned      = "user.unbanned"
	auditEventTOTPProvisioned   = "totp.provisioned"
	auditEventTOTPConfirmed     = "totp.confirmed"
	auditEventTOTPDisabled      = "totp.disabled"
	auditEventRequestRejected   = "request.rejected"
)

func (e *Engine) sessionLifetime() time.Duration {
	lifetime := e.config.Session.Lifetime
	if e.config.Tokens.RefreshTTL > 0 && e.config.Tokens.RefreshTTL < lifetime {
		return e.config.Tokens.RefreshTTL
	}
	return lifetime
}
