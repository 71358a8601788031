package idgate

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nmoreaux/idgate/internal"
	"github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/roles"
	"github.com/nmoreaux/idgate/session"
)

// CreateSession mints a session for userID and returns its token pair. It is
// the terminal step of a successful login and the entry point for callers
// that complete authentication elsewhere (social login exchanges).
func (e *Engine) CreateSession(ctx context.Context, userID string) (*AuthnSession, error) {
	return e.CreateScopedSession(ctx, userID, nil)
}

// CreateScopedSession mints a session restricted to the given scope set. A
// nil scopes slice means unrestricted; an empty non-nil slice permits no
// scoped action at all. Scopes narrow what the session may do, they never
// grant anything the user's roles do not already allow.
func (e *Engine) CreateScopedSession(ctx context.Context, userID string, scopes []string) (*AuthnSession, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !user.active() {
		return nil, ErrUnauthenticated
	}

	return e.mintSession(ctx, user, scopes)
}

func (e *Engine) mintSession(ctx context.Context, user UserRecord, scopes []string) (*AuthnSession, error) {
	sid, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	if err := e.checkRegistered(user.Roles); err != nil {
		return nil, err
	}
	encodedRoles, err := roles.Encode(user.Roles)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	lifetime := e.sessionLifetime()
	sess := &session.Session{
		SessionID:   sessionID,
		UserID:      user.UserID,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Roles:       encodedRoles,
		Scopes:      scopes,
		RefreshHash: internal.HashRefreshSecret(refreshSecret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(lifetime).Unix(),
	}

	if max := e.config.Session.MaxSessionsPerUser; max > 0 {
		count, err := e.sessions.ActiveSessionCount(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		if count >= max {
			return nil, ErrForbidden
		}
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	access, err := e.tokens.CreateAccess(user.UserID, sessionID, scopes)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, audit.SeverityInfo, "", user.UserID, sessionID, true, nil, nil)

	return &AuthnSession{T: "session", Token: access, Refresh: refresh}, nil
}

// ValidateAccessToken verifies the token signature and then re-reads the
// backing session, so revocation takes effect within one round trip rather
// than at token expiry. It returns the identity to attach to the request.
func (e *Engine) ValidateAccessToken(ctx context.Context, tokenStr string) (*UserInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseAccess(tokenStr)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrUnauthenticated
	}

	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		switch {
		case errors.Is(err, session.ErrInvalidated):
			e.emitAudit(ctx, auditEventValidateFailure, audit.SeverityWarn, "", claims.UID, claims.SID, false, ErrRevoked, nil)
			return nil, ErrRevoked
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrUnauthenticated
		default:
			return nil, err
		}
	}
	if sess.UserID != claims.UID {
		e.metricInc(MetricValidateFailure)
		return nil, ErrUnauthenticated
	}

	roleSet, err := roles.Decode(sess.Roles)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}

	e.metricInc(MetricValidateSuccess)
	return &UserInfo{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Roles:     roleSet,
		Scopes:    sess.Scopes,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the stored
// secret so each refresh token works exactly once. Presenting the
// previously consumed token is treated as theft: the whole session is
// revoked before the error returns.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthnSession, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, audit.SeverityWarn, "", "", "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrUnauthenticated
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	sess, err := e.sessions.RotateRefresh(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReused):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionRevoked)
			var userID string
			if sess != nil {
				userID = sess.UserID
			}
			e.emitAudit(ctx, auditEventRefreshReuse, audit.SeverityHigh, "", userID, sessionID, false, ErrTokenReused, func() map[string]string {
				return map[string]string{"reason": "previous_refresh_presented"}
			})
			return nil, ErrTokenReused
		case errors.Is(err, session.ErrRefreshMismatch):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, audit.SeverityWarn, "", "", sessionID, false, ErrUnauthenticated, func() map[string]string {
				return map[string]string{"reason": "secret_mismatch"}
			})
			return nil, ErrUnauthenticated
		case errors.Is(err, session.ErrInvalidated):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, audit.SeverityWarn, "", "", sessionID, false, ErrRevoked, nil)
			return nil, ErrRevoked
		case errors.Is(err, session.ErrNotFound):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrUnauthenticated
		default:
			e.metricInc(MetricRefreshFailure)
			return nil, err
		}
	}

	access, err := e.tokens.CreateAccess(sess.UserID, sess.SessionID, sess.Scopes)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, audit.SeverityInfo, "", sess.UserID, sess.SessionID, true, nil, nil)

	return &AuthnSession{T: "session", Token: access, Refresh: refresh}, nil
}

// RevokeSession invalidates one session. Access tokens minted from it fail
// validation immediately with [ErrRevoked]; its refresh token is dead.
// Revoking an already revoked session is a no-op.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Invalidate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, audit.SeverityInfo, "", sess.UserID, sessionID, true, nil, nil)
	return nil
}

// RevokeAllSessions invalidates every live session of a user and returns
// how many were affected.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return n, err
	}

	if n > 0 {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionRevokedAll, audit.SeverityInfo, "", userID, "", true, nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(n)}
	})
	return n, nil
}

// GetSession returns the caller-visible summary of a session, revoked ones
// included while their record is still retained.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrInvalidated) {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info := &SessionInfo{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		IP:        sess.IP,
		UserAgent: sess.UserAgent,
		CreatedAt: time.Unix(sess.CreatedAt, 0),
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}
	if sess.Invalidated() {
		t := time.Unix(sess.InvalidatedAt, 0)
		info.InvalidatedAt = &t
	}
	return info, nil
}

// BanUser marks a user banned and revokes all their sessions. The ban takes
// effect on the next validation of any outstanding token.
func (e *Engine) BanUser(ctx context.Context, userID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	user, err := e.directory.SetUserBanned(ctx, userID, true)
	if err != nil {
		return err
	}

	if _, err := e.RevokeAllSessions(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricUserBanned)
	e.emitAudit(ctx, auditEventUserBanned, audit.SeverityHigh, "", user.UserID, "", true, nil, nil)
	return nil
}

// UnbanUser lifts a ban. Previously revoked sessions stay revoked; the user
// must log in again.
func (e *Engine) UnbanUser(ctx context.Context, userID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	user, err := e.directory.SetUserBanned(ctx, userID, false)
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventUserUnbanned, audit.SeverityInfo, "", user.UserID, "", true, nil, nil)
	return nil
}
