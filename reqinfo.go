package idgate

import (
	"context"
	"crypto/subtle"

	"github.com/nmoreaux/idgate/internal"
	"github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/roles"
)

// BuildReqInfo projects one raw request into the authorization snapshot the
// route handlers consume. It is read-only with respect to persistent state:
// nothing is created, rotated, or revoked here.
//
// A client id is mandatory and must resolve; the client secret and bearer
// token are each optional, but when present they must verify. Partial
// credentials never downgrade silently into an anonymous request, and a
// context is tagged with exactly one role encoding: if the client and the
// bearer's user disagree on the encoding the build fails with
// [roles.ErrEncodingMismatch].
func (e *Engine) BuildReqInfo(ctx context.Context, req RawRequest) (*ReqInfo, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	if req.ClientID == "" {
		e.metricInc(MetricRequestRejected)
		return nil, ErrUnauthenticated
	}

	client, err := e.directory.GetClient(ctx, req.ClientID)
	if err != nil || client.DeletedAt != nil {
		e.metricInc(MetricRequestRejected)
		e.emitAudit(ctx, auditEventRequestRejected, audit.SeverityWarn, req.ClientID, "", "", false, ErrUnauthenticated, func() map[string]string {
			return map[string]string{"reason": "unknown_client"}
		})
		return nil, ErrUnauthenticated
	}

	info := &ReqInfo{
		Encoding:    client.Roles.Encoding(),
		ClientID:    client.ClientID,
		ClientRoles: client.Roles,
		OriginIP:    req.OriginIP,
	}

	if req.ClientSecret != "" {
		ok, err := e.hasher.Verify(req.ClientSecret, client.SecretHash)
		if err != nil || !ok {
			e.metricInc(MetricRequestRejected)
			e.emitAudit(ctx, auditEventRequestRejected, audit.SeverityWarn, req.ClientID, "", "", false, ErrUnauthenticated, func() map[string]string {
				return map[string]string{"reason": "client_secret_mismatch"}
			})
			return nil, ErrUnauthenticated
		}
		info.ClientAuthenticated = true
	}

	if req.BearerToken != "" {
		user, err := e.ValidateAccessToken(ctx, req.BearerToken)
		if err != nil {
			e.metricInc(MetricRequestRejected)
			e.emitAudit(ctx, auditEventRequestRejected, audit.SeverityWarn, req.ClientID, "", "", false, err, func() map[string]string {
				return map[string]string{"reason": "bearer_invalid"}
			})
			return nil, err
		}
		if ce, ue := client.Roles.Encoding(), user.Roles.Encoding(); ce != 0 && ue != 0 && ce != ue {
			// A mixed-encoding context is a wiring bug, not a request
			// failure: surface it loudly instead of retagging.
			return nil, roles.ErrEncodingMismatch
		}
		info.User = user
		if enc := user.Roles.Encoding(); enc != 0 {
			info.Encoding = enc
		}
	}

	// Debug mode widens diagnostics only; a wrong key is simply not debug,
	// never a rejection.
	if req.DebugKey != "" && e.config.Debug.KeyHash != [32]byte{} {
		presented := internal.HashToken(req.DebugKey)
		if subtle.ConstantTimeCompare(presented[:], e.config.Debug.KeyHash[:]) == 1 {
			info.DebugMode = true
		}
	}

	e.metricInc(MetricRequestAuthenticated)
	return info, nil
}
