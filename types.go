package idgate

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/roles"
)

// VerificationKind discriminates the two verification code purposes.
type VerificationKind string

const (
	// KindLogin codes complete a passwordless login step.
	KindLogin VerificationKind = "login"
	// KindVerification codes prove email ownership (address verification,
	// password reset).
	KindVerification VerificationKind = "verification"
)

// Login step identifiers carried in [StepResponse.Step].
const (
	StepPassword = "password"
	StepCode     = "code"
	StepTOTP     = "totp"
)

// ClientRecord is a registered machine caller, owned by an organization.
// SecretHash is never exposed; the plaintext secret is returned exactly
// once, at creation or rotation time.
type ClientRecord struct {
	ClientID          string
	OrganizationID    string
	Name              string
	SecretHash        string
	RequestsPerSecond int
	Roles             roles.Set
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// UserRecord is a human principal. An empty PasswordHash means no password
// is set (passwordless or social login); such users authenticate with
// emailed login codes. A banned or deleted user fails authentication
// regardless of credential validity.
type UserRecord struct {
	UserID           string
	Name             string
	PasswordHash     string
	Roles            roles.Set
	TwoFactorEnabled bool
	CreatedAt        time.Time
	BannedAt         *time.Time
	DeletedAt        *time.Time
}

func (u UserRecord) active() bool {
	return u.BannedAt == nil && u.DeletedAt == nil
}

// EmailRecord binds an address to exactly one user. Unverified addresses
// cannot anchor passwordless login or password reset.
type EmailRecord struct {
	Address    string
	UserID     string
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// TOTPRecord carries a user's TOTP enrollment: the secret, whether setup
// was confirmed, and the last accepted time counter for replay protection.
type TOTPRecord struct {
	Secret          []byte
	Confirmed       bool
	LastUsedCounter int64
}

// CreateClientInput is the input for [Engine.CreateClient]. The engine
// supplies ClientID and SecretHash.
type CreateClientInput struct {
	ClientID          string
	OrganizationID    string
	Name              string
	SecretHash        string
	RequestsPerSecond int
	Roles             roles.Set
}

// Directory is the interface callers implement over their persistent store
// for long-lived identity rows. All lookups must treat soft-deleted rows as
// present (the engine inspects DeletedAt itself); mutations must be atomic
// per call — in particular UpdateClientSecretHash replaces the hash in one
// write so there is no window where old and new secrets are both valid.
type Directory interface {
	GetClient(ctx context.Context, clientID string) (ClientRecord, error)
	CreateClient(ctx context.Context, input CreateClientInput) (ClientRecord, error)
	UpdateClientSecretHash(ctx context.Context, clientID, newHash string) error

	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetEmail(ctx context.Context, address string) (EmailRecord, error)
	MarkEmailVerified(ctx context.Context, address string) error

	UpdateUserPasswordHash(ctx context.Context, userID, newHash string) error
	SetUserBanned(ctx context.Context, userID string, banned bool) (UserRecord, error)
	SetUserTwoFactor(ctx context.Context, userID string, enabled bool) error

	GetTOTP(ctx context.Context, userID string) (*TOTPRecord, error)
	SaveTOTP(ctx context.Context, userID string, record TOTPRecord) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error
}

// CodeSender delivers a freshly issued verification code to its email
// address. Delivery is fire-and-forget from the engine's perspective; a
// nil sender leaves delivery to the caller via the returned issue.
type CodeSender interface {
	Send(ctx context.Context, email string, kind VerificationKind, code, userToken string) error
}

// StepResponse is the intermediate login-flow shape: the caller must come
// back with the named factor and the opaque State capsule. Code is a short
// opaque challenge id for correlation, never a secret.
type StepResponse struct {
	T     string `json:"t"` // always "step"
	Step  string `json:"step"`
	Code  string `json:"code"`
	State string `json:"state"`
}

// AuthnSession is the terminal login-flow shape: an access token and its
// rotating refresh token.
type AuthnSession struct {
	T       string `json:"t"` // always "session"
	Token   string `json:"token"`
	Refresh string `json:"refresh"`
}

// LoginResult is the union of the two legal login-flow shapes; exactly one
// field is non-nil.
type LoginResult struct {
	Step    *StepResponse
	Session *AuthnSession
}

// VerificationIssue is returned by [Engine.IssueVerificationCode]. Code is
// the plaintext secret (only the hash is stored); UserToken is the
// caller-visible correlation token for deep links.
type VerificationIssue struct {
	Code      string
	UserToken string
	ExpiresAt time.Time
}

// SessionInfo is the caller-visible session summary (no hashes).
type SessionInfo struct {
	SessionID     string
	UserID        string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	InvalidatedAt *time.Time
}

// UserInfo is the user sub-object of [ReqInfo]: the identity behind a
// validated bearer token. Nil Scopes means the token is not scope
// restricted; non-nil Scopes narrow the permitted actions to that set even
// when Roles would allow more.
type UserInfo struct {
	SessionID string
	UserID    string
	Roles     roles.Set
	Scopes    []string
}

// RawRequest is the unauthenticated input to [Engine.BuildReqInfo].
type RawRequest struct {
	ClientID     string
	ClientSecret string
	BearerToken  string
	OriginIP     string
	DebugKey     string
}

// ReqInfo is the per-request authorization snapshot handed to route
// handlers. It is ephemeral and read-only: building it never mutates
// persistent state, and it is never persisted itself. A nil User means the
// request is client-only (machine to machine).
type ReqInfo struct {
	Encoding            roles.Encoding
	ClientID            string
	ClientAuthenticated bool
	ClientRoles         roles.Set
	OriginIP            string
	DebugMode           bool
	User                *UserInfo
}

// HasRole reports whether the request's effective role set contains all
// roles in want: the user's roles when a user is present, else the
// client's. Scope restrictions do not alter the answer; use
// [ReqInfo.ScopeAllows] to gate scoped actions.
func (r *ReqInfo) HasRole(want roles.Set) (bool, error) {
	if r.User != nil {
		return r.User.Roles.HasAll(want)
	}
	return r.ClientRoles.HasAll(want)
}

// HasAnyRole reports whether at least one of want is present.
func (r *ReqInfo) HasAnyRole(want roles.Set) (bool, error) {
	if r.User != nil {
		return r.User.Roles.HasAny(want)
	}
	return r.ClientRoles.HasAny(want)
}

// ScopeAllows reports whether an action gated on the given scope may
// proceed. Requests without a scoped token are unrestricted by scope;
// a scoped token restricts the request to its scope set regardless of how
// broad the underlying roles are.
func (r *ReqInfo) ScopeAllows(scope string) bool {
	if r.User == nil || r.User.Scopes == nil {
		return true
	}
	for _, s := range r.User.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuditEvent is the structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// AuditSeverity ranks audit events.
type AuditSeverity = internalaudit.Severity

// Audit severities re-exported for sink implementations.
const (
	AuditInfo = internalaudit.SeverityInfo
	AuditWarn = internalaudit.SeverityWarn
	AuditHigh = internalaudit.SeverityHigh
)

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events, one per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
