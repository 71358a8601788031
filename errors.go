package idgate

import "errors"

var (
	// ErrNotFound covers unknown clients, users, sessions, and emails. The
	// boundary never distinguishes "wrong secret" from "unknown id".
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated covers missing or invalid credentials of every
	// kind: wrong password, bad code, malformed or expired token.
	ErrUnauthenticated = errors.New("authentication failed")
	// ErrStepExpiredOrInvalid marks a stale or tampered login state
	// capsule, or a step whose attempt budget is exhausted. The flow must
	// restart from step one.
	ErrStepExpiredOrInvalid = errors.New("login step expired or invalid")
	// ErrTokenReused marks a refresh token replay. The session has already
	// been revoked when this is returned; [PublicError] hides it behind
	// ErrUnauthenticated.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrRevoked marks a token whose parent session was explicitly
	// invalidated.
	ErrRevoked = errors.New("session revoked")
	// ErrForbidden marks a valid identity with insufficient role or scope.
	ErrForbidden = errors.New("forbidden")
	// ErrCodeExpiredOrInvalid marks a verification code that is unknown,
	// expired, already consumed, or over its attempt budget.
	ErrCodeExpiredOrInvalid = errors.New("verification code expired or invalid")
	// ErrPasswordPolicy rejects passwords below the configured minimum.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady is returned from methods on an unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps persistent store transport failures.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// PublicError normalizes err for the API boundary: credential and identity
// failures collapse into a single generic authentication error so callers
// cannot enumerate accounts or distinguish revocation from absence. Step
// progression errors and authorization errors keep their identity, as does
// [roles.ErrEncodingMismatch] — that one is a programming error and should
// surface loudly rather than disguise itself as an auth failure.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStepExpiredOrInvalid),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrCodeExpiredOrInvalid),
		errors.Is(err, ErrPasswordPolicy):
		return err
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTokenReused),
		errors.Is(err, ErrRevoked),
		errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated
	default:
		return err
	}
}
