package session

// Session is the stored state of one authenticated login. It outlives
// individual tokens: access tokens reference it by id and refresh tokens
// prove possession of the secret behind RefreshHash.
type Session struct {
	SessionID string
	UserID    string
	IP        string
	UserAgent string

	// Roles is the encoded role set captured at login (roles package codec).
	Roles []byte
	// Scopes, when non-empty, restrict the session to an OAuth-granted
	// capability subset. Scopes narrow, never widen.
	Scopes []string

	// RefreshHash is the SHA-256 of the only currently valid refresh
	// secret. PrevRefreshHash remembers the one consumed by the last
	// rotation so a replay of it is classifiable as reuse rather than
	// garbage.
	RefreshHash     [32]byte
	PrevRefreshHash [32]byte

	CreatedAt     int64
	ExpiresAt     int64
	InvalidatedAt int64
}

// Invalidated reports whether the session has been revoked.
func (s *Session) Invalidated() bool {
	return s.InvalidatedAt != 0
}
