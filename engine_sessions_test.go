package idgate

import (
	"context"
	"errors"
	"testing"

	"github.com/nmoreaux/idgate/roles"
)

func loginSession(t *testing.T, engine *Engine, email, password string) *AuthnSession {
	t.Helper()

	ctx := context.Background()
	res, err := engine.BeginLogin(ctx, email)
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	final, err := engine.AdvanceLogin(ctx, res.Step.State, password)
	if err != nil {
		t.Fatalf("AdvanceLogin failed: %v", err)
	}
	if final.Session == nil {
		t.Fatalf("expected session, got %+v", final)
	}
	return final.Session
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	sink := NewChannelSink(64)
	cfg.Audit.Enabled = true
	engine, _, done := newTestEngine(t, cfg, dir, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	defer done()
	ctx := context.Background()

	first := loginSession(t, engine, "alice@example.com", "correct-horse-battery")

	second, err := engine.Refresh(ctx, first.Refresh)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.Refresh == first.Refresh {
		t.Fatal("expected refresh token to rotate")
	}

	// Replaying the consumed token is theft; the session dies with it.
	if _, err := engine.Refresh(ctx, first.Refresh); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}

	// Everything from the session is now dead, including the newest pair.
	if _, err := engine.Refresh(ctx, second.Refresh); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked for newest refresh, got %v", err)
	}
	if _, err := engine.ValidateAccessToken(ctx, second.Token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked for access token, got %v", err)
	}

	engine.Close()
	foundHigh := false
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == auditEventRefreshReuse && ev.Severity == AuditHigh {
				foundHigh = true
			}
			continue
		default:
		}
		break
	}
	if !foundHigh {
		t.Fatal("expected a high-severity reuse audit event")
	}
}

func TestRefreshGarbageTokenFails(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()

	if _, err := engine.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRevokeSessionDistinguishedFromUnknown(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	sess := loginSession(t, engine, "alice@example.com", "correct-horse-battery")
	user, err := engine.ValidateAccessToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}

	if err := engine.RevokeSession(ctx, user.SessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	// Idempotent.
	if err := engine.RevokeSession(ctx, user.SessionID); err != nil {
		t.Fatalf("second RevokeSession failed: %v", err)
	}

	if _, err := engine.ValidateAccessToken(ctx, sess.Token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}

	info, err := engine.GetSession(ctx, user.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if info.InvalidatedAt == nil {
		t.Fatal("expected InvalidatedAt to be set")
	}

	if err := engine.RevokeSession(ctx, "bm9zdWNoc2Vzc2lvbi4u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	a := loginSession(t, engine, "alice@example.com", "correct-horse-battery")
	b := loginSession(t, engine, "alice@example.com", "correct-horse-battery")

	n, err := engine.RevokeAllSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAllSessions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}

	for _, token := range []string{a.Token, b.Token} {
		if _, err := engine.ValidateAccessToken(ctx, token); !errors.Is(err, ErrRevoked) {
			t.Fatalf("expected ErrRevoked, got %v", err)
		}
	}
}

func TestBanUserRevokesSessionsAndBlocksLogin(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	sess := loginSession(t, engine, "alice@example.com", "correct-horse-battery")

	if err := engine.BanUser(ctx, "u1"); err != nil {
		t.Fatalf("BanUser failed: %v", err)
	}
	if _, err := engine.ValidateAccessToken(ctx, sess.Token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after ban, got %v", err)
	}
	if _, err := engine.BeginLogin(ctx, "alice@example.com"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected banned login to fail, got %v", err)
	}

	if err := engine.UnbanUser(ctx, "u1"); err != nil {
		t.Fatalf("UnbanUser failed: %v", err)
	}
	// Old sessions stay dead; a fresh login works.
	if _, err := engine.ValidateAccessToken(ctx, sess.Token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected old session to stay revoked, got %v", err)
	}
	_ = loginSession(t, engine, "alice@example.com", "correct-horse-battery")
}

func TestScopedSessionNarrowsWithoutTouchingRoles(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	scoped, err := engine.CreateScopedSession(ctx, "u1", []string{"billing:read"})
	if err != nil {
		t.Fatalf("CreateScopedSession failed: %v", err)
	}

	user, err := engine.ValidateAccessToken(ctx, scoped.Token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}

	info := &ReqInfo{User: user}
	if !info.ScopeAllows("billing:read") {
		t.Fatal("expected granted scope to be allowed")
	}
	if info.ScopeAllows("billing:write") {
		t.Fatal("expected ungranted scope to be denied")
	}

	// Roles are untouched by scoping.
	has, err := info.HasRole(roles.Names("member"))
	if err != nil {
		t.Fatalf("HasRole failed: %v", err)
	}
	if !has {
		t.Fatal("expected member role to survive scoping")
	}

	// An unscoped session is unrestricted by scope.
	full := loginSession(t, engine, "alice@example.com", "correct-horse-battery")
	fullUser, err := engine.ValidateAccessToken(ctx, full.Token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if !(&ReqInfo{User: fullUser}).ScopeAllows("billing:write") {
		t.Fatal("expected unscoped session to pass scope checks")
	}
}

func TestSessionCapPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxSessionsPerUser = 1
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	if _, err := engine.CreateSession(ctx, "u1"); err != nil {
		t.Fatalf("first CreateSession failed: %v", err)
	}
	if _, err := engine.CreateSession(ctx, "u1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden at the session cap, got %v", err)
	}
}
