package idgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nmoreaux/idgate/roles"
	"github.com/nmoreaux/idgate/secret"
)

var errDirectoryMiss = errors.New("directory miss")

// mockDirectory is an in-memory Directory for tests.
type mockDirectory struct {
	mu      sync.Mutex
	clients map[string]ClientRecord
	users   map[string]UserRecord
	emails  map[string]EmailRecord
	totps   map[string]TOTPRecord
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		clients: map[string]ClientRecord{},
		users:   map[string]UserRecord{},
		emails:  map[string]EmailRecord{},
		totps:   map[string]TOTPRecord{},
	}
}

func (m *mockDirectory) GetClient(_ context.Context, clientID string) (ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return ClientRecord{}, errDirectoryMiss
	}
	return c, nil
}

func (m *mockDirectory) CreateClient(_ context.Context, input CreateClientInput) (ClientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[input.ClientID]; exists {
		return ClientRecord{}, errors.New("duplicate client")
	}
	c := ClientRecord{
		ClientID:          input.ClientID,
		OrganizationID:    input.OrganizationID,
		Name:              input.Name,
		SecretHash:        input.SecretHash,
		RequestsPerSecond: input.RequestsPerSecond,
		Roles:             input.Roles,
		CreatedAt:         time.Now(),
	}
	m.clients[input.ClientID] = c
	return c, nil
}

func (m *mockDirectory) UpdateClientSecretHash(_ context.Context, clientID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return errDirectoryMiss
	}
	c.SecretHash = newHash
	m.clients[clientID] = c
	return nil
}

func (m *mockDirectory) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errDirectoryMiss
	}
	return u, nil
}

func (m *mockDirectory) GetEmail(_ context.Context, address string) (EmailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.emails[address]
	if !ok {
		return EmailRecord{}, errDirectoryMiss
	}
	return rec, nil
}

func (m *mockDirectory) MarkEmailVerified(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.emails[address]
	if !ok {
		return errDirectoryMiss
	}
	now := time.Now()
	rec.VerifiedAt = &now
	m.emails[address] = rec
	return nil
}

func (m *mockDirectory) UpdateUserPasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errDirectoryMiss
	}
	u.PasswordHash = newHash
	m.users[userID] = u
	return nil
}

func (m *mockDirectory) SetUserBanned(_ context.Context, userID string, banned bool) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, errDirectoryMiss
	}
	if banned {
		now := time.Now()
		u.BannedAt = &now
	} else {
		u.BannedAt = nil
	}
	m.users[userID] = u
	return u, nil
}

func (m *mockDirectory) SetUserTwoFactor(_ context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errDirectoryMiss
	}
	u.TwoFactorEnabled = enabled
	m.users[userID] = u
	return nil
}

func (m *mockDirectory) GetTOTP(_ context.Context, userID string) (*TOTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.totps[userID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (m *mockDirectory) SaveTOTP(_ context.Context, userID string, record TOTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totps[userID] = record
	return nil
}

func (m *mockDirectory) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.totps[userID]
	if !ok {
		return errDirectoryMiss
	}
	rec.LastUsedCounter = counter
	m.totps[userID] = rec
	return nil
}

// captureSender records issued codes instead of emailing them.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string // email -> latest code
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[string]string{}}
}

func (s *captureSender) Send(_ context.Context, email string, _ VerificationKind, code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = code
	return nil
}

func (s *captureSender) Last(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens.SigningMethod = "hs256"
	cfg.Tokens.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Secrets.Memory = 8 * 1024
	cfg.Secrets.Time = 1
	cfg.Secrets.Parallelism = 1
	cfg.Secrets.KeyLength = 16
	cfg.Secrets.MinPasswordLength = 8
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestEngine(t *testing.T, cfg Config, dir *mockDirectory, opts ...func(*Builder)) (*Engine, *redis.Client, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRoles([]string{"admin", "member", "billing"}).
		WithDirectory(dir)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, rdb, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func hashFor(t *testing.T, cfg Config, plaintext string) string {
	t.Helper()

	h, err := secret.NewHasher(secret.Params{
		Memory:      cfg.Secrets.Memory,
		Time:        cfg.Secrets.Time,
		Parallelism: cfg.Secrets.Parallelism,
		SaltLength:  cfg.Secrets.SaltLength,
		KeyLength:   cfg.Secrets.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	out, err := h.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return out
}

// seedUser registers an active user with a password and a verified email.
func seedUser(t *testing.T, dir *mockDirectory, cfg Config, userID, email, password string) {
	t.Helper()

	var hash string
	if password != "" {
		hash = hashFor(t, cfg, password)
	}
	now := time.Now()
	dir.users[userID] = UserRecord{
		UserID:       userID,
		Name:         userID,
		PasswordHash: hash,
		Roles:        roles.Names("member"),
		CreatedAt:    now,
	}
	dir.emails[email] = EmailRecord{
		Address:    email,
		UserID:     userID,
		VerifiedAt: &now,
		CreatedAt:  now,
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected Build to fail without redis")
	}

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected Build to fail without directory")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).WithDirectory(newMockDirectory()).Build(); err == nil {
		t.Fatal("expected Build to fail without roles")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).
		WithRoles([]string{"admin"}).WithDirectory(newMockDirectory())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build on the same builder to fail")
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	cfg := testConfig()
	engine, _, done := newTestEngine(t, cfg, newMockDirectory())
	defer done()

	report := engine.SecurityReport()
	if report.SigningAlgorithm != "hs256" {
		t.Fatalf("unexpected signing algorithm %q", report.SigningAlgorithm)
	}
	if report.MaxStepAttempts != cfg.Login.MaxStepAttempts {
		t.Fatalf("unexpected max step attempts %d", report.MaxStepAttempts)
	}
	if !report.VerifiedEmailForLogin {
		t.Fatal("expected verified email requirement to be reported")
	}
	if report.DebugKeyConfigured {
		t.Fatal("expected no debug key by default")
	}
}

func TestRegistryAnchorsRoleSets(t *testing.T) {
	cfg := testConfig()
	dir := newMockDirectory()
	seedUser(t, dir, cfg, "u1", "alice@example.com", "correct-horse-battery")

	engine, _, done := newTestEngine(t, cfg, dir)
	defer done()
	ctx := context.Background()

	set, err := engine.Registry().BitSet("admin", "billing")
	if err != nil {
		t.Fatalf("BitSet failed: %v", err)
	}
	mask, err := set.Mask()
	if err != nil || mask != 0b101 {
		t.Fatalf("unexpected mask %b (err %v)", mask, err)
	}

	// Role sets referencing roles the engine was never configured with
	// are refused, not silently encoded.
	if _, _, err := engine.CreateClient(ctx, CreateClientInput{
		Name:  "rogue",
		Roles: roles.Names("ghost"),
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected unregistered client role to be refused, got %v", err)
	}
	if _, _, err := engine.CreateClient(ctx, CreateClientInput{
		Name:  "wide",
		Roles: roles.Bits(1 << 63),
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected out-of-range client bits to be refused, got %v", err)
	}

	u := dir.users["u1"]
	u.Roles = roles.Names("ghost")
	dir.users["u1"] = u
	if _, err := engine.CreateSession(ctx, "u1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected unregistered user role to be refused, got %v", err)
	}
}
