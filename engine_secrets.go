package idgate

import (
	"context"

	"github.com/google/uuid"

	"github.com/nmoreaux/idgate/internal"
	"github.com/nmoreaux/idgate/internal/audit"
)

// CreateClient registers a machine caller and returns the record together
// with the plaintext secret. The secret is shown exactly once; only its
// argon2id hash is stored.
func (e *Engine) CreateClient(ctx context.Context, input CreateClientInput) (ClientRecord, string, error) {
	if e == nil || e.directory == nil {
		return ClientRecord{}, "", ErrEngineNotReady
	}

	if input.ClientID == "" {
		input.ClientID = uuid.NewString()
	}

	if err := e.checkRegistered(input.Roles); err != nil {
		return ClientRecord{}, "", err
	}

	plaintext, err := internal.NewClientSecret()
	if err != nil {
		return ClientRecord{}, "", err
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return ClientRecord{}, "", err
	}
	input.SecretHash = hash

	record, err := e.directory.CreateClient(ctx, input)
	if err != nil {
		return ClientRecord{}, "", err
	}

	e.emitAudit(ctx, auditEventClientCreated, audit.SeverityInfo, record.ClientID, "", "", true, nil, func() map[string]string {
		return map[string]string{"org": record.OrganizationID}
	})

	return record, plaintext, nil
}

// RotateClientSecret replaces a client's secret and returns the new
// plaintext once. The old secret stops working the moment the directory
// write lands; there is no dual-validity window.
func (e *Engine) RotateClientSecret(ctx context.Context, clientID string) (string, error) {
	if e == nil || e.directory == nil {
		return "", ErrEngineNotReady
	}

	client, err := e.directory.GetClient(ctx, clientID)
	if err != nil || client.DeletedAt != nil {
		return "", ErrNotFound
	}

	plaintext, err := internal.NewClientSecret()
	if err != nil {
		return "", err
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return "", err
	}
	if err := e.directory.UpdateClientSecretHash(ctx, clientID, hash); err != nil {
		return "", err
	}

	e.metricInc(MetricClientSecretRotated)
	e.emitAudit(ctx, auditEventSecretRotated, audit.SeverityInfo, clientID, "", "", true, nil, nil)

	return plaintext, nil
}

// VerifyClientSecret checks a presented secret against the stored hash.
// Unknown and deleted clients fail identically to a wrong secret.
func (e *Engine) VerifyClientSecret(ctx context.Context, clientID, presented string) (ClientRecord, error) {
	if e == nil || e.directory == nil {
		return ClientRecord{}, ErrEngineNotReady
	}

	client, err := e.directory.GetClient(ctx, clientID)
	if err != nil || client.DeletedAt != nil {
		return ClientRecord{}, ErrUnauthenticated
	}

	ok, err := e.hasher.Verify(presented, client.SecretHash)
	if err != nil || !ok {
		return ClientRecord{}, ErrUnauthenticated
	}

	return client, nil
}

// VerifyUserPassword checks a password against the stored hash without any
// of the login flow machinery. Passwordless, banned, and deleted users fail.
func (e *Engine) VerifyUserPassword(ctx context.Context, userID, password string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil || !user.active() || user.PasswordHash == "" {
		return ErrUnauthenticated
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrUnauthenticated
	}
	return nil
}

// SetUserPassword installs a new password for a user and revokes all their
// sessions. This is the administrative path; self-service flows go through
// password reset codes.
func (e *Engine) SetUserPassword(ctx context.Context, userID, newPassword string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	if len(newPassword) < e.config.Secrets.MinPasswordLength {
		return ErrPasswordPolicy
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return ErrNotFound
	}
	if user.DeletedAt != nil {
		return ErrNotFound
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdateUserPasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := e.RevokeAllSessions(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, audit.SeverityInfo, "", userID, "", true, nil, nil)
	return nil
}
