package idgate

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/nmoreaux/idgate/internal/audit"
	"github.com/nmoreaux/idgate/jwt"
	"github.com/nmoreaux/idgate/roles"
	"github.com/nmoreaux/idgate/secret"
	"github.com/nmoreaux/idgate/session"
)

// Builder assembles an [Engine]. A Builder is single-use: Build can only be
// called once.
type Builder struct {
	config Config
	redis  *redis.Client

	roleNames []string
	directory Directory
	auditSink audit.Sink
	sender    CodeSender

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, codes, and counters.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithRoles registers the allowed role names. Order fixes the bit assignment
// for the bitmask role encoding, so it must be stable across deployments.
func (b *Builder) WithRoles(names []string) *Builder {
	b.roleNames = names
	return b
}

// WithDirectory sets the client/user/email provider.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithAuditSink sets the destination for audit events. Audit still has to be
// enabled in the config.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithCodeSender sets the delivery channel for one-time codes. When unset,
// issued codes are returned to the caller for out-of-band delivery.
func (b *Builder) WithCodeSender(s CodeSender) *Builder {
	b.sender = s
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires all stores and managers, and
// returns a ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if len(b.roleNames) == 0 {
		return nil, errors.New("roles must be provided")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := roles.NewRegistry()
	for _, name := range b.roleNames {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	hasher, err := secret.NewHasher(secret.Params{
		Memory:      cfg.Secrets.Memory,
		Time:        cfg.Secrets.Time,
		Parallelism: cfg.Secrets.Parallelism,
		SaltLength:  cfg.Secrets.SaltLength,
		KeyLength:   cfg.Secrets.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Tokens.AccessTTL,
		StepTTL:       cfg.Tokens.StepTTL,
		SigningMethod: jwt.SigningMethod(cfg.Tokens.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Tokens.PrivateKey),
		PublicKey:     cloneBytes(cfg.Tokens.PublicKey),
		Issuer:        cfg.Tokens.Issuer,
		Leeway:        cfg.Tokens.Leeway,
		MaxFutureIAT:  cfg.Tokens.MaxFutureIAT,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		registry:  registry,
		directory: b.directory,
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		codes:     newCodeStore(b.redis, cfg.Verification.RedisPrefix),
		attempts:  newAttemptStore(b.redis, cfg.Session.RedisPrefix),
		hasher:    hasher,
		tokens:    tokens,
		totp:      newTOTPManager(cfg.TOTP),
		metrics:   NewMetrics(cfg.Metrics),
		sender:    b.sender,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
