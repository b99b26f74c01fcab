package goIdentity

import (
	"fmt"
	"log"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at Build time. Credential checks for unknown
// emails verify against its hash so both paths cost one hash comparison.
const dummyPassword = "goIdentity-dummy-password-0"

// Builder assembles a Service. It is meant to be configured once during
// initialization; Build may only be called once.
type Builder struct {
	config Config

	accounts AccountRepository
	sessions SessionStore
	resets   ResetTokenStore
	verifies VerificationTokenStore
	redis    redis.UniversalClient

	hasher         password.Hasher
	notifier       ResetNotifier
	verifyNotifier VerificationNotifier
	logger         *log.Logger
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAccountRepository sets the account store. It is required.
func (b *Builder) WithAccountRepository(repo AccountRepository) *Builder {
	b.accounts = repo
	return b
}

// WithSessionStore sets the session store explicitly.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithResetTokenStore sets the password reset store explicitly.
func (b *Builder) WithResetTokenStore(store ResetTokenStore) *Builder {
	b.resets = store
	return b
}

// WithVerificationTokenStore sets the email verification store explicitly.
func (b *Builder) WithVerificationTokenStore(store VerificationTokenStore) *Builder {
	b.verifies = store
	return b
}

// WithRedis backs any store not set explicitly with Redis, using the
// prefixes from Config.Session.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHasher overrides the hasher selected by Config.Password.Algorithm.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithResetNotifier sets the out-of-band delivery for reset tokens.
func (b *Builder) WithResetNotifier(n ResetNotifier) *Builder {
	b.notifier = n
	return b
}

// WithVerificationNotifier sets the out-of-band delivery for email
// verification tokens. When set, Register issues a token for every new
// account.
func (b *Builder) WithVerificationNotifier(n VerificationNotifier) *Builder {
	b.verifyNotifier = n
	return b
}

// WithLogger sets the logger for best-effort failures. Defaults to
// log.Default().
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for the Service and its token issuer.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Service. Every error it
// returns wraps ErrConfiguration.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, configError("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, configError("account repository required")
	}

	sessions := b.sessions
	resets := b.resets
	verifies := b.verifies
	if b.redis != nil {
		if sessions == nil {
			sessions = NewRedisSessionStore(b.redis, cfg.Session.RedisPrefix)
		}
		if resets == nil {
			resets = NewRedisResetTokenStore(b.redis, cfg.Session.ResetRedisPrefix)
		}
		if verifies == nil {
			verifies = NewRedisVerificationTokenStore(b.redis, cfg.Session.VerificationRedisPrefix)
		}
	}
	if sessions == nil {
		return nil, configError("session store or redis client required")
	}
	if resets == nil {
		return nil, configError("reset token store or redis client required")
	}
	if verifies == nil {
		return nil, configError("verification token store or redis client required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := newHasher(cfg.Password)
		if err != nil {
			return nil, configError("%v", err)
		}
		hasher = h
	}

	jm, err := jwt.NewManager(jwt.Config{
		Secret:     cfg.JWT.Secret,
		Algorithm:  jwt.Algorithm(cfg.JWT.Algorithm),
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Now:        now,
	})
	if err != nil {
		return nil, configError("%v", err)
	}

	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, configError("hasher unusable: %v", err)
	}

	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	svc := &Service{
		config:         cfg,
		accounts:       b.accounts,
		sessions:       sessions,
		resets:         resets,
		verifies:       verifies,
		notifier:       b.notifier,
		verifyNotifier: b.verifyNotifier,
		hasher:         hasher,
		policy:         cfg.Password.Policy(),
		tokens:         jm,
		validate:       validator.New(),
		metrics:        NewMetrics(cfg.Metrics),
		logger:         logger,
		now:            now,
		dummyHash:      dummy,
	}

	b.built = true
	return svc, nil
}

func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	switch cfg.Algorithm {
	case PasswordAlgorithmBcrypt:
		return password.NewBcrypt(cfg.BcryptCost)
	case PasswordAlgorithmArgon2id:
		return password.NewArgon2(cfg.Argon2)
	}
	return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
}
