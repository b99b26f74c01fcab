package goIdentity

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
)

// Config is the complete Service configuration. Start from DefaultConfig
// and override fields; Build validates the result.
type Config struct {
	JWT            JWTConfig
	Password       PasswordConfig
	PasswordReset  PasswordResetConfig
	Verification   EmailVerificationConfig
	Account        AccountConfig
	Session        SessionConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token issuer. Secret is required and must be at
// least 32 bytes.
type JWTConfig struct {
	Secret     []byte
	Algorithm  string // "HS256" (default), "HS384", "HS512"
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration

	// KeyID and VerifyKeys enable secret rotation: tokens whose kid names
	// an entry of VerifyKeys keep verifying after Secret changes.
	KeyID      string
	VerifyKeys map[string][]byte

	// RotateRefreshTokens makes RefreshAccessToken also return a new
	// refresh token and retire the presented one.
	RotateRefreshTokens bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hash algorithm and the strength policy.
type PasswordConfig struct {
	Algorithm  string // "bcrypt" (default) or "argon2id"
	BcryptCost int
	Argon2     password.Argon2Config

	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	// UpgradeOnLogin re-hashes a stored hash produced with weaker
	// parameters after a successful login.
	UpgradeOnLogin bool
}

// Policy returns the password.Policy described by c.
func (c PasswordConfig) Policy() password.Policy {
	return password.Policy{
		MinLength:      c.MinLength,
		RequireUpper:   c.RequireUpper,
		RequireLower:   c.RequireLower,
		RequireDigit:   c.RequireDigit,
		RequireSpecial: c.RequireSpecial,
	}
}

const (
	// PasswordAlgorithmBcrypt selects password.Bcrypt.
	PasswordAlgorithmBcrypt = "bcrypt"
	// PasswordAlgorithmArgon2id selects password.Argon2.
	PasswordAlgorithmArgon2id = "argon2id"
)

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// MaxResetTokenTTL bounds PasswordResetConfig.TokenTTL.
const MaxResetTokenTTL = time.Hour

// PasswordResetConfig configures reset token lifetime.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// MaxVerificationTokenTTL bounds EmailVerificationConfig.TokenTTL.
const MaxVerificationTokenTTL = 7 * 24 * time.Hour

// EmailVerificationConfig configures verification token lifetime.
type EmailVerificationConfig struct {
	TokenTTL time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig holds account creation defaults.
type AccountConfig struct {
	// DefaultRole is applied when RegisterInput.Role is empty. It may not
	// be RoleAdmin.
	DefaultRole Role
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig holds the Redis key prefixes used when the Builder creates
// the Redis-backed session, reset and verification stores.
type SessionConfig struct {
	RedisPrefix             string
	ResetRedisPrefix        string
	VerificationRedisPrefix string
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and the authenticate latency
// histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ValidationMode decides how much Authenticate checks beyond the token.
type ValidationMode int

const (
	// ModeJWTOnly verifies signature, expiry and typ only. No store is read.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict also requires the token's session to be live, so logout
	// takes effect before the access token expires.
	ModeStrict
)

func (m ValidationMode) String() string {
	switch m {
	case ModeJWTOnly:
		return "jwt"
	case ModeStrict:
		return "strict"
	}
	return "unknown"
}

// ParseValidationMode accepts "jwt" and "strict".
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jwt", "jwt_only", "jwtonly":
		return ModeJWTOnly, nil
	case "strict":
		return ModeStrict, nil
	}
	return 0, configError("unknown validation mode %q", s)
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults: HS256 with 30 minute access and 7 day
// refresh tokens, bcrypt cost 12, an 8 character policy requiring upper,
// lower and digit, 30 minute reset tokens and 24 hour verification tokens.
// JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm:  string(jwt.HS256),
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 10080 * time.Minute,
			Issuer:     "goidentity",
		},
		Password: PasswordConfig{
			Algorithm:      PasswordAlgorithmBcrypt,
			BcryptCost:     password.DefaultBcryptCost,
			Argon2:         password.DefaultArgon2Config(),
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: 30 * time.Minute,
		},
		Verification: EmailVerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		Account: AccountConfig{
			DefaultRole: RoleParent,
		},
		Session: SessionConfig{
			RedisPrefix:             "gi",
			ResetRedisPrefix:        "gipr",
			VerificationRedisPrefix: "giev",
		},
		ValidationMode: ModeJWTOnly,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

// Validate checks every field. Each error wraps ErrConfiguration.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return configError("JWT secret must be at least %d bytes", jwt.MinSecretLength)
	}
	if _, err := jwt.ParseAlgorithm(c.JWT.Algorithm); err != nil {
		return configError("%v", err)
	}
	if c.JWT.AccessTTL <= 0 {
		return configError("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return configError("JWT RefreshTTL must be longer than AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return configError("JWT Leeway must be between 0 and 2m")
	}
	if len(c.JWT.VerifyKeys) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return configError("JWT KeyID is required when VerifyKeys is set")
	}
	for kid, key := range c.JWT.VerifyKeys {
		if len(key) < jwt.MinSecretLength {
			return configError("JWT verify key %q must be at least %d bytes", kid, jwt.MinSecretLength)
		}
	}

	// Password
	switch c.Password.Algorithm {
	case PasswordAlgorithmBcrypt:
		if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
			return configError("Password BcryptCost must be between 4 and 31")
		}
	case PasswordAlgorithmArgon2id:
		if _, err := password.NewArgon2(c.Password.Argon2); err != nil {
			return configError("%v", err)
		}
	default:
		return configError("unsupported password algorithm %q", c.Password.Algorithm)
	}
	if c.Password.MinLength < 1 || c.Password.MinLength > password.MaxBytes {
		return configError("Password MinLength must be between 1 and %d", password.MaxBytes)
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 || c.PasswordReset.TokenTTL > MaxResetTokenTTL {
		return configError("PasswordReset TokenTTL must be > 0 and <= %s", MaxResetTokenTTL)
	}

	// Email verification
	if c.Verification.TokenTTL <= 0 || c.Verification.TokenTTL > MaxVerificationTokenTTL {
		return configError("Verification TokenTTL must be > 0 and <= %s", MaxVerificationTokenTTL)
	}

	// Account
	if !c.Account.DefaultRole.Valid() || c.Account.DefaultRole == RoleAdmin {
		return configError("Account DefaultRole must be parent or professional")
	}

	// Session
	prefixes := []string{c.Session.RedisPrefix, c.Session.ResetRedisPrefix, c.Session.VerificationRedisPrefix}
	seen := make(map[string]struct{}, len(prefixes))
	for _, prefix := range prefixes {
		if strings.TrimSpace(prefix) == "" {
			return configError("Session redis prefixes must not be empty")
		}
		if _, dup := seen[prefix]; dup {
			return configError("Session redis prefixes must differ")
		}
		seen[prefix] = struct{}{}
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return configError("invalid ValidationMode")
	}

	return nil
}
