package goIdentity

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors the IDENTITY_* environment surface. Durations are given
// in minutes to match the deployment manifests.
type envConfig struct {
	JWTSecret         string `env:"IDENTITY_JWT_SECRET,required,unset"`
	JWTAlgorithm      string `env:"IDENTITY_JWT_ALGORITHM"           envDefault:"HS256"`
	JWTIssuer         string `env:"IDENTITY_JWT_ISSUER"              envDefault:"goidentity"`
	JWTKeyID          string `env:"IDENTITY_JWT_KEY_ID"`
	JWTRotateRefresh  bool   `env:"IDENTITY_JWT_ROTATE_REFRESH"      envDefault:"false"`
	AccessTTLMinutes  int    `env:"IDENTITY_ACCESS_TTL_MINUTES"      envDefault:"30"`
	RefreshTTLMinutes int    `env:"IDENTITY_REFRESH_TTL_MINUTES"     envDefault:"10080"`
	LeewaySeconds     int    `env:"IDENTITY_JWT_LEEWAY_SECONDS"      envDefault:"0"`

	PasswordAlgorithm      string `env:"IDENTITY_PASSWORD_ALGORITHM"        envDefault:"bcrypt"`
	BcryptCost             int    `env:"IDENTITY_BCRYPT_COST"               envDefault:"12"`
	PasswordMinLength      int    `env:"IDENTITY_PASSWORD_MIN_LENGTH"       envDefault:"8"`
	PasswordRequireUpper   bool   `env:"IDENTITY_PASSWORD_REQUIRE_UPPER"    envDefault:"true"`
	PasswordRequireLower   bool   `env:"IDENTITY_PASSWORD_REQUIRE_LOWER"    envDefault:"true"`
	PasswordRequireDigit   bool   `env:"IDENTITY_PASSWORD_REQUIRE_DIGIT"    envDefault:"true"`
	PasswordRequireSpecial bool   `env:"IDENTITY_PASSWORD_REQUIRE_SPECIAL"  envDefault:"false"`
	PasswordUpgradeOnLogin bool   `env:"IDENTITY_PASSWORD_UPGRADE_ON_LOGIN" envDefault:"true"`

	ResetTTLMinutes        int    `env:"IDENTITY_RESET_TTL_MINUTES"        envDefault:"30"`
	VerificationTTLMinutes int    `env:"IDENTITY_VERIFICATION_TTL_MINUTES" envDefault:"1440"`
	DefaultRole            string `env:"IDENTITY_DEFAULT_ROLE"             envDefault:"parent"`
	ValidationMode         string `env:"IDENTITY_VALIDATION_MODE"          envDefault:"jwt"`

	RedisPrefix             string `env:"IDENTITY_REDIS_PREFIX"              envDefault:"gi"`
	ResetRedisPrefix        string `env:"IDENTITY_RESET_REDIS_PREFIX"        envDefault:"gipr"`
	VerificationRedisPrefix string `env:"IDENTITY_VERIFICATION_REDIS_PREFIX" envDefault:"giev"`

	MetricsEnabled          bool `env:"IDENTITY_METRICS_ENABLED"           envDefault:"true"`
	MetricsLatencyHistogram bool `env:"IDENTITY_METRICS_LATENCY_HISTOGRAM" envDefault:"false"`
}

// LoadConfigFromEnv builds a Config from IDENTITY_* environment variables on
// top of DefaultConfig and validates it. A missing or short
// IDENTITY_JWT_SECRET is a configuration error.
func LoadConfigFromEnv() (Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrConfiguration, err)
	}
	return e.toConfig()
}

func (e envConfig) toConfig() (Config, error) {
	cfg := DefaultConfig()

	cfg.JWT.Secret = []byte(e.JWTSecret)
	cfg.JWT.Algorithm = e.JWTAlgorithm
	cfg.JWT.Issuer = e.JWTIssuer
	cfg.JWT.KeyID = e.JWTKeyID
	cfg.JWT.RotateRefreshTokens = e.JWTRotateRefresh
	cfg.JWT.AccessTTL = time.Duration(e.AccessTTLMinutes) * time.Minute
	cfg.JWT.RefreshTTL = time.Duration(e.RefreshTTLMinutes) * time.Minute
	cfg.JWT.Leeway = time.Duration(e.LeewaySeconds) * time.Second

	cfg.Password.Algorithm = e.PasswordAlgorithm
	cfg.Password.BcryptCost = e.BcryptCost
	cfg.Password.MinLength = e.PasswordMinLength
	cfg.Password.RequireUpper = e.PasswordRequireUpper
	cfg.Password.RequireLower = e.PasswordRequireLower
	cfg.Password.RequireDigit = e.PasswordRequireDigit
	cfg.Password.RequireSpecial = e.PasswordRequireSpecial
	cfg.Password.UpgradeOnLogin = e.PasswordUpgradeOnLogin

	cfg.PasswordReset.TokenTTL = time.Duration(e.ResetTTLMinutes) * time.Minute
	cfg.Verification.TokenTTL = time.Duration(e.VerificationTTLMinutes) * time.Minute

	role, err := ParseRole(e.DefaultRole)
	if err != nil {
		return Config{}, configError("IDENTITY_DEFAULT_ROLE %q", e.DefaultRole)
	}
	cfg.Account.DefaultRole = role

	mode, err := ParseValidationMode(e.ValidationMode)
	if err != nil {
		return Config{}, err
	}
	cfg.ValidationMode = mode

	cfg.Session.RedisPrefix = e.RedisPrefix
	cfg.Session.ResetRedisPrefix = e.ResetRedisPrefix
	cfg.Session.VerificationRedisPrefix = e.VerificationRedisPrefix

	cfg.Metrics.Enabled = e.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = e.MetricsLatencyHistogram

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
