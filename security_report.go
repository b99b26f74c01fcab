package goIdentity

import "time"

// SecurityReport is a read-only snapshot of the security-relevant settings
// of a built Service.
type SecurityReport struct {
	SigningAlgorithm          string
	KeyRotationConfigured     bool
	ValidationMode            ValidationMode
	StrictMode                bool
	AccessTTL                 time.Duration
	RefreshTTL                time.Duration
	RefreshRotationEnabled    bool
	PasswordHashAlgorithm     string
	BcryptCost                int
	Argon2                    PasswordConfigReport
	PasswordMinLength         int
	UpgradeOnLogin            bool
	ResetTokenTTL             time.Duration
	ResetNotifierWired        bool
	VerificationTokenTTL      time.Duration
	VerificationNotifierWired bool
	MetricsEnabled            bool
	LintFindings              []string
}

// PasswordConfigReport lists the argon2id parameters in effect.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport summarizes the active configuration.
func (s *Service) SecurityReport() SecurityReport {
	if s == nil {
		return SecurityReport{}
	}
	cfg := s.config

	return SecurityReport{
		SigningAlgorithm:       string(s.tokens.Algorithm()),
		KeyRotationConfigured:  len(cfg.JWT.VerifyKeys) > 0,
		ValidationMode:         cfg.ValidationMode,
		StrictMode:             cfg.ValidationMode == ModeStrict,
		AccessTTL:              cfg.JWT.AccessTTL,
		RefreshTTL:             cfg.JWT.RefreshTTL,
		RefreshRotationEnabled: cfg.JWT.RotateRefreshTokens,
		PasswordHashAlgorithm:  cfg.Password.Algorithm,
		BcryptCost:             cfg.Password.BcryptCost,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Argon2.Memory,
			Time:        cfg.Password.Argon2.Time,
			Parallelism: cfg.Password.Argon2.Parallelism,
			SaltLength:  cfg.Password.Argon2.SaltLength,
			KeyLength:   cfg.Password.Argon2.KeyLength,
		},
		PasswordMinLength:  cfg.Password.MinLength,
		UpgradeOnLogin:     cfg.Password.UpgradeOnLogin,
		ResetTokenTTL:      cfg.PasswordReset.TokenTTL,
		ResetNotifierWired: s.notifier != nil,

		VerificationTokenTTL:      cfg.Verification.TokenTTL,
		VerificationNotifierWired: s.verifyNotifier != nil,
		MetricsEnabled:            cfg.Metrics.Enabled,
		LintFindings:              cfg.Lint().Codes(),
	}
}
