package goIdentity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks lint findings.
type LintSeverity int

const (
	// LintInfo notes a deliberate trade-off worth knowing about.
	LintInfo LintSeverity = iota
	// LintWarn flags a setting that weakens the deployment.
	LintWarn
	// LintHigh flags a setting that should not reach production.
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

// LintWarning is a single advisory finding. Unlike Validate errors, lint
// findings never block Build.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings returned by Config.Lint.
type LintResult []LintWarning

// Codes returns the finding codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, len(r))
	for i, w := range r {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns the findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns nil when no finding reaches min, otherwise one error
// listing them. It lets strict deployments treat lint findings as fatal.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return errors.New("goIdentity: config lint: " + strings.Join(parts, "; "))
}

// Lint inspects a configuration that already passes Validate and reports
// risky but legal choices.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway %s exceeds 1m", c.JWT.Leeway)
	}
	if c.JWT.AccessTTL > 30*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens live %s; stolen tokens stay usable that long in jwt mode", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL > 10080*time.Minute {
		add("refresh_ttl_long", LintWarn, "refresh tokens live %s", c.JWT.RefreshTTL)
	}
	if !c.JWT.RotateRefreshTokens {
		add("refresh_rotation_disabled", LintInfo, "refresh tokens are reusable until expiry")
	}

	switch c.Password.Algorithm {
	case PasswordAlgorithmBcrypt:
		if c.Password.BcryptCost < 10 {
			add("bcrypt_cost_low", LintHigh, "bcrypt cost %d is below 10", c.Password.BcryptCost)
		}
	case PasswordAlgorithmArgon2id:
		if c.Password.Argon2.Memory < 19*1024 {
			add("argon2_memory_low", LintWarn, "argon2id memory %d KiB is below 19456", c.Password.Argon2.Memory)
		}
	}
	if c.Password.MinLength < 8 {
		add("password_min_length_short", LintHigh, "minimum password length %d is below 8", c.Password.MinLength)
	}

	if c.ValidationMode == ModeJWTOnly {
		add("jwt_only_mode", LintInfo, "logout and deactivation do not revoke access tokens before they expire")
	}
	if c.PasswordReset.TokenTTL > 30*time.Minute {
		add("reset_ttl_long", LintWarn, "password reset tokens live %s", c.PasswordReset.TokenTTL)
	}

	return ws
}
