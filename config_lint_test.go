package goIdentity

import (
	"strings"
	"testing"
	"time"
)

func hasCode(r LintResult, code string) bool {
	for _, w := range r {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestLint_DefaultConfigOnlyInfo(t *testing.T) {
	cfg := validConfig()
	res := cfg.Lint()

	for _, w := range res {
		if w.Severity != LintInfo {
			t.Fatalf("default config produced %s finding %s: %s", w.Severity, w.Code, w.Message)
		}
	}
	if !hasCode(res, "refresh_rotation_disabled") || !hasCode(res, "jwt_only_mode") {
		t.Fatalf("codes = %v", res.Codes())
	}
}

func TestLint_HardenedConfigClean(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.RotateRefreshTokens = true
	cfg.ValidationMode = ModeStrict

	if res := cfg.Lint(); len(res) != 0 {
		t.Fatalf("expected no findings, got %v", res.Codes())
	}
}

func TestLint_Findings(t *testing.T) {
	tests := []struct {
		code     string
		severity LintSeverity
		mutate   func(*Config)
	}{
		{"leeway_large", LintWarn, func(c *Config) { c.JWT.Leeway = 90 * time.Second }},
		{"access_ttl_long", LintWarn, func(c *Config) { c.JWT.AccessTTL = time.Hour }},
		{"refresh_ttl_long", LintWarn, func(c *Config) { c.JWT.RefreshTTL = 30 * 24 * time.Hour }},
		{"bcrypt_cost_low", LintHigh, func(c *Config) { c.Password.BcryptCost = 8 }},
		{"argon2_memory_low", LintWarn, func(c *Config) {
			c.Password.Algorithm = PasswordAlgorithmArgon2id
			c.Password.Argon2.Memory = 8 * 1024
		}},
		{"password_min_length_short", LintHigh, func(c *Config) { c.Password.MinLength = 6 }},
		{"reset_ttl_long", LintWarn, func(c *Config) { c.PasswordReset.TokenTTL = time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			for _, w := range cfg.Lint() {
				if w.Code == tt.code {
					if w.Severity != tt.severity {
						t.Fatalf("severity = %s, want %s", w.Severity, tt.severity)
					}
					return
				}
			}
			t.Fatalf("missing %s", tt.code)
		})
	}
}

func TestLint_BySeverityAndAsError(t *testing.T) {
	cfg := validConfig()
	cfg.Password.BcryptCost = 4
	cfg.JWT.Leeway = 90 * time.Second
	res := cfg.Lint()

	high := res.BySeverity(LintHigh)
	if len(high) != 1 || high[0].Code != "bcrypt_cost_low" {
		t.Fatalf("high = %v", high.Codes())
	}
	if len(res.BySeverity(LintWarn)) != 2 {
		t.Fatalf("warn+ = %v", res.BySeverity(LintWarn).Codes())
	}

	err := res.AsError(LintHigh)
	if err == nil || !strings.Contains(err.Error(), "bcrypt_cost_low") {
		t.Fatalf("AsError = %v", err)
	}

	clean := validConfig()
	clean.JWT.RotateRefreshTokens = true
	clean.ValidationMode = ModeStrict
	if err := clean.Lint().AsError(LintInfo); err != nil {
		t.Fatalf("clean AsError = %v", err)
	}
}
