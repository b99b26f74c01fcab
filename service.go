package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/go-playground/validator/v10"
)

// Service is the account lifecycle core. It holds no per-request state and
// is safe for concurrent use; atomicity lives in the stores.
type Service struct {
	config         Config
	accounts       AccountRepository
	sessions       SessionStore
	resets         ResetTokenStore
	verifies       VerificationTokenStore
	notifier       ResetNotifier
	verifyNotifier VerificationNotifier
	hasher         password.Hasher
	policy         password.Policy
	tokens         *jwt.Manager
	validate       *validator.Validate
	metrics        *Metrics
	logger         *log.Logger
	now            func() time.Time
	dummyHash      string
}

func (s *Service) ready() error {
	if s == nil || s.accounts == nil || s.sessions == nil || s.resets == nil || s.verifies == nil || s.tokens == nil {
		return ErrServiceNotReady
	}
	return nil
}

// Config returns a copy of the active configuration.
func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return cloneConfig(s.config)
}

// Lint reports advisory findings for the active configuration.
func (s *Service) Lint() LintResult {
	if s == nil {
		return nil
	}
	return s.config.Lint()
}

// Ping checks the session backend when it supports health checks. Stores
// without a health check always report healthy.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if p, ok := s.sessions.(interface{ ping(context.Context) error }); ok {
		return p.ping(ctx)
	}
	if p, ok := s.sessions.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// MetricsSnapshot returns the current counter values. A Service with
// metrics disabled returns empty maps.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	if s == nil || s.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return s.metrics.Snapshot()
}

func (s *Service) metricInc(id MetricID) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.Inc(id)
}

func (s *Service) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf("goIdentity: "+format, args...)
}

func (s *Service) checkPassword(pw string) error {
	if v := s.policy.Check(pw); len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}

// NormalizeEmail is the canonical form under which emails are stored and
// compared: trimmed and lower-cased. Repositories apply it themselves.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// inputError converts validator failures into the package taxonomy. A bad
// Email field maps to ErrInvalidEmail, a bad Role to ErrInvalidRole.
func inputError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Email":
			return ErrInvalidEmail
		case "Role":
			return ErrInvalidRole
		}
		fields = append(fields, strings.ToLower(fe.Field())+":"+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
}

// storeError keeps typed store errors intact and wraps anything else as
// ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// tokenError maps jwt package failures onto the service sentinels.
func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrWrongTokenType):
		return ErrWrongTokenType
	default:
		return ErrTokenInvalid
	}
}
