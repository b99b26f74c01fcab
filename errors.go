package goIdentity

import (
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity/password"
)

// ErrorKind classifies every error returned by the Service into the
// small taxonomy callers map onto transport status codes.
type ErrorKind int

const (
	// KindInternal covers backend failures the caller cannot fix.
	KindInternal ErrorKind = iota
	// KindValidation covers malformed input and weak passwords.
	KindValidation
	// KindConflict covers duplicate emails and already-consumed reset tokens.
	KindConflict
	// KindNotFound covers unknown accounts and reset tokens.
	KindNotFound
	// KindUnauthorized covers bad credentials, non-active accounts and bad tokens.
	KindUnauthorized
	// KindForbidden covers role-insufficient callers.
	KindForbidden
	// KindConfiguration covers startup configuration errors.
	KindConfiguration
)

// String returns the stable lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is the typed error value behind every sentinel in this package.
// Sentinels are compared with errors.Is; wrapped variants keep the sentinel
// reachable through %w.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// ErrInvalidInput is returned when a request is missing fields or carries malformed values.
	ErrInvalidInput = newError(KindValidation, "invalid_input", "invalid input")
	// ErrInvalidEmail is returned when an email address is not well-formed.
	ErrInvalidEmail = newError(KindValidation, "invalid_email", "invalid email address")
	// ErrInvalidRole is returned for roles outside parent, professional and admin.
	ErrInvalidRole = newError(KindValidation, "invalid_role", "invalid account role")
	// ErrPasswordPolicy is returned when a new password violates the configured policy.
	ErrPasswordPolicy = newError(KindValidation, "password_policy", "password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = newError(KindValidation, "password_reuse", "new password must be different from current password")

	// ErrAccountExists is returned when the normalized email is already registered.
	ErrAccountExists = newError(KindConflict, "account_exists", "account already exists")
	// ErrResetTokenConsumed is returned when a reset token has already been redeemed.
	ErrResetTokenConsumed = newError(KindConflict, "reset_token_consumed", "password reset token already used")
	// ErrVerificationTokenConsumed is returned when a verification token has already been redeemed.
	ErrVerificationTokenConsumed = newError(KindConflict, "verification_token_consumed", "email verification token already used")

	// ErrAccountNotFound is returned when no account matches the id or email.
	ErrAccountNotFound = newError(KindNotFound, "account_not_found", "account not found")
	// ErrResetTokenInvalid is returned for unknown, expired, superseded or tampered reset tokens.
	ErrResetTokenInvalid = newError(KindNotFound, "reset_token_invalid", "password reset token invalid or expired")
	// ErrVerificationTokenInvalid is returned for unknown, expired, superseded or tampered verification tokens.
	ErrVerificationTokenInvalid = newError(KindNotFound, "verification_token_invalid", "email verification token invalid or expired")
	// ErrSessionNotFound is returned by session stores for unknown or expired sessions.
	ErrSessionNotFound = newError(KindNotFound, "session_not_found", "session not found")

	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = newError(KindUnauthorized, "invalid_credentials", "invalid credentials")
	// ErrAccountPending is returned when the password is correct but the email is not verified yet.
	ErrAccountPending = newError(KindUnauthorized, "account_pending", "account not verified")
	// ErrAccountInactive is returned when the account has been deactivated.
	ErrAccountInactive = newError(KindUnauthorized, "account_inactive", "account inactive")
	// ErrTokenInvalid is returned for tokens with a bad signature, bad claims or unknown format.
	ErrTokenInvalid = newError(KindUnauthorized, "token_invalid", "invalid token")
	// ErrTokenExpired is returned for well-formed tokens whose exp is in the past.
	ErrTokenExpired = newError(KindUnauthorized, "token_expired", "token expired")
	// ErrWrongTokenType is returned when a refresh token is presented where an access token is expected, or the reverse.
	ErrWrongTokenType = newError(KindUnauthorized, "wrong_token_type", "wrong token type")
	// ErrSessionRevoked is returned when the session behind a token has been logged out or invalidated.
	ErrSessionRevoked = newError(KindUnauthorized, "session_revoked", "session revoked")
	// ErrRefreshReuse is returned when a rotated-out refresh token is presented again.
	ErrRefreshReuse = newError(KindUnauthorized, "refresh_reuse", "refresh token reuse detected")
	// ErrRefreshConflict is returned by session stores when a concurrent refresh already rotated the token.
	ErrRefreshConflict = newError(KindUnauthorized, "refresh_conflict", "refresh token already rotated")

	// ErrForbidden is returned when the caller's role is insufficient.
	ErrForbidden = newError(KindForbidden, "forbidden", "forbidden")

	// ErrConfiguration is wrapped by every configuration failure raised from Build or LoadConfigFromEnv.
	ErrConfiguration = newError(KindConfiguration, "configuration", "invalid configuration")
	// ErrServiceNotReady is returned when a Service method is called on a nil or unbuilt Service.
	ErrServiceNotReady = newError(KindConfiguration, "service_not_ready", "identity service not initialized")

	// ErrStoreUnavailable is wrapped around storage backend failures.
	ErrStoreUnavailable = newError(KindInternal, "store_unavailable", "identity store unavailable")
	// ErrSessionInvalidationFailed is joined with the backend error when sessions could not be revoked.
	ErrSessionInvalidationFailed = newError(KindInternal, "session_invalidation_failed", "session invalidation failed")
)

// PolicyError lists the password rules a candidate password violated.
// It unwraps to ErrPasswordPolicy.
type PolicyError struct {
	Violations []password.Rule
}

func (e *PolicyError) Error() string {
	if len(e.Violations) == 0 {
		return ErrPasswordPolicy.Message
	}
	names := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		names[i] = string(v)
	}
	return ErrPasswordPolicy.Message + ": " + strings.Join(names, ", ")
}

func (e *PolicyError) Unwrap() error {
	return ErrPasswordPolicy
}

// KindOf reports the ErrorKind of err. Errors that do not carry an *Error
// anywhere in their chain are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first *Error in err's chain, or
// "internal".
func CodeOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return "internal"
}
