package goIdentity

import (
	"context"
	"strings"
	"time"
)

// Role is the fixed account role set.
type Role string

const (
	// RoleParent is the default role for self-registered accounts.
	RoleParent Role = "parent"
	// RoleProfessional accounts may carry ProfessionalProfile attributes.
	RoleProfessional Role = "professional"
	// RoleAdmin accounts may call ListAccounts, GetStats and VerifyEmail through the HTTP surface.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleProfessional, RoleAdmin:
		return true
	}
	return false
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// AccountStatus represents the lifecycle state of an account.
//
// Accounts start Pending, become Active through VerifyEmail and end Inactive
// through Deactivate. Inactive is terminal.
type AccountStatus string

const (
	// StatusPending is the state of a registered account whose email is not verified.
	StatusPending AccountStatus = "pending"
	// StatusActive is the only state in which credentials authenticate.
	StatusActive AccountStatus = "active"
	// StatusInactive is the terminal deactivated state.
	StatusInactive AccountStatus = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

// ProfessionalProfile holds the optional attributes of professional accounts.
// The values are opaque to this package.
type ProfessionalProfile struct {
	LicenseNumber  string `json:"license_number,omitempty" validate:"max=64"`
	Specialization string `json:"specialization,omitempty" validate:"max=128"`
	ClinicName     string `json:"clinic_name,omitempty" validate:"max=128"`
}

// IsZero reports whether no professional attribute is set.
func (p ProfessionalProfile) IsZero() bool {
	return p.LicenseNumber == "" && p.Specialization == "" && p.ClinicName == ""
}

// Account is the stored identity record.
//
// PasswordHash never leaves the package through Summary and is excluded
// from JSON encoding.
type Account struct {
	ID              string
	Email           string
	PasswordHash    string `json:"-"`
	FirstName       string
	LastName        string
	Phone           string
	Role            Role
	Status          AccountStatus
	Professional    ProfessionalProfile
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EmailVerifiedAt *time.Time
}

// IsVerified is derived from EmailVerifiedAt, which only email verification sets.
func (a Account) IsVerified() bool {
	return a.EmailVerifiedAt != nil
}

// IsActive reports whether the account is in StatusActive.
func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// Summary returns the outward projection of the account.
func (a Account) Summary() AccountSummary {
	s := AccountSummary{
		ID:              a.ID,
		Email:           a.Email,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Phone:           a.Phone,
		Role:            a.Role,
		Status:          a.Status,
		IsVerified:      a.IsVerified(),
		IsActive:        a.IsActive(),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		EmailVerifiedAt: a.EmailVerifiedAt,
	}
	if a.Role == RoleProfessional && !a.Professional.IsZero() {
		p := a.Professional
		s.Professional = &p
	}
	return s
}

// AccountSummary is what the Service returns to callers in place of Account.
type AccountSummary struct {
	ID              string               `json:"id"`
	Email           string               `json:"email"`
	FirstName       string               `json:"first_name"`
	LastName        string               `json:"last_name"`
	Phone           string               `json:"phone,omitempty"`
	Role            Role                 `json:"role"`
	Status          AccountStatus        `json:"status"`
	IsVerified      bool                 `json:"is_verified"`
	IsActive        bool                 `json:"is_active"`
	Professional    *ProfessionalProfile `json:"professional,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	EmailVerifiedAt *time.Time           `json:"email_verified_at,omitempty"`
}

// AccountUpdate is a partial update applied by AccountRepository.UpdateAccount.
// Nil fields are left unchanged. Repositories always stamp UpdatedAt.
type AccountUpdate struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	LicenseNumber   *string
	Specialization  *string
	ClinicName      *string
	PasswordHash    *string
	Status          *AccountStatus
	EmailVerifiedAt *time.Time
}

// Apply copies the non-nil fields of u onto a and stamps UpdatedAt.
// Store implementations that keep Account values in memory share it.
func (u AccountUpdate) Apply(a *Account, now time.Time) {
	if u.FirstName != nil {
		a.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		a.LastName = *u.LastName
	}
	if u.Phone != nil {
		a.Phone = *u.Phone
	}
	if u.LicenseNumber != nil {
		a.Professional.LicenseNumber = *u.LicenseNumber
	}
	if u.Specialization != nil {
		a.Professional.Specialization = *u.Specialization
	}
	if u.ClinicName != nil {
		a.Professional.ClinicName = *u.ClinicName
	}
	if u.PasswordHash != nil {
		a.PasswordHash = *u.PasswordHash
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		a.EmailVerifiedAt = &t
	}
	a.UpdatedAt = now
}

// AccountFilter narrows ListAccounts. Zero fields match everything.
type AccountFilter struct {
	Role          Role
	Status        AccountStatus
	EmailContains string
}

// Matches reports whether a passes the filter.
func (f AccountFilter) Matches(a Account) bool {
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.EmailContains != "" && !strings.Contains(a.Email, strings.ToLower(f.EmailContains)) {
		return false
	}
	return true
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Page is offset pagination for ListAccounts.
type Page struct {
	Offset int
	Limit  int
}

// Normalize applies the default limit and clamps out-of-range values.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// AccountStats is returned by GetStats.
type AccountStats struct {
	Total    int                   `json:"total"`
	ByStatus map[AccountStatus]int `json:"by_status"`
	ByRole   map[Role]int          `json:"by_role"`
}

// RegisterInput is the request for Register. Role defaults to
// Config.Account.DefaultRole when empty.
type RegisterInput struct {
	Email        string `validate:"required,email,max=254"`
	Password     string `validate:"required"`
	FirstName    string `validate:"required,max=100"`
	LastName     string `validate:"required,max=100"`
	Phone        string `validate:"omitempty,max=32"`
	Role         Role   `validate:"required,oneof=parent professional admin"`
	Professional ProfessionalProfile
}

// ProfileUpdate is the whitelist of fields UpdateProfile may change.
// Role, status, email and credentials are deliberately absent.
type ProfileUpdate struct {
	FirstName      *string `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	LastName       *string `json:"last_name,omitempty" validate:"omitempty,min=1,max=100"`
	Phone          *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	LicenseNumber  *string `json:"license_number,omitempty" validate:"omitempty,max=64"`
	Specialization *string `json:"specialization,omitempty" validate:"omitempty,max=128"`
	ClinicName     *string `json:"clinic_name,omitempty" validate:"omitempty,max=128"`
}

func (u ProfileUpdate) trimmed() ProfileUpdate {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	return ProfileUpdate{
		FirstName:      trim(u.FirstName),
		LastName:       trim(u.LastName),
		Phone:          trim(u.Phone),
		LicenseNumber:  trim(u.LicenseNumber),
		Specialization: trim(u.Specialization),
		ClinicName:     trim(u.ClinicName),
	}
}

func (u ProfileUpdate) touchesProfessional() bool {
	return u.LicenseNumber != nil || u.Specialization != nil || u.ClinicName != nil
}

// Session is a server-side record of one login.
//
// RefreshHash is the SHA-256 of the current refresh token id. It changes only
// when refresh rotation is enabled.
type Session struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	IP          string     `json:"ip,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RefreshHash [32]byte   `json:"-"`
}

// Live reports whether the session is neither revoked nor expired at now.
func (s Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// PasswordResetRecord is the stored half of a password reset token. Only
// the SHA-256 of the secret is kept.
type PasswordResetRecord struct {
	ResetID    string
	AccountID  string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Consumed   bool
	ConsumedAt *time.Time
}

// EmailVerificationRecord is the stored half of an email verification
// token. Only the SHA-256 of the secret is kept.
type EmailVerificationRecord struct {
	VerificationID string
	AccountID      string
	SecretHash     [32]byte
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     *time.Time
}

// LoginResult is returned by Login.
type LoginResult struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	SessionID        string         `json:"session_id"`
	AccessExpiresAt  time.Time      `json:"access_expires_at"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	Account          AccountSummary `json:"account"`
}

// RefreshResult is returned by RefreshAccessToken. RefreshToken is only set
// when refresh rotation is enabled.
type RefreshResult struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
}

// AuthResult is returned by Authenticate for a valid access token.
type AuthResult struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountRepository persists accounts. CreateAccount must enforce email
// uniqueness atomically and fail with ErrAccountExists; lookups fail with
// ErrAccountNotFound.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	FindAccountByID(ctx context.Context, id string) (Account, error)
	UpdateAccount(ctx context.Context, id string, update AccountUpdate) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter, page Page) ([]Account, error)
	CountAccountsByStatus(ctx context.Context) (map[AccountStatus]int, error)
	CountAccountsByRole(ctx context.Context) (map[Role]int, error)
}

// SessionStore persists login sessions.
//
// GetSession fails with ErrSessionNotFound for unknown or expired sessions.
// RevokeSession is idempotent. RotateRefresh is a compare-and-swap on
// Session.RefreshHash and fails with ErrRefreshConflict when current does not
// match.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAccountSessions(ctx context.Context, accountID string) (int, error)
	ListAccountSessions(ctx context.Context, accountID string) ([]Session, error)
	RotateRefresh(ctx context.Context, sessionID string, current, next [32]byte) error
}

// ResetTokenStore persists password reset records.
//
// SaveResetToken supersedes any earlier record for the same account.
// ConsumeResetToken must succeed at most once per record: it fails with
// ErrResetTokenInvalid for unknown, expired or mismatching tokens and with
// ErrResetTokenConsumed once the record has been redeemed.
type ResetTokenStore interface {
	SaveResetToken(ctx context.Context, record PasswordResetRecord) error
	ConsumeResetToken(ctx context.Context, resetID string, secretHash [32]byte) (PasswordResetRecord, error)
	DeleteAccountResetTokens(ctx context.Context, accountID string) error
}

// VerificationTokenStore persists email verification records with the same
// contract as ResetTokenStore: a new record supersedes the account's
// previous one, and ConsumeVerificationToken succeeds at most once per
// record, failing with ErrVerificationTokenInvalid or
// ErrVerificationTokenConsumed.
type VerificationTokenStore interface {
	SaveVerificationToken(ctx context.Context, record EmailVerificationRecord) error
	ConsumeVerificationToken(ctx context.Context, verificationID string, secretHash [32]byte) (EmailVerificationRecord, error)
	DeleteAccountVerificationTokens(ctx context.Context, accountID string) error
}

// VerificationNotifier delivers a freshly issued verification token out of
// band. It is only called for Pending accounts.
type VerificationNotifier interface {
	SendEmailVerification(ctx context.Context, account AccountSummary, token string, expiresAt time.Time) error
}

// ResetNotifier delivers a freshly issued reset token out of band, usually by
// email. It is only called for real accounts.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, account AccountSummary, token string, expiresAt time.Time) error
}
