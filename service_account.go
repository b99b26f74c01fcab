package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Register creates a Pending account. The email is trimmed and lower-cased
// before the uniqueness check; an empty Role selects
// Config.Account.DefaultRole.
//
// Register fails with ErrInvalidEmail, ErrInvalidRole, ErrInvalidInput or a
// *PolicyError for bad input and with ErrAccountExists when the email is
// taken. With a VerificationNotifier configured, a verification token is
// issued and delivered for the new account; failing to issue it is logged
// and does not fail the registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}

	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Role == "" {
		in.Role = s.config.Account.DefaultRole
	}
	role, err := ParseRole(string(in.Role))
	if err != nil {
		s.metricInc(MetricRegisterRejected)
		return AccountSummary{}, err
	}
	in.Role = role

	if err := s.validate.Struct(in); err != nil {
		s.metricInc(MetricRegisterRejected)
		return AccountSummary{}, inputError(err)
	}
	if in.Role != RoleProfessional && !in.Professional.IsZero() {
		s.metricInc(MetricRegisterRejected)
		return AccountSummary{}, fmt.Errorf("%w: professional attributes require the professional role", ErrInvalidInput)
	}
	if err := s.checkPassword(in.Password); err != nil {
		s.metricInc(MetricRegisterRejected)
		return AccountSummary{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AccountSummary{}, fmt.Errorf("goIdentity: hash password: %w", err)
	}

	now := s.now().UTC()
	created, err := s.accounts.CreateAccount(ctx, Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         in.Role,
		Status:       StatusPending,
		Professional: in.Professional,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			s.metricInc(MetricRegisterDuplicate)
			return AccountSummary{}, ErrAccountExists
		}
		return AccountSummary{}, storeError(err)
	}

	s.metricInc(MetricRegisterSuccess)
	if s.verifyNotifier != nil {
		s.metricInc(MetricEmailVerificationRequest)
		if _, err := s.issueVerification(ctx, created); err != nil {
			s.logf("verification token issue failed account=%s: %v", created.ID, err)
		}
	}
	return created.Summary(), nil
}

// VerifyEmail moves a Pending account to Active and stamps
// EmailVerifiedAt. Verifying an Active account is a no-op success;
// Inactive accounts fail with ErrAccountInactive. Outstanding verification
// tokens of the account are discarded.
func (s *Service) VerifyEmail(ctx context.Context, accountID string) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}

	acct, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountSummary{}, storeError(err)
	}

	summary, err := s.activate(ctx, acct)
	if err != nil {
		return AccountSummary{}, err
	}
	if err := s.verifies.DeleteAccountVerificationTokens(ctx, acct.ID); err != nil {
		s.logf("verification token cleanup failed account=%s: %v", acct.ID, err)
	}
	return summary, nil
}

func (s *Service) activate(ctx context.Context, acct Account) (AccountSummary, error) {
	switch acct.Status {
	case StatusActive:
		return acct.Summary(), nil
	case StatusInactive:
		return AccountSummary{}, ErrAccountInactive
	}

	now := s.now().UTC()
	active := StatusActive
	updated, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{
		Status:          &active,
		EmailVerifiedAt: &now,
	})
	if err != nil {
		return AccountSummary{}, storeError(err)
	}

	s.metricInc(MetricEmailVerified)
	return updated.Summary(), nil
}

// AuthenticateCredentials checks an email and password without creating a
// session. It fails with ErrInvalidCredentials for unknown emails and wrong
// passwords alike, and with ErrAccountPending or ErrAccountInactive when
// the password is right but the account is not Active.
func (s *Service) AuthenticateCredentials(ctx context.Context, email, pw string) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}

	acct, err := s.verifyCredentials(ctx, email, pw)
	if err != nil {
		return AccountSummary{}, err
	}

	s.metricInc(MetricLoginSuccess)
	return acct.Summary(), nil
}

func (s *Service) verifyCredentials(ctx context.Context, email, pw string) (Account, error) {
	email = NormalizeEmail(email)
	if email == "" || pw == "" {
		s.metricInc(MetricLoginFailure)
		return Account{}, ErrInvalidCredentials
	}

	acct, err := s.accounts.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Equalize timing with the known-account path.
			_, _ = s.hasher.Verify(pw, s.dummyHash)
			s.metricInc(MetricLoginFailure)
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, storeError(err)
	}

	ok, err := s.hasher.Verify(pw, acct.PasswordHash)
	if err != nil {
		s.logf("credential check failed account=%s: stored hash unusable", acct.ID)
		s.metricInc(MetricLoginFailure)
		return Account{}, ErrInvalidCredentials
	}
	if !ok {
		s.metricInc(MetricLoginFailure)
		return Account{}, ErrInvalidCredentials
	}

	switch acct.Status {
	case StatusActive:
	case StatusPending:
		s.metricInc(MetricLoginNotActive)
		return Account{}, ErrAccountPending
	default:
		s.metricInc(MetricLoginNotActive)
		return Account{}, ErrAccountInactive
	}

	s.upgradeHash(ctx, acct, pw)
	return acct, nil
}

// upgradeHash re-hashes pw when the stored hash uses weaker parameters than
// the current hasher. Failures are logged and never fail the login.
func (s *Service) upgradeHash(ctx context.Context, acct Account, pw string) {
	if !s.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := s.hasher.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		s.logf("password hash upgrade failed account=%s: %v", acct.ID, err)
		return
	}
	if _, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		s.logf("password hash upgrade update failed account=%s: %v", acct.ID, err)
		return
	}
	s.metricInc(MetricPasswordHashUpgraded)
}

// ChangePassword re-authenticates with current, applies the policy to next,
// stores the new hash and revokes every session of the account. Pending
// reset tokens are discarded.
//
// When the password was changed but sessions could not be revoked, the
// error joins ErrSessionInvalidationFailed with the store failure.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if err := s.ready(); err != nil {
		return err
	}

	acct, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}
	switch acct.Status {
	case StatusActive:
	case StatusPending:
		return ErrAccountPending
	default:
		return ErrAccountInactive
	}

	ok, err := s.hasher.Verify(current, acct.PasswordHash)
	if err != nil || !ok {
		s.metricInc(MetricPasswordChangeInvalidOld)
		return ErrInvalidCredentials
	}
	if current == next {
		s.metricInc(MetricPasswordChangeReuseRejected)
		return ErrPasswordReuse
	}
	if err := s.checkPassword(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("goIdentity: hash password: %w", err)
	}
	if _, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		return storeError(err)
	}

	if err := s.resets.DeleteAccountResetTokens(ctx, acct.ID); err != nil {
		s.logf("reset token cleanup failed account=%s: %v", acct.ID, err)
	}
	if err := s.revokeAccount(ctx, acct.ID); err != nil {
		return err
	}

	s.metricInc(MetricPasswordChangeSuccess)
	return nil
}

// Deactivate moves the account to Inactive, revokes all its sessions and
// deletes its reset and verification tokens. It is terminal and safe to repeat.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	if err := s.ready(); err != nil {
		return err
	}

	acct, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}

	if acct.Status != StatusInactive {
		inactive := StatusInactive
		if _, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{Status: &inactive}); err != nil {
			return storeError(err)
		}
	}

	var errs []error
	if err := s.revokeAccount(ctx, acct.ID); err != nil {
		errs = append(errs, err)
	}
	if err := s.resets.DeleteAccountResetTokens(ctx, acct.ID); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	if err := s.verifies.DeleteAccountVerificationTokens(ctx, acct.ID); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.metricInc(MetricAccountDeactivated)
	return nil
}

func (s *Service) revokeAccount(ctx context.Context, accountID string) error {
	n, err := s.sessions.RevokeAccountSessions(ctx, accountID)
	if err != nil {
		s.logf("session invalidation failed account=%s: %v", accountID, err)
		return errors.Join(ErrSessionInvalidationFailed, err)
	}
	if n > 0 {
		s.metricInc(MetricSessionInvalidated)
	}
	return nil
}

// UpdateProfile changes the whitelisted profile fields. Professional
// attributes may only be set on professional accounts; Inactive accounts
// cannot be edited.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, upd ProfileUpdate) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}

	upd = upd.trimmed()
	if err := s.validate.Struct(upd); err != nil {
		return AccountSummary{}, inputError(err)
	}
	if (upd.FirstName != nil && *upd.FirstName == "") || (upd.LastName != nil && *upd.LastName == "") {
		return AccountSummary{}, fmt.Errorf("%w: names cannot be blank", ErrInvalidInput)
	}

	acct, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountSummary{}, storeError(err)
	}
	if acct.Status == StatusInactive {
		return AccountSummary{}, ErrAccountInactive
	}
	if upd.touchesProfessional() && acct.Role != RoleProfessional {
		return AccountSummary{}, fmt.Errorf("%w: professional attributes require the professional role", ErrInvalidInput)
	}

	updated, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{
		FirstName:      upd.FirstName,
		LastName:       upd.LastName,
		Phone:          upd.Phone,
		LicenseNumber:  upd.LicenseNumber,
		Specialization: upd.Specialization,
		ClinicName:     upd.ClinicName,
	})
	if err != nil {
		return AccountSummary{}, storeError(err)
	}

	s.metricInc(MetricProfileUpdated)
	return updated.Summary(), nil
}

// GetAccount returns the summary of one account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}
	acct, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountSummary{}, storeError(err)
	}
	return acct.Summary(), nil
}

// ListAccounts returns one page of accounts matching filter, ordered by
// creation time.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter, page Page) ([]AccountSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	filter.EmailContains = NormalizeEmail(filter.EmailContains)

	accounts, err := s.accounts.ListAccounts(ctx, filter, page.Normalize())
	if err != nil {
		return nil, storeError(err)
	}
	out := make([]AccountSummary, len(accounts))
	for i, a := range accounts {
		out[i] = a.Summary()
	}
	return out, nil
}

// GetStats counts accounts by status and by role. Every known status and
// role is present in the result, zero or not.
func (s *Service) GetStats(ctx context.Context) (AccountStats, error) {
	if err := s.ready(); err != nil {
		return AccountStats{}, err
	}

	byStatus, err := s.accounts.CountAccountsByStatus(ctx)
	if err != nil {
		return AccountStats{}, storeError(err)
	}
	byRole, err := s.accounts.CountAccountsByRole(ctx)
	if err != nil {
		return AccountStats{}, storeError(err)
	}

	stats := AccountStats{
		ByStatus: map[AccountStatus]int{StatusPending: 0, StatusActive: 0, StatusInactive: 0},
		ByRole:   map[Role]int{RoleParent: 0, RoleProfessional: 0, RoleAdmin: 0},
	}
	for st, n := range byStatus {
		stats.ByStatus[st] = n
		stats.Total += n
	}
	for r, n := range byRole {
		stats.ByRole[r] = n
	}
	return stats, nil
}
