package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal"
)

// RequestPasswordReset issues a single-use reset token for email.
//
// The result is success-shaped whether or not the email belongs to an
// account: unknown and Inactive accounts get a well-formed token that was
// never stored. A new token supersedes any earlier one for the account.
// The configured ResetNotifier, if any, receives real tokens only; its
// failures are logged, not returned.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	s.metricInc(MetricPasswordResetRequest)

	email = NormalizeEmail(email)
	if email == "" || s.validate.Var(email, "email") != nil {
		return decoyResetToken()
	}

	acct, err := s.accounts.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return decoyResetToken()
		}
		return "", storeError(err)
	}
	if acct.Status == StatusInactive {
		return decoyResetToken()
	}

	resetID, token, secretHash, err := internal.NewChallengeToken()
	if err != nil {
		return "", fmt.Errorf("goIdentity: reset token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.config.PasswordReset.TokenTTL)
	err = s.resets.SaveResetToken(ctx, PasswordResetRecord{
		ResetID:    resetID,
		AccountID:  acct.ID,
		SecretHash: secretHash,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return "", storeError(err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordReset(ctx, acct.Summary(), token, expiresAt); err != nil {
			s.logf("password reset notification failed account=%s: %v", acct.ID, err)
		}
	}
	return token, nil
}

func decoyResetToken() (string, error) {
	_, token, _, err := internal.NewChallengeToken()
	if err != nil {
		return "", fmt.Errorf("goIdentity: reset token: %w", err)
	}
	return token, nil
}

// ConfirmPasswordReset redeems token and sets newPassword.
//
// The policy is checked and the new hash computed before the token is
// consumed, so a weak password or a hasher failure does not burn it. The
// token is consumed exactly once: a second attempt fails with
// ErrResetTokenConsumed, while unknown, expired, superseded or tampered
// tokens fail with ErrResetTokenInvalid. A store failure after consumption
// leaves the token spent; the owner has to request a new one. All sessions
// of the account are revoked.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := s.ready(); err != nil {
		return err
	}

	if err := s.checkPassword(newPassword); err != nil {
		s.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}

	resetID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		s.metricInc(MetricPasswordResetConfirmFailure)
		return ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.metricInc(MetricPasswordResetConfirmFailure)
		return fmt.Errorf("goIdentity: hash password: %w", err)
	}

	record, err := s.resets.ConsumeResetToken(ctx, resetID, internal.HashChallengeSecret(secret))
	if err != nil {
		s.metricInc(MetricPasswordResetConfirmFailure)
		return storeError(err)
	}

	acct, err := s.accounts.FindAccountByID(ctx, record.AccountID)
	if err != nil {
		s.metricInc(MetricPasswordResetConfirmFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetTokenInvalid
		}
		return storeError(err)
	}
	if acct.Status == StatusInactive {
		s.metricInc(MetricPasswordResetConfirmFailure)
		return ErrAccountInactive
	}

	if _, err := s.accounts.UpdateAccount(ctx, acct.ID, AccountUpdate{PasswordHash: &hash}); err != nil {
		s.logf("password reset update failed after token consumption account=%s: %v", acct.ID, err)
		return storeError(err)
	}
	if err := s.revokeAccount(ctx, acct.ID); err != nil {
		return err
	}

	s.metricInc(MetricPasswordResetConfirmSuccess)
	return nil
}
