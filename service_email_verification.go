package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal"
)

// RequestEmailVerification issues a single-use verification token for a
// Pending account.
//
// Like RequestPasswordReset the result is success-shaped for every input:
// unknown, Active and Inactive accounts get a well-formed token that was
// never stored. A new token supersedes the previous one. The configured
// VerificationNotifier, if any, receives real tokens only.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	s.metricInc(MetricEmailVerificationRequest)

	email = NormalizeEmail(email)
	if email == "" || s.validate.Var(email, "email") != nil {
		return decoyVerificationToken()
	}

	acct, err := s.accounts.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return decoyVerificationToken()
		}
		return "", storeError(err)
	}
	if acct.Status != StatusPending {
		return decoyVerificationToken()
	}

	return s.issueVerification(ctx, acct)
}

func (s *Service) issueVerification(ctx context.Context, acct Account) (string, error) {
	verificationID, token, secretHash, err := internal.NewChallengeToken()
	if err != nil {
		return "", fmt.Errorf("goIdentity: verification token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.config.Verification.TokenTTL)
	err = s.verifies.SaveVerificationToken(ctx, EmailVerificationRecord{
		VerificationID: verificationID,
		AccountID:      acct.ID,
		SecretHash:     secretHash,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return "", storeError(err)
	}

	if s.verifyNotifier != nil {
		if err := s.verifyNotifier.SendEmailVerification(ctx, acct.Summary(), token, expiresAt); err != nil {
			s.logf("email verification notification failed account=%s: %v", acct.ID, err)
		}
	}
	return token, nil
}

func decoyVerificationToken() (string, error) {
	_, token, _, err := internal.NewChallengeToken()
	if err != nil {
		return "", fmt.Errorf("goIdentity: verification token: %w", err)
	}
	return token, nil
}

// ConfirmEmailVerification redeems token and activates the account it was
// issued for. The token is consumed exactly once: replays fail with
// ErrVerificationTokenConsumed, while unknown, expired, superseded or
// tampered tokens fail with ErrVerificationTokenInvalid. Accounts
// deactivated after the token was issued fail with ErrAccountInactive.
func (s *Service) ConfirmEmailVerification(ctx context.Context, token string) (AccountSummary, error) {
	if err := s.ready(); err != nil {
		return AccountSummary{}, err
	}

	verificationID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		s.metricInc(MetricEmailVerificationConfirmFailure)
		return AccountSummary{}, ErrVerificationTokenInvalid
	}

	record, err := s.verifies.ConsumeVerificationToken(ctx, verificationID, internal.HashChallengeSecret(secret))
	if err != nil {
		s.metricInc(MetricEmailVerificationConfirmFailure)
		return AccountSummary{}, storeError(err)
	}

	acct, err := s.accounts.FindAccountByID(ctx, record.AccountID)
	if err != nil {
		s.metricInc(MetricEmailVerificationConfirmFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return AccountSummary{}, ErrVerificationTokenInvalid
		}
		return AccountSummary{}, storeError(err)
	}

	summary, err := s.activate(ctx, acct)
	if err != nil {
		s.metricInc(MetricEmailVerificationConfirmFailure)
		return AccountSummary{}, err
	}
	return summary, nil
}
