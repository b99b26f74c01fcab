package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
)

// NewRedisSessionStore returns a SessionStore backed by Redis. Records live
// under <prefix>:s:<id> and are removed on revocation, so a revoked session
// is indistinguishable from an unknown one.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) SessionStore {
	return &redisSessionStore{store: session.NewStore(client, prefix)}
}

// NewRedisResetTokenStore returns a ResetTokenStore backed by Redis.
func NewRedisResetTokenStore(client redis.UniversalClient, prefix string) ResetTokenStore {
	return &redisResetTokenStore{store: stores.NewChallengeStore(client, prefix)}
}

// NewRedisVerificationTokenStore returns a VerificationTokenStore backed by
// Redis. Use a prefix distinct from the reset store's.
func NewRedisVerificationTokenStore(client redis.UniversalClient, prefix string) VerificationTokenStore {
	return &redisVerificationTokenStore{store: stores.NewChallengeStore(client, prefix)}
}

type redisSessionStore struct {
	store *session.Store
}

func (r *redisSessionStore) CreateSession(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(s.CreatedAt)
	err := r.store.Save(ctx, &session.Session{
		SessionID:   s.ID,
		AccountID:   s.AccountID,
		IP:          s.IP,
		UserAgent:   s.UserAgent,
		RefreshHash: s.RefreshHash,
		CreatedAt:   s.CreatedAt.Unix(),
		ExpiresAt:   s.ExpiresAt.Unix(),
	}, ttl)
	return mapSessionError(err)
}

func (r *redisSessionStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, mapSessionError(err)
	}
	return fromRedisSession(sess), nil
}

func (r *redisSessionStore) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.store.Delete(ctx, sessionID)
	return mapSessionError(err)
}

func (r *redisSessionStore) RevokeAccountSessions(ctx context.Context, accountID string) (int, error) {
	n, err := r.store.DeleteAllForAccount(ctx, accountID)
	return n, mapSessionError(err)
}

func (r *redisSessionStore) ListAccountSessions(ctx context.Context, accountID string) ([]Session, error) {
	list, err := r.store.ListForAccount(ctx, accountID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	out := make([]Session, len(list))
	for i, sess := range list {
		out[i] = fromRedisSession(sess)
	}
	return out, nil
}

func (r *redisSessionStore) RotateRefresh(ctx context.Context, sessionID string, current, next [32]byte) error {
	_, err := r.store.RotateRefreshHash(ctx, sessionID, current, next)
	return mapSessionError(err)
}

func (r *redisSessionStore) ping(ctx context.Context) error {
	_, err := r.store.Ping(ctx)
	return mapSessionError(err)
}

func fromRedisSession(s *session.Session) Session {
	return Session{
		ID:          s.SessionID,
		AccountID:   s.AccountID,
		IP:          s.IP,
		UserAgent:   s.UserAgent,
		RefreshHash: s.RefreshHash,
		CreatedAt:   time.Unix(s.CreatedAt, 0).UTC(),
		ExpiresAt:   time.Unix(s.ExpiresAt, 0).UTC(),
	}
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRefreshHashMismatch):
		return ErrRefreshConflict
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

type redisResetTokenStore struct {
	store *stores.ChallengeStore
}

func (r *redisResetTokenStore) SaveResetToken(ctx context.Context, record PasswordResetRecord) error {
	err := r.store.Save(ctx, record.ResetID, &stores.ChallengeRecord{
		AccountID:  record.AccountID,
		SecretHash: record.SecretHash,
		IssuedAt:   record.IssuedAt.Unix(),
		ExpiresAt:  record.ExpiresAt.Unix(),
	}, record.ExpiresAt.Sub(record.IssuedAt))
	return mapChallengeError(err, ErrResetTokenInvalid, ErrResetTokenConsumed)
}

func (r *redisResetTokenStore) ConsumeResetToken(ctx context.Context, resetID string, secretHash [32]byte) (PasswordResetRecord, error) {
	rec, err := r.store.Consume(ctx, resetID, secretHash)
	if err != nil {
		return PasswordResetRecord{}, mapChallengeError(err, ErrResetTokenInvalid, ErrResetTokenConsumed)
	}
	consumedAt := time.Unix(rec.ConsumedAt, 0).UTC()
	return PasswordResetRecord{
		ResetID:    resetID,
		AccountID:  rec.AccountID,
		SecretHash: rec.SecretHash,
		IssuedAt:   time.Unix(rec.IssuedAt, 0).UTC(),
		ExpiresAt:  time.Unix(rec.ExpiresAt, 0).UTC(),
		Consumed:   true,
		ConsumedAt: &consumedAt,
	}, nil
}

func (r *redisResetTokenStore) DeleteAccountResetTokens(ctx context.Context, accountID string) error {
	return mapChallengeError(r.store.DeleteAccount(ctx, accountID), ErrResetTokenInvalid, ErrResetTokenConsumed)
}

type redisVerificationTokenStore struct {
	store *stores.ChallengeStore
}

func (r *redisVerificationTokenStore) SaveVerificationToken(ctx context.Context, record EmailVerificationRecord) error {
	err := r.store.Save(ctx, record.VerificationID, &stores.ChallengeRecord{
		AccountID:  record.AccountID,
		SecretHash: record.SecretHash,
		IssuedAt:   record.IssuedAt.Unix(),
		ExpiresAt:  record.ExpiresAt.Unix(),
	}, record.ExpiresAt.Sub(record.IssuedAt))
	return mapChallengeError(err, ErrVerificationTokenInvalid, ErrVerificationTokenConsumed)
}

func (r *redisVerificationTokenStore) ConsumeVerificationToken(ctx context.Context, verificationID string, secretHash [32]byte) (EmailVerificationRecord, error) {
	rec, err := r.store.Consume(ctx, verificationID, secretHash)
	if err != nil {
		return EmailVerificationRecord{}, mapChallengeError(err, ErrVerificationTokenInvalid, ErrVerificationTokenConsumed)
	}
	consumedAt := time.Unix(rec.ConsumedAt, 0).UTC()
	return EmailVerificationRecord{
		VerificationID: verificationID,
		AccountID:      rec.AccountID,
		SecretHash:     rec.SecretHash,
		IssuedAt:       time.Unix(rec.IssuedAt, 0).UTC(),
		ExpiresAt:      time.Unix(rec.ExpiresAt, 0).UTC(),
		Consumed:       true,
		ConsumedAt:     &consumedAt,
	}, nil
}

func (r *redisVerificationTokenStore) DeleteAccountVerificationTokens(ctx context.Context, accountID string) error {
	return mapChallengeError(r.store.DeleteAccount(ctx, accountID), ErrVerificationTokenInvalid, ErrVerificationTokenConsumed)
}

// mapChallengeError translates challenge store failures into the caller's
// flow-specific invalid and consumed sentinels.
func mapChallengeError(err error, invalid, consumed error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeSecretMismatch):
		return invalid
	case errors.Is(err, stores.ErrChallengeConsumed):
		return consumed
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
