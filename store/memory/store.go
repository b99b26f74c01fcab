// Package memory keeps accounts, sessions, password reset and email
// verification records in process memory. It implements every goIdentity store interface and is
// meant for tests, demos and single-process deployments.
package memory

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

var (
	_ goIdentity.AccountRepository = (*Store)(nil)
	_ goIdentity.SessionStore      = (*Store)(nil)
	_ goIdentity.ResetTokenStore   = (*Store)(nil)

	_ goIdentity.VerificationTokenStore = (*Store)(nil)
)

// Store is safe for concurrent use. One mutex guards all maps, so
// check-then-write sequences such as the email uniqueness check and reset
// consumption are atomic.
type Store struct {
	mu sync.Mutex

	accounts map[string]goIdentity.Account
	byEmail  map[string]string

	sessions        map[string]goIdentity.Session
	accountSessions map[string]map[string]struct{}

	resets       map[string]goIdentity.PasswordResetRecord
	accountReset map[string]string

	verifications       map[string]goIdentity.EmailVerificationRecord
	accountVerification map[string]string

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:        make(map[string]goIdentity.Account),
		byEmail:         make(map[string]string),
		sessions:        make(map[string]goIdentity.Session),
		accountSessions: make(map[string]map[string]struct{}),
		resets:          make(map[string]goIdentity.PasswordResetRecord),
		accountReset:    make(map[string]string),

		verifications:       make(map[string]goIdentity.EmailVerificationRecord),
		accountVerification: make(map[string]string),

		now: time.Now,
	}
}

// WithClock replaces time.Now for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

/*
====================================
ACCOUNTS
====================================
*/

func (s *Store) CreateAccount(_ context.Context, a goIdentity.Account) (goIdentity.Account, error) {
	a.Email = goIdentity.NormalizeEmail(a.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[a.Email]; taken {
		return goIdentity.Account{}, goIdentity.ErrAccountExists
	}
	if _, taken := s.accounts[a.ID]; taken {
		return goIdentity.Account{}, goIdentity.ErrAccountExists
	}
	s.accounts[a.ID] = a
	s.byEmail[a.Email] = a.ID
	return a, nil
}

func (s *Store) FindAccountByEmail(_ context.Context, email string) (goIdentity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[goIdentity.NormalizeEmail(email)]
	if !ok {
		return goIdentity.Account{}, goIdentity.ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) FindAccountByID(_ context.Context, id string) (goIdentity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return goIdentity.Account{}, goIdentity.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, update goIdentity.AccountUpdate) (goIdentity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return goIdentity.Account{}, goIdentity.ErrAccountNotFound
	}
	update.Apply(&a, s.now().UTC())
	s.accounts[id] = a
	return a, nil
}

// ListAccounts orders by CreatedAt, then ID.
func (s *Store) ListAccounts(_ context.Context, filter goIdentity.AccountFilter, page goIdentity.Page) ([]goIdentity.Account, error) {
	s.mu.Lock()
	matched := make([]goIdentity.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if filter.Matches(a) {
			matched = append(matched, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	page = page.Normalize()
	if page.Offset >= len(matched) {
		return []goIdentity.Account{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], nil
}

func (s *Store) CountAccountsByStatus(_ context.Context) (map[goIdentity.AccountStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[goIdentity.AccountStatus]int)
	for _, a := range s.accounts {
		out[a.Status]++
	}
	return out, nil
}

func (s *Store) CountAccountsByRole(_ context.Context) (map[goIdentity.Role]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[goIdentity.Role]int)
	for _, a := range s.accounts {
		out[a.Role]++
	}
	return out, nil
}

/*
====================================
SESSIONS
====================================
*/

func (s *Store) CreateSession(_ context.Context, sess goIdentity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess
	idx, ok := s.accountSessions[sess.AccountID]
	if !ok {
		idx = make(map[string]struct{})
		s.accountSessions[sess.AccountID] = idx
	}
	idx[sess.ID] = struct{}{}
	return nil
}

// GetSession returns revoked sessions with Revoked set; only unknown and
// expired ones fail.
func (s *Store) GetSession(_ context.Context, sessionID string) (goIdentity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return goIdentity.Session{}, goIdentity.ErrSessionNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		s.dropSessionLocked(sess)
		return goIdentity.Session{}, goIdentity.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) RevokeSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.Revoked {
		return nil
	}
	s.revokeLocked(sess)
	return nil
}

func (s *Store) RevokeAccountSessions(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id := range s.accountSessions[accountID] {
		sess := s.sessions[id]
		if sess.Live(now) {
			n++
		}
		if !sess.Revoked {
			s.revokeLocked(sess)
		}
	}
	return n, nil
}

func (s *Store) ListAccountSessions(_ context.Context, accountID string) ([]goIdentity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]goIdentity.Session, 0, len(s.accountSessions[accountID]))
	for id := range s.accountSessions[accountID] {
		out = append(out, s.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RotateRefresh revokes the session when current does not match, so a
// replayed refresh token ends the session.
func (s *Store) RotateRefresh(_ context.Context, sessionID string, current, next [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Live(s.now()) {
		return goIdentity.ErrSessionNotFound
	}
	if subtle.ConstantTimeCompare(sess.RefreshHash[:], current[:]) != 1 {
		s.revokeLocked(sess)
		return goIdentity.ErrRefreshConflict
	}
	sess.RefreshHash = next
	s.sessions[sessionID] = sess
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) revokeLocked(sess goIdentity.Session) {
	at := s.now().UTC()
	sess.Revoked = true
	sess.RevokedAt = &at
	s.sessions[sess.ID] = sess
}

func (s *Store) dropSessionLocked(sess goIdentity.Session) {
	delete(s.sessions, sess.ID)
	if idx, ok := s.accountSessions[sess.AccountID]; ok {
		delete(idx, sess.ID)
		if len(idx) == 0 {
			delete(s.accountSessions, sess.AccountID)
		}
	}
}

/*
====================================
PASSWORD RESET
====================================
*/

func (s *Store) SaveResetToken(_ context.Context, record goIdentity.PasswordResetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accountReset[record.AccountID]; ok {
		delete(s.resets, prev)
	}
	s.resets[record.ResetID] = record
	s.accountReset[record.AccountID] = record.ResetID
	return nil
}

func (s *Store) ConsumeResetToken(_ context.Context, resetID string, secretHash [32]byte) (goIdentity.PasswordResetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resets[resetID]
	now := s.now()
	if !ok || !now.Before(rec.ExpiresAt) {
		return goIdentity.PasswordResetRecord{}, goIdentity.ErrResetTokenInvalid
	}
	if subtle.ConstantTimeCompare(rec.SecretHash[:], secretHash[:]) != 1 {
		return goIdentity.PasswordResetRecord{}, goIdentity.ErrResetTokenInvalid
	}
	if rec.Consumed {
		return goIdentity.PasswordResetRecord{}, goIdentity.ErrResetTokenConsumed
	}

	at := now.UTC()
	rec.Consumed = true
	rec.ConsumedAt = &at
	s.resets[resetID] = rec
	return rec, nil
}

func (s *Store) DeleteAccountResetTokens(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.accountReset[accountID]; ok {
		delete(s.resets, id)
		delete(s.accountReset, accountID)
	}
	return nil
}

/*
====================================
EMAIL VERIFICATION
====================================
*/

func (s *Store) SaveVerificationToken(_ context.Context, record goIdentity.EmailVerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accountVerification[record.AccountID]; ok {
		delete(s.verifications, prev)
	}
	s.verifications[record.VerificationID] = record
	s.accountVerification[record.AccountID] = record.VerificationID
	return nil
}

func (s *Store) ConsumeVerificationToken(_ context.Context, verificationID string, secretHash [32]byte) (goIdentity.EmailVerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.verifications[verificationID]
	now := s.now()
	if !ok || !now.Before(rec.ExpiresAt) {
		return goIdentity.EmailVerificationRecord{}, goIdentity.ErrVerificationTokenInvalid
	}
	if subtle.ConstantTimeCompare(rec.SecretHash[:], secretHash[:]) != 1 {
		return goIdentity.EmailVerificationRecord{}, goIdentity.ErrVerificationTokenInvalid
	}
	if rec.Consumed {
		return goIdentity.EmailVerificationRecord{}, goIdentity.ErrVerificationTokenConsumed
	}

	at := now.UTC()
	rec.Consumed = true
	rec.ConsumedAt = &at
	s.verifications[verificationID] = rec
	return rec, nil
}

func (s *Store) DeleteAccountVerificationTokens(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.accountVerification[accountID]; ok {
		delete(s.verifications, id)
		delete(s.accountVerification, accountID)
	}
	return nil
}

// Len reports how many accounts are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}
