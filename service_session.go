package goIdentity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/jwt"
)

// Login authenticates email and password, opens a session and returns an
// access and refresh token pair. Client IP and User-Agent are taken from
// ctx (see WithClientIP and WithUserAgent).
func (s *Service) Login(ctx context.Context, email, pw string) (LoginResult, error) {
	if err := s.ready(); err != nil {
		return LoginResult{}, err
	}

	acct, err := s.verifyCredentials(ctx, email, pw)
	if err != nil {
		return LoginResult{}, err
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return LoginResult{}, fmt.Errorf("goIdentity: session id: %w", err)
	}

	sub := subjectOf(acct, sid)
	access, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return LoginResult{}, fmt.Errorf("goIdentity: issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(sub)
	if err != nil {
		return LoginResult{}, fmt.Errorf("goIdentity: issue refresh token: %w", err)
	}

	err = s.sessions.CreateSession(ctx, Session{
		ID:          sid,
		AccountID:   acct.ID,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		CreatedAt:   s.now().UTC(),
		ExpiresAt:   refresh.ExpiresAt.UTC(),
		RefreshHash: internal.HashTokenID(refresh.ID),
	})
	if err != nil {
		return LoginResult{}, storeError(err)
	}

	s.metricInc(MetricLoginSuccess)
	s.metricInc(MetricSessionCreated)

	return LoginResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		SessionID:        sid,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Account:          acct.Summary(),
	}, nil
}

func subjectOf(acct Account, sessionID string) jwt.Subject {
	return jwt.Subject{
		AccountID: acct.ID,
		Email:     acct.Email,
		Role:      string(acct.Role),
		SessionID: sessionID,
	}
}

// RefreshAccessToken exchanges a refresh token for a new access token.
//
// The session named by the token must still be live and the account must
// still be Active. Presenting a refresh token that is no longer the
// session's current one revokes the session and fails with ErrRefreshReuse.
// With Config.JWT.RotateRefreshTokens the result also carries a new refresh
// token and the presented one is retired.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshResult, error) {
	if err := s.ready(); err != nil {
		return RefreshResult{}, err
	}

	claims, err := s.tokens.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		return RefreshResult{}, tokenError(err)
	}

	sess, err := s.liveSession(ctx, claims)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		return RefreshResult{}, err
	}

	presented := internal.HashTokenID(claims.ID)
	if subtle.ConstantTimeCompare(sess.RefreshHash[:], presented[:]) != 1 {
		s.metricInc(MetricRefreshReuseDetected)
		s.revokeAfterReuse(ctx, sess)
		return RefreshResult{}, ErrRefreshReuse
	}

	acct, err := s.accounts.FindAccountByID(ctx, claims.Subject)
	if err != nil {
		s.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return RefreshResult{}, ErrTokenInvalid
		}
		return RefreshResult{}, storeError(err)
	}
	if !acct.IsActive() {
		s.metricInc(MetricRefreshFailure)
		return RefreshResult{}, ErrAccountInactive
	}

	sub := subjectOf(acct, sess.ID)
	access, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("goIdentity: issue access token: %w", err)
	}
	result := RefreshResult{AccessToken: access.Token, AccessExpiresAt: access.ExpiresAt}

	if s.config.JWT.RotateRefreshTokens {
		next, err := s.tokens.IssueRefresh(sub)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("goIdentity: issue refresh token: %w", err)
		}
		if err := s.sessions.RotateRefresh(ctx, sess.ID, presented, internal.HashTokenID(next.ID)); err != nil {
			switch {
			case errors.Is(err, ErrRefreshConflict):
				s.metricInc(MetricRefreshReuseDetected)
				s.revokeAfterReuse(ctx, sess)
				return RefreshResult{}, ErrRefreshReuse
			case errors.Is(err, ErrSessionNotFound):
				s.metricInc(MetricRefreshFailure)
				return RefreshResult{}, ErrSessionRevoked
			}
			return RefreshResult{}, storeError(err)
		}
		result.RefreshToken = next.Token
	}

	s.metricInc(MetricRefreshSuccess)
	return result, nil
}

func (s *Service) revokeAfterReuse(ctx context.Context, sess Session) {
	if err := s.sessions.RevokeSession(ctx, sess.ID); err != nil {
		s.logf("session revoke after refresh reuse failed account=%s: %v", sess.AccountID, err)
		return
	}
	s.metricInc(MetricSessionInvalidated)
}

// liveSession loads the session a token names and checks it belongs to the
// token subject.
func (s *Service) liveSession(ctx context.Context, claims *jwt.Claims) (Session, error) {
	if claims.SessionID == "" {
		return Session{}, ErrTokenInvalid
	}
	sess, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrSessionRevoked
		}
		return Session{}, storeError(err)
	}
	if sess.AccountID != claims.Subject {
		return Session{}, ErrTokenInvalid
	}
	if !sess.Live(s.now()) {
		return Session{}, ErrSessionRevoked
	}
	return sess, nil
}

// Authenticate validates a bearer access token. In ModeJWTOnly this is pure
// computation; in ModeStrict the token's session must also be live.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (AuthResult, error) {
	if err := s.ready(); err != nil {
		return AuthResult{}, err
	}
	if s.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { s.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	claims, err := s.tokens.Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		s.metricInc(MetricAuthenticateFailure)
		return AuthResult{}, tokenError(err)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		s.metricInc(MetricAuthenticateFailure)
		return AuthResult{}, ErrTokenInvalid
	}

	if s.config.ValidationMode == ModeStrict {
		if _, err := s.liveSession(ctx, claims); err != nil {
			s.metricInc(MetricAuthenticateFailure)
			return AuthResult{}, err
		}
	}

	return AuthResult{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      role,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes one session. Unknown sessions are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	if err := s.sessions.RevokeSession(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return storeError(err)
	}
	s.metricInc(MetricLogout)
	return nil
}

// LogoutAll revokes every session of the account and returns how many were
// live.
func (s *Service) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if accountID == "" {
		return 0, fmt.Errorf("%w: account id required", ErrInvalidInput)
	}
	n, err := s.sessions.RevokeAccountSessions(ctx, accountID)
	if err != nil {
		return 0, storeError(err)
	}
	s.metricInc(MetricLogoutAll)
	if n > 0 {
		s.metricInc(MetricSessionInvalidated)
	}
	return n, nil
}

// ListSessions returns the live sessions of the account.
func (s *Service) ListSessions(ctx context.Context, accountID string) ([]Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	all, err := s.sessions.ListAccountSessions(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	now := s.now()
	live := make([]Session, 0, len(all))
	for _, sess := range all {
		if sess.Live(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}
