package goIdentity_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

func parseUnverified(t *testing.T, token string) jwtlib.MapClaims {
	t.Helper()
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return claims
}

func tamperSignature(token string) string {
	i := strings.LastIndex(token, ".") + 1
	c := byte('A')
	if token[i] == c {
		c = 'B'
	}
	return token[:i] + string(c) + token[i+1:]
}

func TestLoginTokenClaims(t *testing.T) {
	env := newTestEnv(t)
	acct := env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")

	access := parseUnverified(t, res.AccessToken)
	refresh := parseUnverified(t, res.RefreshToken)

	for name, c := range map[string]jwtlib.MapClaims{"access": access, "refresh": refresh} {
		if c["sub"] != acct.ID || c["email"] != "a@x.com" || c["role"] != "parent" {
			t.Fatalf("%s identity claims = %v", name, c)
		}
		if c["typ"] != name {
			t.Fatalf("%s typ = %v", name, c["typ"])
		}
		if c["sid"] != res.SessionID {
			t.Fatalf("%s sid = %v", name, c["sid"])
		}
	}

	now := float64(env.clock.Now().Unix())
	if access["iat"] != now || refresh["iat"] != now {
		t.Fatalf("iat = %v / %v, want %v", access["iat"], refresh["iat"], now)
	}
	if got := access["exp"].(float64) - now; got != (30 * time.Minute).Seconds() {
		t.Fatalf("access lifetime = %vs", got)
	}
	if got := refresh["exp"].(float64) - now; got != (10080 * time.Minute).Seconds() {
		t.Fatalf("refresh lifetime = %vs", got)
	}
	if !res.AccessExpiresAt.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("AccessExpiresAt = %v", res.AccessExpiresAt)
	}
	if strings.Count(res.AccessToken, ".") != 2 {
		t.Fatal("access token is not compact JWS")
	}
}

func TestAuthenticateAccessToken(t *testing.T) {
	env := newTestEnv(t)
	acct := env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")
	ctx := context.Background()

	got, err := env.svc.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.AccountID != acct.ID || got.Role != goIdentity.RoleParent || got.SessionID != res.SessionID {
		t.Fatalf("auth result = %+v", got)
	}

	_, err = env.svc.Authenticate(ctx, res.RefreshToken)
	wantErr(t, err, goIdentity.ErrWrongTokenType)

	_, err = env.svc.Authenticate(ctx, tamperSignature(res.AccessToken))
	wantErr(t, err, goIdentity.ErrTokenInvalid)

	_, err = env.svc.Authenticate(ctx, "garbage")
	wantErr(t, err, goIdentity.ErrTokenInvalid)

	env.clock.Advance(31 * time.Minute)
	_, err = env.svc.Authenticate(ctx, res.AccessToken)
	wantErr(t, err, goIdentity.ErrTokenExpired)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t, func(c *goIdentity.Config) {
		c.JWT.Secret = []byte("a-completely-different-secret-012345")
	})
	other.registerActive(t, "a@x.com", "Abcdef12")
	res := other.login(t, "a@x.com", "Abcdef12")

	_, err := env.svc.Authenticate(context.Background(), res.AccessToken)
	wantErr(t, err, goIdentity.ErrTokenInvalid)
}

func TestRefreshAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")
	ctx := context.Background()

	// A live access token is still the wrong type for refresh.
	_, err := env.svc.RefreshAccessToken(ctx, res.AccessToken)
	wantErr(t, err, goIdentity.ErrWrongTokenType)

	env.clock.Advance(40 * time.Minute)
	_, err = env.svc.Authenticate(ctx, res.AccessToken)
	wantErr(t, err, goIdentity.ErrTokenExpired)

	refreshed, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken != "" {
		t.Fatal("refresh token rotated with rotation disabled")
	}
	if _, err := env.svc.Authenticate(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("authenticate refreshed: %v", err)
	}

	// Without rotation the same refresh token keeps working.
	if _, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	env.clock.Advance(10080 * time.Minute)
	_, err = env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	wantErr(t, err, goIdentity.ErrTokenExpired)
}

func TestRefreshAfterLogout(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")
	ctx := context.Background()

	if err := env.svc.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	wantErr(t, err, goIdentity.ErrSessionRevoked)

	if err := env.svc.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	wantErr(t, env.svc.Logout(ctx, ""), goIdentity.ErrInvalidInput)
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, func(c *goIdentity.Config) {
		c.JWT.RotateRefreshTokens = true
	})
	env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")
	ctx := context.Background()

	rotated, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == res.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	next, err := env.svc.RefreshAccessToken(ctx, rotated.RefreshToken)
	if err != nil {
		t.Fatalf("refresh with rotated token: %v", err)
	}

	_, err = env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	wantErr(t, err, goIdentity.ErrRefreshReuse)

	// Reuse revokes the whole session, including the newest token.
	_, err = env.svc.RefreshAccessToken(ctx, next.RefreshToken)
	wantErr(t, err, goIdentity.ErrSessionRevoked)

	snap := env.svc.MetricsSnapshot()
	if snap.Counters[goIdentity.MetricRefreshReuseDetected] != 1 {
		t.Fatalf("reuse counter = %d", snap.Counters[goIdentity.MetricRefreshReuseDetected])
	}
}

func TestRefreshRotationConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, func(c *goIdentity.Config) {
		c.JWT.RotateRefreshTokens = true
	})
	env.registerActive(t, "a@x.com", "Abcdef12")
	res := env.login(t, "a@x.com", "Abcdef12")

	const workers = 8
	var (
		mu   sync.Mutex
		wins int
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.RefreshAccessToken(context.Background(), res.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("successful rotations = %d, want 1", wins)
	}
}

func TestStrictModeRevocationIsImmediate(t *testing.T) {
	jwtOnly := newTestEnv(t)
	strict := newTestEnv(t, func(c *goIdentity.Config) {
		c.ValidationMode = goIdentity.ModeStrict
	})
	ctx := context.Background()

	for _, env := range []*testEnv{jwtOnly, strict} {
		env.registerActive(t, "a@x.com", "Abcdef12")
	}
	jr := jwtOnly.login(t, "a@x.com", "Abcdef12")
	sr := strict.login(t, "a@x.com", "Abcdef12")

	if err := jwtOnly.svc.Logout(ctx, jr.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := strict.svc.Logout(ctx, sr.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := jwtOnly.svc.Authenticate(ctx, jr.AccessToken); err != nil {
		t.Fatalf("jwt-only mode should accept until expiry: %v", err)
	}
	_, err := strict.svc.Authenticate(ctx, sr.AccessToken)
	wantErr(t, err, goIdentity.ErrSessionRevoked)
}

func TestLogoutAllAndListSessions(t *testing.T) {
	env := newTestEnv(t)
	acct := env.registerActive(t, "a@x.com", "Abcdef12")
	other := env.registerActive(t, "b@x.com", "Abcdef12")
	ctx := goIdentity.WithUserAgent(goIdentity.WithClientIP(context.Background(), "203.0.113.7"), "test-agent")

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Login(ctx, "a@x.com", "Abcdef12"); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	otherRes := env.login(t, "b@x.com", "Abcdef12")

	sessions, err := env.svc.ListSessions(ctx, acct.ID)
	if err != nil || len(sessions) != 3 {
		t.Fatalf("sessions = %d, %v", len(sessions), err)
	}
	if sessions[0].IP != "203.0.113.7" || sessions[0].UserAgent != "test-agent" {
		t.Fatalf("session client info = %q / %q", sessions[0].IP, sessions[0].UserAgent)
	}

	n, err := env.svc.LogoutAll(ctx, acct.ID)
	if err != nil || n != 3 {
		t.Fatalf("LogoutAll = %d, %v", n, err)
	}
	sessions, err = env.svc.ListSessions(ctx, acct.ID)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("sessions after LogoutAll = %d, %v", len(sessions), err)
	}

	if _, err := env.svc.RefreshAccessToken(ctx, otherRes.RefreshToken); err != nil {
		t.Fatalf("other account affected: %v", err)
	}
	if others, _ := env.svc.ListSessions(ctx, other.ID); len(others) != 1 {
		t.Fatalf("other sessions = %d", len(others))
	}
}
