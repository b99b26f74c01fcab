package goIdentity_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/memory"
)

const testSecret = "service-test-secret-0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentReset struct {
	email     string
	token     string
	expiresAt time.Time
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentReset
	fail bool
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, acct goIdentity.AccountSummary, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{email: acct.Email, token: token, expiresAt: expiresAt})
	if n.fail {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentReset {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no reset notification sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingVerifier struct {
	mu   sync.Mutex
	sent []sentReset
	fail bool
}

func (n *recordingVerifier) SendEmailVerification(_ context.Context, acct goIdentity.AccountSummary, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{email: acct.Email, token: token, expiresAt: expiresAt})
	if n.fail {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (n *recordingVerifier) last(t *testing.T) sentReset {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no verification notification sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingVerifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingVerifier) setFail(fail bool) {
	n.mu.Lock()
	n.fail = fail
	n.mu.Unlock()
}

type testEnv struct {
	svc      *goIdentity.Service
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
	verifier *recordingVerifier
}

func newTestEnv(t *testing.T, mutate ...func(*goIdentity.Config)) *testEnv {
	t.Helper()

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.Secret = []byte(testSecret)
	cfg.Password.BcryptCost = 4
	cfg.Metrics.Enabled = true
	for _, m := range mutate {
		m(&cfg)
	}

	clock := newFakeClock()
	store := memory.New().WithClock(clock.Now)
	notifier := &recordingNotifier{}
	verifier := &recordingVerifier{}

	svc, err := goIdentity.New().
		WithConfig(cfg).
		WithAccountRepository(store).
		WithSessionStore(store).
		WithResetTokenStore(store).
		WithVerificationTokenStore(store).
		WithResetNotifier(notifier).
		WithVerificationNotifier(verifier).
		WithClock(clock.Now).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return &testEnv{svc: svc, store: store, clock: clock, notifier: notifier, verifier: verifier}
}

func (e *testEnv) register(t *testing.T, email, pw string, role goIdentity.Role) goIdentity.AccountSummary {
	t.Helper()
	acct, err := e.svc.Register(context.Background(), goIdentity.RegisterInput{
		Email:     email,
		Password:  pw,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return acct
}

func (e *testEnv) registerActive(t *testing.T, email, pw string) goIdentity.AccountSummary {
	t.Helper()
	acct := e.register(t, email, pw, "")
	verified, err := e.svc.VerifyEmail(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
	return verified
}

func (e *testEnv) login(t *testing.T, email, pw string) goIdentity.LoginResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), email, pw)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}
