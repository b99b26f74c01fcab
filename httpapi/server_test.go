package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedTokens struct {
	mu            sync.Mutex
	tokens        map[string]string
	verifications map[string]string
}

func (c *capturedTokens) SendPasswordReset(_ context.Context, acct goIdentity.AccountSummary, token string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[acct.Email] = token
	return nil
}

func (c *capturedTokens) token(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[email]
}

func (c *capturedTokens) SendEmailVerification(_ context.Context, acct goIdentity.AccountSummary, token string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifications[acct.Email] = token
	return nil
}

func (c *capturedTokens) verification(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifications[email]
}

type testEnv struct {
	svc    *goIdentity.Service
	app    *httptest.Server
	resets *capturedTokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.Secret = []byte("httpapi-test-secret-0123456789abcdef")
	cfg.Password.BcryptCost = 4
	cfg.ValidationMode = goIdentity.ModeStrict
	cfg.Metrics.Enabled = true

	resets := &capturedTokens{tokens: map[string]string{}, verifications: map[string]string{}}
	store := memory.New()
	logger := log.New(io.Discard, "", 0)
	svc, err := goIdentity.New().
		WithConfig(cfg).
		WithAccountRepository(store).
		WithSessionStore(store).
		WithResetTokenStore(store).
		WithVerificationTokenStore(store).
		WithResetNotifier(resets).
		WithVerificationNotifier(resets).
		WithLogger(logger).
		Build()
	require.NoError(t, err)

	server := NewServer(svc,
		WithLogger(logger),
		WithMetricsHandler(prometheus.NewExporter(svc).Handler()),
	)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)

	return &testEnv{svc: svc, app: app, resets: resets}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.app.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "httpapi-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

// activeAccount registers and verifies through the Service and logs in over
// HTTP, returning the access token and account id.
func (e *testEnv) activeAccount(t *testing.T, email string, role goIdentity.Role) (string, string) {
	t.Helper()
	ctx := context.Background()

	acct, err := e.svc.Register(ctx, goIdentity.RegisterInput{
		Email: email, Password: "Abcdef12", FirstName: "Test", LastName: "User", Role: role,
	})
	require.NoError(t, err)
	_, err = e.svc.VerifyEmail(ctx, acct.ID)
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": email, "password": "Abcdef12"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["access_token"].(string), acct.ID
}

func TestRegisterLoginLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": " A@X.com ", "password": "Abcdef12", "first_name": "Ada", "last_name": "Lovelace",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "parent", body["role"])
	assert.NotContains(t, body, "password_hash")
	id := body["id"].(string)

	resp, body = env.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": "a@x.com", "password": "Abcdef12"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "pending account cannot log in")
	assert.Equal(t, "account_pending", body["error"])

	resp, body = env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": "a@x.com", "password": "Abcdef12", "first_name": "Ada", "last_name": "Lovelace",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "account_exists", body["error"])

	adminToken, _ := env.activeAccount(t, "root@x.com", goIdentity.RoleAdmin)
	resp, body = env.do(t, http.MethodPost, "/v1/accounts/"+id+"/verify", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])

	resp, body = env.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": "a@x.com", "password": "Abcdef12"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	resp, body = env.do(t, http.MethodGet, "/v1/me", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	resp, body = env.do(t, http.MethodPost, "/v1/tokens/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])

	resp, _ = env.do(t, http.MethodDelete, "/v1/sessions/current", access, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "strict mode rejects logged out session")
	assert.Equal(t, "session_revoked", body["error"])
}

func TestRegisterRejectsAdminRoleAndWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": "boss@x.com", "password": "Abcdef12", "first_name": "B", "last_name": "C", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])

	resp, body = env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": "weak@x.com", "password": "abc", "first_name": "W", "last_name": "K",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password_policy", body["error"])
	assert.Contains(t, body["violations"], "min_length")
	assert.Contains(t, body["violations"], "upper")
	assert.NotContains(t, body["message"], "abc")

	resp, body = env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{"email": "x@x.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Contains(t, body["fields"], "Password")

	resp, body = env.do(t, http.MethodPost, "/v1/accounts", "", `{"email":"x@x.com","is_admin":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestUpdateMeRejectsNonWhitelistedFields(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.activeAccount(t, "p@x.com", goIdentity.RoleParent)

	resp, body := env.do(t, http.MethodPatch, "/v1/me", token, `{"role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["error"])

	resp, body = env.do(t, http.MethodPatch, "/v1/me", token, map[string]string{"first_name": "  Grace "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Grace", body["first_name"])
	assert.Equal(t, "parent", body["role"])
}

func TestPasswordResetOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.activeAccount(t, "r@x.com", goIdentity.RoleParent)

	for _, email := range []string{"r@x.com", "nobody@x.com", "not-an-email"} {
		resp, body := env.do(t, http.MethodPost, "/v1/password/reset", "", map[string]string{"email": email})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, email)
		assert.Equal(t, map[string]any{"status": "accepted"}, body, email)
	}

	resetToken := env.resets.token("r@x.com")
	require.NotEmpty(t, resetToken)
	assert.Empty(t, env.resets.token("nobody@x.com"))

	resp, body := env.do(t, http.MethodPost, "/v1/password/reset/confirm", "", map[string]string{"token": resetToken, "new_password": "weak"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password_policy", body["error"])

	resp, _ = env.do(t, http.MethodPost, "/v1/password/reset/confirm", "", map[string]string{"token": resetToken, "new_password": "Newpass99"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/v1/password/reset/confirm", "", map[string]string{"token": resetToken, "new_password": "Other999X"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "reset_token_consumed", body["error"])

	resp, _ = env.do(t, http.MethodGet, "/v1/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "reset revokes sessions")

	resp, _ = env.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": "r@x.com", "password": "Newpass99"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmailVerificationOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/accounts", "", map[string]string{
		"email": "v@x.com", "password": "Abcdef12", "first_name": "Vera", "last_name": "Rubin",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := env.resets.verification("v@x.com")
	require.NotEmpty(t, issued, "registration issues a verification token")

	for _, email := range []string{"v@x.com", "nobody@x.com", "not-an-email"} {
		resp, body := env.do(t, http.MethodPost, "/v1/accounts/verify/request", "", map[string]string{"email": email})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, email)
		assert.Equal(t, map[string]any{"status": "accepted"}, body, email)
	}
	assert.Empty(t, env.resets.verification("nobody@x.com"))

	current := env.resets.verification("v@x.com")
	require.NotEqual(t, issued, current, "a new request supersedes the registration token")

	resp, body := env.do(t, http.MethodPost, "/v1/accounts/verify/confirm", "", map[string]string{"token": issued})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "verification_token_invalid", body["error"])

	resp, body = env.do(t, http.MethodPost, "/v1/accounts/verify/confirm", "", map[string]string{"token": current})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "v@x.com", body["email"])

	resp, body = env.do(t, http.MethodPost, "/v1/accounts/verify/confirm", "", map[string]string{"token": current})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "verification_token_consumed", body["error"])

	resp, _ = env.do(t, http.MethodPost, "/v1/accounts/verify/confirm", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": "v@x.com", "password": "Abcdef12"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChangePasswordOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.activeAccount(t, "c@x.com", goIdentity.RoleParent)

	resp, body := env.do(t, http.MethodPost, "/v1/password/change", token, map[string]string{"current_password": "wrong", "new_password": "Newpass99"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])

	resp, body = env.do(t, http.MethodPost, "/v1/password/change", token, map[string]string{"current_password": "Abcdef12", "new_password": "Abcdef12"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password_reuse", body["error"])

	resp, _ = env.do(t, http.MethodPost, "/v1/password/change", token, map[string]string{"current_password": "Abcdef12", "new_password": "Newpass99"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	parentToken, parentID := env.activeAccount(t, "p@x.com", goIdentity.RoleParent)
	adminToken, _ := env.activeAccount(t, "root@x.com", goIdentity.RoleAdmin)

	resp, _ := env.do(t, http.MethodGet, "/v1/admin/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/v1/admin/stats", parentToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])

	resp, body = env.do(t, http.MethodGet, "/v1/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])

	resp, body = env.do(t, http.MethodGet, "/v1/admin/accounts?role=parent&limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accounts := body["accounts"].([]any)
	require.Len(t, accounts, 1)
	assert.Equal(t, parentID, accounts[0].(map[string]any)["id"])

	resp, _ = env.do(t, http.MethodGet, "/v1/admin/accounts?limit=-1", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeactivateSelfOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, aliceID := env.activeAccount(t, "alice@x.com", goIdentity.RoleParent)
	bobToken, bobID := env.activeAccount(t, "bob@x.com", goIdentity.RoleParent)

	resp, _ := env.do(t, http.MethodPost, "/v1/accounts/"+bobID+"/deactivate", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/accounts/"+aliceID+"/deactivate", aliceToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{"email": "alice@x.com", "password": "Abcdef12"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "account_inactive", body["error"])

	resp, _ = env.do(t, http.MethodGet, "/v1/me", bobToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionsRecordClientInfo(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.activeAccount(t, "s@x.com", goIdentity.RoleParent)

	resp, body := env.do(t, http.MethodGet, "/v1/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	sess := sessions[0].(map[string]any)
	assert.Equal(t, "httpapi-test", sess["user_agent"])
	assert.Equal(t, "127.0.0.1", sess["ip"])

	resp, body = env.do(t, http.MethodDelete, "/v1/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["revoked"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	env.activeAccount(t, "m@x.com", goIdentity.RoleParent)

	resp, err := http.Get(env.app.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "goidentity_login_success_total 1")
}
