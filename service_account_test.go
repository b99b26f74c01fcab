package goIdentity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/password"
)

func TestRegisterVerifyLoginScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.register(t, "a@x.com", "Abcdef12", goIdentity.RoleParent)
	if acct.Status != goIdentity.StatusPending || acct.IsVerified || acct.IsActive {
		t.Fatalf("new account = %+v, want pending and unverified", acct)
	}

	_, err := env.svc.Login(ctx, "a@x.com", "Abcdef12")
	wantErr(t, err, goIdentity.ErrAccountPending)

	verified, err := env.svc.VerifyEmail(ctx, acct.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != goIdentity.StatusActive || !verified.IsVerified || !verified.IsActive {
		t.Fatalf("verified = %+v", verified)
	}
	if verified.EmailVerifiedAt == nil || !verified.EmailVerifiedAt.Equal(env.clock.Now()) {
		t.Fatalf("EmailVerifiedAt = %v", verified.EmailVerifiedAt)
	}

	res := env.login(t, "a@x.com", "Abcdef12")
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("login result incomplete: %+v", res)
	}
	if res.Account.ID != acct.ID {
		t.Fatalf("login account = %s, want %s", res.Account.ID, acct.ID)
	}

	_, err = env.svc.Register(ctx, goIdentity.RegisterInput{
		Email: "A@X.COM", Password: "Abcdef12", FirstName: "Dup", LastName: "User",
	})
	wantErr(t, err, goIdentity.ErrAccountExists)
	if goIdentity.KindOf(err) != goIdentity.KindConflict {
		t.Fatalf("kind = %v", goIdentity.KindOf(err))
	}
}

func TestRegisterNormalizesAndDefaults(t *testing.T) {
	env := newTestEnv(t)

	acct, err := env.svc.Register(context.Background(), goIdentity.RegisterInput{
		Email:     "  Mixed.Case@Example.COM ",
		Password:  "Abcdef12",
		FirstName: " Ada ",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Email != "mixed.case@example.com" {
		t.Fatalf("email = %q", acct.Email)
	}
	if acct.FirstName != "Ada" {
		t.Fatalf("first name = %q", acct.FirstName)
	}
	if acct.Role != goIdentity.RoleParent {
		t.Fatalf("role = %q", acct.Role)
	}

	stored, err := env.store.FindAccountByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "Abcdef12" {
		t.Fatal("password stored in the clear")
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	base := func() goIdentity.RegisterInput {
		return goIdentity.RegisterInput{Email: "ok@x.com", Password: "Abcdef12", FirstName: "A", LastName: "B"}
	}

	tests := []struct {
		name   string
		mutate func(*goIdentity.RegisterInput)
		want   error
	}{
		{"bad email", func(in *goIdentity.RegisterInput) { in.Email = "not-an-email" }, goIdentity.ErrInvalidEmail},
		{"empty email", func(in *goIdentity.RegisterInput) { in.Email = "  " }, goIdentity.ErrInvalidEmail},
		{"bad role", func(in *goIdentity.RegisterInput) { in.Role = "superuser" }, goIdentity.ErrInvalidRole},
		{"missing last name", func(in *goIdentity.RegisterInput) { in.LastName = " " }, goIdentity.ErrInvalidInput},
		{"weak password", func(in *goIdentity.RegisterInput) { in.Password = "abcdefgh" }, goIdentity.ErrPasswordPolicy},
		{"professional fields on parent", func(in *goIdentity.RegisterInput) {
			in.Professional.LicenseNumber = "LIC-9"
		}, goIdentity.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			_, err := env.svc.Register(context.Background(), in)
			wantErr(t, err, tt.want)
			if goIdentity.KindOf(err) != goIdentity.KindValidation {
				t.Fatalf("kind = %v", goIdentity.KindOf(err))
			}
		})
	}

	if env.store.Len() != 0 {
		t.Fatalf("rejected registrations stored %d accounts", env.store.Len())
	}
}

func TestRegisterReportsPolicyViolations(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), goIdentity.RegisterInput{
		Email: "weak@x.com", Password: "abc", FirstName: "A", LastName: "B",
	})
	var perr *goIdentity.PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PolicyError", err)
	}
	want := map[password.Rule]bool{password.RuleMinLength: true, password.RuleUpper: true, password.RuleDigit: true}
	if len(perr.Violations) != len(want) {
		t.Fatalf("violations = %v", perr.Violations)
	}
	for _, v := range perr.Violations {
		if !want[v] {
			t.Fatalf("unexpected violation %q", v)
		}
	}
}

func TestRegisterProfessionalKeepsAttributes(t *testing.T) {
	env := newTestEnv(t)

	acct, err := env.svc.Register(context.Background(), goIdentity.RegisterInput{
		Email: "doc@x.com", Password: "Abcdef12", FirstName: "Doc", LastName: "Tor",
		Role:         goIdentity.RoleProfessional,
		Professional: goIdentity.ProfessionalProfile{LicenseNumber: "LIC-1", ClinicName: "North"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Professional == nil || acct.Professional.LicenseNumber != "LIC-1" {
		t.Fatalf("professional = %+v", acct.Professional)
	}
}

func TestRegisterConcurrentSameEmailSingleWinner(t *testing.T) {
	env := newTestEnv(t)

	const workers = 16
	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Register(context.Background(), goIdentity.RegisterInput{
				Email: "race@x.com", Password: "Abcdef12", FirstName: "R", LastName: "C",
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, goIdentity.ErrAccountExists):
				dups.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || dups.Load() != workers-1 {
		t.Fatalf("wins=%d dups=%d", wins.Load(), dups.Load())
	}
}

func TestVerifyEmailIdempotentAndTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.registerActive(t, "v@x.com", "Abcdef12")
	first := *acct.EmailVerifiedAt

	env.clock.Advance(5 * time.Minute)
	again, err := env.svc.VerifyEmail(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !again.EmailVerifiedAt.Equal(first) {
		t.Fatal("second verify restamped EmailVerifiedAt")
	}

	if err := env.svc.Deactivate(ctx, acct.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.svc.VerifyEmail(ctx, acct.ID)
	wantErr(t, err, goIdentity.ErrAccountInactive)

	_, err = env.svc.VerifyEmail(ctx, "missing")
	wantErr(t, err, goIdentity.ErrAccountNotFound)
}

func TestAuthenticateCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	active := env.registerActive(t, "on@x.com", "Abcdef12")
	env.register(t, "pending@x.com", "Abcdef12", "")

	got, err := env.svc.AuthenticateCredentials(ctx, " ON@x.com", "Abcdef12")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != active.ID {
		t.Fatalf("account = %s", got.ID)
	}

	_, errUnknown := env.svc.AuthenticateCredentials(ctx, "ghost@x.com", "Abcdef12")
	_, errWrong := env.svc.AuthenticateCredentials(ctx, "on@x.com", "Wrong1234")
	wantErr(t, errUnknown, goIdentity.ErrInvalidCredentials)
	wantErr(t, errWrong, goIdentity.ErrInvalidCredentials)
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("unknown email and wrong password differ: %q vs %q", errUnknown, errWrong)
	}

	_, err = env.svc.AuthenticateCredentials(ctx, "pending@x.com", "Abcdef12")
	wantErr(t, err, goIdentity.ErrAccountPending)
	_, err = env.svc.AuthenticateCredentials(ctx, "pending@x.com", "Wrong1234")
	wantErr(t, err, goIdentity.ErrInvalidCredentials)

	if err := env.svc.Deactivate(ctx, active.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.svc.AuthenticateCredentials(ctx, "on@x.com", "Abcdef12")
	wantErr(t, err, goIdentity.ErrAccountInactive)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.registerActive(t, "c@x.com", "Abcdef12")
	first := env.login(t, "c@x.com", "Abcdef12")
	second := env.login(t, "c@x.com", "Abcdef12")

	wantErr(t, env.svc.ChangePassword(ctx, acct.ID, "Wrong1234", "Newpass99"), goIdentity.ErrInvalidCredentials)
	wantErr(t, env.svc.ChangePassword(ctx, acct.ID, "Abcdef12", "Abcdef12"), goIdentity.ErrPasswordReuse)
	wantErr(t, env.svc.ChangePassword(ctx, acct.ID, "Abcdef12", "short"), goIdentity.ErrPasswordPolicy)

	if err := env.svc.ChangePassword(ctx, acct.ID, "Abcdef12", "Newpass99"); err != nil {
		t.Fatalf("change: %v", err)
	}

	_, err := env.svc.Login(ctx, "c@x.com", "Abcdef12")
	wantErr(t, err, goIdentity.ErrInvalidCredentials)
	env.login(t, "c@x.com", "Newpass99")

	for _, res := range []goIdentity.LoginResult{first, second} {
		_, err := env.svc.RefreshAccessToken(ctx, res.RefreshToken)
		wantErr(t, err, goIdentity.ErrSessionRevoked)
	}
}

func TestChangePasswordRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	acct := env.register(t, "p@x.com", "Abcdef12", "")

	err := env.svc.ChangePassword(context.Background(), acct.ID, "Abcdef12", "Newpass99")
	wantErr(t, err, goIdentity.ErrAccountPending)
}

func TestChangePasswordDiscardsResetToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.registerActive(t, "c@x.com", "Abcdef12")
	token, err := env.svc.RequestPasswordReset(ctx, "c@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := env.svc.ChangePassword(ctx, acct.ID, "Abcdef12", "Newpass99"); err != nil {
		t.Fatalf("change: %v", err)
	}
	wantErr(t, env.svc.ConfirmPasswordReset(ctx, token, "Other999X"), goIdentity.ErrResetTokenInvalid)
}

func TestDeactivateCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acct := env.registerActive(t, "d@x.com", "Abcdef12")
	res := env.login(t, "d@x.com", "Abcdef12")
	token, err := env.svc.RequestPasswordReset(ctx, "d@x.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}

	if err := env.svc.Deactivate(ctx, acct.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := env.svc.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != goIdentity.StatusInactive || got.IsActive {
		t.Fatalf("status = %s", got.Status)
	}

	sessions, err := env.svc.ListSessions(ctx, acct.ID)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("live sessions after deactivate = %v, %v", sessions, err)
	}
	_, err = env.svc.RefreshAccessToken(ctx, res.RefreshToken)
	if goIdentity.KindOf(err) != goIdentity.KindUnauthorized {
		t.Fatalf("refresh after deactivate: %v", err)
	}
	wantErr(t, env.svc.ConfirmPasswordReset(ctx, token, "Newpass99"), goIdentity.ErrResetTokenInvalid)

	_, err = env.svc.Login(ctx, "d@x.com", "Abcdef12")
	wantErr(t, err, goIdentity.ErrAccountInactive)

	if err := env.svc.Deactivate(ctx, acct.ID); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	wantErr(t, env.svc.Deactivate(ctx, "missing"), goIdentity.ErrAccountNotFound)
}

func TestUpdateProfileWhitelist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	parent := env.registerActive(t, "u@x.com", "Abcdef12")
	name := "  Grace "
	phone := "+33 6 00 00 00 00"
	got, err := env.svc.UpdateProfile(ctx, parent.ID, goIdentity.ProfileUpdate{FirstName: &name, Phone: &phone})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.FirstName != "Grace" || got.Phone != phone || got.LastName != parent.LastName {
		t.Fatalf("updated = %+v", got)
	}
	if got.Role != parent.Role || got.Email != parent.Email || got.Status != parent.Status {
		t.Fatal("update touched non-profile fields")
	}
	if !got.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("UpdatedAt = %v", got.UpdatedAt)
	}

	license := "LIC-7"
	_, err = env.svc.UpdateProfile(ctx, parent.ID, goIdentity.ProfileUpdate{LicenseNumber: &license})
	wantErr(t, err, goIdentity.ErrInvalidInput)

	blank := "   "
	_, err = env.svc.UpdateProfile(ctx, parent.ID, goIdentity.ProfileUpdate{FirstName: &blank})
	wantErr(t, err, goIdentity.ErrInvalidInput)

	pro := env.register(t, "pro@x.com", "Abcdef12", goIdentity.RoleProfessional)
	got, err = env.svc.UpdateProfile(ctx, pro.ID, goIdentity.ProfileUpdate{LicenseNumber: &license})
	if err != nil {
		t.Fatalf("professional update: %v", err)
	}
	if got.Professional == nil || got.Professional.LicenseNumber != license {
		t.Fatalf("professional = %+v", got.Professional)
	}

	if err := env.svc.Deactivate(ctx, parent.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.svc.UpdateProfile(ctx, parent.ID, goIdentity.ProfileUpdate{FirstName: &name})
	wantErr(t, err, goIdentity.ErrAccountInactive)
}

func TestListAccountsAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registerActive(t, "one@x.com", "Abcdef12")
	env.clock.Advance(time.Second)
	env.register(t, "two@x.com", "Abcdef12", "")
	env.clock.Advance(time.Second)
	env.register(t, "pro@y.com", "Abcdef12", goIdentity.RoleProfessional)

	all, err := env.svc.ListAccounts(ctx, goIdentity.AccountFilter{}, goIdentity.Page{})
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %d, %v", len(all), err)
	}

	pending, err := env.svc.ListAccounts(ctx, goIdentity.AccountFilter{Status: goIdentity.StatusPending}, goIdentity.Page{})
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending = %d, %v", len(pending), err)
	}

	byEmail, err := env.svc.ListAccounts(ctx, goIdentity.AccountFilter{EmailContains: "@X.COM"}, goIdentity.Page{Limit: 1, Offset: 1})
	if err != nil || len(byEmail) != 1 || byEmail[0].Email != "two@x.com" {
		t.Fatalf("email page = %+v, %v", byEmail, err)
	}

	_, err = env.svc.ListAccounts(ctx, goIdentity.AccountFilter{Role: "root"}, goIdentity.Page{})
	wantErr(t, err, goIdentity.ErrInvalidRole)
	_, err = env.svc.ListAccounts(ctx, goIdentity.AccountFilter{Status: "frozen"}, goIdentity.Page{})
	wantErr(t, err, goIdentity.ErrInvalidInput)

	stats, err := env.svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.ByStatus[goIdentity.StatusActive] != 1 || stats.ByStatus[goIdentity.StatusPending] != 2 || stats.ByStatus[goIdentity.StatusInactive] != 0 {
		t.Fatalf("by status = %v", stats.ByStatus)
	}
	if stats.ByRole[goIdentity.RoleParent] != 2 || stats.ByRole[goIdentity.RoleProfessional] != 1 || stats.ByRole[goIdentity.RoleAdmin] != 0 {
		t.Fatalf("by role = %v", stats.ByRole)
	}
}
