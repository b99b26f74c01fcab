package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricRegisterSuccess, Name: "goidentity_register_success_total", Help: "Accounts registered."},
	{ID: goIdentity.MetricRegisterDuplicate, Name: "goidentity_register_duplicate_total", Help: "Registrations rejected because the email is taken."},
	{ID: goIdentity.MetricRegisterRejected, Name: "goidentity_register_rejected_total", Help: "Registrations rejected by input or password policy validation."},
	{ID: goIdentity.MetricEmailVerified, Name: "goidentity_email_verified_total", Help: "Accounts moved from pending to active."},
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: goIdentity.MetricLoginNotActive, Name: "goidentity_login_not_active_total", Help: "Logins with correct credentials on a pending or inactive account."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Access tokens minted from refresh tokens."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: goIdentity.MetricRefreshReuseDetected, Name: "goidentity_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: goIdentity.MetricAuthenticateFailure, Name: "goidentity_authenticate_failure_total", Help: "Rejected bearer tokens."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Sessions created."},
	{ID: goIdentity.MetricSessionInvalidated, Name: "goidentity_session_invalidated_total", Help: "Sessions revoked."},
	{ID: goIdentity.MetricLogout, Name: "goidentity_logout_total", Help: "Single-session logouts."},
	{ID: goIdentity.MetricLogoutAll, Name: "goidentity_logout_all_total", Help: "Logout-all operations."},
	{ID: goIdentity.MetricPasswordChangeSuccess, Name: "goidentity_password_change_success_total", Help: "Successful password changes."},
	{ID: goIdentity.MetricPasswordChangeInvalidOld, Name: "goidentity_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: goIdentity.MetricPasswordChangeReuseRejected, Name: "goidentity_password_change_reuse_rejected_total", Help: "Password changes rejected for reusing the current password."},
	{ID: goIdentity.MetricPasswordHashUpgraded, Name: "goidentity_password_hash_upgraded_total", Help: "Stored hashes re-hashed with current parameters after login."},
	{ID: goIdentity.MetricPasswordResetRequest, Name: "goidentity_password_reset_request_total", Help: "Password reset requests."},
	{ID: goIdentity.MetricPasswordResetConfirmSuccess, Name: "goidentity_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: goIdentity.MetricPasswordResetConfirmFailure, Name: "goidentity_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: goIdentity.MetricAccountDeactivated, Name: "goidentity_account_deactivated_total", Help: "Accounts deactivated."},
	{ID: goIdentity.MetricProfileUpdated, Name: "goidentity_profile_updated_total", Help: "Profile updates."},
	{ID: goIdentity.MetricEmailVerificationRequest, Name: "goidentity_email_verification_request_total", Help: "Email verification token requests, including those issued at registration."},
	{ID: goIdentity.MetricEmailVerificationConfirmFailure, Name: "goidentity_email_verification_confirm_failure_total", Help: "Failed email verification confirmations."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricAuthenticateLatency, Name: "goidentity_authenticate_latency_seconds", Help: "Bearer token authentication latency."},
}

// HistogramBounds are the Prometheus le labels of the 8 buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bucket bounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
