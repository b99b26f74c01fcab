// Package goIdentity is an identity and access core: account registration
// with email verification, credential checks, HMAC-signed access and refresh
// tokens backed by server-side sessions, and single-use password reset.
//
// A [Service] is assembled once through [Builder] and is safe for concurrent
// use afterwards. Storage is pluggable: an [AccountRepository] (see
// store/memory, store/sqlite and store/postgres), a [SessionStore], a
// [ResetTokenStore] and a [VerificationTokenStore]. [Builder.WithRedis]
// backs the last three with Redis.
//
// # Account lifecycle
//
// Accounts start Pending and become Active either by redeeming a
// verification token through [Service.ConfirmEmailVerification] or directly
// through [Service.VerifyEmail]. They end Inactive through
// [Service.Deactivate]. Only Active accounts may log in or
// refresh. Inactive is terminal.
//
// # Token validation
//
// In ModeJWTOnly [Service.Authenticate] checks the signature, type and
// expiry only. In ModeStrict the session named by the token must also be
// live, so logout takes effect immediately for access tokens too.
//
// # Errors
//
// Every failure wraps one of the exported *Error sentinels. Use errors.Is
// against a sentinel, or [KindOf] and [CodeOf] to map failures onto a
// transport.
//
// # What this package must NOT do
//
//   - Log plaintext passwords, full tokens or password hashes.
//   - Reveal through a reset or verification request whether an email is
//     registered.
//   - Import a transport package; httpapi and middleware import goIdentity.
package goIdentity
