// Package password implements the password strength policy and the
// password hashers.
//
// # Hashers
//
// [Bcrypt] is the default [Hasher]. [Argon2] encodes hashes in PHC string
// format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Both report [Hasher.NeedsUpgrade] when a stored hash was produced with
// weaker parameters, so the caller can re-hash on the next successful login.
//
// # Policy
//
// [Policy.Check] is pure and returns every violated [Rule].
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goIdentity package.
//   - Log plaintext passwords or hashes.
package password
