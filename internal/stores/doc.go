// Package stores holds the Redis-backed challenge record store shared by
// password reset and email verification tokens. Each flow uses its own key
// prefix.
//
// Records are versioned binary blobs with a TTL. A new record supersedes the
// account's previous one. Consume runs under WATCH/MULTI with retry on
// contention and compares secrets in constant time. Token generation and
// account state checks belong to the caller.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Log or expose plaintext secrets.
package stores
