// Package session stores login sessions in Redis.
//
// # Encoding
//
// Sessions are kept as a compact versioned binary blob (see [Encode]).
// [Store.RotateRefreshHash] patches the refresh hash inside that blob with a
// Lua script, so the layout and the script must change together.
//
// # What this package must NOT do
//
//   - Import goIdentity or jwt.
//   - Store refresh tokens; only their SHA-256 digest.
package session
