// Package internal holds helpers private to goIdentity: random identifiers
// and the encoding of single-use challenge tokens (password reset and email
// verification).
//
// # Sub-packages
//
//   - stores: Redis-backed challenge token store
package internal
