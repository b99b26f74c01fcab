// Package jwt issues and verifies HMAC-signed access and refresh tokens.
//
// Both token kinds carry sub, email, role, typ, iat, exp, jti and the session
// id (sid). The typ claim keeps a refresh token from being accepted where an
// access token is expected, and the reverse.
package jwt
