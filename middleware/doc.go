// Package middleware adapts goIdentity.Service.Authenticate to net/http.
//
// # Guards
//
//   - [Guard] rejects requests without a valid bearer access token and
//     stores the [goIdentity.AuthResult] in the request context.
//   - [RequireRole] admits only the listed roles. It must run after Guard.
//   - [ClientInfo] records the caller's IP and User-Agent so Login can attach
//     them to the new session.
//
// Whether Guard also checks the session store depends on the Service's
// ValidationMode. This package never parses tokens itself.
package middleware
