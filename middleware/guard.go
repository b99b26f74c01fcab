package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type authResultContextKey struct{}

// ErrorWriter renders a rejected request. err is always a *goIdentity.Error
// or wraps one.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// AuthFromContext returns the result stored by Guard.
func AuthFromContext(ctx context.Context) (goIdentity.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(goIdentity.AuthResult)
	return res, ok
}

// WithAuth stores res the way Guard does. Handlers under test use it to skip
// token issuance.
func WithAuth(ctx context.Context, res goIdentity.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard authenticates the bearer token with svc and answers 401 on failure.
func Guard(svc *goIdentity.Service) func(http.Handler) http.Handler {
	return GuardWith(svc, plainError)
}

// GuardWith is Guard with a custom rejection writer.
func GuardWith(svc *goIdentity.Service, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				onError(w, r, goIdentity.ErrServiceNotReady)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, goIdentity.ErrTokenInvalid)
				return
			}

			res, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), res)))
		})
	}
}

// RequireRole admits requests whose authenticated role is one of roles.
func RequireRole(roles ...goIdentity.Role) func(http.Handler) http.Handler {
	return RequireRoleWith(plainError, roles...)
}

// RequireRoleWith is RequireRole with a custom rejection writer.
func RequireRoleWith(onError ErrorWriter, roles ...goIdentity.Role) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthFromContext(r.Context())
			if !ok {
				onError(w, r, goIdentity.ErrTokenInvalid)
				return
			}
			for _, role := range roles {
				if res.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			onError(w, r, goIdentity.ErrForbidden)
		})
	}
}

// ClientInfo copies the remote address and User-Agent into the request
// context. X-Forwarded-For is not trusted; put a proxy-aware middleware in
// front when running behind one.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := remoteIP(r.RemoteAddr); ip != "" {
			ctx = goIdentity.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = goIdentity.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	switch goIdentity.KindOf(err) {
	case goIdentity.KindForbidden:
		http.Error(w, "forbidden", http.StatusForbidden)
	case goIdentity.KindUnauthorized:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
