package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nmoreaux/idgate"
	"github.com/nmoreaux/idgate/roles"
)

// Header names the guard reads. The client id and secret travel in
// dedicated headers rather than Basic auth so the Authorization header
// stays free for the user's bearer token.
const (
	HeaderClientID     = "X-Client-Id"
	HeaderClientSecret = "X-Client-Secret"
	HeaderDebugKey     = "X-Debug-Key"
)

type reqInfoContextKey struct{}

// ReqInfoFromContext returns the request's authorization snapshot placed
// there by [Guard].
func ReqInfoFromContext(ctx context.Context) (*idgate.ReqInfo, bool) {
	info, ok := ctx.Value(reqInfoContextKey{}).(*idgate.ReqInfo)
	return info, ok
}

// Guard authenticates every request through engine.BuildReqInfo and stores
// the result in the request context. Requests the engine rejects get a
// plain 401; the response body never distinguishes why.
func Guard(engine *idgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			raw := idgate.RawRequest{
				ClientID:     r.Header.Get(HeaderClientID),
				ClientSecret: r.Header.Get(HeaderClientSecret),
				DebugKey:     r.Header.Get(HeaderDebugKey),
				OriginIP:     originIP(r),
			}
			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				raw.BearerToken = token
			}

			ctx := idgate.WithClientIP(r.Context(), raw.OriginIP)
			ctx = idgate.WithUserAgent(ctx, r.UserAgent())

			info, err := engine.BuildReqInfo(ctx, raw)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, reqInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects guarded requests whose effective role set does not
// contain every role in want.
func RequireRoles(want roles.Set) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := ReqInfoFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			has, err := info.HasRole(want)
			if err != nil || !has {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope rejects guarded requests whose token is scope-restricted to
// a set that does not include the given scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := ReqInfoFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !info.ScopeAllows(scope) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func originIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
