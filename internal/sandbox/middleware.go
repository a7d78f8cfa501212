package sandbox

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	claimsContextKey    contextKey = "claims"
	tokenContextKey     contextKey = "token"
	sessionIDContextKey contextKey = "session_id"

	headerSessionID = "X-Session-Id"
)

// ExtractToken returns the bearer token of the Authorization header.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// identify resolves the bearer token and guest session id of every request.
// A bearer token that does not validate is rejected outright, as Sanctum does.
func identify(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := ExtractToken(r); token != "" {
				claims, err := tokens.Validate(token)
				if err != nil {
					respondMessage(w, http.StatusUnauthorized, "Unauthenticated.")
					return
				}
				ctx = context.WithValue(ctx, claimsContextKey, claims)
				ctx = context.WithValue(ctx, tokenContextKey, token)
			}
			if sid := strings.TrimSpace(r.Header.Get(headerSessionID)); sid != "" {
				ctx = context.WithValue(ctx, sessionIDContextKey, sid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAuth rejects requests without a valid bearer token.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := claimsFrom(r.Context()); !ok {
			respondMessage(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole checks that the caller has one of roles.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFrom(r.Context())
			if !ok {
				respondMessage(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondMessage(w, http.StatusForbidden, "This action is unauthorized.")
		})
	}
}

// requestLogger logs one line per request and feeds the request metrics.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			log.Info("request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", r.Header.Get("X-Request-Id"),
			)
		})
	}
}

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok
}

func sessionIDFrom(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDContextKey).(string)
	return sid
}

// cartKey picks the cart a request addresses: the user cart when a bearer
// token is present, else the guest cart of the session id.
func cartKey(ctx context.Context) (string, bool) {
	if claims, ok := claimsFrom(ctx); ok {
		return userCartKey(claims.UserID), true
	}
	if sid := sessionIDFrom(ctx); sid != "" {
		return guestCartKey(sid), true
	}
	return "", false
}
