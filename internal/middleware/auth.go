package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vidaleve/backend/internal/auth"
	"github.com/vidaleve/backend/internal/models"
)

type contextKey string

const ctxProfileKey contextKey = "profile"

// ProfileLookup resolves the profile for an authenticated user, creating it on first contact.
type ProfileLookup interface {
	Ensure(ctx context.Context, id uuid.UUID, email string) (*models.Profile, error)
}

// Authenticate validates the bearer token and loads the caller's profile into
// the request context. Websocket upgrades may pass the token as ?token=
// because browsers cannot set headers on them.
func Authenticate(tokens auth.Service, profiles ProfileLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return authenticate(tokens, profiles, logger, true)
}

// OptionalAuthenticate is Authenticate for routes that also serve anonymous
// callers. A request without a token passes through with no profile; a bad
// token is still rejected.
func OptionalAuthenticate(tokens auth.Service, profiles ProfileLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return authenticate(tokens, profiles, logger, false)
}

func authenticate(tokens auth.Service, profiles ProfileLookup, logger *slog.Logger, required bool) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			principal, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			profile, err := profiles.Ensure(r.Context(), principal.UserID, principal.Email)
			if err != nil {
				logger.Error("load profile", "user_id", principal.UserID, "error", err)
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

// RequireAdmin rejects callers whose profile is not an admin. It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := ProfileFromCtx(r.Context())
		if p == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CronOrAdmin lets schedulers call with the shared cron secret as a bearer
// token; anyone else must be an authenticated admin.
func CronOrAdmin(cronSecret string, authn func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		admin := authn(RequireAdmin(next))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cronSecret != "" && subtle.ConstantTimeCompare([]byte(extractBearer(r)), []byte(cronSecret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			admin.ServeHTTP(w, r)
		})
	}
}

// ProfileFromCtx returns the authenticated profile or nil.
func ProfileFromCtx(ctx context.Context) *models.Profile {
	p, _ := ctx.Value(ctxProfileKey).(*models.Profile)
	return p
}

// WithProfile returns a context carrying the given profile.
func WithProfile(ctx context.Context, p *models.Profile) context.Context {
	return context.WithValue(ctx, ctxProfileKey, p)
}

func extractToken(r *http.Request) string {
	if t := extractBearer(r); t != "" {
		return t
	}
	if r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
