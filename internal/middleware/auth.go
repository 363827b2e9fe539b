package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/revclaw/revclaw/internal/domain/user"
	"github.com/revclaw/revclaw/internal/service"
)

const (
	headerUserID   = "X-RevClaw-User-Id"
	headerIntentID = "X-RevClaw-Intent-Id"
)

type sessionCtxKey struct{}
type agentCtxKey struct{}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	tok := strings.TrimPrefix(h, "Bearer ")
	if tok == h {
		return "", false
	}
	return tok, true
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"code":%q}`, message, code)
}

// SessionAuth validates the dashboard session JWT and stores its claims
// in the context.
func SessionAuth(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
				return
			}
			claims, err := authSvc.ValidateSession(tok)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), sessionCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentAuth validates an installation bearer access token and stores the
// resolved agent context.
func AgentAuth(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, _ := bearerToken(r)
			res := tokens.Authenticate(r.Context(), tok)
			if !res.OK {
				writeAuthError(w, res.Status, res.Code, res.Message)
				return
			}
			ctx := context.WithValue(r.Context(), agentCtxKey{}, res.Context)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BotAuth validates header-based bot credentials: the agent secret as
// bearer plus the explicit X-RevClaw-User-Id header.
func BotAuth(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, _ := bearerToken(r)
			res := tokens.AuthenticateBot(r.Context(), secret, r.Header.Get(headerUserID))
			if !res.OK {
				writeAuthError(w, res.Status, res.Code, res.Message)
				return
			}
			ctx := context.WithValue(r.Context(), agentCtxKey{}, res.Context)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects agent requests whose granted-scope snapshot lacks
// the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := AgentFromContext(r.Context())
			if ac == nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
				return
			}
			if err := service.RequireScope(ac, scope); err != nil {
				writeAuthError(w, http.StatusForbidden, "scope_missing", fmt.Sprintf("scope %q not granted", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext returns the session claims, or nil.
func SessionFromContext(ctx context.Context) *user.TokenClaims {
	c, _ := ctx.Value(sessionCtxKey{}).(*user.TokenClaims)
	return c
}

// WithAgent stores an agent context, for transports that authenticate
// outside the HTTP middleware chain.
func WithAgent(ctx context.Context, ac *service.AgentContext) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, ac)
}

// AgentFromContext returns the authenticated agent context, or nil.
func AgentFromContext(ctx context.Context) *service.AgentContext {
	ac, _ := ctx.Value(agentCtxKey{}).(*service.AgentContext)
	return ac
}

// IntentIDFromRequest returns the X-RevClaw-Intent-Id header.
func IntentIDFromRequest(r *http.Request) string {
	return r.Header.Get(headerIntentID)
}
