package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/revclaw/revclaw/internal/middleware"
)

// RouteConfig carries the cross-cutting pieces MountRoutes wires around
// the handlers. Nil fields disable the corresponding middleware.
type RouteConfig struct {
	RateLimiter           *middleware.RateLimiter
	Idempotency           func(http.Handler) http.Handler
	TelegramWebhookSecret string
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, rc RouteConfig) {
	r.Get("/healthz", h.Health)
	r.Get("/revclaw/auth.md", h.AuthDocHandler)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Post("/auth/login", h.Login)
		r.Post("/webhooks/telegram", h.TelegramWebhook(rc.TelegramWebhookSecret))

		// Bot credential endpoints: unauthenticated or secret-bearing,
		// all rate-limited by client IP.
		r.Group(func(r chi.Router) {
			if rc.RateLimiter != nil {
				r.Use(rc.RateLimiter.Handler)
			}
			r.Post("/agents/register", h.RegisterAgent)
			r.Get("/agents/{id}/claim-status", h.ClaimStatus)
			r.Post("/tokens", h.ExchangeToken)
			r.Post("/tokens/refresh", h.RefreshToken)
		})

		// Magic-link plan approval; the single-use token is the credential.
		r.Get("/plans/approve", h.PreviewPlanByToken)
		r.Post("/plans/approve", h.DecidePlanByToken)

		// Dashboard session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(h.Auth))

			r.Get("/auth/me", h.GetCurrentUser)

			r.Post("/claims/{claimID}/approve", h.ApproveClaim)
			r.Post("/claims/{claimID}/deny", h.DenyClaim)

			r.Get("/installations", h.ListInstallations)
			r.Get("/installations/{id}", h.GetInstallation)
			r.Post("/installations/{id}/revoke", h.RevokeInstallation)
			r.Patch("/installations/{id}/policy", h.UpdateInstallationPolicy)
			r.Get("/installations/{id}/events", h.ListInstallationEvents)

			r.Get("/intents", h.ListIntents)
			r.Get("/intents/{id}", h.GetIntent)
			r.Post("/intents/{id}/approve", h.ApproveIntent)
			r.Post("/intents/{id}/deny", h.DenyIntent)

			r.Get("/plans", h.ListPlans)
			r.Get("/plans/{id}", h.GetPlan)
			r.Post("/plans/{id}/approve", h.ApprovePlan)
			r.Post("/plans/{id}/deny", h.DenyPlan)

			r.Post("/projects", h.CreateProject)
			r.Get("/projects", h.ListProjects)
			r.Get("/projects/{id}", h.GetProject)
		})

		// Bot header auth: agent secret plus the acting user id.
		r.Group(func(r chi.Router) {
			if rc.RateLimiter != nil {
				r.Use(rc.RateLimiter.Handler)
			}
			r.Use(middleware.BotAuth(h.Tokens))
			if rc.Idempotency != nil {
				r.Use(rc.Idempotency)
			}
			r.Post("/intents", h.CreateIntent)
			r.Post("/plans", h.CreatePlan)
		})

		// Installation bearer auth: the gated action surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.AgentAuth(h.Tokens))
			r.With(middleware.RequireScope("projects:publish")).
				Post("/projects/{id}/publish", h.PublishProject)
			r.With(middleware.RequireScope("projects:apply")).
				Post("/projects/{id}/apply", h.ApplyToProject)
			r.With(middleware.RequireScope("coupons:claim")).
				Post("/projects/{id}/coupons/claim", h.ClaimCoupon)
			r.With(middleware.RequireScope("plans:execute")).
				Post("/plans/{id}/execute", h.ExecutePlan)
		})
	})
}
