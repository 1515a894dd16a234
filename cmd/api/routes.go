package main

import (
	"negotiator/internal/auth"
	"negotiator/internal/httpapi"
	"negotiator/internal/rbac"

	"github.com/gin-gonic/gin"
)

type routeOptions struct {
	Auth           *auth.Manager
	WebhookSecret  string
	RateLimitRPS   float64
	RateLimitBurst int
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, opts routeOptions) {
	// public
	r.GET("/healthz", h.Health)
	r.GET("/health", h.Health)
	r.GET("/readyz", h.Ready)

	optionalAuth := auth.OptionalAccessToken(opts.Auth)

	r.POST("/start", httpapi.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst), optionalAuth, h.Start)
	r.GET("/status/:negotiationId", h.Status)

	// Provider webhook. Protected by the shared secret when one is configured.
	r.POST("/log", httpapi.WebhookSecret(opts.WebhookSecret), h.Webhook)

	r.POST("/mock-csr", h.MockCSR)

	// Call monitoring (passthrough to the voice provider).
	r.GET("/phone-numbers", h.PhoneNumbers)
	calls := r.Group("/calls")
	{
		calls.GET("", h.ListCalls)
		calls.GET("/:callId", h.GetCall)
		calls.GET("/:callId/transcript", h.GetTranscript)
		calls.GET("/:callId/events", h.GetEvents)
		calls.POST("/:callId/end", h.EndCall)
	}

	if opts.Auth == nil {
		return
	}

	v1 := r.Group("/v1")
	{
		// Token issuance. Anonymous callers get user tokens only.
		v1.POST("/auth/token", optionalAuth, h.Token)
		v1.POST("/auth/refresh", h.Refresh)

		negotiations := v1.Group("/negotiations")
		negotiations.Use(auth.RequireAccessToken(opts.Auth))
		negotiations.Use(rbac.RequireUser())
		negotiations.Use(rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleAdmin))
		{
			negotiations.GET("", h.ListNegotiations)
			negotiations.GET("/summary", h.Summary)
		}
	}
}
