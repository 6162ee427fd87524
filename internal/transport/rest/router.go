package rest

import (
	"net/http"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	"github.com/dropspot/drop-service/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Cache     domain.CacheRepository
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	RateLimitEnabled bool
	RateLimit        int
	RateLimitWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RateLimitEnabled && d.Cache != nil {
		r.Use(RateLimitMiddleware(d.Cache, d.RateLimit, d.RateLimitWindow))
	}
	r.Use(SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		// catalog
		r.Get("/drops", d.Handler.ListDrops)
		r.Get("/drops/{dropID}", d.Handler.GetDrop)
		r.Get("/drops/{dropID}/stats", d.Handler.Stats)

		// waitlist
		r.Post("/drops/{dropID}/join", d.Handler.Join)
		r.Post("/drops/{dropID}/leave", d.Handler.Leave)
		r.Get("/drops/{dropID}/rank", d.Handler.Rank)
		r.Get("/drops/{dropID}/waitlist", d.Handler.Waitlist) // admin

		// claims
		r.Post("/drops/{dropID}/claim", d.Handler.Claim)
		r.Get("/claims/{code}", d.Handler.ClaimByCode) // admin

		// my views
		r.Get("/me/waitlist", d.Handler.MeWaitlist)
		r.Get("/me/claims", d.Handler.MeClaims)

		// admin catalog
		r.Post("/admin/drops", d.Handler.CreateDrop)
		r.Patch("/admin/drops/{dropID}", d.Handler.UpdateDrop)
		r.Delete("/admin/drops/{dropID}", d.Handler.DeleteDrop)
	})

	return r
}
