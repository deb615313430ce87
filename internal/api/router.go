/**
 * @description
 * HTTP router for the core-banking service: public probes, user routes behind
 * bearer tokens, and operator routes behind the internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: CORS handling.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthConfig carries the credentials the router's middleware checks against.
type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	InternalAPIKey string
}

// NewRouter creates the chi router and registers every core-banking route.
func NewRouter(h *Handlers, auth AuthConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(auth.InternalAPIKey))
		r.Post("/transactions/{id}/reverse", h.ReverseTransactionHandler)
		r.Patch("/accounts/{id}/status", h.UpdateAccountStatusHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(auth.JWTSecret, auth.JWTIssuer))

		r.Post("/transactions/deposit", h.DepositHandler)
		r.Post("/transactions/withdrawal", h.WithdrawalHandler)
		r.Post("/transactions/transfer", h.TransferHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)
		r.Get("/transactions/{id}/ledger", h.GetTransactionLedgerHandler)

		r.Post("/accounts", h.CreateAccountHandler)
		r.Get("/accounts/{id}", h.GetAccountHandler)
		r.Get("/accounts/{id}/balance", h.GetBalanceHandler)
		r.Get("/accounts/{id}/ledger", h.GetAccountLedgerHandler)
		r.Get("/users/{userID}/accounts", h.ListUserAccountsHandler)

		r.Post("/subscriptions", h.CreateSubscriptionHandler)
		r.Get("/subscriptions", h.ListSubscriptionsHandler)
		r.Post("/subscriptions/{id}/cancel", h.CancelSubscriptionHandler)
	})

	return r
}
