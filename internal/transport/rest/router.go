package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/ride-wallet/internal/payment"
	"github.com/frahmantamala/ride-wallet/internal/transport/middleware"
	"github.com/frahmantamala/ride-wallet/internal/transport/swagger"
	"github.com/frahmantamala/ride-wallet/internal/wallet"
)

type RouterConfig struct {
	AllowedOrigins  string
	RiderAuthSecret string
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, cfg RouterConfig, walletHandler *wallet.Handler, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// gateway callback route stays unauthenticated: trust comes
		// from the HMAC signature, not a rider token
		if webhookHandler != nil {
			r.Post("/payment/callback", webhookHandler.HandleGatewayCallback)
		}

		// Rider-facing routes require a bearer token
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.RiderAuth(cfg.RiderAuthSecret, logger))

			if walletHandler != nil {
				pr.Get("/wallet", walletHandler.GetWallet)
			}

			if paymentHandler != nil {
				pr.Route("/wallet", func(wr chi.Router) {
					wr.Post("/orders", paymentHandler.CreateOrder)
					wr.Post("/orders/{orderID}/attempt", paymentHandler.MarkAttempted)
					wr.Post("/spend", paymentHandler.Spend)
					wr.Get("/payments", paymentHandler.ListPayments)
				})
			}
		})
	})
}
