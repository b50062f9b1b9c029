package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesapoints/pesapoints-backend/api/controllers"
	webhookcontrollers "github.com/pesapoints/pesapoints-backend/api/controllers/webhooks"
	"github.com/pesapoints/pesapoints-backend/api/middleware"
	paymentsvc "github.com/pesapoints/pesapoints-backend/internal/payments"
	"github.com/pesapoints/pesapoints-backend/pkg/config"
	"github.com/pesapoints/pesapoints-backend/pkg/db"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
	"github.com/pesapoints/pesapoints-backend/pkg/mpesa"
	"github.com/pesapoints/pesapoints-backend/pkg/redis"
	"github.com/pesapoints/pesapoints-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	mpesaClient *mpesa.Client,
	paymentService *paymentsvc.Service,
	webhookFastGuard *paymentsvc.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			paymentService,
			stripeClient,
			webhookFastGuard,
			webhookcontrollers.StripeConfig{
				AllowUnverified: cfg.Payments.AllowUnverifiedWebhooks,
				Production:      cfg.App.IsProd(),
			},
			logg,
		))
		r.Post("/mpesa", webhookcontrollers.MpesaCallback(
			paymentService,
			mpesaClient,
			webhookFastGuard,
			webhookcontrollers.MpesaConfig{
				AllowUnverified: cfg.Payments.AllowUnverifiedWebhooks,
				Production:      cfg.App.IsProd(),
			},
			logg,
		))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/payments", func(r chi.Router) {
			r.Post("/", controllers.CreatePayment(paymentService, logg))
			r.Get("/", controllers.UserTransactions(paymentService, logg))
			r.Get("/{transactionID}", controllers.TransactionStatus(paymentService, logg))
		})
	})

	return r
}
