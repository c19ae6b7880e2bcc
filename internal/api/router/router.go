// Package router assembles the HTTP surface of the dashboard backend.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cdcenter/agenda-notifier/internal/http/handlers"
	httpmiddleware "github.com/cdcenter/agenda-notifier/internal/http/middleware"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Appointments   *handlers.AppointmentsHandler
	Send           *handlers.SendHandler
	WhatsApp       *handlers.WhatsAppHandler
	MetricsHandler http.Handler

	// OfflineMode is surfaced on /health so the dashboard can show a demo
	// banner.
	OfflineMode bool
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.OfflineMode))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/appointments", func(r chi.Router) {
			r.Get("/", cfg.Appointments.ListAll)
			r.Get("/pending", cfg.Appointments.ListPending)
			r.Get("/stats", cfg.Appointments.GetStats)
			r.Get("/search", cfg.Appointments.Search)
			r.Post("/{id}/confirm", cfg.Appointments.Confirm)
		})

		api.Route("/send", func(r chi.Router) {
			r.Post("/bulk", cfg.Send.SendBulk)
			r.Post("/template", cfg.Send.SendTemplates)
			r.Post("/{id}", cfg.Send.SendOne)
		})
		api.Post("/test", cfg.Send.SendTest)

		api.Route("/whatsapp", func(r chi.Router) {
			r.Get("/status", cfg.WhatsApp.GetStatus)
			r.Post("/mode", cfg.WhatsApp.SwitchMode)
			r.Post("/connect", cfg.WhatsApp.Connect)
			r.Post("/disconnect", cfg.WhatsApp.Disconnect)
			r.Get("/webhook", cfg.WhatsApp.VerifyWebhook)
			r.Post("/webhook", cfg.WhatsApp.ReceiveWebhook)
		})
	})

	return r
}

func healthHandler(offline bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if offline {
			_, _ = w.Write([]byte(`{"status":"ok","mode":"offline"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
