package router_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cdcenter/agenda-notifier/internal/api/router"
	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/dispatch"
	"github.com/cdcenter/agenda-notifier/internal/http/handlers"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/internal/observability/metrics"
	"github.com/cdcenter/agenda-notifier/internal/whatsapp"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

func newRouter(t *testing.T, offline bool) http.Handler {
	t.Helper()
	logger := logging.Discard()
	repo := appointment.NewOfflineRepository()
	recorder := msglog.NewMemoryRecorder()
	reg := prometheus.NewRegistry()
	m := metrics.NewMessagingMetrics(reg)

	builder := whatsapp.MessageBuilder{ClinicName: "Clinica"}
	business := whatsapp.NewCloudSender(whatsapp.CloudConfig{}, builder, logger)
	web := whatsapp.NewWebSender("", builder, logger)
	switcher := whatsapp.NewSwitcher(whatsapp.ModeBusiness, web, business, logger)

	return router.New(&router.Config{
		Logger:       logger,
		Appointments: handlers.NewAppointmentsHandler(repo, recorder, nil, logger),
		Send: handlers.NewSendHandler(repo,
			dispatch.NewDispatcher(time.Millisecond, recorder, m, logger),
			switcher, handlers.SendConfig{}, logger),
		WhatsApp: handlers.NewWhatsAppHandler(handlers.WhatsAppConfig{
			Switcher:  switcher,
			Processor: whatsapp.NewWebhookProcessor(repo, recorder, logger),
			Metrics:   m,
			Logger:    logger,
		}),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		OfflineMode:    offline,
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := httptest.NewServer(newRouter(t, true))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), `"offline"`) {
		t.Errorf("body = %s", raw)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := httptest.NewServer(newRouter(t, false))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := httptest.NewServer(newRouter(t, false))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
