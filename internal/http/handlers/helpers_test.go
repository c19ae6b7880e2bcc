package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
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

// fakeSender is a canned channel for handler tests.
type fakeSender struct {
	failAll  bool
	sent     []string
	lastBody string
}

func (f *fakeSender) Initialize(context.Context) error { return nil }

func (f *fakeSender) SendText(_ context.Context, to, body string) (whatsapp.SendResult, error) {
	if f.failAll {
		return whatsapp.SendResult{}, errors.New("provider down")
	}
	f.sent = append(f.sent, to)
	f.lastBody = body
	return whatsapp.SendResult{MessageID: "wamid.test", Phone: to}, nil
}

func (f *fakeSender) SendTemplate(ctx context.Context, to, _, _ string, _ []string) (whatsapp.SendResult, error) {
	return f.SendText(ctx, to, "template")
}

func (f *fakeSender) GenerateMessage(a appointment.Appointment) string {
	return "ola " + a.PatientName
}

func (f *fakeSender) Status(context.Context) whatsapp.Status {
	return whatsapp.Status{Mode: whatsapp.ModeBusiness, Configured: true, Connected: true}
}

func (f *fakeSender) Disconnect(context.Context) error { return nil }

func (f *fakeSender) Mode() string { return whatsapp.ModeBusiness }

type testEnv struct {
	server   *httptest.Server
	sender   *fakeSender
	recorder *msglog.MemoryRecorder
	repo     appointment.Repository
}

const testWebhookSecret = "hook-secret"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := appointment.NewOfflineRepository()
	recorder := msglog.NewMemoryRecorder()
	sender := &fakeSender{}
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.NewMessagingMetrics(reg)

	switcher := whatsapp.NewSwitcher(whatsapp.ModeBusiness, sender, sender, logger)
	dispatcher := dispatch.NewDispatcher(time.Millisecond, recorder, m, logger)
	processor := whatsapp.NewWebhookProcessor(repo, recorder, logger)

	handler := router.New(&router.Config{
		Logger:       logger,
		Appointments: handlers.NewAppointmentsHandler(repo, recorder, nil, logger),
		Send: handlers.NewSendHandler(repo, dispatcher, switcher, handlers.SendConfig{
			TemplateName: "confirmacao", LookaheadDays: 14, BatchLimit: 50,
		}, logger),
		WhatsApp: handlers.NewWhatsAppHandler(handlers.WhatsAppConfig{
			Switcher:      switcher,
			Processor:     processor,
			Metrics:       m,
			WebhookSecret: testWebhookSecret,
			VerifyToken:   "verify-me",
			Logger:        logger,
		}),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		OfflineMode:    true,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{server: server, sender: sender, recorder: recorder, repo: repo}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) (*http.Response, apiResponse) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var parsed apiResponse
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &parsed)
	return resp, parsed
}
