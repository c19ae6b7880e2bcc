package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cdcenter/agenda-notifier/internal/observability/metrics"
	"github.com/cdcenter/agenda-notifier/internal/whatsapp"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// WhatsAppHandler manages the channel lifecycle and the webhook intake.
type WhatsAppHandler struct {
	switcher      *whatsapp.Switcher
	processor     *whatsapp.WebhookProcessor
	metrics       *metrics.MessagingMetrics
	webhookSecret string
	verifyToken   string
	logger        *logging.Logger
}

type WhatsAppConfig struct {
	Switcher      *whatsapp.Switcher
	Processor     *whatsapp.WebhookProcessor
	Metrics       *metrics.MessagingMetrics
	WebhookSecret string
	VerifyToken   string
	Logger        *logging.Logger
}

func NewWhatsAppHandler(cfg WhatsAppConfig) *WhatsAppHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhatsAppHandler{
		switcher:      cfg.Switcher,
		processor:     cfg.Processor,
		metrics:       cfg.Metrics,
		webhookSecret: cfg.WebhookSecret,
		verifyToken:   cfg.VerifyToken,
		logger:        cfg.Logger,
	}
}

// GetStatus reports the active channel's connection state.
func (h *WhatsAppHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.switcher.Active().Status(r.Context()))
}

// SwitchMode changes the active channel between web and business.
func (h *WhatsAppHandler) SwitchMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !h.switcher.Switch(r.Context(), req.Mode) {
		writeError(w, http.StatusBadRequest, "unknown mode: "+req.Mode)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"mode": h.switcher.Mode()})
}

// Connect initializes the active channel.
func (h *WhatsAppHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.switcher.Active().Initialize(r.Context()); err != nil {
		if errors.Is(err, whatsapp.ErrNotConfigured) {
			writeError(w, http.StatusBadRequest, "channel not configured")
			return
		}
		h.logger.Error("channel initialization failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeData(w, http.StatusOK, h.switcher.Active().Status(r.Context()))
}

// Disconnect tears the active channel down.
func (h *WhatsAppHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.switcher.Active().Disconnect(r.Context()); err != nil {
		h.logger.Error("channel disconnect failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"disconnected": true})
}

// VerifyWebhook answers the hub.challenge subscription handshake.
func (h *WhatsAppHandler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken && h.verifyToken != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// ReceiveWebhook verifies the signature and applies the delivery's events.
// The provider retries non-200 responses, so processing errors after a valid
// signature still return 200.
func (h *WhatsAppHandler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := whatsapp.VerifySignature(h.webhookSecret, body, r.Header.Get("x-hub-signature-256")); err != nil {
		h.metrics.ObserveInbound("webhook", "invalid_signature")
		h.logger.Warn("webhook signature rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	result, err := h.processor.Process(r.Context(), body)
	if err != nil {
		h.metrics.ObserveInbound("webhook", "malformed")
		h.logger.Error("webhook processing failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.metrics.ObserveInbound("webhook", "processed")
	h.metrics.ObserveWebhookLatency("webhook", time.Since(started).Seconds())
	writeData(w, http.StatusOK, result)
}
