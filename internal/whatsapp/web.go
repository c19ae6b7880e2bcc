package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// WebSender drives a browser-automation sidecar that keeps a WhatsApp Web
// session alive. Pairing happens through a QR code exposed by the sidecar.
type WebSender struct {
	baseURL    string
	builder    MessageBuilder
	httpClient *http.Client
	logger     *logging.Logger
}

// WebOption is a functional option for configuring the WebSender.
type WebOption func(*WebSender)

// WithWebHTTPClient sets a custom HTTP client.
func WithWebHTTPClient(client *http.Client) WebOption {
	return func(s *WebSender) {
		s.httpClient = client
	}
}

// NewWebSender builds the "web" mode channel pointed at a sidecar service.
func NewWebSender(baseURL string, builder MessageBuilder, logger *logging.Logger, opts ...WebOption) *WebSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &WebSender{
		baseURL: baseURL,
		builder: builder,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Sender = (*WebSender)(nil)

type webSessionResponse struct {
	Success     bool   `json:"success"`
	Connected   bool   `json:"connected"`
	QRCode      string `json:"qrCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

type webSendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *WebSender) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("whatsapp: marshal sidecar payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("whatsapp: build sidecar request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: sidecar request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp: sidecar returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("whatsapp: decode sidecar response: %w", err)
		}
	}
	return nil
}

// Initialize starts the sidecar session; the QR code shows up in Status once
// the browser is ready for pairing.
func (s *WebSender) Initialize(ctx context.Context) error {
	if s.baseURL == "" {
		return ErrNotConfigured
	}
	var out webSessionResponse
	if err := s.do(ctx, http.MethodPost, "/session/start", nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("whatsapp: sidecar session start failed: %s", out.Error)
	}
	s.logger.Info("whatsapp web session starting", "connected", out.Connected)
	return nil
}

// SendText delivers a text message through the web session. Some sidecar
// builds omit the message id; a generated one keeps the log upsert keyed.
func (s *WebSender) SendText(ctx context.Context, to, body string) (SendResult, error) {
	if s.baseURL == "" {
		return SendResult{}, ErrNotConfigured
	}
	payload := map[string]string{"to": to, "message": body}
	var out webSendResponse
	if err := s.do(ctx, http.MethodPost, "/message/send", payload, &out); err != nil {
		return SendResult{}, err
	}
	if !out.Success {
		return SendResult{}, fmt.Errorf("whatsapp: web send failed: %s", out.Error)
	}
	id := out.MessageID
	if id == "" {
		id = "web." + uuid.NewString()
	}
	s.logger.Info("whatsapp web message sent", "to", to, "message_id", id)
	return SendResult{MessageID: id, Phone: to}, nil
}

// SendTemplate renders the template parameters into plain text; WhatsApp Web
// has no template API.
func (s *WebSender) SendTemplate(ctx context.Context, to, templateName, languageCode string, bodyParams []string) (SendResult, error) {
	body := templateName
	for _, p := range bodyParams {
		body += "\n" + p
	}
	return s.SendText(ctx, to, body)
}

// GenerateMessage renders the confirmation text for an appointment.
func (s *WebSender) GenerateMessage(a appointment.Appointment) string {
	return s.builder.Build(a)
}

// Status reports session state including the pairing QR code, if any.
func (s *WebSender) Status(ctx context.Context) Status {
	st := Status{Mode: ModeWeb, Configured: s.baseURL != ""}
	if !st.Configured {
		return st
	}
	var out webSessionResponse
	if err := s.do(ctx, http.MethodGet, "/session/status", nil, &out); err != nil {
		s.logger.Warn("whatsapp web status unavailable", "error", err)
		return st
	}
	st.Connected = out.Connected
	st.QRCode = out.QRCode
	st.HasQRCode = out.QRCode != ""
	st.PhoneNumber = out.PhoneNumber
	return st
}

// Mode identifies the channel without a network round trip.
func (s *WebSender) Mode() string { return ModeWeb }

// Disconnect tears the sidecar session down.
func (s *WebSender) Disconnect(ctx context.Context) error {
	if s.baseURL == "" {
		return nil
	}
	var out webSessionResponse
	if err := s.do(ctx, http.MethodPost, "/session/stop", nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("whatsapp: sidecar session stop failed: %s", out.Error)
	}
	return nil
}
