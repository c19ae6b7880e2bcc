package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/phone"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

var cloudSendTracer = otel.Tracer("agenda.internal.whatsapp.cloud")

const defaultGraphBaseURL = "https://graph.facebook.com"

// CloudConfig carries the Meta Cloud API credentials.
type CloudConfig struct {
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
	APIVersion        string
	// BaseURL overrides the Graph API host, used by tests.
	BaseURL string
}

// CloudSender posts messages through the WhatsApp Business Cloud API.
type CloudSender struct {
	cfg        CloudConfig
	builder    MessageBuilder
	httpClient *http.Client
	logger     *logging.Logger
}

// NewCloudSender builds the "business" mode channel.
func NewCloudSender(cfg CloudConfig, builder MessageBuilder, logger *logging.Logger) *CloudSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	return &CloudSender{
		cfg:     cfg,
		builder: builder,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Sender = (*CloudSender)(nil)

func (s *CloudSender) configured() bool {
	return s.cfg.AccessToken != "" && s.cfg.PhoneNumberID != ""
}

// Initialize verifies the credentials by fetching the phone number resource,
// and the business account resource when its id is configured.
func (s *CloudSender) Initialize(ctx context.Context) error {
	if !s.configured() {
		return ErrNotConfigured
	}
	if err := s.verifyResource(ctx, s.cfg.PhoneNumberID); err != nil {
		return err
	}
	if s.cfg.BusinessAccountID != "" {
		if err := s.verifyResource(ctx, s.cfg.BusinessAccountID); err != nil {
			return err
		}
	}
	s.logger.Info("whatsapp cloud api verified",
		"phone_number_id", s.cfg.PhoneNumberID,
		"business_account_id", s.cfg.BusinessAccountID,
	)
	return nil
}

func (s *CloudSender) verifyResource(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/%s/%s", s.cfg.BaseURL, s.cfg.APIVersion, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("whatsapp: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: verify credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp: credential check failed for %s: status %d", id, resp.StatusCode)
	}
	return nil
}

// SendText dispatches a free-form text message.
func (s *CloudSender) SendText(ctx context.Context, to, body string) (SendResult, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone.Digits(to),
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return s.post(ctx, to, payload)
}

// SendTemplate dispatches a pre-approved template with positional body
// parameters.
func (s *CloudSender) SendTemplate(ctx context.Context, to, templateName, languageCode string, bodyParams []string) (SendResult, error) {
	if languageCode == "" {
		languageCode = "pt_BR"
	}
	tmpl := map[string]interface{}{
		"name":     templateName,
		"language": map[string]string{"code": languageCode},
	}
	if len(bodyParams) > 0 {
		params := make([]map[string]string, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, map[string]string{"type": "text", "text": p})
		}
		tmpl["components"] = []map[string]interface{}{
			{"type": "body", "parameters": params},
		}
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone.Digits(to),
		"type":              "template",
		"template":          tmpl,
	}
	return s.post(ctx, to, payload)
}

func (s *CloudSender) post(ctx context.Context, to string, payload map[string]interface{}) (SendResult, error) {
	if !s.configured() {
		return SendResult{}, ErrNotConfigured
	}
	ctx, span := cloudSendTracer.Start(ctx, "whatsapp.cloud.send")
	defer span.End()
	span.SetAttributes(attribute.String("agenda.to", to))

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", s.cfg.BaseURL, s.cfg.APIVersion, s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("whatsapp: send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorBody struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if len(respBody) > 0 && json.Unmarshal(respBody, &errorBody) == nil && errorBody.Error.Message != "" {
			err = fmt.Errorf("whatsapp: send failed: status %d: %s (code %d)", resp.StatusCode, errorBody.Error.Message, errorBody.Error.Code)
		} else {
			err = fmt.Errorf("whatsapp: send failed: status %d", resp.StatusCode)
		}
		span.RecordError(err)
		s.logger.Error("whatsapp cloud send failed", "error", err, "to", to)
		return SendResult{}, err
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		Contacts []struct {
			WaID string `json:"wa_id"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return SendResult{}, fmt.Errorf("whatsapp: send response missing message id")
	}

	result := SendResult{MessageID: parsed.Messages[0].ID, Phone: to}
	s.logger.Info("whatsapp message sent", "to", to, "message_id", result.MessageID)
	return result, nil
}

// MessageStatus is the Graph API view of a previously sent message.
type MessageStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GetMessageStatus fetches the delivery state of a sent message by its wamid.
// Webhook status events are the usual source; this is the pull-based fallback.
func (s *CloudSender) GetMessageStatus(ctx context.Context, messageID string) (MessageStatus, error) {
	if !s.configured() {
		return MessageStatus{}, ErrNotConfigured
	}
	url := fmt.Sprintf("%s/%s/%s", s.cfg.BaseURL, s.cfg.APIVersion, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MessageStatus{}, fmt.Errorf("whatsapp: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return MessageStatus{}, fmt.Errorf("whatsapp: status request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorBody struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if len(respBody) > 0 && json.Unmarshal(respBody, &errorBody) == nil && errorBody.Error.Message != "" {
			return MessageStatus{}, fmt.Errorf("whatsapp: status lookup failed: status %d: %s (code %d)", resp.StatusCode, errorBody.Error.Message, errorBody.Error.Code)
		}
		return MessageStatus{}, fmt.Errorf("whatsapp: status lookup failed: status %d", resp.StatusCode)
	}

	var status MessageStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return MessageStatus{}, fmt.Errorf("whatsapp: decode status response: %w", err)
	}
	return status, nil
}

// GenerateMessage renders the confirmation text for an appointment.
func (s *CloudSender) GenerateMessage(a appointment.Appointment) string {
	return s.builder.Build(a)
}

// Status reports the channel state. The Cloud API has no session, so
// configured implies connected.
func (s *CloudSender) Status(context.Context) Status {
	configured := s.configured()
	return Status{
		Mode:        ModeBusiness,
		Configured:  configured,
		Connected:   configured,
		PhoneNumber: s.cfg.PhoneNumberID,
	}
}

// Disconnect is a no-op; the Cloud API is stateless.
func (s *CloudSender) Disconnect(context.Context) error { return nil }

// Mode identifies the channel without a network round trip.
func (s *CloudSender) Mode() string { return ModeBusiness }
