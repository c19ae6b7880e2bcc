package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

var webhookTracer = otel.Tracer("agenda.internal.whatsapp.webhook")

// VerifySignature checks the x-hub-signature-256 header against the raw
// request body. An empty secret disables verification.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	expected, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// webhookEvent mirrors the Cloud API webhook payload shape.
type webhookEvent struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
				Statuses []inboundStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

type inboundStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Errors []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

// WebhookResult summarizes what one webhook delivery changed.
type WebhookResult struct {
	Confirmed      []int64 `json:"confirmed,omitempty"`
	StatusUpdates  int     `json:"statusUpdates"`
	IgnoredReplies int     `json:"ignoredReplies"`
}

// WebhookProcessor applies inbound events: confirmation replies flip the
// matching appointment, delivery receipts update the message log.
type WebhookProcessor struct {
	repo     appointment.Repository
	recorder msglog.Recorder
	logger   *logging.Logger
}

// NewWebhookProcessor wires the processor to its stores.
func NewWebhookProcessor(repo appointment.Repository, recorder msglog.Recorder, logger *logging.Logger) *WebhookProcessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookProcessor{repo: repo, recorder: recorder, logger: logger}
}

// Process parses a webhook body and applies every message and status it
// carries. Per-event failures are logged and skipped so one bad entry cannot
// drop the rest of the delivery.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte) (WebhookResult, error) {
	ctx, span := webhookTracer.Start(ctx, "whatsapp.webhook.process")
	defer span.End()

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookResult{}, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var result WebhookResult
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				p.handleMessage(ctx, msg, &result)
			}
			for _, st := range change.Value.Statuses {
				p.handleStatus(ctx, st, &result)
			}
		}
	}
	span.SetAttributes(
		attribute.Int("agenda.webhook.confirmed", len(result.Confirmed)),
		attribute.Int("agenda.webhook.status_updates", result.StatusUpdates),
	)
	return result, nil
}

func (p *WebhookProcessor) handleMessage(ctx context.Context, msg inboundMessage, result *WebhookResult) {
	if msg.Type != "" && msg.Type != "text" {
		result.IgnoredReplies++
		return
	}
	if !IsConfirmationText(msg.Text.Body) {
		result.IgnoredReplies++
		p.logger.Debug("inbound reply ignored", "from", msg.From)
		return
	}

	appt, err := p.repo.FindPendingByPhone(ctx, msg.From)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			result.IgnoredReplies++
			p.logger.Info("confirmation reply with no pending appointment", "from", msg.From)
			return
		}
		p.logger.Error("failed to match confirmation reply", "error", err, "from", msg.From)
		return
	}

	confirmed, err := p.repo.Confirm(ctx, appt.ID)
	if err != nil {
		p.logger.Error("failed to confirm from reply", "error", err, "appointment_id", appt.ID)
		return
	}
	result.Confirmed = append(result.Confirmed, confirmed.ID)
	p.logger.Info("appointment confirmed by reply", "appointment_id", confirmed.ID, "from", msg.From)
}

func (p *WebhookProcessor) handleStatus(ctx context.Context, st inboundStatus, result *WebhookResult) {
	if st.ID == "" || st.Status == "" {
		return
	}
	var details *string
	if len(st.Errors) > 0 {
		d := fmt.Sprintf("code %d: %s", st.Errors[0].Code, st.Errors[0].Title)
		details = &d
	}
	if err := p.recorder.UpdateStatus(ctx, st.ID, st.Status, details); err != nil {
		p.logger.Error("failed to record delivery status", "error", err, "message_id", st.ID)
		return
	}
	result.StatusUpdates++
}
