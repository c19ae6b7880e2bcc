// Package dispatch runs the bulk notification loop: one message per pending
// appointment, paced so the provider never sees a burst.
package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/internal/observability/metrics"
	"github.com/cdcenter/agenda-notifier/internal/phone"
	"github.com/cdcenter/agenda-notifier/internal/whatsapp"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

var dispatchTracer = otel.Tracer("agenda.internal.dispatch")

// Outcome is the per-recipient result of a bulk run.
type Outcome struct {
	AppointmentID int64  `json:"appointmentId"`
	PatientName   string `json:"patientName"`
	Phone         string `json:"phone,omitempty"`
	Success       bool   `json:"success"`
	MessageID     string `json:"messageId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Summary aggregates a bulk run.
type Summary struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Results    []Outcome `json:"results"`
}

// Dispatcher sends notifications sequentially with a fixed interval between
// consecutive sends. One recipient failing never stops the run.
type Dispatcher struct {
	interval time.Duration
	recorder msglog.Recorder
	metrics  *metrics.MessagingMetrics
	logger   *logging.Logger
}

// NewDispatcher builds a dispatcher. A non-positive interval disables pacing.
func NewDispatcher(interval time.Duration, recorder msglog.Recorder, m *metrics.MessagingMetrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{interval: interval, recorder: recorder, metrics: m, logger: logger}
}

// SendOne resolves the phone, renders the message and sends it through the
// given channel, logging the acknowledgement on success. A non-empty
// customMessage replaces the rendered confirmation text.
func (d *Dispatcher) SendOne(ctx context.Context, sender whatsapp.Sender, appt appointment.Appointment, customMessage string) Outcome {
	outcome := Outcome{AppointmentID: appt.ID, PatientName: appt.PatientName}

	normalized, ok := phone.ExtractPrimary(appt.BestPhone())
	if !ok {
		outcome.Error = "no valid phone on record"
		d.metrics.ObserveOutbound(mode(sender), "invalid_phone")
		return outcome
	}
	outcome.Phone = normalized

	body := customMessage
	if body == "" {
		body = sender.GenerateMessage(appt)
	}
	result, err := sender.SendText(ctx, normalized, body)
	if err != nil {
		outcome.Error = err.Error()
		d.metrics.ObserveOutbound(mode(sender), "failed")
		d.logger.Error("notification send failed", "error", err, "appointment_id", appt.ID, "phone", normalized)
		return outcome
	}

	outcome.Success = true
	outcome.MessageID = result.MessageID
	d.metrics.ObserveOutbound(mode(sender), "sent")
	d.record(ctx, appt.ID, normalized, result.MessageID, msglog.TypeText, nil)
	return outcome
}

// SendBulk sends one notification per appointment, waiting the configured
// interval between consecutive sends. Only successful sends reach the message
// log. Cancelling the context stops the run; completed outcomes are kept.
func (d *Dispatcher) SendBulk(ctx context.Context, sender whatsapp.Sender, appts []appointment.Appointment, customMessage string) Summary {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.send_bulk")
	defer span.End()
	span.SetAttributes(attribute.Int("agenda.bulk.total", len(appts)))

	started := time.Now()
	summary := Summary{Total: len(appts), Results: make([]Outcome, 0, len(appts))}
	for i, appt := range appts {
		if i > 0 && d.interval > 0 {
			select {
			case <-ctx.Done():
				d.logger.Warn("bulk dispatch cancelled", "sent", i, "total", len(appts))
				return summary
			case <-time.After(d.interval):
			}
		}

		outcome := d.SendOne(ctx, sender, appt, customMessage)
		summary.Results = append(summary.Results, outcome)
		if outcome.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	d.metrics.ObserveBulkDuration(mode(sender), time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("agenda.bulk.successful", summary.Successful))
	d.logger.Info("bulk dispatch finished",
		"total", summary.Total, "successful", summary.Successful, "failed", summary.Failed)
	return summary
}

// SendTemplates sends a pre-approved template to each appointment, with the
// patient name and local date/time as positional body parameters.
func (d *Dispatcher) SendTemplates(ctx context.Context, sender whatsapp.Sender, appts []appointment.Appointment, templateName, languageCode string) Summary {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.send_templates")
	defer span.End()

	summary := Summary{Total: len(appts), Results: make([]Outcome, 0, len(appts))}
	for i, appt := range appts {
		if i > 0 && d.interval > 0 {
			select {
			case <-ctx.Done():
				return summary
			case <-time.After(d.interval):
			}
		}

		outcome := Outcome{AppointmentID: appt.ID, PatientName: appt.PatientName}
		normalized, ok := phone.ExtractPrimary(appt.BestPhone())
		if !ok {
			outcome.Error = "no valid phone on record"
			summary.Failed++
			summary.Results = append(summary.Results, outcome)
			continue
		}
		outcome.Phone = normalized

		local := appt.ScheduledAt.In(appointment.ClinicZone)
		params := []string{appt.PatientName, local.Format("02/01/2006"), local.Format("15:04")}
		result, err := sender.SendTemplate(ctx, normalized, templateName, languageCode, params)
		if err != nil {
			outcome.Error = err.Error()
			summary.Failed++
			d.metrics.ObserveOutbound(mode(sender), "failed")
			d.logger.Error("template send failed", "error", err, "appointment_id", appt.ID)
		} else {
			outcome.Success = true
			outcome.MessageID = result.MessageID
			summary.Successful++
			d.metrics.ObserveOutbound(mode(sender), "sent")
			d.record(ctx, appt.ID, normalized, result.MessageID, msglog.TypeTemplate, &templateName)
		}
		summary.Results = append(summary.Results, outcome)
	}
	return summary
}

func (d *Dispatcher) record(ctx context.Context, apptID int64, phoneNumber, messageID, msgType string, templateName *string) {
	if d.recorder == nil {
		return
	}
	status := msglog.StatusSent
	_, err := d.recorder.Log(ctx, msglog.Record{
		AppointmentID: &apptID,
		Phone:         &phoneNumber,
		MessageID:     &messageID,
		Type:          &msgType,
		TemplateName:  templateName,
		Status:        &status,
	})
	if err != nil {
		// the message is already out; a log failure must not fail the send
		d.logger.Error("failed to record sent message", "error", err, "message_id", messageID)
	}
}

func mode(sender whatsapp.Sender) string {
	if m, ok := sender.(interface{ Mode() string }); ok {
		return m.Mode()
	}
	return "unknown"
}
