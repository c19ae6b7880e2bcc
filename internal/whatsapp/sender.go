// Package whatsapp implements the outbound WhatsApp channels: the hosted
// Cloud API ("business" mode) and the browser-automation sidecar ("web"
// mode), behind one capability interface the dispatcher drives.
package whatsapp

import (
	"context"
	"errors"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
)

// Channel modes accepted by the switcher.
const (
	ModeWeb      = "web"
	ModeBusiness = "business"
)

var (
	// ErrNotConfigured means required credentials are missing; callers fail
	// fast, nothing is retried.
	ErrNotConfigured = errors.New("whatsapp: channel not configured")
	// ErrInvalidSignature means a webhook body did not match its signature
	// header.
	ErrInvalidSignature = errors.New("whatsapp: invalid webhook signature")
)

// SendResult is the provider acknowledgement of one accepted message.
type SendResult struct {
	MessageID string `json:"messageId"`
	Phone     string `json:"phone"`
}

// Status describes the current state of a channel.
type Status struct {
	Mode        string `json:"mode"`
	Configured  bool   `json:"isConfigured"`
	Connected   bool   `json:"isConnected"`
	HasQRCode   bool   `json:"hasQRCode"`
	QRCode      string `json:"qrCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Sender is the capability both channel variants implement.
type Sender interface {
	Initialize(ctx context.Context) error
	SendText(ctx context.Context, to, body string) (SendResult, error)
	SendTemplate(ctx context.Context, to, templateName, languageCode string, bodyParams []string) (SendResult, error)
	GenerateMessage(a appointment.Appointment) string
	Status(ctx context.Context) Status
	Disconnect(ctx context.Context) error
}
