package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/dispatch"
	"github.com/cdcenter/agenda-notifier/internal/phone"
	"github.com/cdcenter/agenda-notifier/internal/whatsapp"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// SendConfig tunes the template batch endpoint.
type SendConfig struct {
	TemplateName  string
	LanguageCode  string
	LookbackDays  int
	LookaheadDays int
	BatchLimit    int
}

// SendHandler drives outbound notifications from the dashboard.
type SendHandler struct {
	repo       appointment.Repository
	dispatcher *dispatch.Dispatcher
	switcher   *whatsapp.Switcher
	cfg        SendConfig
	logger     *logging.Logger
}

func NewSendHandler(repo appointment.Repository, dispatcher *dispatch.Dispatcher, switcher *whatsapp.Switcher, cfg SendConfig, logger *logging.Logger) *SendHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TemplateName == "" {
		cfg.TemplateName = "confirmacao_agendamento"
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "pt_BR"
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = 50
	}
	return &SendHandler{repo: repo, dispatcher: dispatcher, switcher: switcher, cfg: cfg, logger: logger}
}

// SendOne sends a confirmation message to one appointment.
func (h *SendHandler) SendOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var req struct {
		CustomMessage string `json:"customMessage"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	appt, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("failed to load appointment", "error", err, "appointment_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	outcome := h.dispatcher.SendOne(r.Context(), h.switcher.Active(), *appt, req.CustomMessage)
	if !outcome.Success {
		writeJSON(w, http.StatusBadGateway, envelope{Success: false, Message: outcome.Error, Data: outcome})
		return
	}
	writeData(w, http.StatusOK, outcome)
}

// SendBulk sends notifications to the given appointments, or to every pending
// one when no ids are supplied.
func (h *SendHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppointmentIDs []int64 `json:"appointmentIds"`
		CustomMessage  string  `json:"customMessage"`
		Date           string  `json:"date"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var appts []appointment.Appointment
	if len(req.AppointmentIDs) > 0 {
		for _, id := range req.AppointmentIDs {
			appt, err := h.repo.GetByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, appointment.ErrNotFound) {
					continue
				}
				h.logger.Error("failed to load appointment for bulk send", "error", err, "appointment_id", id)
				writeError(w, http.StatusInternalServerError, "failed to load appointments")
				return
			}
			appts = append(appts, *appt)
		}
	} else {
		pending, err := h.repo.ListPending(r.Context(), req.Date)
		if err != nil {
			h.logger.Error("failed to list pending for bulk send", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load appointments")
			return
		}
		appts = pending
	}

	summary := h.dispatcher.SendBulk(r.Context(), h.switcher.Active(), appts, req.CustomMessage)
	writeData(w, http.StatusOK, summary)
}

// SendTemplates pushes the pre-approved template to pending appointments in
// the configured window that have no template entry in the log yet.
func (h *SendHandler) SendTemplates(w http.ResponseWriter, r *http.Request) {
	appts, err := h.repo.ListPendingWithoutTemplate(r.Context(), h.cfg.LookbackDays, h.cfg.LookaheadDays, h.cfg.BatchLimit)
	if err != nil {
		h.logger.Error("failed to list template candidates", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}

	summary := h.dispatcher.SendTemplates(r.Context(), h.switcher.Active(), appts, h.cfg.TemplateName, h.cfg.LanguageCode)
	writeData(w, http.StatusOK, summary)
}

// SendTest sends a free-form message to an arbitrary number.
func (h *SendHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Phone == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "phone and message are required")
		return
	}
	normalized, ok := phone.ExtractPrimary(req.Phone)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	result, err := h.switcher.Active().SendText(r.Context(), normalized, req.Message)
	if err != nil {
		h.logger.Error("test send failed", "error", err, "phone", normalized)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeData(w, http.StatusOK, result)
}
