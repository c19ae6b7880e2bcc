package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	"github.com/cdcenter/agenda-notifier/internal/cache"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// AppointmentsHandler serves the dashboard appointment views.
type AppointmentsHandler struct {
	repo     appointment.Repository
	recorder msglog.Recorder
	stats    cache.StatsCache
	logger   *logging.Logger
}

// NewAppointmentsHandler wires the handler. A nil stats cache disables
// caching, a nil recorder skips message status decoration.
func NewAppointmentsHandler(repo appointment.Repository, recorder msglog.Recorder, stats cache.StatsCache, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{repo: repo, recorder: recorder, stats: stats, logger: logger}
}

// appointmentView decorates an appointment with its latest message status.
type appointmentView struct {
	appointment.Appointment
	MessageStatus *msglog.Entry `json:"messageStatus,omitempty"`
}

func (h *AppointmentsHandler) decorate(r *http.Request, items []appointment.Appointment) []appointmentView {
	views := make([]appointmentView, len(items))
	ids := make([]int64, len(items))
	for i, item := range items {
		views[i] = appointmentView{Appointment: item}
		ids[i] = item.ID
	}
	if h.recorder == nil || len(ids) == 0 {
		return views
	}
	latest, err := h.recorder.LatestStatuses(r.Context(), ids)
	if err != nil {
		h.logger.Warn("failed to load message statuses", "error", err)
		return views
	}
	for i := range views {
		if entry, ok := latest[views[i].ID]; ok {
			e := entry
			views[i].MessageStatus = &e
		}
	}
	return views
}

// ListPending returns unconfirmed future appointments, optionally filtered to
// one calendar day.
func (h *AppointmentsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListPending(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.logger.Error("failed to list pending appointments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}
	writeData(w, http.StatusOK, h.decorate(r, items))
}

// ListAll returns every resolvable appointment for the optional date.
func (h *AppointmentsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListAll(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}
	writeData(w, http.StatusOK, h.decorate(r, items))
}

// GetStats returns the dashboard counters, served from cache when warm.
func (h *AppointmentsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.stats != nil {
		if cached, err := h.stats.GetStats(r.Context()); err == nil {
			writeData(w, http.StatusOK, cached)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			h.logger.Warn("stats cache read failed", "error", err)
		}
	}

	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if h.stats != nil {
		if err := h.stats.SetStats(r.Context(), stats); err != nil {
			h.logger.Warn("stats cache write failed", "error", err)
		}
	}
	writeData(w, http.StatusOK, stats)
}

// Search finds one appointment by patient name, widening from exact future
// matches to substring matches.
func (h *AppointmentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	appt, err := h.repo.FindByPatientName(r.Context(), name)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no appointment for that patient")
			return
		}
		h.logger.Error("patient search failed", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeData(w, http.StatusOK, appt)
}

// Confirm flips one appointment to confirmed and returns the updated row.
func (h *AppointmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	confirmed, err := h.repo.Confirm(r.Context(), id)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("failed to confirm appointment", "error", err, "appointment_id", id)
		writeError(w, http.StatusInternalServerError, "failed to confirm appointment")
		return
	}

	if h.stats != nil {
		if err := h.stats.Invalidate(r.Context()); err != nil {
			h.logger.Warn("stats cache invalidation failed", "error", err)
		}
	}
	writeData(w, http.StatusOK, confirmed)
}
