package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/cdcenter/agenda-notifier/internal/phone"
)

// OfflineRepository serves a fixed sample set when the clinic database is
// unreachable, so the dashboard stays demonstrable. Reads filter the fixtures;
// writes are accepted and echoed back without persisting anything.
type OfflineRepository struct{}

// NewOfflineRepository builds the demo-mode repository.
func NewOfflineRepository() *OfflineRepository {
	return &OfflineRepository{}
}

var _ Repository = (*OfflineRepository)(nil)

func boolPtr(v bool) *bool { return &v }

func sampleAppointments() []Appointment {
	return []Appointment{
		{
			ID:              1,
			ScheduledAt:     time.Date(2024, 12, 15, 10, 0, 0, 0, ClinicZone),
			Confirmed:       boolPtr(false),
			PatientName:     "Joao Silva",
			PatientContacts: "5511999999999",
			ProcedureTerm:   "Exame de Sangue",
			Active:          true,
		},
		{
			ID:              2,
			ScheduledAt:     time.Date(2024, 12, 15, 14, 30, 0, 0, ClinicZone),
			Confirmed:       boolPtr(true),
			PatientName:     "Maria Santos",
			PatientContacts: "5511888888888",
			ProcedureTerm:   "Ultrassom",
			Active:          true,
		},
		{
			ID:              3,
			ScheduledAt:     time.Date(2024, 12, 16, 9, 15, 0, 0, ClinicZone),
			Confirmed:       boolPtr(false),
			PatientName:     "Pedro Costa",
			PatientContacts: "5511777777777",
			ProcedureTerm:   "Consulta Cardiologia",
			Active:          true,
		},
	}
}

func filterByDate(items []Appointment, filterDate string) ([]Appointment, error) {
	if filterDate == "" {
		return items, nil
	}
	startEpoch, endEpoch, err := DayWindow(filterDate)
	if err != nil {
		return nil, err
	}
	var out []Appointment
	for _, item := range items {
		epoch := item.ScheduledAt.Unix()
		if epoch >= startEpoch && epoch < endEpoch {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *OfflineRepository) GetByID(_ context.Context, id int64) (*Appointment, error) {
	for _, item := range sampleAppointments() {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

func (r *OfflineRepository) ListPending(_ context.Context, filterDate string) ([]Appointment, error) {
	var pending []Appointment
	for _, item := range sampleAppointments() {
		if !item.IsConfirmed() {
			pending = append(pending, item)
		}
	}
	return filterByDate(pending, filterDate)
}

func (r *OfflineRepository) ListAll(_ context.Context, filterDate string) ([]Appointment, error) {
	return filterByDate(sampleAppointments(), filterDate)
}

func (r *OfflineRepository) FindByPatientName(_ context.Context, name string) (*Appointment, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, ErrNotFound
	}
	items := sampleAppointments()
	for _, item := range items {
		if strings.ToLower(item.PatientName) == needle {
			return &item, nil
		}
	}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.PatientName), needle) {
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

func (r *OfflineRepository) FindPendingByPhone(_ context.Context, rawPhone string) (*Appointment, error) {
	digits := phone.Digits(rawPhone)
	if digits == "" {
		return nil, ErrNotFound
	}
	for _, item := range sampleAppointments() {
		if item.IsConfirmed() {
			continue
		}
		if strings.Contains(phone.Digits(item.PatientContacts), digits) {
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

func (r *OfflineRepository) Stats(_ context.Context) (Stats, error) {
	var stats Stats
	for _, item := range sampleAppointments() {
		stats.Total++
		if item.IsConfirmed() {
			stats.Confirmed++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

// Confirm echoes a confirmed copy back without persisting; demo mode accepts
// writes as no-ops.
func (r *OfflineRepository) Confirm(_ context.Context, id int64) (*Appointment, error) {
	for _, item := range sampleAppointments() {
		if item.ID == id {
			item.Confirmed = boolPtr(true)
			return &item, nil
		}
	}
	confirmed := Appointment{ID: id, Confirmed: boolPtr(true), Active: true}
	return &confirmed, nil
}

func (r *OfflineRepository) ListPendingWithoutTemplate(ctx context.Context, _, _, limit int) ([]Appointment, error) {
	pending, err := r.ListPending(ctx, "")
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
