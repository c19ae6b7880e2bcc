// Package appointment resolves canonical appointment records from the two
// overlapping clinic relations: the schedule table of record and the
// schedule_mv denormalized projection kept by the practice-management system.
// Either relation may be missing rows the other has, so every read resolves a
// row pair into one Appointment with derived-over-base field priority.
package appointment

import (
	"time"

	"github.com/cdcenter/agenda-notifier/internal/phone"
)

// Clinic wall-clock offset. Deliberately a fixed offset, not a tzdata zone:
// day windows computed here must match the epochs the legacy dashboard wrote,
// including its (wrong) behavior across DST transitions.
var ClinicZone = time.FixedZone("-03:00", -3*60*60)

// nowEpoch is swapped in tests.
var nowEpoch = func() int64 { return time.Now().Unix() }

// Appointment is the resolved, read-mostly view the rest of the system works
// with. Confirmed is tri-state: nil means never answered, which the clinic
// treats as pending.
type Appointment struct {
	ID               int64      `json:"id"`
	ScheduledAt      time.Time  `json:"scheduledAt"`
	ScheduledEndAt   *time.Time `json:"scheduledEndAt,omitempty"`
	Confirmed        *bool      `json:"confirmed"`
	PatientName      string     `json:"patientName"`
	PatientContacts  string     `json:"patientContacts,omitempty"`
	PreferredPhone   string     `json:"preferredPhone,omitempty"`
	ProcedureTerm    string     `json:"procedureTerm,omitempty"`
	FacilityName     string     `json:"facilityName,omitempty"`
	ProfessionalName string     `json:"professionalName,omitempty"`
	InsurerName      string     `json:"insurerName,omitempty"`
	Active           bool       `json:"active"`
}

// IsConfirmed reports whether the appointment was explicitly confirmed.
func (a Appointment) IsConfirmed() bool {
	return a.Confirmed != nil && *a.Confirmed
}

// BestPhone returns the destination number for outbound messages: the
// preferred WhatsApp contact when one qualifies, otherwise the first valid
// number in the free-text contacts field, otherwise the raw field itself so
// the operator still sees what is on file.
func (a Appointment) BestPhone() string {
	if n, ok := phone.ExtractPrimary(a.PreferredPhone); ok {
		return n
	}
	if n, ok := phone.ExtractPrimary(a.PatientContacts); ok {
		return n
	}
	if a.PatientContacts != "" {
		return a.PatientContacts
	}
	return a.PreferredPhone
}

// Stats summarizes active, future appointments.
type Stats struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
}

// DayWindow converts a civil date (YYYY-MM-DD) into the half-open epoch
// window [00:00:00, next day 00:00:00) in the clinic offset.
func DayWindow(date string) (startEpoch, endEpoch int64, err error) {
	start, err := time.ParseInLocation("2006-01-02", date, ClinicZone)
	if err != nil {
		return 0, 0, err
	}
	return start.Unix(), start.AddDate(0, 0, 1).Unix(), nil
}
