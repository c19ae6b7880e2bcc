package appointment

import "time"

// SourceRow carries the raw, possibly absent columns one relation holds for a
// schedule id. Pointers distinguish NULL from zero values.
type SourceRow struct {
	ID               *int64
	ScheduledAt      *int64
	ScheduledEndAt   *int64
	Confirmed        *bool
	PatientName      *string
	PatientContacts  *string
	ProcedureTerm    *string
	FacilityName     *string
	ProfessionalName *string
	InsurerName      *string
	Active           *bool
}

// Extras are columns resolved from side relations rather than either
// schedule row: the registry full name and the newest WhatsApp-capable
// contact value.
type Extras struct {
	PersonName     *string
	PreferredPhone *string
}

// Merge resolves a base/derived row pair into one Appointment. Every field
// prefers the derived relation and falls back to the base relation, never the
// reverse. Returns false when neither side yields an id.
func Merge(derived, base SourceRow, extras Extras) (Appointment, bool) {
	id := coalesceInt64(derived.ID, base.ID)
	if id == nil {
		return Appointment{}, false
	}

	a := Appointment{ID: *id}

	if epoch := coalesceInt64(derived.ScheduledAt, base.ScheduledAt); epoch != nil {
		a.ScheduledAt = time.Unix(*epoch, 0).In(ClinicZone)
	}
	if epoch := coalesceInt64(derived.ScheduledEndAt, base.ScheduledEndAt); epoch != nil {
		end := time.Unix(*epoch, 0).In(ClinicZone)
		a.ScheduledEndAt = &end
	}
	a.Confirmed = coalesceBool(derived.Confirmed, base.Confirmed)
	a.PatientName = stringOr(coalesceString(extras.PersonName, derived.PatientName, base.PatientName))
	a.PatientContacts = stringOr(coalesceString(derived.PatientContacts, base.PatientContacts))
	a.PreferredPhone = stringOr(extras.PreferredPhone)
	a.ProcedureTerm = stringOr(coalesceString(derived.ProcedureTerm, base.ProcedureTerm))
	a.FacilityName = stringOr(coalesceString(derived.FacilityName, base.FacilityName))
	a.ProfessionalName = stringOr(coalesceString(derived.ProfessionalName, base.ProfessionalName))
	a.InsurerName = stringOr(coalesceString(derived.InsurerName, base.InsurerName))

	// Only the base relation carries the active flag; a row known solely to
	// the projection counts as active.
	a.Active = base.Active == nil || *base.Active

	return a, true
}

func coalesceInt64(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func coalesceBool(values ...*bool) *bool {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func coalesceString(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}

func stringOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
