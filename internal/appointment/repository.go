package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cdcenter/agenda-notifier/internal/phone"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// ErrNotFound is returned when no relation holds the requested appointment.
var ErrNotFound = errors.New("appointment: not found")

// Repository resolves canonical appointments. Implemented by the Postgres
// store and by the in-memory offline fixture.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	ListPending(ctx context.Context, filterDate string) ([]Appointment, error)
	ListAll(ctx context.Context, filterDate string) ([]Appointment, error)
	FindByPatientName(ctx context.Context, name string) (*Appointment, error)
	FindPendingByPhone(ctx context.Context, rawPhone string) (*Appointment, error)
	Stats(ctx context.Context) (Stats, error)
	Confirm(ctx context.Context, id int64) (*Appointment, error)
	ListPendingWithoutTemplate(ctx context.Context, lookbackDays, lookaheadDays, limit int) ([]Appointment, error)
}

// Querier is the subset of pgxpool used by the repository. pgxmock satisfies
// it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the schedule/schedule_mv pair over pgx.
type PostgresRepository struct {
	db     Querier
	schema string
	logger *logging.Logger
}

// NewPostgresRepository builds a repository over the given pool and schema.
func NewPostgresRepository(db Querier, schema string, logger *logging.Logger) *PostgresRepository {
	if schema == "" {
		schema = "public"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresRepository{db: db, schema: schema, logger: logger}
}

var _ Repository = (*PostgresRepository)(nil)

// scheduleEpoch is the resolved schedule instant used by every predicate and
// ordering clause.
const scheduleEpoch = `COALESCE(sm."when", s."when")`

func (r *PostgresRepository) selectColumns() string {
	return `
		s.schedule_id, s."when", s.when_end, s.confirmed, s.active, s.procedure_code::text,
		sm.schedule_id, sm."when", sm.when_end, sm.confirmed,
		sm.patient_name, sm.patient_contacts, sm.main_procedure_term,
		sm.hf_name, sm.rhp_name, sm.hic_name,
		p.full_name, phone_pref.value`
}

func (r *PostgresRepository) baseJoins() string {
	return fmt.Sprintf(`
		FROM %[1]s.schedule s
		FULL OUTER JOIN %[1]s.schedule_mv sm ON sm.schedule_id = s.schedule_id
		LEFT JOIN %[1]s.patient pt ON pt.patient_id = COALESCE(sm.patient_id, s.patient_id)
		LEFT JOIN %[1]s.person p ON p.person_id = pt.person_id
		LEFT JOIN LATERAL (
			SELECT c.value
			FROM %[1]s.contact c
			WHERE c.person_id = p.person_id
			  AND (c.is_whatsapp IS NULL OR c.is_whatsapp = TRUE)
			ORDER BY c.contact_id DESC
			LIMIT 1
		) AS phone_pref ON TRUE`, r.schema)
}

type queryOpts struct {
	where      []string
	extraJoins string
	orderBy    string
	limit      int
}

func (r *PostgresRepository) buildQuery(opts queryOpts) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(r.selectColumns())
	b.WriteString(r.baseJoins())
	if opts.extraJoins != "" {
		b.WriteString(opts.extraJoins)
	}
	if len(opts.where) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(opts.where, " AND "))
	}
	if opts.orderBy != "" {
		b.WriteString("\n\t\tORDER BY ")
		b.WriteString(opts.orderBy)
	}
	if opts.limit > 0 {
		fmt.Fprintf(&b, "\n\t\tLIMIT %d", opts.limit)
	}
	return b.String()
}

func scanResolved(row pgx.Row) (*Appointment, error) {
	var base, derived SourceRow
	var extras Extras
	err := row.Scan(
		&base.ID, &base.ScheduledAt, &base.ScheduledEndAt, &base.Confirmed, &base.Active, &base.ProcedureTerm,
		&derived.ID, &derived.ScheduledAt, &derived.ScheduledEndAt, &derived.Confirmed,
		&derived.PatientName, &derived.PatientContacts, &derived.ProcedureTerm,
		&derived.FacilityName, &derived.ProfessionalName, &derived.InsurerName,
		&extras.PersonName, &extras.PreferredPhone,
	)
	if err != nil {
		return nil, err
	}
	resolved, ok := Merge(derived, base, extras)
	if !ok {
		return nil, ErrNotFound
	}
	return &resolved, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("appointment: query: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		resolved, err := scanResolved(rows)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("appointment: scan: %w", err)
		}
		out = append(out, *resolved)
	}
	return out, rows.Err()
}

// GetByID resolves one appointment across both relations.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	query := r.buildQuery(queryOpts{
		where: []string{"COALESCE(sm.schedule_id, s.schedule_id) = $1"},
		limit: 1,
	})
	resolved, err := scanResolved(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointment: get by id: %w", err)
	}
	return resolved, nil
}

func dateWindowClauses(filterDate string, where []string, args []any) ([]string, []any, error) {
	if filterDate == "" {
		where = append(where, scheduleEpoch+" >= EXTRACT(EPOCH FROM NOW())")
		return where, args, nil
	}
	startEpoch, endEpoch, err := DayWindow(filterDate)
	if err != nil {
		return nil, nil, fmt.Errorf("appointment: bad filter date %q: %w", filterDate, err)
	}
	where = append(where,
		fmt.Sprintf("%s >= $%d", scheduleEpoch, len(args)+1),
		fmt.Sprintf("%s < $%d", scheduleEpoch, len(args)+2),
	)
	args = append(args, startEpoch, endEpoch)
	return where, args, nil
}

// ListPending lists active, unconfirmed appointments. With a filter date the
// window is that civil day in the clinic offset; otherwise from now forward.
func (r *PostgresRepository) ListPending(ctx context.Context, filterDate string) ([]Appointment, error) {
	where := []string{
		"COALESCE(sm.confirmed, s.confirmed) IS NOT TRUE",
		"COALESCE(s.active, TRUE) = TRUE",
	}
	where, args, err := dateWindowClauses(filterDate, where, nil)
	if err != nil {
		return nil, err
	}
	query := r.buildQuery(queryOpts{
		where:   where,
		orderBy: scheduleEpoch + " ASC, COALESCE(sm.schedule_id, s.schedule_id) ASC",
	})
	return r.queryMany(ctx, query, args...)
}

// ListAll lists appointments regardless of confirmation or active state.
func (r *PostgresRepository) ListAll(ctx context.Context, filterDate string) ([]Appointment, error) {
	where, args, err := dateWindowClauses(filterDate, nil, nil)
	if err != nil {
		return nil, err
	}
	query := r.buildQuery(queryOpts{
		where:   where,
		orderBy: scheduleEpoch + " ASC, COALESCE(sm.schedule_id, s.schedule_id) ASC",
	})
	return r.queryMany(ctx, query, args...)
}

// FindByPatientName looks a patient up in three widening tiers: exact match
// on future active appointments, exact match anywhere, then substring match.
// Recall beats precision here; the operator eyeballs the result.
func (r *PostgresRepository) FindByPatientName(ctx context.Context, name string) (*Appointment, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNotFound
	}
	nameExpr := "COALESCE(p.full_name, sm.patient_name)"
	tiers := []queryOpts{
		{
			where: []string{
				"UPPER(" + nameExpr + ") = UPPER($1)",
				"COALESCE(s.active, TRUE) = TRUE",
				scheduleEpoch + " >= EXTRACT(EPOCH FROM NOW())",
			},
			orderBy: scheduleEpoch + " ASC, COALESCE(sm.schedule_id, s.schedule_id) ASC",
			limit:   1,
		},
		{
			where:   []string{"UPPER(" + nameExpr + ") = UPPER($1)"},
			orderBy: scheduleEpoch + " DESC, COALESCE(sm.schedule_id, s.schedule_id) DESC",
			limit:   1,
		},
		{
			where:   []string{nameExpr + " ILIKE '%' || $1 || '%'"},
			orderBy: scheduleEpoch + " DESC, COALESCE(sm.schedule_id, s.schedule_id) DESC",
			limit:   1,
		},
	}
	for _, tier := range tiers {
		resolved, err := scanResolved(r.db.QueryRow(ctx, r.buildQuery(tier), name))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("appointment: find by name: %w", err)
		}
		return resolved, nil
	}
	return nil, ErrNotFound
}

// FindPendingByPhone returns the soonest pending appointment whose contact
// digits contain the given number's digits. Used by the inbound confirmation
// webhook, where only the sender phone is known.
func (r *PostgresRepository) FindPendingByPhone(ctx context.Context, rawPhone string) (*Appointment, error) {
	digits := phone.Digits(rawPhone)
	if digits == "" {
		return nil, ErrNotFound
	}
	query := r.buildQuery(queryOpts{
		where: []string{
			"COALESCE(sm.confirmed, s.confirmed) IS NOT TRUE",
			"COALESCE(s.active, TRUE) = TRUE",
			`regexp_replace(COALESCE(sm.patient_contacts, phone_pref.value, ''), '\D', '', 'g') LIKE '%' || $1 || '%'`,
		},
		orderBy: scheduleEpoch + " ASC, COALESCE(sm.schedule_id, s.schedule_id) ASC",
		limit:   1,
	})
	resolved, err := scanResolved(r.db.QueryRow(ctx, query, digits))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointment: find by phone: %w", err)
	}
	return resolved, nil
}

// Stats counts active, future appointments by confirmation state.
func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*)::int AS total,
			COUNT(*) FILTER (WHERE COALESCE(sm.confirmed, s.confirmed) = TRUE)::int AS confirmed,
			COUNT(*) FILTER (WHERE COALESCE(sm.confirmed, s.confirmed) IS NOT TRUE)::int AS pending
		FROM %[1]s.schedule s
		LEFT JOIN %[1]s.schedule_mv sm ON sm.schedule_id = s.schedule_id
		WHERE COALESCE(s.active, TRUE) = TRUE
		  AND %[2]s >= EXTRACT(EPOCH FROM NOW())`, r.schema, scheduleEpoch)
	var stats Stats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Total, &stats.Confirmed, &stats.Pending); err != nil {
		return Stats{}, fmt.Errorf("appointment: stats: %w", err)
	}
	return stats, nil
}

// Confirm marks an appointment confirmed, writing to the base relation first
// and falling back to the projection when the base has no such row. Driver
// errors on either attempt are logged and swallowed so a stale projection
// cannot mask the not-found outcome; zero rows from both attempts is
// ErrNotFound.
func (r *PostgresRepository) Confirm(ctx context.Context, id int64) (*Appointment, error) {
	var updated int64

	baseSQL := fmt.Sprintf(`
		UPDATE %s.schedule
		SET confirmed = TRUE,
			updated_at = EXTRACT(EPOCH FROM NOW())::bigint
		WHERE schedule_id = $1`, r.schema)
	if tag, err := r.db.Exec(ctx, baseSQL, id); err != nil {
		r.logger.Warn("confirm write to schedule failed, trying schedule_mv", "error", err, "appointment_id", id)
	} else {
		updated = tag.RowsAffected()
	}

	if updated == 0 {
		derivedSQL := fmt.Sprintf(`
			UPDATE %s.schedule_mv
			SET confirmed = TRUE
			WHERE schedule_id = $1`, r.schema)
		if tag, err := r.db.Exec(ctx, derivedSQL, id); err != nil {
			r.logger.Warn("confirm write to schedule_mv failed", "error", err, "appointment_id", id)
		} else {
			updated = tag.RowsAffected()
		}
	}

	if updated == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// ListPendingWithoutTemplate lists pending appointments inside a window
// anchored on now that have no non-failed template log entry yet. Feeds the
// template batch so patients are not notified twice.
func (r *PostgresRepository) ListPendingWithoutTemplate(ctx context.Context, lookbackDays, lookaheadDays, limit int) ([]Appointment, error) {
	if limit < 1 {
		limit = 1
	}
	extraJoins := fmt.Sprintf(`
		LEFT JOIN %s.message_logs ml ON ml.appointment_id = COALESCE(sm.schedule_id, s.schedule_id)
			AND ml.type = 'template'
			AND COALESCE(ml.status, '') NOT IN ('failed')`, r.schema)
	query := r.buildQuery(queryOpts{
		where: []string{
			"COALESCE(sm.confirmed, s.confirmed) IS NOT TRUE",
			"COALESCE(s.active, TRUE) = TRUE",
			scheduleEpoch + " >= $1",
			scheduleEpoch + " < $2",
			"ml.id IS NULL",
		},
		extraJoins: extraJoins,
		orderBy:    scheduleEpoch + " ASC, COALESCE(sm.schedule_id, s.schedule_id) ASC",
		limit:      limit,
	})
	startEpoch := nowEpoch() - int64(lookbackDays)*86400
	endEpoch := nowEpoch() + int64(lookaheadDays)*86400
	return r.queryMany(ctx, query, startEpoch, endEpoch)
}
