package appointment

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

var resolvedColumns = []string{
	"schedule_id", "when", "when_end", "confirmed", "active", "procedure_code",
	"mv_schedule_id", "mv_when", "mv_when_end", "mv_confirmed",
	"patient_name", "patient_contacts", "main_procedure_term",
	"hf_name", "rhp_name", "hic_name",
	"full_name", "preferred_phone",
}

func newRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock, "public", logging.Discard()), mock
}

func TestGetByIDMergePriority(t *testing.T) {
	repo, mock := newRepo(t)

	confirmedBase := false
	confirmedDerived := true
	id := int64(42)
	baseWhen := int64(1700000000)
	derivedWhen := int64(1700003600)
	name := "Maria Santos"

	mock.ExpectQuery("FULL OUTER JOIN public.schedule_mv").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(resolvedColumns).AddRow(
			&id, &baseWhen, (*int64)(nil), &confirmedBase, (*bool)(nil), (*string)(nil),
			&id, &derivedWhen, (*int64)(nil), &confirmedDerived,
			&name, (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil),
		))

	got, err := repo.GetByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.IsConfirmed() {
		t.Error("derived confirmed=true must win over base confirmed=false")
	}
	if got.ScheduledAt.Unix() != derivedWhen {
		t.Errorf("ScheduledAt = %d, want derived %d", got.ScheduledAt.Unix(), derivedWhen)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FULL OUTER JOIN public.schedule_mv").
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(resolvedColumns))

	if _, err := repo.GetByID(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingWithDateBindsWindow(t *testing.T) {
	repo, mock := newRepo(t)
	startEpoch, endEpoch, err := DayWindow("2024-12-15")
	if err != nil {
		t.Fatalf("DayWindow: %v", err)
	}
	mock.ExpectQuery("IS NOT TRUE").
		WithArgs(startEpoch, endEpoch).
		WillReturnRows(pgxmock.NewRows(resolvedColumns))

	if _, err := repo.ListPending(context.Background(), "2024-12-15"); err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestListPendingRejectsBadDate(t *testing.T) {
	repo, _ := newRepo(t)
	if _, err := repo.ListPending(context.Background(), "not-a-date"); err == nil {
		t.Fatal("expected error for malformed filter date")
	}
}

func TestConfirmFallsThroughToDerived(t *testing.T) {
	repo, mock := newRepo(t)
	id := int64(7)
	when := int64(1700000000)
	confirmed := true

	mock.ExpectExec("UPDATE public.schedule").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE public.schedule_mv").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("FULL OUTER JOIN public.schedule_mv").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(resolvedColumns).AddRow(
			(*int64)(nil), (*int64)(nil), (*int64)(nil), (*bool)(nil), (*bool)(nil), (*string)(nil),
			&id, &when, (*int64)(nil), &confirmed,
			(*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil),
		))

	got, err := repo.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !got.IsConfirmed() {
		t.Error("expected confirmed appointment after derived-relation write")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestConfirmNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("UPDATE public.schedule").
		WithArgs(int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE public.schedule_mv").
		WithArgs(int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if _, err := repo.Confirm(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConfirmSwallowsDriverErrors(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("UPDATE public.schedule").
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("UPDATE public.schedule_mv").
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection refused"))

	// Matches legacy behavior: both driver errors collapse into not-found.
	if _, err := repo.Confirm(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"total", "confirmed", "pending"}).AddRow(10, 4, 6))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 10 || stats.Confirmed != 4 || stats.Pending != 6 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFindByPatientNameFallsThroughTiers(t *testing.T) {
	repo, mock := newRepo(t)
	id := int64(3)
	when := int64(1600000000)
	name := "Pedro Costa"

	// first two tiers miss, substring tier hits
	mock.ExpectQuery("UPPER").WithArgs("pedro").WillReturnRows(pgxmock.NewRows(resolvedColumns))
	mock.ExpectQuery("UPPER").WithArgs("pedro").WillReturnRows(pgxmock.NewRows(resolvedColumns))
	mock.ExpectQuery("ILIKE").WithArgs("pedro").WillReturnRows(pgxmock.NewRows(resolvedColumns).AddRow(
		&id, &when, (*int64)(nil), (*bool)(nil), (*bool)(nil), (*string)(nil),
		(*int64)(nil), (*int64)(nil), (*int64)(nil), (*bool)(nil),
		&name, (*string)(nil), (*string)(nil),
		(*string)(nil), (*string)(nil), (*string)(nil),
		(*string)(nil), (*string)(nil),
	))

	got, err := repo.FindByPatientName(context.Background(), "pedro")
	if err != nil {
		t.Fatalf("FindByPatientName: %v", err)
	}
	if got.PatientName != name {
		t.Errorf("PatientName = %q, want %q", got.PatientName, name)
	}
}

func TestFindByPatientNameNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	for range 3 {
		mock.ExpectQuery("SELECT").WithArgs("ninguem").WillReturnRows(pgxmock.NewRows(resolvedColumns))
	}
	if _, err := repo.FindByPatientName(context.Background(), "ninguem"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingWithoutTemplateAntiJoin(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("ml.id IS NULL").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(resolvedColumns))

	if _, err := repo.ListPendingWithoutTemplate(context.Background(), 1, 14, 50); err != nil {
		t.Fatalf("ListPendingWithoutTemplate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
