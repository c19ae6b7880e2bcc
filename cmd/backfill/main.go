// Command backfill marks template log entries as sent for appointments that
// were messaged outside the system, so the template batch endpoint stops
// re-targeting them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
	appconfig "github.com/cdcenter/agenda-notifier/internal/config"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/internal/phone"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

func main() {
	date := flag.String("date", "", "calendar day to backfill (YYYY-MM-DD, required)")
	templateName := flag.String("template", "confirmacao_agendamento", "template name to record")
	dryRun := flag.Bool("dry-run", false, "list targets without writing log entries")
	flag.Parse()

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if *date == "" {
		fmt.Fprintln(os.Stderr, "usage: backfill -date YYYY-MM-DD [-template name] [-dry-run]")
		os.Exit(2)
	}
	if _, _, err := appointment.DayWindow(*date); err != nil {
		logger.Error("invalid date", "error", err, "date", *date)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := appointment.NewPostgresRepository(pool, cfg.DBSchema, logger)
	store := msglog.NewStore(pool, cfg.DBSchema, logger)

	pending, err := repo.ListPending(ctx, *date)
	if err != nil {
		logger.Error("failed to list pending appointments", "error", err, "date", *date)
		os.Exit(1)
	}
	logger.Info("backfill targets", "date", *date, "count", len(pending), "dry_run", *dryRun)

	var written, skipped int
	for _, appt := range pending {
		normalized, ok := phone.ExtractPrimary(appt.BestPhone())
		if !ok {
			skipped++
			logger.Warn("skipping appointment without valid phone", "appointment_id", appt.ID)
			continue
		}
		if *dryRun {
			logger.Info("would backfill", "appointment_id", appt.ID, "phone", normalized)
			continue
		}

		// synthetic id keeps the upsert keyed without a provider ack
		messageID := "backfill." + uuid.NewString()
		msgType := msglog.TypeTemplate
		status := msglog.StatusSent
		_, err := store.Log(ctx, msglog.Record{
			AppointmentID: &appt.ID,
			Phone:         &normalized,
			MessageID:     &messageID,
			Type:          &msgType,
			TemplateName:  templateName,
			Status:        &status,
		})
		if err != nil {
			logger.Error("failed to write log entry", "error", err, "appointment_id", appt.ID)
			os.Exit(1)
		}
		written++
	}

	logger.Info("backfill finished", "written", written, "skipped", skipped)
}

func connect(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("backfill: database not configured")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseConnString())
	if err != nil {
		return nil, fmt.Errorf("backfill: parse database config: %w", err)
	}
	schema := pgx.Identifier{cfg.DBSchema}.Sanitize()
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO "+schema+", public")
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("backfill: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("backfill: ping database: %w", err)
	}
	return pool, nil
}
