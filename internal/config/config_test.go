package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want 3000", cfg.Port)
	}
	if cfg.DBMaxPool != 10 {
		t.Errorf("DBMaxPool = %d, want 10", cfg.DBMaxPool)
	}
	if cfg.DBSchema != "public" {
		t.Errorf("DBSchema = %q, want public", cfg.DBSchema)
	}
	if cfg.WhatsAppMode != "business" {
		t.Errorf("WhatsAppMode = %q, want business", cfg.WhatsAppMode)
	}
	if cfg.WhatsAppAPIVersion != "v18.0" {
		t.Errorf("WhatsAppAPIVersion = %q, want v18.0", cfg.WhatsAppAPIVersion)
	}
	if cfg.BulkSendInterval != time.Second {
		t.Errorf("BulkSendInterval = %v, want 1s", cfg.BulkSendInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_MAX_POOL", "4")
	t.Setenv("WHATSAPP_MODE", " WEB ")
	t.Setenv("BULK_SEND_INTERVAL", "2500ms")

	cfg := Load()

	if cfg.DBMaxPool != 4 {
		t.Errorf("DBMaxPool = %d, want 4", cfg.DBMaxPool)
	}
	if cfg.WhatsAppMode != "web" {
		t.Errorf("WhatsAppMode = %q, want web", cfg.WhatsAppMode)
	}
	if cfg.BulkSendInterval != 2500*time.Millisecond {
		t.Errorf("BulkSendInterval = %v, want 2.5s", cfg.BulkSendInterval)
	}
}

func TestDatabaseConnString(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.local",
		DBPort:     5433,
		DBUser:     "agenda",
		DBPassword: "secret",
		DBName:     "clinic",
		DBSchema:   "clinic",
		DBMaxPool:  8,
	}
	want := "host=db.local port=5433 user=agenda password=secret dbname=clinic pool_max_conns=8"
	if got := cfg.DatabaseConnString(); got != want {
		t.Errorf("DatabaseConnString() = %q, want %q", got, want)
	}
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	if got := Load().DBPort; got != 5432 {
		t.Errorf("DBPort = %d, want default 5432", got)
	}
}
