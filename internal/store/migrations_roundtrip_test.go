package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// TestMigrationsRoundTripPostgres runs every migration up, down and up
// again, and checks that the schema pieces the API depends on come back:
// the audit log triggers and the page full-text column.
func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PAGESPACE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PAGESPACE_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	dir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if got := auditTriggers(ctx, t, db); len(got) != 2 {
		t.Fatalf("audit triggers after pass 1 = %v", got)
	}

	if err := applyDownMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	for _, table := range []string{"pages", "audit_events", "siem_destinations"} {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists); err != nil {
			t.Fatalf("check %s: %v", table, err)
		}
		if exists {
			t.Fatalf("table %s survived the down migrations", table)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	want := []string{"trg_audit_events_block_delete", "trg_audit_events_block_update"}
	if got := auditTriggers(ctx, t, db); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit triggers after pass 2 = %v, want %v", got, want)
	}
	var hasVector bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema='public' AND table_name='pages' AND column_name='fts')
	`).Scan(&hasVector); err != nil || !hasVector {
		t.Fatalf("pages.fts after pass 2 = %v, %v", hasVector, err)
	}
}

func auditTriggers(ctx context.Context, t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.QueryContext(ctx, `
		SELECT tgname FROM pg_trigger
		WHERE tgrelid = 'audit_events'::regclass AND NOT tgisinternal
		ORDER BY tgname
	`)
	if err != nil {
		t.Fatalf("list audit triggers: %v", err)
	}
	names, err := collectIDs(rows)
	if err != nil {
		t.Fatalf("scan audit triggers: %v", err)
	}
	return names
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
