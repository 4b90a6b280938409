package storage

import (
	"os"
	"testing"
)

// SetupTestDB connects to the database described by DB_* environment
// variables, applies migrations and returns a cleanup func. The test is
// skipped when no database is reachable.
func SetupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Host = envOr("DB_HOST", cfg.Host)
	cfg.Port = envOr("DB_PORT", cfg.Port)
	cfg.User = envOr("DB_USER", cfg.User)
	cfg.Password = envOr("DB_PASSWORD", cfg.Password)
	cfg.DBName = envOr("DB_NAME", cfg.DBName)
	cfg.MaxConns = 10
	cfg.MinConns = 2

	db, err := NewDB(cfg)
	if err != nil {
		t.Skipf("Failed to connect to test database: %v. Set DB_HOST, DB_PORT, etc. to run integration tests", err)
	}

	if err := RunMigrations(cfg, envOr("MIGRATIONS_PATH", "../../migrations")); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Exec("TRUNCATE TABLE output_links, metric_results, ir_artifacts, step_runs CASCADE")
		db.Exec("TRUNCATE TABLE state_history, pipeline_runs CASCADE")
		db.Exec("TRUNCATE TABLE pipeline_versions, pipelines CASCADE")
		db.Close()
	}

	return db, cleanup
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
