package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"time"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/target/sessionsync/internal/migrate"
)

// TestDBConfig holds configuration for the test profile store.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_*. The default port 55432 is the local compose test
// database; CI sets TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "sessionsync"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "sessionsync"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "sessionsync"),
	}
}

func buildBaseDSN(cfg TestDBConfig) string {
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	sslMode := getEnvOrDefault("DB_SSL_MODE", "disable")
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.User, cfg.Password, hostPort, cfg.DBName, sslMode,
	)
}

// generateSchemaName returns "t_" plus 8 random hex characters.
func generateSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func openPinged(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func closeAndLog(t TestingTB, name string, db *sql.DB) {
	if err := db.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

// SkipIfNoTestDB skips the test when the test profile store cannot be reached.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := openPinged(buildBaseDSN(DefaultTestDBConfig()), 2*time.Second)
	if err != nil {
		unavailable(t, requireDB(), "test database", err)
		return
	}
	closeAndLog(t, "probe DB", db)
}

// WithAutoDB runs fn against a migrated profile store. With TEST_DB_EPHEMERAL set each call
// gets its own schema, dropped afterwards; otherwise the shared database is used and the
// profiles table is emptied before and after fn.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)

	if envBool("TEST_DB_EPHEMERAL") {
		fn(ephemeralSchemaDB(t))
		return
	}

	db, err := openPinged(buildBaseDSN(DefaultTestDBConfig()), 5*time.Second)
	if err != nil {
		t.Fatal("open test database:", err)
	}
	defer closeAndLog(t, "test DB", db)
	migrateOrFail(t, db)
	truncateProfiles(t, db)
	defer truncateProfiles(t, db)
	fn(db)
}

func ephemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	baseDSN := buildBaseDSN(DefaultTestDBConfig())

	admin, err := openPinged(baseDSN, 5*time.Second)
	if err != nil {
		t.Fatal("open admin DB:", err)
	}
	schema := generateSchemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	u, err := url.Parse(baseDSN)
	if err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatal("parse DSN:", err)
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()

	db, err := openPinged(u.String(), 10*time.Second)
	if err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatal("open schema-scoped DB:", err)
	}

	t.Logf("using ephemeral schema %s", schema)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeAndLog(t, "schema DB", db)
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin DB", admin)
	})

	migrateOrFail(t, db)
	return db
}

func migrateOrFail(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("run migrations:", err)
	}
}

func truncateProfiles(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DELETE FROM profiles"); err != nil {
		t.Fatalf("clean profiles: %v", err)
	}
}
