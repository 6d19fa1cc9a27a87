package testutil

import (
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/db"
)

var tables = []string{
	"conversations", "chat_sessions", "document_chunks", "documents",
	"invitation_tokens", "auth_migrations", "gdpr_requests", "embedding_cache", "users",
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// OpenTestDB connects to the postgres named by TEST_DB_HOST, applies the
// migrations and empties every table. It skips the test when the variable is unset.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	port, _ := strconv.Atoi(envOr("TEST_DB_PORT", "5432"))
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     envOr("TEST_DB_USER", "docchat"),
		Password: envOr("TEST_DB_PASSWORD", "docchat_pass"),
		DBName:   envOr("TEST_DB_NAME", "docchat_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	for _, table := range tables {
		if _, err := conn.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// RedisAddr returns TEST_REDIS_ADDR or skips the test.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis test")
	}
	return addr
}
