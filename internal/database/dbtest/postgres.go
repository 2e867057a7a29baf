package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/vidaleve/backend/internal/database"
)

// Postgres connects to TEST_DATABASE_URL with the schema migrated. Tests that
// call it are skipped when the variable is unset.
func Postgres(t testing.TB) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load() // allow .env for local runs
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration")
	}
	if err := database.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := database.Open(context.Background(), url, 16)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Profile inserts a fresh profile so rows referencing it satisfy their foreign keys.
func Profile(t testing.TB, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO profiles (id, email) VALUES ($1, $2)`, id, id.String()+"@example.com"); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	return id
}
