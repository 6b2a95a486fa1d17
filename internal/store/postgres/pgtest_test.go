package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestDB starts a Postgres container, applies the migration, and returns
// a connected *sqlx.DB. The container is automatically terminated when the
// test ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Locate migration file relative to this source file.
	_, thisFile, _, _ := runtime.Caller(0)
	migrationDir := filepath.Join(filepath.Dir(thisFile), "migrations")

	migrationSQL, err := os.ReadFile(filepath.Join(migrationDir, "001_initial.sql"))
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("merchantbot_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.WithInitScripts(), // no bundled init scripts
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Apply migration.
	if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
		t.Fatalf("applying migration: %v", err)
	}

	return db
}

// seedCollectible inserts a collectible and returns its id.
func seedCollectible(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO collectibles (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("seeding collectible %q: %v", name, err)
	}
	return id
}

// seedVariant inserts a collectible variant and returns its id.
func seedVariant(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO collectible_variants (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("seeding variant %q: %v", name, err)
	}
	return id
}

// seedItem inserts a merchant item and returns its id. variantID may be nil.
func seedItem(t *testing.T, db *sqlx.DB, collectibleID int64, variantID *int64, price int64, weight int, enabled bool) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		`INSERT INTO merchant_items (collectible_id, variant_id, price, weight, enabled)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		collectibleID, variantID, price, weight, enabled,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seeding item: %v", err)
	}
	return id
}

// seedPlayer inserts a player with the given balance and returns its id.
func seedPlayer(t *testing.T, db *sqlx.DB, discordID string, coins int64) string {
	t.Helper()
	var id string
	err := db.QueryRow(
		`INSERT INTO players (discord_id, coins) VALUES ($1, $2) RETURNING id`,
		discordID, coins,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seeding player %q: %v", discordID, err)
	}
	return id
}
