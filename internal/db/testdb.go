package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDatabaseEnv points tests at an existing database instead of a
// container. Every test then shares it, so it must be disposable.
const TestDatabaseEnv = "TEST_DATABASE_URL"

const (
	pgImage = "postgres:16-alpine"
	pgCreds = "publisher"
)

func retry(n int, fn func() error) error {
	backoff := 200 * time.Millisecond
	var last error
	for i := 0; i < n; i++ {
		if last = fn(); last == nil {
			return nil
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, 3*time.Second)
	}
	return fmt.Errorf("retry: giving up after %d tries: %w", n, last)
}

// StartTestPostgres returns a migrated database for one test. Without
// TEST_DATABASE_URL it starts a postgres container, torn down with t.Cleanup.
func StartTestPostgres(t testing.TB) *DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	dsn := os.Getenv(TestDatabaseEnv)
	if dsn == "" {
		dsn = startContainer(ctx, t)
	}

	d, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(d.Close)

	// first DDL can still race startup housekeeping
	if err := retry(6, func() error { return d.Migrate(ctx) }); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if os.Getenv(TestDatabaseEnv) != "" {
		if _, err := d.Pool.Exec(ctx, `TRUNCATE scheduled_posts, users`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	return d
}

func startContainer(ctx context.Context, t testing.TB) string {
	t.Helper()

	dsnFor := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			pgCreds, pgCreds, host, port.Port(), pgCreds)
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image: pgImage,
			Env: map[string]string{
				"POSTGRES_USER":     pgCreds,
				"POSTGRES_PASSWORD": pgCreds,
				"POSTGRES_DB":       pgCreds,
			},
			ExposedPorts: []string{"5432/tcp"},
			// the port opens before auth is ready
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsnFor).
				WithStartupTimeout(2 * time.Minute).
				WithPollInterval(300 * time.Millisecond),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", pgImage, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return dsnFor(host, port) + "&pool_max_conns=4"
}
