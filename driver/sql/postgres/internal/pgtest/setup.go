// Package pgtest provides PostgreSQL databases for use in tests.
package pgtest

import (
	"database/sql"
	"testing"

	"github.com/dogmatiq/logkit/internal/x/xtesting"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Setup returns a connection to a PostgreSQL database running in a container
// that lives as long as t.
//
// t is skipped if there is no container runtime.
func Setup(t *testing.T) *sql.DB {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(
		t.Context(),
		"postgres",
		postgres.BasicWaitStrategies(),
		postgres.WithUsername("logkit"),
		postgres.WithPassword(uuid.NewString()),
	)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(xtesting.ContextForCleanup(t)); err != nil {
			t.Log(err)
		}
	})

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		t.Fatal(err)
	}

	db := stdlib.OpenDB(*cfg)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}
	})

	if err := db.PingContext(t.Context()); err != nil {
		t.Fatalf("cannot connect to test database: %s", err)
	}

	return db
}
