package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"atm-ledger/internal/database"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type TestDatabase struct {
	DB  *sql.DB
	URL string
}

// SetupPostgres starts a throwaway PostgreSQL container with the ledger
// schema applied. Tests calling it are skipped under -short.
func SetupPostgres(t *testing.T) *TestDatabase {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	t.Setenv("LOG_LEVEL", "ERROR")

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "atm_ledger_test",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)

	databaseURL := fmt.Sprintf("postgres://postgres:password@%s:%s/atm_ledger_test?sslmode=disable", host, port.Port())

	db, err := database.NewConnection(databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		postgres.Terminate(ctx)
	})

	return &TestDatabase{DB: db, URL: databaseURL}
}

// Truncate empties every ledger table.
func (tdb *TestDatabase) Truncate(t *testing.T) {
	t.Helper()

	_, err := tdb.DB.Exec("TRUNCATE account_transactions, accounts RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}
