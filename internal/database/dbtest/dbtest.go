// Package dbtest starts a throwaway Postgres with the HashDrop schema for
// integration tests. Tests using it are skipped unless TEST_INTEGRATION is
// set, since they need a Docker daemon.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/HashDrop/internal/database"
)

// EnvIntegration gates tests that need Docker.
const EnvIntegration = "TEST_INTEGRATION"

// Pool runs a Postgres container, applies the migrations and returns a pool
// that is closed, with the container, when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() || !integrationEnabled() {
		t.Skip("integration test: set " + EnvIntegration + "=1 to run against Postgres")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("hashdrop_test"),
		postgres.WithUsername("hashdrop"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func integrationEnabled() bool {
	return os.Getenv(EnvIntegration) != ""
}
