//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/persistence/storetest"
)

func TestRepositoryContract(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("heartstream"),
		postgrescontainer.WithUsername("heartstream"),
		postgrescontainer.WithPassword("heartstream"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	storetest.Run(t, func(t *testing.T) domain.Store {
		repo, err := Open(ctx, connStr)
		require.NoError(t, err)
		resetTables(t, ctx, repo)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("heartstream"),
		postgrescontainer.WithUsername("heartstream"),
		postgrescontainer.WithPassword("heartstream"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))
}

func resetTables(t *testing.T, ctx context.Context, repo *Repository) {
	t.Helper()
	_, err := repo.pool.Exec(ctx, `TRUNCATE waypoints, activities, samples RESTART IDENTITY`)
	require.NoError(t, err)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
