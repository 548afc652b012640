//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/momentum/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context, pageSize int) (*Repository, *pgxpool.Pool) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("momentum"),
		postgrescontainer.WithUsername("momentum"),
		postgrescontainer.WithPassword("momentum"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	contents, err := os.ReadFile(resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	return NewRepository(pool, pageSize), pool
}

func TestRepositoryConfirmRunWritesRunAndOutbox(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx, 10)

	now := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	engine := domain.NewEngine(repo, time.UTC, domain.WithClock(func() time.Time { return now }))

	_, err := engine.SetGoal(ctx, "runner", 30)
	require.NoError(t, err)
	result, err := engine.ConfirmRun(ctx, "runner")
	require.NoError(t, err)
	require.Equal(t, 1, result.Streak)

	_, err = engine.ConfirmRun(ctx, "runner")
	require.ErrorIs(t, err, domain.ErrPrecondition)

	stored, err := repo.Get(ctx, "runner")
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	require.Equal(t, result.Run.ID, stored.History[0].ID)
	require.Equal(t, 30, stored.History[0].Duration)
	require.True(t, stored.LastRun.Equal(now))
	require.EqualValues(t, 2, stored.Version)

	var topics []string
	rows, err := pool.Query(ctx, `SELECT topic FROM outbox ORDER BY event_id`)
	require.NoError(t, err)
	for rows.Next() {
		var topic string
		require.NoError(t, rows.Scan(&topic))
		topics = append(topics, topic)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"goal_events", "run_events"}, topics)
}

func TestRepositoryRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx, 10)

	record := domain.NewUserRecord("runner", time.Now())
	require.NoError(t, repo.Create(ctx, record))
	// Second create is a no-op.
	require.NoError(t, repo.Create(ctx, record))

	goal := 20
	next := record.Clone()
	next.CurrentGoal = &goal
	next.Version = 1
	require.NoError(t, repo.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: next}))

	stale := next.Clone()
	stale.Version = 1
	err := repo.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: stale})
	require.ErrorIs(t, err, domain.ErrConflict)

	missing := domain.NewUserRecord(uuid.NewString(), time.Now())
	missing.Version = 1
	err = repo.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: missing})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRepositoryUsersPagesThroughAllRecords(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx, 3)

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Create(ctx, domain.NewUserRecord(uuid.NewString(), time.Now())))
	}

	seen := make(map[string]struct{})
	for user, err := range repo.Users(ctx) {
		require.NoError(t, err)
		require.Nil(t, user.History)
		seen[user.ID] = struct{}{}
	}
	require.Len(t, seen, 7)
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
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
