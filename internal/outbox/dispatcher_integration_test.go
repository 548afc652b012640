//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	seedOutbox(t, ctx, pool, "u1", "run.confirmed", "run_events")

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, logrus.New(), 10*time.Millisecond, 5)

	before := testutil.ToFloat64(deliveredCounter)
	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "run_events", producer.writes[0].topic)
	require.InDelta(t, before+1, testutil.ToFloat64(deliveredCounter), 0.0001)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherLeavesFailedBatchUnpublished(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	seedOutbox(t, ctx, pool, "u1", "goal.set", "goal_events")

	failing := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, failing, logrus.New(), 10*time.Millisecond, 5)

	before := testutil.ToFloat64(failedCounter)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.InDelta(t, before+1, testutil.ToFloat64(failedCounter), 0.0001)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Equal(t, 1, pending)

	// The next poll picks the row up again.
	producer := &stubProducer{}
	dispatcher = NewDispatcher(pool, producer, logrus.New(), 10*time.Millisecond, 5)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
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

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		pool, err = pgxpool.New(ctx, connStr)
		if err != nil {
			return false
		}
		if pool.Ping(ctx) != nil {
			pool.Close()
			return false
		}
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(pool.Close)

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	contents, err := os.ReadFile(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
	return pool
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID, eventType, topic string) {
	t.Helper()
	_, err := pool.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ('user', $1, $2, $3, $1, '{}'::jsonb, $4)`, userID, eventType, topic, userID+":"+eventType)
	require.NoError(t, err)
}
