//go:build integration

package firestore

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/gcloud"

	"example.com/momentum/internal/domain"
)

const emulatorProject = "momentum-test"

func setupStore(t *testing.T, ctx context.Context) (*Store, *firestore.Client) {
	t.Helper()

	emulator, err := gcloud.RunFirestore(ctx,
		"gcr.io/google.com/cloudsdktool/google-cloud-cli:emulators",
		gcloud.WithProjectID(emulatorProject),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = emulator.Terminate(context.Background()) })

	t.Setenv("FIRESTORE_EMULATOR_HOST", emulator.URI)
	client, err := firestore.NewClient(ctx, emulatorProject)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, t.Name()), client
}

func TestStoreSaveRejectsStaleVersion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	store, _ := setupStore(t, ctx)

	record := domain.NewUserRecord("runner", time.Now())
	require.NoError(t, store.Create(ctx, record))
	// Second create is a no-op.
	require.NoError(t, store.Create(ctx, record))

	goal := 20
	next := record.Clone()
	next.CurrentGoal = &goal
	next.Version = 1
	require.NoError(t, store.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: next}))

	stale := next.Clone()
	stale.Version = 1
	err := store.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: stale})
	require.ErrorIs(t, err, domain.ErrConflict)

	missing := domain.NewUserRecord("ghost", time.Now())
	missing.Version = 1
	err = store.Save(ctx, domain.Mutation{Kind: domain.MutationGoalSet, ExpectedVersion: 0, Next: missing})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestStoreSaveAppendsHistoryAndKeepsClientFields(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	store, client := setupStore(t, ctx)

	day1 := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	_, err := client.Collection(store.collection).Doc("runner").Set(ctx, map[string]any{
		"currentGoal": "30",
		"history":     []any{map[string]any{"date": day1.AddDate(0, 0, -1), "duration": "30"}},
		"fcmToken":    "legacy-token",
		"theme":       "dark",
	})
	require.NoError(t, err)

	clock := day1
	engine := domain.NewEngine(store, time.UTC, domain.WithClock(func() time.Time { return clock }))

	result, err := engine.ConfirmRun(ctx, "runner")
	require.NoError(t, err)
	require.Equal(t, 30, result.Run.Duration)

	_, err = engine.ConfirmRun(ctx, "runner")
	require.ErrorIs(t, err, domain.ErrPrecondition)

	clock = day1.AddDate(0, 0, 1)
	_, err = engine.IncrementGoal(ctx, "runner", 10)
	require.NoError(t, err)
	second, err := engine.ConfirmRun(ctx, "runner")
	require.NoError(t, err)

	stored, err := store.Get(ctx, "runner")
	require.NoError(t, err)
	require.Len(t, stored.History, 3)
	require.Equal(t, result.Run.ID, stored.History[1].ID)
	require.Equal(t, second.Run.ID, stored.History[2].ID)
	require.Equal(t, 40, stored.History[2].Duration)
	require.EqualValues(t, 3, stored.Version)
	require.Equal(t, "legacy-token", stored.NotificationAddress)

	snap, err := client.Collection(store.collection).Doc("runner").Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "dark", snap.Data()["theme"])
	require.Equal(t, "legacy-token", snap.Data()["fcmToken"])
}

func TestStoreUsersProjectsSummaries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	store, client := setupStore(t, ctx)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, domain.NewUserRecord(id, time.Now())))
	}
	_, err := client.Collection(store.collection).Doc("broken").Set(ctx, map[string]any{"streak": true})
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for user, err := range store.Users(ctx) {
		require.NoError(t, err)
		require.Nil(t, user.History)
		seen[user.ID] = struct{}{}
	}
	require.Len(t, seen, 3)
}
