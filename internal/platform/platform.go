// Package platform opens the storage and Firebase resources selected by configuration.
// Both binaries share it so the API and the reminder job always read the same records.
package platform

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"example.com/momentum/internal/config"
	"example.com/momentum/internal/domain"
	firestorestore "example.com/momentum/internal/persistence/firestore"
	"example.com/momentum/internal/persistence/memory"
	"example.com/momentum/internal/persistence/postgres"
)

// Resources holds the opened backends. Close releases them in reverse order.
type Resources struct {
	Store domain.UserStore
	// Pool is set for the postgres backend; the outbox dispatcher shares it.
	Pool *pgxpool.Pool
	// Firebase is set when any Firebase integration is configured.
	Firebase *firebase.App

	closers []func() error
}

// Open builds the store for cfg.StoreBackend, creating a Firebase app first when any
// component needs one.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Resources, error) {
	res := &Resources{}

	if cfg.UsesFirebase() {
		app, err := NewFirebaseApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		res.Firebase = app
	}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("using in-memory store; records are lost on restart")
		res.Store = memory.NewStore()
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		res.Pool = pool
		res.closers = append(res.closers, func() error { pool.Close(); return nil })
		res.Store = postgres.NewRepository(pool, cfg.UserPageSize)
	case config.StoreFirestore:
		client, err := res.Firebase.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		res.closers = append(res.closers, client.Close)
		res.Store = firestorestore.NewStore(client, firestorestore.DefaultCollection, firestorestore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.WithField("backend", cfg.StoreBackend).Info("store ready")
	return res, nil
}

// Close releases every opened backend.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewFirebaseApp initialises the Firebase Admin SDK for cfg.FirebaseProjectID. Without a
// credentials file the SDK falls back to application default credentials.
func NewFirebaseApp(ctx context.Context, cfg config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	return app, nil
}
