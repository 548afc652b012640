// Package postgres provides the Postgres-backed UserStore. Every committed mutation also
// writes an outbox row in the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/momentum/internal/domain"
	"example.com/momentum/internal/events"
)

const defaultPageSize = 200

// Repository provides Postgres persistence for user records, runs and outbox events.
type Repository struct {
	pool     *pgxpool.Pool
	pageSize int
}

// NewRepository constructs a Repository. pageSize bounds each enumeration query.
func NewRepository(pool *pgxpool.Pool, pageSize int) *Repository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Repository{pool: pool, pageSize: pageSize}
}

const userColumns = `user_id, current_goal, last_run, streak, longest_streak, notification_address, version, created_at, updated_at`

// Get loads a user with its full run history in insertion order.
func (r *Repository) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT run_id::text, run_at, duration_min FROM runs WHERE user_id=$1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	user.History = make([]domain.RunRecord, 0)
	for rows.Next() {
		var run domain.RunRecord
		if err := rows.Scan(&run.ID, &run.Date, &run.Duration); err != nil {
			return nil, err
		}
		run.Date = run.Date.UTC()
		user.History = append(user.History, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts the record unless one already exists for the id.
func (r *Repository) Create(ctx context.Context, record domain.UserRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	const stmt = `INSERT INTO users (` + userColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (user_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, stmt,
		record.ID,
		record.CurrentGoal,
		record.LastRun,
		record.Streak,
		record.LongestStreak,
		record.NotificationAddress,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	return err
}

// Save applies the mutation only while the stored version equals ExpectedVersion. The
// appended run and the outbox event commit in the same transaction.
func (r *Repository) Save(ctx context.Context, mutation domain.Mutation) (err error) {
	next := mutation.Next

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const update = `UPDATE users
        SET current_goal=$3, last_run=$4, streak=$5, longest_streak=$6, notification_address=$7, version=$8, updated_at=$9
        WHERE user_id=$1 AND version=$2`

	tag, err := tx.Exec(ctx, update,
		next.ID,
		mutation.ExpectedVersion,
		next.CurrentGoal,
		next.LastRun,
		next.Streak,
		next.LongestStreak,
		next.NotificationAddress,
		next.Version,
		next.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id=$1)`, next.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			err = domain.ErrUserNotFound
			return err
		}
		err = domain.ErrConflict
		return err
	}

	if run := mutation.Appended; run != nil {
		_, err = tx.Exec(ctx, `INSERT INTO runs (run_id, user_id, run_at, duration_min) VALUES ($1,$2,$3,$4)`,
			run.ID, next.ID, run.Date, run.Duration)
		if err != nil {
			return err
		}
	}

	if err = r.insertOutbox(ctx, tx, mutation); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Users pages through users ordered by id. Each page is read in full before its records
// are yielded, so no connection is held while the caller works.
func (r *Repository) Users(ctx context.Context) iter.Seq2[domain.UserRecord, error] {
	return func(yield func(domain.UserRecord, error) bool) {
		after := ""
		for {
			page, err := r.page(ctx, after)
			if err != nil {
				yield(domain.UserRecord{}, err)
				return
			}
			for _, user := range page {
				if !yield(user, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (r *Repository) page(ctx context.Context, after string) ([]domain.UserRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE user_id > $1 ORDER BY user_id LIMIT $2`, after, r.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserRecord, 0, r.pageSize)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (domain.UserRecord, error) {
	var user domain.UserRecord
	if err := row.Scan(
		&user.ID,
		&user.CurrentGoal,
		&user.LastRun,
		&user.Streak,
		&user.LongestStreak,
		&user.NotificationAddress,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.UserRecord{}, err
	}
	if user.LastRun != nil {
		last := user.LastRun.UTC()
		user.LastRun = &last
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, mutation domain.Mutation) error {
	eventType := string(mutation.Kind)
	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	body, err := json.Marshal(eventPayload(mutation))
	if err != nil {
		return err
	}

	next := mutation.Next
	dedupeKey := fmt.Sprintf("%s:%d:%s", next.ID, next.Version, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		"user",
		next.ID,
		eventType,
		meta.Topic,
		meta.PartitionKeyFn(next),
		body,
		dedupeKey,
	)
	return err
}

func eventPayload(mutation domain.Mutation) any {
	next := mutation.Next
	switch mutation.Kind {
	case domain.MutationRunConfirmed:
		payload := events.RunConfirmed{
			UserID:        next.ID,
			Streak:        next.Streak,
			LongestStreak: next.LongestStreak,
			Version:       next.Version,
		}
		if run := mutation.Appended; run != nil {
			payload.RunID = run.ID
			payload.DurationMin = run.Duration
			payload.ConfirmedAt = run.Date.UTC()
		}
		return payload
	case domain.MutationNotificationAddress:
		return events.NotificationAddressUpdated{
			UserID:     next.ID,
			Registered: next.NotificationAddress != "",
			Version:    next.Version,
			OccurredAt: next.UpdatedAt,
		}
	default:
		goal := 0
		if next.CurrentGoal != nil {
			goal = *next.CurrentGoal
		}
		return events.GoalChanged{
			UserID:      next.ID,
			GoalMinutes: goal,
			Version:     next.Version,
			OccurredAt:  next.UpdatedAt,
		}
	}
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	PartitionKeyFn func(domain.UserRecord) string
}

func byUser(u domain.UserRecord) string { return u.ID }

var eventCatalog = map[string]EventMetadata{
	events.TypeGoalSet:                    {Topic: "goal_events", PartitionKeyFn: byUser},
	events.TypeGoalIncremented:            {Topic: "goal_events", PartitionKeyFn: byUser},
	events.TypeRunConfirmed:               {Topic: "run_events", PartitionKeyFn: byUser},
	events.TypeNotificationAddressUpdated: {Topic: "profile_events", PartitionKeyFn: byUser},
}

var _ domain.UserStore = (*Repository)(nil)
