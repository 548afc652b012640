// Package firestore provides a UserStore backed by Cloud Firestore, keeping the document
// shape the mobile client reads.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"example.com/momentum/internal/domain"
)

// DefaultCollection holds one document per user, keyed by user id.
const DefaultCollection = "users"

// Store implements domain.UserStore on a Firestore collection.
type Store struct {
	client     *firestore.Client
	collection string
	log        logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for documents skipped during enumeration.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// NewStore constructs a Store over the given collection, DefaultCollection when empty.
func NewStore(client *firestore.Client, collection string, opts ...Option) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{client: client, collection: collection, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(userID)
}

// Get implements domain.UserStore.
func (s *Store) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	user, err := decodeUser(snap.Ref.ID, snap.Data())
	if err != nil {
		return nil, err
	}
	if user.History == nil {
		user.History = []domain.RunRecord{}
	}
	return &user, nil
}

// Create implements domain.UserStore. An existing document is left untouched.
func (s *Store) Create(ctx context.Context, record domain.UserRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	_, err := s.doc(record.ID).Create(ctx, encodeUser(record))
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// Save implements domain.UserStore. The version check and the write run inside one
// Firestore transaction. Only the fields the engine owns are updated and the appended run
// is added with ArrayUnion, so client-written fields and stored history survive.
func (s *Store) Save(ctx context.Context, mutation domain.Mutation) error {
	ref := s.doc(mutation.Next.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrUserNotFound
			}
			return err
		}
		version, err := decodeInt(fieldVersion, snap.Data()[fieldVersion])
		if err != nil {
			return fmt.Errorf("user %s: %w", ref.ID, err)
		}
		if int64(version) != mutation.ExpectedVersion {
			return domain.ErrConflict
		}
		return tx.Update(ref, encodeUpdates(mutation.Next, mutation.Appended))
	})
}

// Users implements domain.UserStore. Documents are streamed with a projection that omits
// history. A document that cannot be decoded is logged and skipped so one bad record
// never ends the enumeration.
func (s *Store) Users(ctx context.Context) iter.Seq2[domain.UserRecord, error] {
	return func(yield func(domain.UserRecord, error) bool) {
		docs := s.client.Collection(s.collection).Select(summaryFields...).Documents(ctx)
		defer docs.Stop()

		s.yieldSummaries(yield, func() (string, map[string]any, error) {
			snap, err := docs.Next()
			if err != nil {
				return "", nil, err
			}
			return snap.Ref.ID, snap.Data(), nil
		})
	}
}

// yieldSummaries drains next until iterator.Done. Query errors end the enumeration.
func (s *Store) yieldSummaries(yield func(domain.UserRecord, error) bool, next func() (string, map[string]any, error)) {
	for {
		id, data, err := next()
		if errors.Is(err, iterator.Done) {
			return
		}
		if err != nil {
			yield(domain.UserRecord{}, err)
			return
		}
		user, err := decodeSummary(id, data)
		if err != nil {
			decodeFailures.Inc()
			s.log.WithField("user_id", id).WithError(err).Warn("skipping user document that cannot be decoded")
			continue
		}
		if !yield(user, nil) {
			return
		}
	}
}

var _ domain.UserStore = (*Store)(nil)
