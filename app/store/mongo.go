// Package store persists users, payments and the reconciliation records in MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example/mockup-billing/app/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	usersCollection      = "users"
	paymentsCollection   = "payments"
	pendingCollection    = "pending_payments"
	mismatchesCollection = "email_mismatches"
	eventsCollection     = "processed_events"

	// A processing claim older than this is assumed abandoned by a crashed worker.
	staleClaimAfter = 10 * time.Minute
)

// emailCollation makes email comparisons case-insensitive. Queries and the
// email index must use the same collation for the index to apply.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
	now    func() time.Time

	users      *mongo.Collection
	payments   *mongo.Collection
	pending    *mongo.Collection
	mismatches *mongo.Collection
	events     *mongo.Collection
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri, dbName string, log *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(dbName), log)
	s.client = client
	return s, nil
}

// New wraps an existing database handle.
func New(db *mongo.Database, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client:     db.Client(),
		db:         db,
		log:        log,
		now:        time.Now,
		users:      db.Collection(usersCollection),
		payments:   db.Collection(paymentsCollection),
		pending:    db.Collection(pendingCollection),
		mismatches: db.Collection(mismatchesCollection),
		events:     db.Collection(eventsCollection),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the reconciliation queries rely on. The
// unique customer index is best-effort: existing duplicate data must not keep
// the service from starting.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetCollation(emailCollation)},
		{Keys: bson.D{{Key: "stripeSubscriptionId", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stripeCustomerId", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"stripeCustomerId": bson.M{"$type": "string"}}),
	})
	if err != nil {
		s.log.Warn("unique stripeCustomerId index not created", zap.Error(err))
	}

	if _, err := s.payments.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "billId", Value: 1}}}); err != nil {
		return fmt.Errorf("payments index: %w", err)
	}
	_, err = s.pending.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "resolved", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("pending_payments index: %w", err)
	}
	_, err = s.mismatches.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "createdAt", Value: -1}}})
	if err != nil {
		return fmt.Errorf("email_mismatches index: %w", err)
	}
	return nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter, opts...).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByID looks a user up by the hex form of its ObjectID. Malformed ids
// are reported as not found.
func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, options.FindOne().SetCollation(emailCollation))
}

func (s *Store) FindUserByStripeCustomerID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"stripeCustomerId": id})
}

func (s *Store) FindUserByStripeSubscriptionID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"stripeSubscriptionId": id})
}

// SampleUsers returns up to n users with only identifying fields populated.
func (s *Store) SampleUsers(ctx context.Context, n int) ([]models.User, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().
		SetLimit(int64(n)).
		SetProjection(bson.M{"email": 1, "stripeCustomerId": 1}))
	if err != nil {
		return nil, err
	}
	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActivateSubscription overwrites the subscription fields and resets usage.
func (s *Store) ActivateSubscription(ctx context.Context, id primitive.ObjectID, g models.SubscriptionGrant) error {
	set := bson.M{
		"subscriptionStatus":   models.SubscriptionActive,
		"subscriptionTier":     g.Tier,
		"stripeSubscriptionId": g.SubscriptionID,
		"subscriptionEndDate":  g.EndDate,
		"monthlyCredits":       g.MonthlyCredits,
		"creditsUsed":          0,
		"creditsResetDate":     g.ResetDate,
	}
	if g.CustomerID != "" {
		set["stripeCustomerId"] = g.CustomerID
	}
	return s.updateUser(ctx, id, bson.M{"$set": set})
}

// GrantCredits atomically adds credits and, when customerID is set, stores it
// in the same write.
func (s *Store) GrantCredits(ctx context.Context, id primitive.ObjectID, credits int, customerID string) error {
	update := bson.M{"$inc": bson.M{"totalCreditsEarned": credits}}
	if customerID != "" {
		update["$set"] = bson.M{"stripeCustomerId": customerID}
	}
	return s.updateUser(ctx, id, update)
}

func (s *Store) updateUser(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := s.users.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) FindPaymentByBillID(ctx context.Context, billID string) (*models.Payment, error) {
	var p models.Payment
	err := s.payments.FindOne(ctx, bson.M{"billId": billID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) InsertPendingPayment(ctx context.Context, p *models.PendingPayment) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	_, err := s.pending.InsertOne(ctx, p)
	return err
}

func (s *Store) InsertEmailMismatch(ctx context.Context, m *models.EmailMismatch) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	_, err := s.mismatches.InsertOne(ctx, m)
	return err
}

// ListPendingPayments returns pending payments with the given resolved flag, newest first.
func (s *Store) ListPendingPayments(ctx context.Context, resolved bool, limit int64) ([]models.PendingPayment, error) {
	cur, err := s.pending.Find(ctx, bson.M{"resolved": resolved}, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	out := []models.PendingPayment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEmailMismatches returns recorded mismatches, newest first.
func (s *Store) ListEmailMismatches(ctx context.Context, limit int64) ([]models.EmailMismatch, error) {
	cur, err := s.mismatches.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	out := []models.EmailMismatch{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
