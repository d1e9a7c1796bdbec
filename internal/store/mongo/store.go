// Package mongo is the MongoDB ledger backend. Atomic scopes are multi
// document transactions and therefore need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

// Error labels attached by the server or driver to retryable failures.
const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		db:     client.Database(database),
		logger: logger.With(zap.String("component", "store"), zap.String("dialect", "mongo")),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *Store) accounts() *mongo.Collection { return s.db.Collection(accountsCollection) }

func (s *Store) transactions() *mongo.Collection { return s.db.Collection(transactionsCollection) }

// Migrate creates the secondary indexes. Collections are created implicitly.
func (s *Store) Migrate(ctx context.Context) error {
	for col, idx := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("mongo: create indexes on %s: %w", col, err)
		}
	}
	s.logger.Info("indexes ensured")
	return nil
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		transactionsCollection: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error { return s.client.Disconnect(context.Background()) }

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, scope store.Scope) error) (store.WriteResult, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("mongo: start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txnOpts); err != nil {
		return store.WriteResult{}, fmt.Errorf("mongo: start transaction: %w", err)
	}

	sctx := mongo.NewSessionContext(ctx, sess)
	if err := fn(sctx, &scope{s: s}); err != nil {
		_ = sess.AbortTransaction(context.WithoutCancel(ctx))
		return store.Resolve(err)
	}

	if err := sess.CommitTransaction(sctx); err != nil {
		s.logger.Debug("commit failed", zap.Error(err))
		return store.Resolve(fmt.Errorf("mongo: commit: %w", classify(err)))
	}
	return store.WriteResult{Outcome: store.Committed}, nil
}

type scope struct {
	s *Store
}

// LockAccount bumps the account version inside the transaction. The write
// makes any other transaction touching the same account fail with a write
// conflict until this one ends.
func (sc *scope) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var doc accountDocument
	err := sc.s.accounts().FindOneAndUpdate(ctx,
		bson.M{"_id": accountID},
		bson.M{"$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: lock account %s: %w", accountID, classify(err))
	}
	return fromAccountDocument(&doc), nil
}

func (sc *scope) UpdateBalance(ctx context.Context, account *models.Account, balance models.Money) error {
	now := sc.s.now()
	result, err := sc.s.accounts().UpdateOne(ctx,
		bson.M{"_id": account.ID, "version": account.Version},
		bson.M{
			"$set": bson.M{"balance_cents": balance.Cents(), "updated_at": now},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo: update balance %s: %w", account.ID, classify(err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("mongo: optimistic lock failed for account %s: %w", account.ID, store.ErrTransient)
	}

	account.Balance = balance
	account.Version++
	account.UpdatedAt = now
	return nil
}

func (sc *scope) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	t.CreatedAt = sc.s.now()
	if _, err := sc.s.transactions().InsertOne(ctx, toTransactionDocument(t)); err != nil {
		return fmt.Errorf("mongo: append transaction %s: %w", t.ID, classify(err))
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var doc transactionDocument
	err := s.transactions().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get transaction %s: %w", id, err)
	}
	return fromTransactionDocument(&doc)
}

func (s *Store) ListTransactions(ctx context.Context, q models.ListQuery) ([]models.Transaction, int, error) {
	field, ok := sortFields[q.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("mongo: unsupported sort attribute %q", q.SortBy)
	}

	filter := bson.M{}
	if q.AccountID != "" {
		filter["account_id"] = q.AccountID
	}

	total, err := s.transactions().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("mongo: count transactions: %w", err)
	}

	opts := options.Find().
		SetSort(sortDocument(field, q.Order)).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.Limit))

	cursor, err := s.transactions().Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("mongo: list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("mongo: decode transactions: %w", err)
	}

	result := make([]models.Transaction, 0, len(docs))
	for i := range docs {
		t, err := fromTransactionDocument(&docs[i])
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *t)
	}
	return result, int(total), nil
}

// sortDocument orders by field and breaks ties on _id in the same direction.
func sortDocument(field string, order models.SortOrder) bson.D {
	dir := -1
	if order == models.OrderAsc {
		dir = 1
	}
	sort := bson.D{{Key: field, Value: dir}}
	if field != "_id" {
		sort = append(sort, bson.E{Key: "_id", Value: dir})
	}
	return sort
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	now := s.now()
	account.Version = 1
	account.CreatedAt, account.UpdatedAt = now, now
	if _, err := s.accounts().InsertOne(ctx, toAccountDocument(account)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("mongo: create account %s: %w", account.ID, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var doc accountDocument
	err := s.accounts().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get account %s: %w", id, err)
	}
	return fromAccountDocument(&doc), nil
}

// classify maps duplicate _id inserts onto store.UniqueViolationError and
// write conflicts onto store.ErrTransient.
func classify(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return &store.UniqueViolationError{Field: store.FieldTransactionID, Err: err}
	}
	var le interface{ HasErrorLabel(string) bool }
	if errors.As(err, &le) && (le.HasErrorLabel(labelTransientTransaction) || le.HasErrorLabel(labelUnknownCommitResult)) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}
