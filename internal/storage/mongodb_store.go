package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists transactions and sales in MongoDB. Monetary fields
// stay as strings end to end, so documents hold the exact decimal text.
type MongoStore struct {
	client       *mongo.Client
	transactions *mongo.Collection
	sales        *mongo.Collection
}

// NewMongoStore connects to MongoDB and prepares the collections.
func NewMongoStore(url, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("storage: connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		transactions: db.Collection("transactions"),
		sales:        db.Collection("sales"),
	}

	indexCtx, indexCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer indexCancel()
	_, err = s.transactions.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "saleId", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: create transaction index: %w", err)
	}
	return s, nil
}

// CreateTransaction inserts a new transaction document.
func (s *MongoStore) CreateTransaction(ctx context.Context, tx Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.UpdatedAt = tx.CreatedAt

	_, err := s.transactions.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("storage: transaction already exists: %s", tx.ID)
	}
	if err != nil {
		return fmt.Errorf("storage: insert transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by id.
func (s *MongoStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	err := s.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("storage: get transaction: %w", err)
	}
	return tx, nil
}

// UpdateTransaction replaces the stored document for the transaction.
func (s *MongoStore) UpdateTransaction(ctx context.Context, tx Transaction) error {
	tx.UpdatedAt = time.Now().UTC()

	result, err := s.transactions.ReplaceOne(ctx, bson.M{"_id": tx.ID}, tx)
	if err != nil {
		return fmt.Errorf("storage: update transaction: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransactionsBySale returns all transactions belonging to a sale.
func (s *MongoStore) ListTransactionsBySale(ctx context.Context, saleID string) ([]Transaction, error) {
	cursor, err := s.transactions.Find(ctx, bson.M{"saleId": saleID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Transaction
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("storage: decode transactions: %w", err)
	}
	return out, nil
}

// CreateSale inserts a new sale document.
func (s *MongoStore) CreateSale(ctx context.Context, sale Sale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	_, err := s.sales.InsertOne(ctx, sale)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("storage: sale already exists: %s", sale.ID)
	}
	if err != nil {
		return fmt.Errorf("storage: insert sale: %w", err)
	}
	return nil
}

// GetSale retrieves a sale by id.
func (s *MongoStore) GetSale(ctx context.Context, id string) (Sale, error) {
	var sale Sale
	err := s.sales.FindOne(ctx, bson.M{"_id": id}).Decode(&sale)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("storage: get sale: %w", err)
	}
	return sale, nil
}

// AdjustSaleAvailableQuantity moves tokens in or out of the sale's pool.
// Quantities are decimal strings, so the adjustment is a compare-and-swap
// on the stored text rather than a numeric $inc. A concurrent writer causes
// a retry; underflow fails with ErrInsufficientTokens.
func (s *MongoStore) AdjustSaleAvailableQuantity(ctx context.Context, saleID string, delta string) error {
	d, err := decimal.NewFromString(delta)
	if err != nil {
		return fmt.Errorf("storage: invalid quantity delta %q: %w", delta, err)
	}

	const maxRetries = 5
	for attempt := 0; attempt < maxRetries; attempt++ {
		sale, err := s.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		available, err := decimal.NewFromString(sale.AvailableTokenQuantity)
		if err != nil {
			return fmt.Errorf("storage: corrupt available quantity for sale %s: %w", saleID, err)
		}
		next := available.Add(d)
		if next.IsNegative() {
			return ErrInsufficientTokens
		}

		result, err := s.sales.UpdateOne(ctx,
			bson.M{"_id": saleID, "availableTokenQuantity": sale.AvailableTokenQuantity},
			bson.M{"$set": bson.M{
				"availableTokenQuantity": next.String(),
				"updatedAt":              time.Now().UTC(),
			}},
		)
		if err != nil {
			return fmt.Errorf("storage: adjust sale quantity: %w", err)
		}
		if result.MatchedCount > 0 {
			return nil
		}
	}
	return fmt.Errorf("storage: adjust sale quantity: too many concurrent updates for sale %s", saleID)
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
