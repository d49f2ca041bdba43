package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrInsufficientTokens is returned when a sale cannot cover a reservation.
var ErrInsufficientTokens = errors.New("storage: insufficient available tokens")

// Store captures the persistence requirements of the reconciliation core.
//
// Transactions are created at purchase intent and mutated only through
// UpdateTransaction; they are never deleted. Metadata merging is the caller's
// responsibility (read-modify-write), the store persists whole documents.
type Store interface {
	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	ListTransactionsBySale(ctx context.Context, saleID string) ([]Transaction, error)

	CreateSale(ctx context.Context, sale Sale) error
	GetSale(ctx context.Context, id string) (Sale, error)
	// AdjustSaleAvailableQuantity atomically adds delta (an exact decimal
	// string, possibly negative) to the sale's available token pool.
	// A negative result fails with ErrInsufficientTokens.
	AdjustSaleAvailableQuantity(ctx context.Context, saleID string, delta string) error

	Close() error
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		// Memory backend loses all transaction state on restart;
		// development and tests only.
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store implementation for tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
	sales        map[string]Sale
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]Transaction),
		sales:        make(map[string]Sale),
	}
}

// CreateTransaction stores a new transaction; the id must be unused.
func (m *MemoryStore) CreateTransaction(_ context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.ID]; exists {
		return fmt.Errorf("storage: transaction already exists: %s", tx.ID)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.UpdatedAt = tx.CreatedAt
	m.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

// GetTransaction retrieves a transaction by id.
func (m *MemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// UpdateTransaction replaces a stored transaction.
func (m *MemoryStore) UpdateTransaction(_ context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[tx.ID]; !ok {
		return ErrNotFound
	}
	tx.UpdatedAt = time.Now().UTC()
	m.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

// ListTransactionsBySale returns all transactions belonging to a sale.
func (m *MemoryStore) ListTransactionsBySale(_ context.Context, saleID string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Transaction
	for _, tx := range m.transactions {
		if tx.SaleID == saleID {
			out = append(out, cloneTransaction(tx))
		}
	}
	return out, nil
}

// CreateSale stores a new sale; the id must be unused.
func (m *MemoryStore) CreateSale(_ context.Context, sale Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sales[sale.ID]; exists {
		return fmt.Errorf("storage: sale already exists: %s", sale.ID)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt
	m.sales[sale.ID] = sale
	return nil
}

// GetSale retrieves a sale by id.
func (m *MemoryStore) GetSale(_ context.Context, id string) (Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sale, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return sale, nil
}

// AdjustSaleAvailableQuantity atomically moves tokens in or out of the pool.
func (m *MemoryStore) AdjustSaleAvailableQuantity(_ context.Context, saleID string, delta string) error {
	d, err := decimal.NewFromString(delta)
	if err != nil {
		return fmt.Errorf("storage: invalid quantity delta %q: %w", delta, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[saleID]
	if !ok {
		return ErrNotFound
	}
	available, err := decimal.NewFromString(sale.AvailableTokenQuantity)
	if err != nil {
		return fmt.Errorf("storage: corrupt available quantity for sale %s: %w", saleID, err)
	}
	next := available.Add(d)
	if next.IsNegative() {
		return ErrInsufficientTokens
	}
	sale.AvailableTokenQuantity = next.String()
	sale.UpdatedAt = time.Now().UTC()
	m.sales[saleID] = sale
	return nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error {
	return nil
}

// cloneTransaction deep-copies metadata so callers cannot mutate stored state.
func cloneTransaction(tx Transaction) Transaction {
	if tx.Metadata != nil {
		tx.Metadata = cloneMap(tx.Metadata)
	}
	return tx
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
