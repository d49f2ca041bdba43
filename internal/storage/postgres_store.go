package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tokensale/reconciler/internal/config"
)

// PostgresStore persists transactions and sales in PostgreSQL.
// Monetary columns use NUMERIC so decimal strings round-trip exactly;
// transaction metadata (including the webhook event log) lives in JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(url string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			currency TEXT NOT NULL,
			token_price_per_unit NUMERIC NOT NULL,
			to_wallets_address TEXT NOT NULL,
			available_token_quantity NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			total_amount NUMERIC NOT NULL,
			amount_paid NUMERIC,
			paid_currency TEXT,
			payment_evidence TEXT,
			receiving_wallet TEXT NOT NULL,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			user_id TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_sale_id ON transactions(sale_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: ensure schema: %w", err)
		}
	}
	return nil
}

// CreateTransaction inserts a new transaction row.
func (s *PostgresStore) CreateTransaction(ctx context.Context, tx Transaction) error {
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, status, quantity, total_amount, amount_paid, paid_currency,
			payment_evidence, receiving_wallet, sale_id, user_id, metadata,
			rejection_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,NULLIF($5,'')::numeric,NULLIF($6,''),NULLIF($7,''),$8,$9,$10,$11,NULLIF($12,''),$13,$13)`,
		tx.ID, string(tx.Status), tx.Quantity, tx.TotalAmount, tx.AmountPaid, tx.PaidCurrency,
		tx.PaymentEvidence, tx.ReceivingWallet, tx.SaleID, tx.UserID, metadata,
		tx.RejectionReason, tx.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("storage: transaction already exists: %s", tx.ID)
		}
		return fmt.Errorf("storage: insert transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by id.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, quantity::text, total_amount::text,
			COALESCE(amount_paid::text, ''), COALESCE(paid_currency, ''),
			COALESCE(payment_evidence, ''), receiving_wallet, sale_id, user_id,
			metadata, COALESCE(rejection_reason, ''), created_at, updated_at
		FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// UpdateTransaction replaces the mutable columns of a transaction row.
func (s *PostgresStore) UpdateTransaction(ctx context.Context, tx Transaction) error {
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $2,
			total_amount = $3,
			amount_paid = NULLIF($4, '')::numeric,
			paid_currency = NULLIF($5, ''),
			payment_evidence = NULLIF($6, ''),
			metadata = $7,
			rejection_reason = NULLIF($8, ''),
			updated_at = now()
		WHERE id = $1`,
		tx.ID, string(tx.Status), tx.TotalAmount, tx.AmountPaid, tx.PaidCurrency,
		tx.PaymentEvidence, metadata, tx.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("storage: update transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update transaction rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransactionsBySale returns all transactions belonging to a sale.
func (s *PostgresStore) ListTransactionsBySale(ctx context.Context, saleID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, quantity::text, total_amount::text,
			COALESCE(amount_paid::text, ''), COALESCE(paid_currency, ''),
			COALESCE(payment_evidence, ''), receiving_wallet, sale_id, user_id,
			metadata, COALESCE(rejection_reason, ''), created_at, updated_at
		FROM transactions WHERE sale_id = $1 ORDER BY created_at`, saleID)
	if err != nil {
		return nil, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CreateSale inserts a new sale row.
func (s *PostgresStore) CreateSale(ctx context.Context, sale Sale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, currency, token_price_per_unit, to_wallets_address, available_token_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		sale.ID, sale.Currency, sale.TokenPricePerUnit, sale.ToWalletsAddress, sale.AvailableTokenQuantity, sale.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("storage: sale already exists: %s", sale.ID)
		}
		return fmt.Errorf("storage: insert sale: %w", err)
	}
	return nil
}

// GetSale retrieves a sale by id.
func (s *PostgresStore) GetSale(ctx context.Context, id string) (Sale, error) {
	var sale Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, currency, token_price_per_unit::text, to_wallets_address, available_token_quantity::text, created_at, updated_at
		FROM sales WHERE id = $1`, id).Scan(
		&sale.ID, &sale.Currency, &sale.TokenPricePerUnit, &sale.ToWalletsAddress,
		&sale.AvailableTokenQuantity, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("storage: get sale: %w", err)
	}
	return sale, nil
}

// AdjustSaleAvailableQuantity atomically moves tokens in or out of the pool.
// The guard in the WHERE clause keeps the pool non-negative under
// concurrent updates without a separate read.
func (s *PostgresStore) AdjustSaleAvailableQuantity(ctx context.Context, saleID string, delta string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sales SET
			available_token_quantity = available_token_quantity + $2::numeric,
			updated_at = now()
		WHERE id = $1 AND available_token_quantity + $2::numeric >= 0`,
		saleID, delta,
	)
	if err != nil {
		return fmt.Errorf("storage: adjust sale quantity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: adjust sale quantity rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing sale from an underflow
		if _, getErr := s.GetSale(ctx, saleID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInsufficientTokens
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var tx Transaction
	var status string
	var metadata []byte
	err := row.Scan(
		&tx.ID, &status, &tx.Quantity, &tx.TotalAmount, &tx.AmountPaid, &tx.PaidCurrency,
		&tx.PaymentEvidence, &tx.ReceivingWallet, &tx.SaleID, &tx.UserID,
		&metadata, &tx.RejectionReason, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("storage: scan transaction: %w", err)
	}
	tx.Status = TxStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("storage: decode metadata for %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("storage: encode metadata: %w", err)
	}
	return data, nil
}
