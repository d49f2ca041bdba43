package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokensale/reconciler/internal/metrics"
	"github.com/tokensale/reconciler/internal/notify"
	"github.com/tokensale/reconciler/internal/storage"
)

var (
	// ErrInvalidTransition is returned when a status change violates the
	// transaction state machine.
	ErrInvalidTransition = errors.New("transactions: invalid status transition")

	// ErrUnauthorized is returned when the caller may not act on the transaction.
	ErrUnauthorized = errors.New("transactions: unauthorized")
)

// AuthContext identifies the caller of a transaction operation. Webhook-driven
// operations run with IsAdmin set since the provider acts on behalf of the system.
type AuthContext struct {
	UserID  string
	IsAdmin bool
	Address string
}

// Result is the outcome reported to collaborator callers.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateInput describes a new purchase intent.
type CreateInput struct {
	SaleID          string
	UserID          string
	Quantity        string
	TotalAmount     string
	ReceivingWallet string
	Metadata        map[string]any
}

// ConfirmInput carries the payment facts recorded when a purchase is confirmed.
type ConfirmInput struct {
	TransactionID   string
	AmountPaid      string
	PaidCurrency    string
	PaymentEvidence string
	Metadata        map[string]any
}

// RejectInput carries the reason and bookkeeping for a rejection.
type RejectInput struct {
	TransactionID string
	Reason        string
	Metadata      map[string]any
}

// Service owns transaction lifecycle operations. Every status change passes
// through the state machine guard, token reservations are released on any
// terminal exit short of completion, and outcome notifications fire after
// the persisted state is final.
type Service struct {
	store    storage.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewService wires a transaction service.
func NewService(store storage.Store, notifier notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Create reserves quantity from the sale's pool and persists a PENDING
// transaction. The reservation is released again if persisting fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (storage.Transaction, error) {
	if in.SaleID == "" || in.UserID == "" || in.Quantity == "" {
		return storage.Transaction{}, fmt.Errorf("transactions: sale id, user id and quantity are required")
	}

	sale, err := s.store.GetSale(ctx, in.SaleID)
	if err != nil {
		return storage.Transaction{}, err
	}

	if err := s.store.AdjustSaleAvailableQuantity(ctx, sale.ID, "-"+in.Quantity); err != nil {
		return storage.Transaction{}, err
	}

	tx := storage.Transaction{
		ID:              uuid.NewString(),
		Status:          storage.StatusPending,
		Quantity:        in.Quantity,
		TotalAmount:     in.TotalAmount,
		ReceivingWallet: in.ReceivingWallet,
		SaleID:          sale.ID,
		UserID:          in.UserID,
		Metadata:        in.Metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if tx.ReceivingWallet == "" {
		tx.ReceivingWallet = sale.ToWalletsAddress
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if releaseErr := s.store.AdjustSaleAvailableQuantity(ctx, sale.ID, in.Quantity); releaseErr != nil {
			s.logger.Error().Err(releaseErr).
				Str("sale_id", sale.ID).
				Str("quantity", in.Quantity).
				Msg("transactions.reservation_release_failed")
		}
		return storage.Transaction{}, err
	}

	s.logger.Info().
		Str("transaction_id", tx.ID).
		Str("sale_id", sale.ID).
		Str("quantity", in.Quantity).
		Msg("transactions.created")
	return tx, nil
}

// Get loads a transaction the caller is allowed to see.
func (s *Service) Get(ctx context.Context, id string, auth AuthContext) (storage.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return storage.Transaction{}, err
	}
	if !auth.IsAdmin && tx.UserID != auth.UserID {
		return storage.Transaction{}, ErrUnauthorized
	}
	return tx, nil
}

// Confirm records the payment facts and advances the transaction to
// PAYMENT_VERIFIED. Provider bookkeeping merges into existing metadata.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput, auth AuthContext) (Result, error) {
	tx, err := s.authorize(ctx, in.TransactionID, auth)
	if err != nil {
		return Result{}, err
	}
	if !tx.Status.CanTransitionTo(storage.StatusPaymentVerified) {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, storage.StatusPaymentVerified)
	}

	from := tx.Status
	tx.Status = storage.StatusPaymentVerified
	tx.AmountPaid = in.AmountPaid
	tx.PaidCurrency = in.PaidCurrency
	tx.PaymentEvidence = in.PaymentEvidence
	tx.Metadata = MergeMetadata(tx.Metadata, in.Metadata)

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	s.observeTransition(tx.ID, from, tx.Status)
	s.notify(ctx, tx, "")

	return Result{Success: true, Message: "transaction confirmed"}, nil
}

// Reject drives the transaction to REJECTED, records the reason and puts the
// reserved quantity back into the sale's pool.
func (s *Service) Reject(ctx context.Context, in RejectInput, auth AuthContext) (Result, error) {
	tx, err := s.authorize(ctx, in.TransactionID, auth)
	if err != nil {
		return Result{}, err
	}
	if !tx.Status.CanTransitionTo(storage.StatusRejected) {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, storage.StatusRejected)
	}

	from := tx.Status
	tx.Status = storage.StatusRejected
	tx.RejectionReason = in.Reason
	tx.Metadata = MergeMetadata(tx.Metadata, in.Metadata)

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	s.releaseQuantity(ctx, tx)
	s.observeTransition(tx.ID, from, tx.Status)
	s.notify(ctx, tx, in.Reason)

	return Result{Success: true, Message: "transaction rejected"}, nil
}

// Cancel drives the transaction to CANCELLED and releases its reservation.
func (s *Service) Cancel(ctx context.Context, transactionID, reason string, metadata map[string]any, auth AuthContext) (Result, error) {
	tx, err := s.authorize(ctx, transactionID, auth)
	if err != nil {
		return Result{}, err
	}
	if !tx.Status.CanTransitionTo(storage.StatusCancelled) {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, storage.StatusCancelled)
	}

	from := tx.Status
	tx.Status = storage.StatusCancelled
	tx.RejectionReason = reason
	tx.Metadata = MergeMetadata(tx.Metadata, metadata)

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	s.releaseQuantity(ctx, tx)
	s.observeTransition(tx.ID, from, tx.Status)
	s.notify(ctx, tx, reason)

	return Result{Success: true, Message: "transaction cancelled"}, nil
}

// UpdateStatus performs a guarded status change with a metadata merge and no
// other side effects. Used for the non-terminal webhook branches.
func (s *Service) UpdateStatus(ctx context.Context, transactionID string, next storage.TxStatus, metadata map[string]any, auth AuthContext) error {
	tx, err := s.authorize(ctx, transactionID, auth)
	if err != nil {
		return err
	}
	if tx.Status == next {
		// Already there; still merge bookkeeping.
		tx.Metadata = MergeMetadata(tx.Metadata, metadata)
		return s.store.UpdateTransaction(ctx, tx)
	}
	if !tx.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, next)
	}

	from := tx.Status
	tx.Status = next
	tx.Metadata = MergeMetadata(tx.Metadata, metadata)

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	s.observeTransition(tx.ID, from, next)
	return nil
}

func (s *Service) authorize(ctx context.Context, transactionID string, auth AuthContext) (storage.Transaction, error) {
	if transactionID == "" {
		return storage.Transaction{}, fmt.Errorf("transactions: transaction id is required")
	}
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if !auth.IsAdmin && tx.UserID != auth.UserID {
		return storage.Transaction{}, ErrUnauthorized
	}
	return tx, nil
}

func (s *Service) releaseQuantity(ctx context.Context, tx storage.Transaction) {
	if tx.Quantity == "" {
		return
	}
	if err := s.store.AdjustSaleAvailableQuantity(ctx, tx.SaleID, tx.Quantity); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", tx.ID).
			Str("sale_id", tx.SaleID).
			Str("quantity", tx.Quantity).
			Msg("transactions.quantity_release_failed")
	}
}

func (s *Service) observeTransition(transactionID string, from, to storage.TxStatus) {
	s.metrics.ObserveTransition(string(from), string(to))
	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("transactions.status_changed")
}

func (s *Service) notify(ctx context.Context, tx storage.Transaction, reason string) {
	err := s.notifier.Notify(ctx, notify.Event{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Status:        string(tx.Status),
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("transaction_id", tx.ID).
			Msg("transactions.notify_failed")
	}
}

// MergeMetadata deep-merges src into dst without discarding existing entries.
// Nested maps merge recursively; scalar values from src win. Neither input
// map is mutated.
func MergeMetadata(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcNested, srcIsMap := v.(map[string]any)
		dstNested, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = MergeMetadata(dstNested, srcNested)
			continue
		}
		out[k] = v
	}
	return out
}
