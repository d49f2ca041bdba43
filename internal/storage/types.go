package storage

import (
	"time"
)

// TxStatus is the lifecycle state of a purchase transaction.
type TxStatus string

const (
	StatusPending           TxStatus = "PENDING"
	StatusAwaitingPayment   TxStatus = "AWAITING_PAYMENT"
	StatusPaymentSubmitted  TxStatus = "PAYMENT_SUBMITTED"
	StatusPaymentVerified   TxStatus = "PAYMENT_VERIFIED"
	StatusTokensAllocated   TxStatus = "TOKENS_ALLOCATED"
	StatusTokensDistributed TxStatus = "TOKENS_DISTRIBUTED"
	StatusCompleted         TxStatus = "COMPLETED"
	StatusRejected          TxStatus = "REJECTED"
	StatusCancelled         TxStatus = "CANCELLED"
	StatusRefunded          TxStatus = "REFUNDED"
)

// progressOrder ranks the happy-path states so transitions stay monotonic.
var progressOrder = map[TxStatus]int{
	StatusPending:           0,
	StatusAwaitingPayment:   1,
	StatusPaymentSubmitted:  2,
	StatusPaymentVerified:   3,
	StatusTokensAllocated:   4,
	StatusTokensDistributed: 5,
	StatusCompleted:         6,
}

// IsTerminal reports whether the status is one of the terminal exits.
// Exactly one terminal state may ever be reached for a transaction.
func (s TxStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// Forward moves along the happy path are allowed; terminal exits
// (REJECTED, CANCELLED) are reachable from any non-terminal state, and
// REFUNDED only from states where payment was taken.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusRejected || next == StatusCancelled {
		return true
	}
	if next == StatusRefunded {
		return progressOrder[s] >= progressOrder[StatusPaymentVerified]
	}

	currentRank, ok := progressOrder[s]
	if !ok {
		return false
	}
	nextRank, ok := progressOrder[next]
	if !ok {
		return false
	}
	return nextRank > currentRank
}

// Transaction is a purchase intent moving through the payment state machine.
// Monetary fields are exact decimal strings; they are parsed into decimals at
// the calculation boundary and never held as binary floats.
type Transaction struct {
	ID              string         `json:"id" bson:"_id"`
	Status          TxStatus       `json:"status" bson:"status"`
	Quantity        string         `json:"quantity" bson:"quantity"`
	TotalAmount     string         `json:"totalAmount" bson:"totalAmount"`
	AmountPaid      string         `json:"amountPaid,omitempty" bson:"amountPaid,omitempty"`
	PaidCurrency    string         `json:"paidCurrency,omitempty" bson:"paidCurrency,omitempty"`
	PaymentEvidence string         `json:"paymentEvidence,omitempty" bson:"paymentEvidence,omitempty"`
	ReceivingWallet string         `json:"receivingWallet" bson:"receivingWallet"`
	SaleID          string         `json:"saleId" bson:"saleId"`
	UserID          string         `json:"userId" bson:"userId"`
	Metadata        map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty" bson:"rejectionReason,omitempty"`
	CreatedAt       time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// Sale describes a token sale round.
type Sale struct {
	ID                     string    `json:"id" bson:"_id"`
	Currency               string    `json:"currency" bson:"currency"`
	TokenPricePerUnit      string    `json:"tokenPricePerUnit" bson:"tokenPricePerUnit"`
	ToWalletsAddress       string    `json:"toWalletsAddress" bson:"toWalletsAddress"`
	AvailableTokenQuantity string    `json:"availableTokenQuantity" bson:"availableTokenQuantity"`
	CreatedAt              time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt" bson:"updatedAt"`
}
