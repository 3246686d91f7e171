package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PayoutKind string

const (
	PayoutKindPayout PayoutKind = "PAYOUT"
	PayoutKindRefund PayoutKind = "REFUND"
)

type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusPartial    PayoutStatus = "PARTIAL"
)

// MatchPayout is the single-fire marker for settling a match.
// The unique match id makes a second settlement attempt detectable.
type MatchPayout struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	MatchID         uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"match_id"`
	Kind            PayoutKind      `gorm:"size:10;not null" json:"kind"`
	Status          PayoutStatus    `gorm:"size:20;not null;default:PROCESSING" json:"status"`
	WinnerSide      *Side           `gorm:"size:4" json:"winner_side,omitempty"`
	TotalPaid       decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"total_paid"`
	FailedTransfers int             `gorm:"default:0" json:"failed_transfers"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func (MatchPayout) TableName() string {
	return "match_payouts"
}

type TransferStatus string

const (
	TransferStatusPending TransferStatus = "PENDING"
	TransferStatusSent    TransferStatus = "SENT"
	TransferStatusFailed  TransferStatus = "FAILED"
)

// PayoutTransfer is one outgoing on-chain transfer for a settled match
type PayoutTransfer struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MatchID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"match_id"`
	UserID     uint            `gorm:"not null;index" json:"user_id"`
	Wallet     string          `gorm:"size:44;not null;index" json:"wallet"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,9);not null" json:"amount"`
	Lamports   uint64          `gorm:"not null" json:"lamports"`
	BatchIndex int             `gorm:"not null" json:"batch_index"`
	Status     TransferStatus  `gorm:"size:10;not null;index" json:"status"`
	Signature  *string         `gorm:"size:128" json:"signature,omitempty"`
	Attempts   int             `gorm:"default:0" json:"attempts"`
	LastError  *string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (PayoutTransfer) TableName() string {
	return "payout_transfers"
}

func (t *PayoutTransfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type ReconciliationStatus string

const (
	ReconciliationOpen      ReconciliationStatus = "OPEN"
	ReconciliationResolved  ReconciliationStatus = "RESOLVED"
	ReconciliationExhausted ReconciliationStatus = "EXHAUSTED"
)

// ReconciliationFailure tracks a bet whose on-chain evidence could not be matched.
// The bet itself stays pending until the reconciler resolves it.
type ReconciliationFailure struct {
	ID             uint                 `gorm:"primaryKey" json:"id"`
	BetID          uuid.UUID            `gorm:"type:uuid;uniqueIndex;not null" json:"bet_id"`
	UserID         uint                 `gorm:"not null;index" json:"user_id"`
	TxSignature    string               `gorm:"size:128;not null" json:"tx_signature"`
	DeclaredAmount decimal.Decimal      `gorm:"type:decimal(20,9);not null" json:"declared_amount"`
	Reason         string               `gorm:"size:50;not null" json:"reason"`
	Detail         string               `gorm:"type:text" json:"detail"`
	Attempts       int                  `gorm:"default:0" json:"attempts"`
	Status         ReconciliationStatus `gorm:"size:20;not null;default:OPEN;index" json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (ReconciliationFailure) TableName() string {
	return "reconciliation_failures"
}
