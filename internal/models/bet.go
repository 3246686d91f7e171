package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BetStatus string

const (
	BetStatusPending   BetStatus = "PENDING"
	BetStatusConfirmed BetStatus = "CONFIRMED"
	BetStatusCancelled BetStatus = "CANCELLED"
)

// Bet is a wager intent recorded before the client signs the transfer.
// It moves pending -> confirmed or pending -> cancelled, never back.
type Bet struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	MatchID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"match_id"`
	UserID      uint             `gorm:"not null;index" json:"user_id"`
	User        *User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	FighterID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"fighter_id"`
	Side        Side             `gorm:"size:4;not null" json:"side"`
	Amount      decimal.Decimal  `gorm:"type:decimal(20,9);not null" json:"amount"`
	Status      BetStatus        `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	TxIn        *string          `gorm:"size:128;uniqueIndex" json:"tx_in,omitempty"`
	Payout      *decimal.Decimal `gorm:"type:decimal(20,9)" json:"payout,omitempty"`
	PayoutTx    *string          `gorm:"size:128" json:"payout_tx,omitempty"`
	Refunded    bool             `gorm:"default:false" json:"refunded"`
	CreatedAt   time.Time        `gorm:"index" json:"created_at"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (Bet) TableName() string {
	return "bets"
}

func (b *Bet) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// PlaceBetRequest is the body of POST /api/bets
type PlaceBetRequest struct {
	MatchID string `json:"match_id" binding:"required"`
	Side    string `json:"side" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// ConfirmBetRequest is the body of PUT /api/bets/:id/confirm
type ConfirmBetRequest struct {
	TxSignature string `json:"tx_signature" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// BetHistoryEntry is the public view of a past bet
type BetHistoryEntry struct {
	ShortID string           `json:"b_id"`
	Side    Side             `json:"team"`
	Volume  decimal.Decimal  `json:"volume"`
	Won     bool             `json:"won"`
	Payout  *decimal.Decimal `json:"payout"`
	Date    time.Time        `json:"date"`
}
