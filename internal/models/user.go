package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a wallet holder in the system
type User struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	WalletAddress string          `gorm:"uniqueIndex;size:44;not null" json:"wallet_address"`
	Nickname      string          `gorm:"uniqueIndex;size:64;not null" json:"nickname"`
	RefCode       *string         `gorm:"uniqueIndex;size:20" json:"ref_code,omitempty"`
	ReferrerID    *uint           `gorm:"index" json:"referrer_id,omitempty"`
	Referrer      *User           `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`
	NbBet         int64           `gorm:"default:0" json:"nb_bet"`
	TotalVolume   decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"total_volume"`
	TotalPayout   decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"total_payout"`
	TotalGain     decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"total_gain"`
	ReferralGain  decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"referral_gain"`
	LastLogin     time.Time       `json:"last_login"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// UserStats is the aggregate returned by GET /api/users/me/stats
type UserStats struct {
	Wallet        string          `json:"wallet"`
	Volume        decimal.Decimal `json:"volume"`
	Gain          decimal.Decimal `json:"gain"`
	NbBets        int64           `json:"nb_bets"`
	WinningBets   int64           `json:"winning_bets"`
	WinPercentage float64         `json:"win_percentage"`
	ReferralGain  decimal.Decimal `json:"referral_gain"`
	HasReferrer   bool            `json:"has_referrer"`
}

// LeaderboardEntry is one row of the volume or gain leaderboard
type LeaderboardEntry struct {
	Nickname string          `json:"nickname"`
	Wallet   string          `json:"wallet"`
	Value    decimal.Decimal `json:"value"`
}
