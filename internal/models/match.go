package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Side string

const (
	SideRed  Side = "red"
	SideBlue Side = "blue"
)

// Valid reports whether s is one of the two betting sides
func (s Side) Valid() bool {
	return s == SideRed || s == SideBlue
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideRed {
		return SideBlue
	}
	return SideRed
}

// ParseSide normalizes a client supplied side label
func ParseSide(raw string) (Side, bool) {
	s := Side(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

type MatchStatus string

const (
	MatchStatusBetting   MatchStatus = "BETTING"
	MatchStatusLocked    MatchStatus = "LOCKED"
	MatchStatusResolved  MatchStatus = "RESOLVED"
	MatchStatusCancelled MatchStatus = "CANCELLED"
)

// Terminal reports whether the match is archived and read-only
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusResolved || s == MatchStatusCancelled
}

// Fighter is a combatant seen on the feed, keyed by normalized name
type Fighter struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string          `gorm:"uniqueIndex;size:100;not null" json:"name"`
	NbFight   int64           `gorm:"default:0" json:"nb_fight"`
	NbBet     int64           `gorm:"default:0" json:"nb_bet"`
	Win       int64           `gorm:"default:0" json:"win"`
	Lose      int64           `gorm:"default:0" json:"lose"`
	Elo       decimal.Decimal `gorm:"type:decimal(10,2);default:1000" json:"elo"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Fighter) TableName() string {
	return "fighters"
}

func (f *Fighter) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// NormalizeFighterName maps a display name onto the stored key
func NormalizeFighterName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// Match is one betting round on the stream. Exactly one match is active at a time.
type Match struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	RedFighterID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"red_fighter_id"`
	RedFighter    *Fighter        `gorm:"foreignKey:RedFighterID" json:"red_fighter,omitempty"`
	BlueFighterID uuid.UUID       `gorm:"type:uuid;not null;index" json:"blue_fighter_id"`
	BlueFighter   *Fighter        `gorm:"foreignKey:BlueFighterID" json:"blue_fighter,omitempty"`
	RedName       string          `gorm:"size:100;not null" json:"red_name"`
	BlueName      string          `gorm:"size:100;not null" json:"blue_name"`
	Status        MatchStatus     `gorm:"size:20;not null;default:BETTING;index" json:"status"`
	WinnerSide    *Side           `gorm:"size:4" json:"winner_side,omitempty"`
	WinnerID      *uuid.UUID      `gorm:"type:uuid" json:"winner_id,omitempty"`
	NbBet         int64           `gorm:"default:0" json:"nb_bet"`
	VolRed        decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"vol_red"`
	VolBlue       decimal.Decimal `gorm:"type:decimal(20,9);default:0" json:"vol_blue"`
	Cancelled     bool            `gorm:"default:false" json:"cancelled"`
	Duration      *string         `gorm:"size:50" json:"duration,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Match) TableName() string {
	return "matches"
}

func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// FighterFor returns the fighter id backing a side
func (m *Match) FighterFor(side Side) uuid.UUID {
	if side == SideRed {
		return m.RedFighterID
	}
	return m.BlueFighterID
}

// NameFor returns the display name of the fighter on a side
func (m *Match) NameFor(side Side) string {
	if side == SideRed {
		return m.RedName
	}
	return m.BlueName
}

// Volumes is the confirmed wagered amount per side
type Volumes struct {
	Red  decimal.Decimal `json:"total_red"`
	Blue decimal.Decimal `json:"total_blue"`
}

func (v Volumes) Total() decimal.Decimal {
	return v.Red.Add(v.Blue)
}

// Side returns the volume for one side
func (v Volumes) Side(s Side) decimal.Decimal {
	if s == SideRed {
		return v.Red
	}
	return v.Blue
}

// Empty is true when nobody bet on either side
func (v Volumes) Empty() bool {
	return v.Red.IsZero() && v.Blue.IsZero()
}

// OneSided is true when exactly one side has volume. Both sides empty is not one-sided.
func (v Volumes) OneSided() bool {
	return (v.Red.IsZero() && v.Blue.IsPositive()) || (v.Red.IsPositive() && v.Blue.IsZero())
}
