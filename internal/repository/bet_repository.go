package repository

import (
	"context"
	"time"

	"soltybet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateBet creates a new pending bet
func (r *Repository) CreateBet(ctx context.Context, bet *models.Bet) error {
	return r.db.WithContext(ctx).Create(bet).Error
}

// GetBetByID retrieves a bet by ID
func (r *Repository) GetBetByID(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	var bet models.Bet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bet).Error; err != nil {
		return nil, err
	}
	return &bet, nil
}

// GetBetByTx retrieves the bet a transaction signature was used for
func (r *Repository) GetBetByTx(ctx context.Context, signature string) (*models.Bet, error) {
	var bet models.Bet
	if err := r.db.WithContext(ctx).Where("tx_in = ?", signature).First(&bet).Error; err != nil {
		return nil, err
	}
	return &bet, nil
}

// ConfirmBet flips a pending bet to confirmed. ErrConflict means the bet left PENDING first.
func (r *Repository) ConfirmBet(ctx context.Context, id uuid.UUID, signature string, amount decimal.Decimal, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND status = ?", id, models.BetStatusPending).
		Updates(map[string]interface{}{
			"status":       models.BetStatusConfirmed,
			"tx_in":        signature,
			"amount":       amount,
			"confirmed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// CancelBet flips a pending bet owned by userID to cancelled
func (r *Repository) CancelBet(ctx context.Context, id uuid.UUID, userID uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.BetStatusPending).
		Updates(map[string]interface{}{
			"status":       models.BetStatusCancelled,
			"cancelled_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

type sideTotal struct {
	Side  models.Side
	Total decimal.Decimal
}

// SumVolumes aggregates confirmed bet amounts per side
func (r *Repository) SumVolumes(ctx context.Context, matchID uuid.UUID) (models.Volumes, error) {
	var rows []sideTotal
	err := r.db.WithContext(ctx).Model(&models.Bet{}).
		Select("side, COALESCE(SUM(amount), 0) AS total").
		Where("match_id = ? AND status = ?", matchID, models.BetStatusConfirmed).
		Group("side").
		Scan(&rows).Error
	if err != nil {
		return models.Volumes{}, err
	}

	vols := models.Volumes{Red: decimal.Zero, Blue: decimal.Zero}
	for _, row := range rows {
		switch row.Side {
		case models.SideRed:
			vols.Red = row.Total
		case models.SideBlue:
			vols.Blue = row.Total
		}
	}
	return vols, nil
}

// ConfirmedBets returns all confirmed bets of a match with their owners
func (r *Repository) ConfirmedBets(ctx context.Context, matchID uuid.UUID) ([]*models.Bet, error) {
	var bets []*models.Bet
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("match_id = ? AND status = ?", matchID, models.BetStatusConfirmed).
		Order("confirmed_at ASC").
		Find(&bets).Error
	if err != nil {
		return nil, err
	}
	return bets, nil
}

// CountConfirmedBets counts confirmed bets of a match
func (r *Repository) CountConfirmedBets(ctx context.Context, matchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("match_id = ? AND status = ?", matchID, models.BetStatusConfirmed).
		Count(&count).Error
	return count, err
}

// SetBetPayout stores the computed payout of a bet
func (r *Repository) SetBetPayout(ctx context.Context, id uuid.UUID, payout decimal.Decimal, refunded bool) error {
	return r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payout":   payout,
			"refunded": refunded,
		}).Error
}

// MarkBetsPaid records the outgoing transfer signature on a user's bets in a match
func (r *Repository) MarkBetsPaid(ctx context.Context, matchID uuid.UUID, userID uint, signature string) error {
	return r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("match_id = ? AND user_id = ? AND status = ?", matchID, userID, models.BetStatusConfirmed).
		Update("payout_tx", signature).Error
}

// RecentConfirmedBets returns a user's latest confirmed bets
func (r *Repository) RecentConfirmedBets(ctx context.Context, userID uint, limit int) ([]*models.Bet, error) {
	var bets []*models.Bet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.BetStatusConfirmed).
		Order("created_at DESC").
		Limit(limit).
		Find(&bets).Error
	if err != nil {
		return nil, err
	}
	return bets, nil
}

// CountWinningBets counts a user's bets that paid more than a refund
func (r *Repository) CountWinningBets(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Bet{}).
		Where("user_id = ? AND status = ? AND refunded = ? AND payout > 0", userID, models.BetStatusConfirmed, false).
		Count(&count).Error
	return count, err
}

// ReconcilableBets returns pending bets that have an open reconciliation failure
func (r *Repository) ReconcilableBets(ctx context.Context, limit int) ([]*models.ReconciliationFailure, error) {
	var failures []*models.ReconciliationFailure
	err := r.db.WithContext(ctx).
		Joins("JOIN bets ON bets.id = reconciliation_failures.bet_id").
		Where("reconciliation_failures.status = ? AND bets.status = ?", models.ReconciliationOpen, models.BetStatusPending).
		Order("reconciliation_failures.updated_at ASC").
		Limit(limit).
		Find(&failures).Error
	if err != nil {
		return nil, err
	}
	return failures, nil
}
