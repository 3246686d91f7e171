package repository

import (
	"context"

	"soltybet/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimPayoutMarker inserts the settlement marker for a match.
// It returns the stored marker and whether this call created it.
func (r *Repository) ClaimPayoutMarker(ctx context.Context, marker *models.MatchPayout) (*models.MatchPayout, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "match_id"}}, DoNothing: true}).
		Create(marker)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return marker, true, nil
	}

	existing, err := r.GetPayoutMarker(ctx, marker.MatchID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetPayoutMarker retrieves the settlement marker of a match
func (r *Repository) GetPayoutMarker(ctx context.Context, matchID uuid.UUID) (*models.MatchPayout, error) {
	var marker models.MatchPayout
	if err := r.db.WithContext(ctx).Where("match_id = ?", matchID).First(&marker).Error; err != nil {
		return nil, err
	}
	return &marker, nil
}

// UpdatePayoutMarker saves the settlement marker
func (r *Repository) UpdatePayoutMarker(ctx context.Context, marker *models.MatchPayout) error {
	return r.db.WithContext(ctx).Save(marker).Error
}

// CreatePayoutTransfer records an outgoing transfer attempt
func (r *Repository) CreatePayoutTransfer(ctx context.Context, transfer *models.PayoutTransfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

// UpdatePayoutTransfer saves a transfer record
func (r *Repository) UpdatePayoutTransfer(ctx context.Context, transfer *models.PayoutTransfer) error {
	return r.db.WithContext(ctx).Save(transfer).Error
}

// GetPayoutTransfers returns every transfer recorded for a match
func (r *Repository) GetPayoutTransfers(ctx context.Context, matchID uuid.UUID) ([]*models.PayoutTransfer, error) {
	var transfers []*models.PayoutTransfer
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("batch_index ASC, wallet ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

var unsentTransfer = []models.TransferStatus{models.TransferStatusPending, models.TransferStatusFailed}

// GetUnsentTransfers returns the pending and failed transfers of a match
func (r *Repository) GetUnsentTransfers(ctx context.Context, matchID uuid.UUID) ([]*models.PayoutTransfer, error) {
	var transfers []*models.PayoutTransfer
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND status IN ?", matchID, unsentTransfer).
		Order("batch_index ASC, wallet ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// MatchesWithUnsentTransfers lists matches whose settlement left transfers
// behind that have not yet reached maxAttempts
func (r *Repository) MatchesWithUnsentTransfers(ctx context.Context, maxAttempts int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.PayoutTransfer{}).
		Where("status IN ? AND attempts < ?", unsentTransfer, maxAttempts).
		Distinct().
		Pluck("match_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ProcessingPayoutMarkers lists matches whose settlement marker never left PROCESSING
func (r *Repository) ProcessingPayoutMarkers(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.MatchPayout{}).
		Where("status = ?", models.PayoutStatusProcessing).
		Pluck("match_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// RecordReconciliationFailure inserts or refreshes the failure row of a bet
func (r *Repository) RecordReconciliationFailure(ctx context.Context, failure *models.ReconciliationFailure) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bet_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"tx_signature":    failure.TxSignature,
			"declared_amount": failure.DeclaredAmount,
			"reason":          failure.Reason,
			"detail":          failure.Detail,
			"attempts":        gorm.Expr("reconciliation_failures.attempts + ?", failure.Attempts),
			"status":          models.ReconciliationOpen,
			"updated_at":      gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(failure).Error
}

// GetReconciliationFailure retrieves the failure row of a bet
func (r *Repository) GetReconciliationFailure(ctx context.Context, betID uuid.UUID) (*models.ReconciliationFailure, error) {
	var failure models.ReconciliationFailure
	if err := r.db.WithContext(ctx).Where("bet_id = ?", betID).First(&failure).Error; err != nil {
		return nil, err
	}
	return &failure, nil
}

// UpdateReconciliationFailure saves a failure row
func (r *Repository) UpdateReconciliationFailure(ctx context.Context, failure *models.ReconciliationFailure) error {
	return r.db.WithContext(ctx).Save(failure).Error
}

// ListReconciliationFailures returns failures in the given status, newest first
func (r *Repository) ListReconciliationFailures(ctx context.Context, status models.ReconciliationStatus, limit int) ([]*models.ReconciliationFailure, error) {
	var failures []*models.ReconciliationFailure
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&failures).Error
	if err != nil {
		return nil, err
	}
	return failures, nil
}
