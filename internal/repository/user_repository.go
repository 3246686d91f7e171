package repository

import (
	"context"
	"time"

	"soltybet/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByWallet retrieves a user by wallet address
func (r *Repository) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByRefCode retrieves the owner of a referral code
func (r *Repository) GetUserByRefCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("ref_code = ?", code).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a new user
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// NicknameTaken reports whether a nickname is already in use
func (r *Repository) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("nickname = ?", nickname).Count(&count).Error
	return count > 0, err
}

// TouchLogin updates the last login time of a user
func (r *Repository) TouchLogin(ctx context.Context, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", at).Error
}

// AddUserBet bumps a user's bet counter and volume
func (r *Repository) AddUserBet(ctx context.Context, userID uint, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"nb_bet":       gorm.Expr("nb_bet + ?", 1),
			"total_volume": gorm.Expr("total_volume + ?", amount),
		}).Error
}

// AddUserPayout credits a settled payout and the resulting gain
func (r *Repository) AddUserPayout(ctx context.Context, userID uint, payout, gain decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"total_payout": gorm.Expr("total_payout + ?", payout),
			"total_gain":   gorm.Expr("total_gain + ?", gain),
		}).Error
}

// AddReferralGain credits a referrer with the share earned from a referred winner
func (r *Repository) AddReferralGain(ctx context.Context, userID uint, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("referral_gain", gorm.Expr("referral_gain + ?", amount)).Error
}

// RefCodeTaken reports whether another user already owns a referral code
func (r *Repository) RefCodeTaken(ctx context.Context, code string, exceptUserID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("ref_code = ? AND id <> ?", code, exceptUserID).
		Count(&count).Error
	return count > 0, err
}

// SetRefCode assigns a referral code to a user
func (r *Repository) SetRefCode(ctx context.Context, userID uint, code string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("ref_code", code).Error
}

// SetReferrer links a user to a referrer once. ErrConflict means a referrer was already set.
func (r *Repository) SetReferrer(ctx context.Context, userID, referrerID uint) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND referrer_id IS NULL", userID).
		Update("referrer_id", referrerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// TopUsers returns users ordered by the given stat column
func (r *Repository) TopUsers(ctx context.Context, column string, limit int) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Where(column+" > 0").
		Order(column + " DESC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
