package repository

import (
	"context"
	"time"

	"soltybet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertFighter returns the fighter with the given name, creating it on first sight
func (r *Repository) UpsertFighter(ctx context.Context, name string) (*models.Fighter, error) {
	fighter := models.Fighter{
		ID:   uuid.New(),
		Name: name,
		Elo:  decimal.NewFromInt(1000),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&fighter).Error
	if err != nil {
		return nil, err
	}

	var stored models.Fighter
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetFighterByID retrieves a fighter by ID
func (r *Repository) GetFighterByID(ctx context.Context, id uuid.UUID) (*models.Fighter, error) {
	var fighter models.Fighter
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&fighter).Error; err != nil {
		return nil, err
	}
	return &fighter, nil
}

// SaveFighter persists fighter counters and elo
func (r *Repository) SaveFighter(ctx context.Context, fighter *models.Fighter) error {
	return r.db.WithContext(ctx).Save(fighter).Error
}

// IncrementFighterBets bumps the bet counter of a fighter
func (r *Repository) IncrementFighterBets(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Fighter{}).
		Where("id = ?", id).
		UpdateColumn("nb_bet", gorm.Expr("nb_bet + ?", 1)).Error
}

// FighterExtremes returns the highest and lowest rated fighters and the fighter count
func (r *Repository) FighterExtremes(ctx context.Context) (top, bottom *models.Fighter, count int64, err error) {
	db := r.db.WithContext(ctx)
	if err = db.Model(&models.Fighter{}).Count(&count).Error; err != nil || count == 0 {
		return nil, nil, count, err
	}

	var t, b models.Fighter
	if err = db.Order("elo DESC").First(&t).Error; err != nil {
		return nil, nil, count, err
	}
	if err = db.Order("elo ASC").First(&b).Error; err != nil {
		return nil, nil, count, err
	}
	return &t, &b, count, nil
}

// CreateMatch creates a new match
func (r *Repository) CreateMatch(ctx context.Context, match *models.Match) error {
	return r.db.WithContext(ctx).Create(match).Error
}

// GetMatchByID retrieves a match by ID
func (r *Repository) GetMatchByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var match models.Match
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&match).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// GetActiveMatch returns the newest match that is not archived yet
func (r *Repository) GetActiveMatch(ctx context.Context) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.MatchStatus{models.MatchStatusBetting, models.MatchStatusLocked}).
		Order("created_at DESC").
		First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// FreezeBettingMatches moves every match still accepting bets to LOCKED
func (r *Repository) FreezeBettingMatches(ctx context.Context, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Match{}).
		Where("status = ?", models.MatchStatusBetting).
		Updates(map[string]interface{}{
			"status":    models.MatchStatusLocked,
			"locked_at": now,
		}).Error
}

// TransitionMatch moves a match from one status to another, failing with ErrConflict
// when the match is no longer in the expected status
func (r *Repository) TransitionMatch(
	ctx context.Context,
	id uuid.UUID,
	from []models.MatchStatus,
	to models.MatchStatus,
	fields map[string]interface{},
) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetMatchVolumes stores finalized volumes on a match
func (r *Repository) SetMatchVolumes(ctx context.Context, id uuid.UUID, vols models.Volumes, cancelled bool, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Match{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"vol_red":      vols.Red,
			"vol_blue":     vols.Blue,
			"cancelled":    cancelled,
			"finalized_at": at,
		}).Error
}

// IncrementMatchBets bumps the confirmed bet counter of a match
func (r *Repository) IncrementMatchBets(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Match{}).
		Where("id = ?", id).
		UpdateColumn("nb_bet", gorm.Expr("nb_bet + ?", 1)).Error
}

// RecentMatches returns archived matches, newest first
func (r *Repository) RecentMatches(ctx context.Context, limit int) ([]*models.Match, error) {
	var matches []*models.Match
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.MatchStatus{models.MatchStatusResolved, models.MatchStatusCancelled}).
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}
