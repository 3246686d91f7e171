package services

import (
	"context"
	"fmt"

	"soltybet/internal/models"
	"soltybet/internal/repository"

	"github.com/shopspring/decimal"
)

const betHistorySize = 10

type LeaderboardKind string

const (
	LeaderboardVolume LeaderboardKind = "volume"
	LeaderboardGain   LeaderboardKind = "gain"
)

var leaderboardColumns = map[LeaderboardKind]string{
	LeaderboardVolume: "total_volume",
	LeaderboardGain:   "total_gain",
}

// ParseLeaderboardKind accepts "volume" or "gain", defaulting to volume
func ParseLeaderboardKind(raw string) (LeaderboardKind, bool) {
	if raw == "" {
		return LeaderboardVolume, true
	}
	kind := LeaderboardKind(raw)
	_, ok := leaderboardColumns[kind]
	return kind, ok
}

// FighterStats summarizes the fighter table
type FighterStats struct {
	Count  int64           `json:"count"`
	Top    *models.Fighter `json:"top,omitempty"`
	Bottom *models.Fighter `json:"bottom,omitempty"`
}

// StatsService serves the read side: user stats, history and leaderboards
type StatsService struct {
	repo *repository.Repository
}

func NewStatsService(repo *repository.Repository) *StatsService {
	return &StatsService{repo: repo}
}

// GetUserStats aggregates a user's betting record
func (s *StatsService) GetUserStats(ctx context.Context, userID uint) (*models.UserStats, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if repository.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	winning, err := s.repo.CountWinningBets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count winning bets: %w", err)
	}

	stats := &models.UserStats{
		Wallet:       user.WalletAddress,
		Volume:       user.TotalVolume,
		Gain:         user.TotalGain,
		NbBets:       user.NbBet,
		WinningBets:  winning,
		ReferralGain: user.ReferralGain,
		HasReferrer:  user.ReferrerID != nil,
	}
	if user.NbBet > 0 {
		pct := decimal.NewFromInt(winning * 100).Div(decimal.NewFromInt(user.NbBet)).Round(2)
		stats.WinPercentage = pct.InexactFloat64()
	}
	return stats, nil
}

// BetHistory returns the user's last confirmed bets
func (s *StatsService) BetHistory(ctx context.Context, userID uint) ([]models.BetHistoryEntry, error) {
	bets, err := s.repo.RecentConfirmedBets(ctx, userID, betHistorySize)
	if err != nil {
		return nil, err
	}

	entries := make([]models.BetHistoryEntry, 0, len(bets))
	for _, bet := range bets {
		id := bet.ID.String()
		entries = append(entries, models.BetHistoryEntry{
			ShortID: id[:8],
			Side:    bet.Side,
			Volume:  bet.Amount,
			Won:     bet.Payout != nil && bet.Payout.IsPositive() && !bet.Refunded,
			Payout:  bet.Payout,
			Date:    bet.CreatedAt,
		})
	}
	return entries, nil
}

// Leaderboard ranks users by total volume or total gain
func (s *StatsService) Leaderboard(ctx context.Context, kind LeaderboardKind, limit int) ([]models.LeaderboardEntry, error) {
	column, ok := leaderboardColumns[kind]
	if !ok {
		return nil, fmt.Errorf("unknown leaderboard %q", kind)
	}
	users, err := s.repo.TopUsers(ctx, column, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		value := u.TotalVolume
		if kind == LeaderboardGain {
			value = u.TotalGain
		}
		entries = append(entries, models.LeaderboardEntry{
			Nickname: u.Nickname,
			Wallet:   u.WalletAddress,
			Value:    value,
		})
	}
	return entries, nil
}

// MatchHistory returns recently archived matches
func (s *StatsService) MatchHistory(ctx context.Context, limit int) ([]*models.Match, error) {
	return s.repo.RecentMatches(ctx, limit)
}

// FighterStats returns the best and worst rated fighters
func (s *StatsService) FighterStats(ctx context.Context) (*FighterStats, error) {
	top, bottom, count, err := s.repo.FighterExtremes(ctx)
	if err != nil {
		return nil, err
	}
	return &FighterStats{Count: count, Top: top, Bottom: bottom}, nil
}
