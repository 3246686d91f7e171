package handlers

import (
	"context"
	"net/http"

	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BalanceReader looks up a wallet's SOL balance
type BalanceReader interface {
	GetSOLBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error)
}

// UserHandler handles user-related endpoints
type UserHandler struct {
	stats    *services.StatsService
	auth     *services.AuthService
	balances BalanceReader
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(stats *services.StatsService, authService *services.AuthService, balances BalanceReader) *UserHandler {
	return &UserHandler{stats: stats, auth: authService, balances: balances}
}

// GetStats returns the current user's betting record
// GET /api/users/me/stats
func (h *UserHandler) GetStats(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.stats.GetUserStats(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetBets returns the current user's last confirmed bets
// GET /api/users/me/bets
func (h *UserHandler) GetBets(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	history, err := h.stats.BetHistory(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    history,
	})
}

// GetBalance returns the SOL balance of the current user's wallet
// GET /api/users/me/balance
func (h *UserHandler) GetBalance(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if h.balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance lookup unavailable"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.auth.GetUserByID(ctx, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	balance, err := h.balances.GetSOLBalance(ctx, user.WalletAddress)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wallet":  user.WalletAddress,
		"balance": balance,
	})
}

// GetLeaderboard ranks users by volume or gain
// GET /api/leaderboard?by=volume|gain
func (h *UserHandler) GetLeaderboard(c *gin.Context) {
	kind, ok := services.ParseLeaderboardKind(c.Query("by"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "by must be volume or gain"})
		return
	}

	entries, err := h.stats.Leaderboard(c.Request.Context(), kind, parseLimit(c, defaultHistoryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"by":      kind,
		"data":    entries,
	})
}
