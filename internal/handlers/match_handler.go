package handlers

import (
	"net/http"
	"strconv"

	"soltybet/internal/models"
	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type MatchHandler struct {
	ledger *services.LedgerService
	stats  *services.StatsService
	phase  services.PhaseReader
}

func NewMatchHandler(ledger *services.LedgerService, stats *services.StatsService, phase services.PhaseReader) *MatchHandler {
	return &MatchHandler{ledger: ledger, stats: stats, phase: phase}
}

// GetCurrent returns the live phase together with the active match
// GET /api/matches/current
func (h *MatchHandler) GetCurrent(c *gin.Context) {
	state := h.phase.Snapshot()

	resp := gin.H{"phase": state}
	if state.HasMatch() {
		match, err := h.ledger.GetMatch(c.Request.Context(), state.MatchID)
		if err != nil {
			respondError(c, err)
			return
		}
		resp["match"] = match
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    resp,
	})
}

// GetVolumes returns confirmed volumes per side and the implied odds
// GET /api/matches/:id/volumes
func (h *MatchHandler) GetVolumes(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.ledger.GetMatch(ctx, matchID); err != nil {
		respondError(c, err)
		return
	}
	vols, err := h.ledger.GetVolumes(ctx, matchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"total_red":  vols.Red,
		"total_blue": vols.Blue,
		"odds_red":   services.Odds(vols, models.SideRed),
		"odds_blue":  services.Odds(vols, models.SideBlue),
	})
}

// GetHistory lists archived matches
// GET /api/matches/history?limit=
func (h *MatchHandler) GetHistory(c *gin.Context) {
	matches, err := h.stats.MatchHistory(c.Request.Context(), parseLimit(c, defaultHistoryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    matches,
	})
}

// GetFighterStats returns the best and worst rated fighters
// GET /api/fighters/stats
func (h *MatchHandler) GetFighterStats(c *gin.Context) {
	stats, err := h.stats.FighterStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

func parseLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
