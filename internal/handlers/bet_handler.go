package handlers

import (
	"errors"
	"net/http"

	"soltybet/internal/models"
	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BetHandler struct {
	ledger *services.LedgerService
}

func NewBetHandler(ledger *services.LedgerService) *BetHandler {
	return &BetHandler{ledger: ledger}
}

// PlaceBet records a pending bet. The returned id goes into the transfer memo.
// POST /api/bets
func (h *BetHandler) PlaceBet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.PlaceBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matchID, err := uuid.Parse(req.MatchID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match_id"})
		return
	}
	side, valid := models.ParseSide(req.Side)
	if !valid {
		respondError(c, services.ErrInvalidSide)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	bet, err := h.ledger.PlaceBet(c.Request.Context(), uid, matchID, side, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    bet,
	})
}

// ConfirmBet verifies the on-chain transfer of a pending bet, retrying while
// the transaction propagates
// PUT /api/bets/:id/confirm
func (h *BetHandler) ConfirmBet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	betID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bet id"})
		return
	}
	if err := h.ledger.CheckBetOwner(c.Request.Context(), betID, uid); err != nil {
		respondError(c, err)
		return
	}

	var req models.ConfirmBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	bet, err := h.ledger.ConfirmBetWithRetry(c.Request.Context(), betID, req.TxSignature, amount)
	if errors.Is(err, services.ErrReconciliationFailed) {
		// the bet stays pending and the reconciler keeps checking it
		c.JSON(http.StatusAccepted, gin.H{
			"success": false,
			"status":  "pending_reconciliation",
			"bet_id":  betID,
			"error":   err.Error(),
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    bet,
	})
}

// CancelBet withdraws a pending bet
// DELETE /api/bets/:id
func (h *BetHandler) CancelBet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	betID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bet id"})
		return
	}

	if err := h.ledger.CancelBet(c.Request.Context(), betID, uid); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Bet cancelled",
	})
}
