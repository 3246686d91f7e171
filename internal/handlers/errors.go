package handlers

import (
	"errors"
	"log"
	"net/http"

	"soltybet/internal/auth"
	"soltybet/internal/blockchain"
	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{services.ErrInvalidSide, http.StatusBadRequest},
	{services.ErrAmountOutOfBounds, http.StatusBadRequest},
	{services.ErrInvalidRefCode, http.StatusBadRequest},
	{services.ErrSelfReferral, http.StatusBadRequest},
	{blockchain.ErrInvalidWalletSignature, http.StatusUnauthorized},
	{services.ErrNotBetOwner, http.StatusForbidden},
	{services.ErrMatchNotFound, http.StatusNotFound},
	{services.ErrBetNotFound, http.StatusNotFound},
	{services.ErrUserNotFound, http.StatusNotFound},
	{services.ErrRefCodeUnknown, http.StatusNotFound},
	{services.ErrNotBettingPhase, http.StatusConflict},
	{services.ErrStaleMatch, http.StatusConflict},
	{services.ErrMatchClosed, http.StatusConflict},
	{services.ErrBetNotPending, http.StatusConflict},
	{services.ErrTxAlreadyUsed, http.StatusConflict},
	{services.ErrRefCodeTaken, http.StatusConflict},
	{services.ErrReferrerAlreadySet, http.StatusConflict},
	{services.ErrAlreadySettled, http.StatusConflict},
	{services.ErrSettlementInProgress, http.StatusConflict},
}

// respondError maps domain errors onto status codes; anything unknown is a 500
func respondError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": err.Error()})
			return
		}
	}

	var verr *blockchain.VerificationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "reason": verr.Reason})
		return
	}

	log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// currentUser reads the authenticated user id, answering 401 when absent
func currentUser(c *gin.Context) (uint, bool) {
	id, ok := auth.GetUserID(c)
	if !ok || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	return id, true
}
