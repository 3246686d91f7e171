package handlers

import (
	"errors"
	"net/http"

	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	referralService *services.ReferralService
}

func NewReferralHandler(referralService *services.ReferralService) *ReferralHandler {
	return &ReferralHandler{referralService: referralService}
}

// SetReferralCode registers the current user's referral code
// POST /api/referral/code
func (h *ReferralHandler) SetReferralCode(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.referralService.SetReferralCode(c.Request.Context(), uid, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    code,
	})
}

// ApplyReferralCode links the current user to a referrer
// POST /api/referral/apply
func (h *ReferralHandler) ApplyReferralCode(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	referrer, err := h.referralService.ApplyReferralCode(c.Request.Context(), uid, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Referral code applied successfully",
		"referrer_wallet": referrer.WalletAddress,
	})
}

// CheckReferralCode reports whether a code exists
// GET /api/referral/check?code=
func (h *ReferralHandler) CheckReferralCode(c *gin.Context) {
	_, err := h.referralService.LookupCode(c.Request.Context(), c.Query("code"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "exists": true})
	case errors.Is(err, services.ErrRefCodeUnknown), errors.Is(err, services.ErrInvalidRefCode):
		c.JSON(http.StatusOK, gin.H{"success": true, "exists": false})
	default:
		respondError(c, err)
	}
}

// GetReferrerWallet returns the wallet clients put in the bet memo
// GET /api/referral/referrer
func (h *ReferralHandler) GetReferrerWallet(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.referralService.ReferrerWallet(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"referrer_wallet": wallet,
	})
}
