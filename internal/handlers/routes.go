package handlers

import (
	"net/http"
	"time"

	"soltybet/internal/auth"

	"github.com/gin-gonic/gin"
)

// Router bundles every handler mounted on the HTTP server
type Router struct {
	Auth       *AuthHandler
	User       *UserHandler
	Bet        *BetHandler
	Match      *MatchHandler
	Referral   *ReferralHandler
	Blockchain *BlockchainHandler
	Admin      *AdminHandler

	// PhaseStream serves the websocket notification channel
	PhaseStream http.Handler
	Metrics     http.Handler
	AdminKey    string
	Tokens      *auth.Tokens
}

// Register mounts all routes on r
func (rt *Router) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if rt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.Metrics))
	}
	if rt.PhaseStream != nil {
		r.GET("/ws/phase", gin.WrapH(rt.PhaseStream))
	}

	// Authentication routes (public)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/wallet", rt.Auth.WalletLogin)
		authRoutes.POST("/logout", rt.Auth.Logout)
	}

	authProtected := r.Group("/auth")
	authProtected.Use(rt.Tokens.Middleware())
	{
		authProtected.GET("/me", rt.Auth.GetMe)
	}

	// Public match routes
	public := r.Group("/api")
	{
		public.GET("/gate", rt.Blockchain.GetGate)
		public.GET("/matches/current", rt.Match.GetCurrent)
		public.GET("/matches/history", rt.Match.GetHistory)
		public.GET("/matches/:id/volumes", rt.Match.GetVolumes)
		public.GET("/fighters/stats", rt.Match.GetFighterStats)
		public.GET("/leaderboard", rt.User.GetLeaderboard)
		public.GET("/referral/check", rt.Referral.CheckReferralCode)
	}

	api := r.Group("/api")
	api.Use(rt.Tokens.Middleware())
	{
		api.POST("/bets", rt.Bet.PlaceBet)
		api.PUT("/bets/:id/confirm", rt.Bet.ConfirmBet)
		api.DELETE("/bets/:id", rt.Bet.CancelBet)

		api.GET("/users/me/stats", rt.User.GetStats)
		api.GET("/users/me/bets", rt.User.GetBets)
		api.GET("/users/me/balance", rt.User.GetBalance)

		api.POST("/referral/code", rt.Referral.SetReferralCode)
		api.POST("/referral/apply", rt.Referral.ApplyReferralCode)
		api.GET("/referral/referrer", rt.Referral.GetReferrerWallet)
	}

	admin := r.Group("/admin")
	admin.Use(auth.AdminMiddleware(rt.AdminKey))
	{
		admin.POST("/feed", rt.Admin.InjectLine)
		admin.POST("/gate", rt.Admin.ToggleGate)
		admin.GET("/diagnostics", rt.Admin.Diagnostics)
		admin.POST("/matches/:id/payouts/retry", rt.Admin.RetryPayouts)
		admin.POST("/matches/:id/refund", rt.Admin.RefundMatch)
		admin.GET("/reconciliation", rt.Admin.GetReconciliationFailures)
		admin.POST("/reconciliation/run", rt.Admin.Reconcile)
	}
}
