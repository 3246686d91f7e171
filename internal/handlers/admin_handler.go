package handlers

import (
	"context"
	"log"
	"net/http"

	"soltybet/internal/blockchain"
	"soltybet/internal/ingest"
	"soltybet/internal/models"
	"soltybet/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventSink accepts feed events, normally the phase machine
type EventSink interface {
	TrySubmit(ev ingest.Event) bool
}

// GateToggler flips the deposit gate
type GateToggler interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// DiagnosticsFunc runs the chain connectivity checks
type DiagnosticsFunc func(ctx context.Context) *blockchain.DiagnosticResult

// AdminHandler serves the operator routes behind the admin key
type AdminHandler struct {
	sink        EventSink
	gate        GateToggler
	ledger      *services.LedgerService
	payouts     *services.PayoutService
	diagnostics DiagnosticsFunc
}

func NewAdminHandler(sink EventSink, gate GateToggler, ledger *services.LedgerService, payouts *services.PayoutService, diagnostics DiagnosticsFunc) *AdminHandler {
	return &AdminHandler{
		sink:        sink,
		gate:        gate,
		ledger:      ledger,
		payouts:     payouts,
		diagnostics: diagnostics,
	}
}

// InjectLine feeds a chat line through the parser as if it came from the feed
// POST /admin/feed
func (h *AdminHandler) InjectLine(c *gin.Context) {
	var req struct {
		Line string `json:"line" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, ok := ingest.Parse(req.Line)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "line is not a match signal"})
		return
	}
	if !h.sink.TrySubmit(ev) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "phase machine is busy"})
		return
	}

	log.Printf("[Admin] injected %s event", ev.Kind)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"kind":    ev.Kind.String(),
	})
}

// ToggleGate opens or closes the deposit gate by hand
// POST /admin/gate
func (h *AdminHandler) ToggleGate(c *gin.Context) {
	var req struct {
		Open *bool `json:"open" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	if *req.Open {
		err = h.gate.Open(c.Request.Context())
	} else {
		err = h.gate.Close(c.Request.Context())
	}
	if err != nil {
		log.Printf("[Admin] gate toggle failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"open":    *req.Open,
	})
}

// RetryPayouts re-sends failed payout transfers of a match
// POST /admin/matches/:id/payouts/retry
func (h *AdminHandler) RetryPayouts(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	sent, failed, err := h.payouts.RetryFailedTransfers(c.Request.Context(), matchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"sent":    sent,
		"failed":  failed,
	})
}

// RefundMatch refunds every confirmed bet of a match that was never settled
// POST /admin/matches/:id/refund
func (h *AdminHandler) RefundMatch(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}

	if err := h.payouts.Refund(c.Request.Context(), matchID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Match refunded",
	})
}

// GetReconciliationFailures lists bets whose transfer could not be matched
// GET /admin/reconciliation?status=OPEN|EXHAUSTED|RESOLVED
func (h *AdminHandler) GetReconciliationFailures(c *gin.Context) {
	status := models.ReconciliationStatus(c.DefaultQuery("status", string(models.ReconciliationOpen)))
	switch status {
	case models.ReconciliationOpen, models.ReconciliationExhausted, models.ReconciliationResolved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	failures, err := h.ledger.ReconciliationFailures(c.Request.Context(), status, parseLimit(c, defaultHistoryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    failures,
	})
}

// Reconcile runs one reconciliation pass immediately
// POST /admin/reconciliation/run
func (h *AdminHandler) Reconcile(c *gin.Context) {
	resolved, exhausted, err := h.ledger.ReconcilePending(c.Request.Context(), parseLimit(c, defaultHistoryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"resolved":  resolved,
		"exhausted": exhausted,
	})
}

// Diagnostics reports RPC connectivity, oracle key and gate state
// GET /admin/diagnostics
func (h *AdminHandler) Diagnostics(c *gin.Context) {
	if h.diagnostics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.diagnostics(c.Request.Context()),
	})
}
