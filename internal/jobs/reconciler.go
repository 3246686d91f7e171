package jobs

import (
	"context"
	"log"
	"time"
)

const reconcileBatch = 100

// PendingReconciler re-checks bets whose transfer could not be matched yet
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, limit int) (resolved, exhausted int, err error)
}

// Reconciler periodically retries stuck bet confirmations
type Reconciler struct {
	ledger   PendingReconciler
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
}

// NewReconciler creates a new reconciliation job
func NewReconciler(ledger PendingReconciler, interval time.Duration) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		interval: interval,
		timeout:  interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the reconciliation loop until Stop is called
func (r *Reconciler) Start() {
	log.Printf("[Reconciler] Starting reconciliation job (interval: %v)", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-r.stopChan:
			log.Println("[Reconciler] Stopping reconciliation job")
			return
		}
	}
}

// Stop stops the reconciliation loop
func (r *Reconciler) Stop() {
	close(r.stopChan)
}

func (r *Reconciler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resolved, exhausted, err := r.ledger.ReconcilePending(ctx, reconcileBatch)
	if err != nil {
		log.Printf("[Reconciler] Error reconciling pending bets: %v", err)
		return
	}
	if resolved > 0 || exhausted > 0 {
		log.Printf("[Reconciler] %d bets confirmed, %d given up", resolved, exhausted)
	}
}
