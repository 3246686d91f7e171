package jobs

import (
	"context"
	"log"
	"time"
)

// FailedPayoutRetrier re-sends payout transfers that failed to land
type FailedPayoutRetrier interface {
	RetryAllFailed(ctx context.Context) error
}

// PayoutRetrier periodically re-sends failed payout transfers
type PayoutRetrier struct {
	payouts  FailedPayoutRetrier
	interval time.Duration
	stopChan chan struct{}
}

func NewPayoutRetrier(payouts FailedPayoutRetrier, interval time.Duration) *PayoutRetrier {
	return &PayoutRetrier{
		payouts:  payouts,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the retry loop until Stop is called
func (p *PayoutRetrier) Start() {
	log.Printf("[PayoutRetrier] Starting payout retry job (interval: %v)", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			if err := p.payouts.RetryAllFailed(ctx); err != nil {
				log.Printf("[PayoutRetrier] Error retrying failed payouts: %v", err)
			}
			cancel()
		case <-p.stopChan:
			log.Println("[PayoutRetrier] Stopping payout retry job")
			return
		}
	}
}

func (p *PayoutRetrier) Stop() {
	close(p.stopChan)
}
