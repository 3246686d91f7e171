package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"soltybet/internal/blockchain"
	"soltybet/internal/metrics"
	"soltybet/internal/models"
	"soltybet/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// lamport precision
const payoutPlaces = 9

// FeeSchedule is the share of the winnings a bettor keeps
type FeeSchedule struct {
	Standard decimal.Decimal
	Referred decimal.Decimal
}

// Factor returns the fee factor for a bettor
func (f FeeSchedule) Factor(referred bool) decimal.Decimal {
	if referred {
		return f.Referred
	}
	return f.Standard
}

// Payout is the computed result for one confirmed bet
type Payout struct {
	BetID    uuid.UUID
	UserID   uint
	Wallet   string
	Side     models.Side
	Wager    decimal.Decimal
	Amount   decimal.Decimal
	Referred bool
}

// Odds returns T/side for the given side, or zero when that side is empty
func Odds(totals models.Volumes, side models.Side) decimal.Decimal {
	sideVol := totals.Side(side)
	if !sideVol.IsPositive() {
		return decimal.Zero
	}
	return totals.Total().Div(sideVol)
}

// ComputePayouts returns one payout per bet. Winners receive wager * odds * fee
// factor rounded down to the lamport; losers receive zero.
func ComputePayouts(bets []*models.Bet, totals models.Volumes, winner models.Side, referred map[uint]bool, fees FeeSchedule) []Payout {
	total := totals.Total()
	winVol := totals.Side(winner)

	payouts := make([]Payout, 0, len(bets))
	for _, bet := range bets {
		p := newPayout(bet)
		p.Referred = referred[bet.UserID]
		p.Amount = decimal.Zero
		if bet.Side == winner && winVol.IsPositive() {
			// multiply first; QuoRem truncates at the lamport
			p.Amount, _ = bet.Amount.Mul(total).Mul(fees.Factor(p.Referred)).QuoRem(winVol, payoutPlaces)
		}
		payouts = append(payouts, p)
	}
	return payouts
}

// ComputeRefunds returns every wager unchanged
func ComputeRefunds(bets []*models.Bet) []Payout {
	payouts := make([]Payout, 0, len(bets))
	for _, bet := range bets {
		p := newPayout(bet)
		p.Amount = bet.Amount
		payouts = append(payouts, p)
	}
	return payouts
}

func newPayout(bet *models.Bet) Payout {
	p := Payout{BetID: bet.ID, UserID: bet.UserID, Side: bet.Side, Wager: bet.Amount}
	if bet.User != nil {
		p.Wallet = bet.User.WalletAddress
	}
	return p
}

// UpdateElo applies the rating change for one fight
func UpdateElo(winner, loser decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	w, l := winner.InexactFloat64(), loser.InexactFloat64()
	// 2^w / (2^w + 2^l) without overflowing
	expectedWin := 1 / (1 + math.Pow(2, l-w))
	expectedLose := 1 / (1 + math.Pow(2, w-l))
	return winner.Add(decimal.NewFromFloat(1 - expectedWin)).Round(2),
		loser.Sub(decimal.NewFromFloat(expectedLose)).Round(2)
}

// PayoutSender disburses a batch of transfers in one transaction
type PayoutSender interface {
	SendBatch(ctx context.Context, transfers []blockchain.Transfer) (string, error)
}

type PayoutConfig struct {
	Fees                FeeSchedule
	ReferrerShare       decimal.Decimal
	BatchSize           int
	BatchAttempts       int
	RetryDelay          time.Duration
	MaxTransferAttempts int
}

// PayoutService settles matches: computes payouts, updates stats and pays out
type PayoutService struct {
	repo    *repository.Repository
	sender  PayoutSender
	alerter Alerter
	metrics *metrics.Metrics
	config  PayoutConfig
	now     func() time.Time

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewPayoutService(
	repo *repository.Repository,
	sender PayoutSender,
	alerter Alerter,
	m *metrics.Metrics,
	config PayoutConfig,
) *PayoutService {
	if alerter == nil {
		alerter = nopAlerter{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.BatchAttempts <= 0 {
		config.BatchAttempts = 1
	}
	if config.MaxTransferAttempts <= 0 {
		config.MaxTransferAttempts = config.BatchAttempts * 3
	}
	return &PayoutService{
		repo:     repo,
		sender:   sender,
		alerter:  alerter,
		metrics:  m,
		config:   config,
		now:      time.Now,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// walletTransfer is the aggregated amount owed to one user
type walletTransfer struct {
	UserID uint
	Wallet string
	Amount decimal.Decimal
}

// Settle pays the winners of a match. It runs at most once per match; a
// one-sided match is refunded instead.
func (s *PayoutService) Settle(ctx context.Context, matchID uuid.UUID, winner models.Side, duration string) error {
	if !winner.Valid() {
		return ErrInvalidSide
	}
	match, err := s.repo.GetMatchByID(ctx, matchID)
	if repository.IsNotFound(err) {
		return ErrMatchNotFound
	}
	if err != nil {
		return err
	}

	vols, err := s.repo.SumVolumes(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to sum volumes: %w", err)
	}
	if vols.OneSided() {
		log.Printf("[Payout] match %s is one-sided, refunding instead", matchID)
		return s.Refund(ctx, matchID)
	}

	if !s.begin(matchID) {
		return ErrSettlementInProgress
	}
	defer s.end(matchID)

	var (
		rows   []*models.PayoutTransfer
		nbBets int
		now    = s.now()
	)
	// once started, the outcome and the owed transfers commit together
	store := context.WithoutCancel(ctx)
	err = s.repo.Transaction(store, func(tx *repository.Repository) error {
		if err := s.claim(store, tx, matchID, models.PayoutKindPayout, &winner); err != nil {
			return err
		}

		bets, err := tx.ConfirmedBets(store, matchID)
		if err != nil {
			return fmt.Errorf("failed to load bets: %w", err)
		}
		nbBets = len(bets)

		referred := make(map[uint]bool)
		for _, bet := range bets {
			if bet.User != nil && bet.User.ReferrerID != nil {
				referred[bet.UserID] = true
			}
		}
		payouts := ComputePayouts(bets, vols, winner, referred, s.config.Fees)

		for _, p := range payouts {
			if err := tx.SetBetPayout(store, p.BetID, p.Amount, false); err != nil {
				return err
			}
		}
		if err := tx.TransitionMatch(store, matchID,
			[]models.MatchStatus{models.MatchStatusBetting, models.MatchStatusLocked},
			models.MatchStatusResolved,
			map[string]interface{}{
				"winner_side": winner,
				"winner_id":   match.FighterFor(winner),
				"duration":    duration,
				"vol_red":     vols.Red,
				"vol_blue":    vols.Blue,
				"resolved_at": now,
			},
		); err != nil {
			return fmt.Errorf("failed to resolve match: %w", err)
		}
		if err := s.updateFighters(store, tx, match, winner); err != nil {
			return err
		}
		if err := s.creditUsers(store, tx, bets, payouts, vols, winner); err != nil {
			return err
		}
		rows, err = s.queueTransfers(store, tx, matchID, aggregate(payouts))
		return err
	})
	if err != nil {
		return s.bookkeepingFailed(ctx, "Settlement", matchID, err)
	}

	log.Printf("[Payout] match %s resolved: winner=%s red=%s blue=%s bets=%d",
		matchID, winner, vols.Red, vols.Blue, nbBets)
	return s.disburse(ctx, matchID, models.PayoutKindPayout, rows)
}

// Refund returns every confirmed wager of a match and archives it as cancelled
func (s *PayoutService) Refund(ctx context.Context, matchID uuid.UUID) error {
	if _, err := s.repo.GetMatchByID(ctx, matchID); repository.IsNotFound(err) {
		return ErrMatchNotFound
	} else if err != nil {
		return err
	}

	if !s.begin(matchID) {
		return ErrSettlementInProgress
	}
	defer s.end(matchID)

	var (
		rows []*models.PayoutTransfer
		now  = s.now()
	)
	store := context.WithoutCancel(ctx)
	err := s.repo.Transaction(store, func(tx *repository.Repository) error {
		if err := s.claim(store, tx, matchID, models.PayoutKindRefund, nil); err != nil {
			return err
		}

		bets, err := tx.ConfirmedBets(store, matchID)
		if err != nil {
			return fmt.Errorf("failed to load bets: %w", err)
		}
		refunds := ComputeRefunds(bets)

		for _, p := range refunds {
			if err := tx.SetBetPayout(store, p.BetID, p.Amount, true); err != nil {
				return err
			}
			if err := tx.AddUserPayout(store, p.UserID, p.Amount, decimal.Zero); err != nil {
				return err
			}
		}
		err = tx.TransitionMatch(store, matchID,
			[]models.MatchStatus{models.MatchStatusBetting, models.MatchStatusLocked},
			models.MatchStatusCancelled,
			map[string]interface{}{"cancelled": true, "resolved_at": now},
		)
		if errors.Is(err, repository.ErrConflict) {
			log.Printf("[Payout] match %s was already archived before refund", matchID)
		} else if err != nil {
			return err
		}
		rows, err = s.queueTransfers(store, tx, matchID, aggregate(refunds))
		return err
	})
	if err != nil {
		return s.bookkeepingFailed(ctx, "Refund", matchID, err)
	}

	log.Printf("[Payout] match %s cancelled, refunding %d wallets", matchID, len(rows))
	return s.disburse(ctx, matchID, models.PayoutKindRefund, rows)
}

// begin marks a match as being paid out by this process
func (s *PayoutService) begin(matchID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[matchID]; busy {
		return false
	}
	s.inflight[matchID] = struct{}{}
	return true
}

func (s *PayoutService) end(matchID uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, matchID)
	s.mu.Unlock()
}

func (s *PayoutService) bookkeepingFailed(ctx context.Context, what string, matchID uuid.UUID, err error) error {
	if errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrSettlementInProgress) {
		return err
	}
	s.alerter.Error(ctx, fmt.Sprintf("%s bookkeeping for match %s failed: %v", what, matchID, err))
	return err
}

// claim inserts the single-fire marker for a match. It runs inside the
// bookkeeping transaction, so a marker always comes with its transfer rows.
func (s *PayoutService) claim(ctx context.Context, tx *repository.Repository, matchID uuid.UUID, kind models.PayoutKind, winner *models.Side) error {
	marker, created, err := tx.ClaimPayoutMarker(ctx, &models.MatchPayout{
		MatchID:    matchID,
		Kind:       kind,
		Status:     models.PayoutStatusProcessing,
		WinnerSide: winner,
		TotalPaid:  decimal.Zero,
	})
	if err != nil {
		return fmt.Errorf("failed to claim settlement of match %s: %w", matchID, err)
	}
	if created {
		return nil
	}
	if marker.Status == models.PayoutStatusProcessing {
		return ErrSettlementInProgress
	}
	log.Printf("[Payout] match %s already settled (%s, %s)", matchID, marker.Kind, marker.Status)
	return ErrAlreadySettled
}

func (s *PayoutService) updateFighters(ctx context.Context, tx *repository.Repository, match *models.Match, winner models.Side) error {
	w, err := tx.GetFighterByID(ctx, match.FighterFor(winner))
	if err != nil {
		return fmt.Errorf("failed to load winning fighter: %w", err)
	}
	l, err := tx.GetFighterByID(ctx, match.FighterFor(winner.Opposite()))
	if err != nil {
		return fmt.Errorf("failed to load losing fighter: %w", err)
	}
	if w.ID == l.ID {
		return nil
	}

	w.NbFight++
	w.Win++
	l.NbFight++
	l.Lose++
	w.Elo, l.Elo = UpdateElo(w.Elo, l.Elo)

	if err := tx.SaveFighter(ctx, w); err != nil {
		return err
	}
	return tx.SaveFighter(ctx, l)
}

// creditUsers books payouts and gains, plus the referrer share of referred winners
func (s *PayoutService) creditUsers(ctx context.Context, tx *repository.Repository, bets []*models.Bet, payouts []Payout, totals models.Volumes, winner models.Side) error {
	winVol := totals.Side(winner)
	referrerOf := make(map[uint]uint)
	for _, bet := range bets {
		if bet.User != nil && bet.User.ReferrerID != nil {
			referrerOf[bet.UserID] = *bet.User.ReferrerID
		}
	}

	for _, p := range payouts {
		if err := tx.AddUserPayout(ctx, p.UserID, p.Amount, p.Amount.Sub(p.Wager)); err != nil {
			return err
		}
		if !p.Referred || !p.Amount.IsPositive() || !s.config.ReferrerShare.IsPositive() {
			continue
		}
		// wager * odds * share, truncated like the payout itself
		share, _ := p.Wager.Mul(totals.Total()).Mul(s.config.ReferrerShare).QuoRem(winVol, payoutPlaces)
		if err := tx.AddReferralGain(ctx, referrerOf[p.UserID], share); err != nil {
			return err
		}
	}
	return nil
}

// aggregate sums payouts per wallet, skipping zero amounts, in wallet order
func aggregate(payouts []Payout) []walletTransfer {
	byWallet := make(map[string]*walletTransfer)
	for _, p := range payouts {
		if !p.Amount.IsPositive() || p.Wallet == "" {
			continue
		}
		t, ok := byWallet[p.Wallet]
		if !ok {
			t = &walletTransfer{UserID: p.UserID, Wallet: p.Wallet, Amount: decimal.Zero}
			byWallet[p.Wallet] = t
		}
		t.Amount = t.Amount.Add(p.Amount)
	}

	out := make([]walletTransfer, 0, len(byWallet))
	for _, t := range byWallet {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// queueTransfers records what is owed as pending rows before anything is sent
func (s *PayoutService) queueTransfers(ctx context.Context, tx *repository.Repository, matchID uuid.UUID, transfers []walletTransfer) ([]*models.PayoutTransfer, error) {
	rows := make([]*models.PayoutTransfer, 0, len(transfers))
	for i, t := range transfers {
		row := &models.PayoutTransfer{
			MatchID:    matchID,
			UserID:     t.UserID,
			Wallet:     t.Wallet,
			Amount:     t.Amount,
			Lamports:   blockchain.ToLamports(t.Amount),
			BatchIndex: i / s.config.BatchSize,
			Status:     models.TransferStatusPending,
		}
		if err := tx.CreatePayoutTransfer(ctx, row); err != nil {
			return nil, fmt.Errorf("failed to queue transfer to %s: %w", t.Wallet, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// disburse sends the queued transfers and closes the marker. A batch that
// keeps failing is recorded and skipped; the marker ends completed or partial.
// If ctx ends first the untouched rows stay pending for the retry job.
func (s *PayoutService) disburse(ctx context.Context, matchID uuid.UUID, kind models.PayoutKind, rows []*models.PayoutTransfer) error {
	s.sendRows(ctx, matchID, kind, rows, false)
	if _, err := s.finishMarker(context.WithoutCancel(ctx), matchID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("payout of match %s interrupted: %w", matchID, err)
	}
	return nil
}

// sendRows pushes transfer rows out in batches and stores each outcome
func (s *PayoutService) sendRows(ctx context.Context, matchID uuid.UUID, kind models.PayoutKind, rows []*models.PayoutTransfer, retry bool) (sent, failed int) {
	store := context.WithoutCancel(ctx)

	for start := 0; start < len(rows); start += s.config.BatchSize {
		if ctx.Err() != nil {
			log.Printf("[Payout] match %s: %d transfers left pending: %v", matchID, len(rows)-start, ctx.Err())
			failed += len(rows) - start
			break
		}
		chunk := rows[start:min(start+s.config.BatchSize, len(rows))]

		sig, attempts, err := s.sendWithRetry(ctx, matchID, chunk[0].BatchIndex, chunk)
		for _, row := range chunk {
			row.Attempts += attempts
			if err != nil {
				msg := err.Error()
				row.Status = models.TransferStatusFailed
				row.LastError = &msg
				failed++
			} else {
				row.Status = models.TransferStatusSent
				row.Signature = &sig
				row.LastError = nil
				sent++
				if markErr := s.repo.MarkBetsPaid(store, matchID, row.UserID, sig); markErr != nil {
					log.Printf("[Payout] failed to mark bets of user %d paid: %v", row.UserID, markErr)
				}
			}
			if saveErr := s.repo.UpdatePayoutTransfer(store, row); saveErr != nil {
				log.Printf("[Payout] failed to update transfer to %s: %v", row.Wallet, saveErr)
			}
		}

		result := "ok"
		if err != nil {
			result = "failed"
			if !retry || chunk[0].Attempts >= s.config.MaxTransferAttempts {
				s.alerter.Error(store, fmt.Sprintf("Payout batch %d of match %s failed after %d attempts: %v",
					chunk[0].BatchIndex, matchID, chunk[0].Attempts, err))
			}
		}
		s.metrics.PayoutTransfer(string(kind), result, len(chunk))
	}
	return sent, failed
}

func (s *PayoutService) sendWithRetry(ctx context.Context, matchID uuid.UUID, batchIndex int, rows []*models.PayoutTransfer) (string, int, error) {
	transfers := make([]blockchain.Transfer, 0, len(rows))
	for _, row := range rows {
		transfers = append(transfers, blockchain.Transfer{Wallet: row.Wallet, Lamports: row.Lamports})
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.BatchAttempts; attempt++ {
		sig, err := s.sender.SendBatch(ctx, transfers)
		if err == nil {
			log.Printf("[Payout] match %s batch %d sent: %s", matchID, batchIndex, sig)
			return sig, attempt, nil
		}
		lastErr = err
		log.Printf("[Payout] match %s batch %d attempt %d/%d failed: %v", matchID, batchIndex, attempt, s.config.BatchAttempts, err)

		if attempt == s.config.BatchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", attempt, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(s.config.RetryDelay):
		}
	}
	return "", s.config.BatchAttempts, lastErr
}

// finishMarker recomputes the marker totals from the stored transfer rows
func (s *PayoutService) finishMarker(ctx context.Context, matchID uuid.UUID) (*models.MatchPayout, error) {
	marker, err := s.repo.GetPayoutMarker(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement marker: %w", err)
	}
	rows, err := s.repo.GetPayoutTransfers(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}

	paid, unsent := decimal.Zero, 0
	for _, row := range rows {
		if row.Status == models.TransferStatusSent {
			paid = paid.Add(row.Amount)
		} else {
			unsent++
		}
	}

	now := s.now()
	marker.TotalPaid = paid
	marker.FailedTransfers = unsent
	marker.CompletedAt = &now
	marker.Status = models.PayoutStatusCompleted
	if unsent > 0 {
		marker.Status = models.PayoutStatusPartial
	}
	if err := s.repo.UpdatePayoutMarker(ctx, marker); err != nil {
		return nil, fmt.Errorf("failed to update settlement marker: %w", err)
	}
	return marker, nil
}

// RetryFailedTransfers re-sends the unsent transfers of a match. A marker
// left processing by an interrupted settlement is closed out as well.
func (s *PayoutService) RetryFailedTransfers(ctx context.Context, matchID uuid.UUID) (sent, failed int, err error) {
	if !s.begin(matchID) {
		return 0, 0, ErrSettlementInProgress
	}
	defer s.end(matchID)

	marker, err := s.repo.GetPayoutMarker(ctx, matchID)
	if repository.IsNotFound(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load settlement marker: %w", err)
	}
	rows, err := s.repo.GetUnsentTransfers(ctx, matchID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load unsent transfers: %w", err)
	}
	if len(rows) == 0 && marker.Status != models.PayoutStatusProcessing {
		return 0, 0, nil
	}

	sent, failed = s.sendRows(ctx, matchID, marker.Kind, rows, true)
	if _, err := s.finishMarker(context.WithoutCancel(ctx), matchID); err != nil {
		return sent, failed, err
	}

	log.Printf("[Payout] retry for match %s: %d sent, %d still unsent", matchID, sent, failed)
	return sent, failed, nil
}

// RetryAllFailed retries every match with unsent transfers still under the
// attempt ceiling, plus any settlement left processing
func (s *PayoutService) RetryAllFailed(ctx context.Context) error {
	ids, err := s.repo.MatchesWithUnsentTransfers(ctx, s.config.MaxTransferAttempts)
	if err != nil {
		return err
	}
	stuck, err := s.repo.ProcessingPayoutMarkers(ctx)
	if err != nil {
		return err
	}

	seen := make(map[uuid.UUID]bool, len(ids)+len(stuck))
	for _, id := range append(ids, stuck...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		_, _, err := s.RetryFailedTransfers(ctx, id)
		if errors.Is(err, ErrSettlementInProgress) {
			continue
		}
		if err != nil {
			log.Printf("[Payout] retry for match %s failed: %v", id, err)
		}
	}
	return nil
}
