package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"soltybet/internal/blockchain"
	"soltybet/internal/metrics"
	"soltybet/internal/models"
	"soltybet/internal/phase"
	"soltybet/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BetVerifier matches a transaction signature against a bet
type BetVerifier interface {
	VerifyBetTransfer(ctx context.Context, signature string, claim blockchain.BetClaim) (*blockchain.MemoPayload, error)
}

// PhaseReader exposes the live phase of the match lifecycle
type PhaseReader interface {
	Snapshot() phase.State
}

type LedgerConfig struct {
	MinStake             decimal.Decimal
	MaxStake             decimal.Decimal
	ConfirmMaxAttempts   int
	ConfirmDelay         time.Duration
	ConfirmTimeout       time.Duration
	ReconcileMaxAttempts int
}

// LedgerService records bet intents and confirms them against the chain
type LedgerService struct {
	repo     *repository.Repository
	verifier BetVerifier
	alerter  Alerter
	metrics  *metrics.Metrics
	config   LedgerConfig
	phase    PhaseReader
	now      func() time.Time
}

func NewLedgerService(
	repo *repository.Repository,
	verifier BetVerifier,
	alerter Alerter,
	m *metrics.Metrics,
	config LedgerConfig,
) *LedgerService {
	if alerter == nil {
		alerter = nopAlerter{}
	}
	if config.ConfirmMaxAttempts <= 0 {
		config.ConfirmMaxAttempts = 1
	}
	if config.ReconcileMaxAttempts <= 0 {
		config.ReconcileMaxAttempts = 10
	}
	return &LedgerService{
		repo:     repo,
		verifier: verifier,
		alerter:  alerter,
		metrics:  m,
		config:   config,
		now:      time.Now,
	}
}

// SetPhaseReader lets bet placement consult the live phase. Without one the
// stored match status is authoritative.
func (s *LedgerService) SetPhaseReader(p PhaseReader) {
	s.phase = p
}

// StartMatch archives whatever was still open and creates the next match
func (s *LedgerService) StartMatch(ctx context.Context, red, blue string) (*models.Match, error) {
	var match *models.Match
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.FreezeBettingMatches(ctx, s.now()); err != nil {
			return fmt.Errorf("failed to freeze previous matches: %w", err)
		}

		redFighter, err := tx.UpsertFighter(ctx, models.NormalizeFighterName(red))
		if err != nil {
			return fmt.Errorf("failed to upsert fighter %s: %w", red, err)
		}
		blueFighter, err := tx.UpsertFighter(ctx, models.NormalizeFighterName(blue))
		if err != nil {
			return fmt.Errorf("failed to upsert fighter %s: %w", blue, err)
		}

		match = &models.Match{
			RedFighterID:  redFighter.ID,
			BlueFighterID: blueFighter.ID,
			RedName:       red,
			BlueName:      blue,
			Status:        models.MatchStatusBetting,
			VolRed:        decimal.Zero,
			VolBlue:       decimal.Zero,
		}
		return tx.CreateMatch(ctx, match)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] match %s started: %s vs %s", match.ID, red, blue)
	return match, nil
}

// LockMatch stops bet placement on a match
func (s *LedgerService) LockMatch(ctx context.Context, matchID uuid.UUID) error {
	err := s.repo.TransitionMatch(ctx, matchID,
		[]models.MatchStatus{models.MatchStatusBetting},
		models.MatchStatusLocked,
		map[string]interface{}{"locked_at": s.now()},
	)
	if errors.Is(err, repository.ErrConflict) {
		match, getErr := s.repo.GetMatchByID(ctx, matchID)
		if getErr == nil && match.Status == models.MatchStatusLocked {
			return nil
		}
		return fmt.Errorf("match %s cannot be locked: %w", matchID, err)
	}
	return err
}

// ActiveMatch returns the match currently betting or locked, or nil
func (s *LedgerService) ActiveMatch(ctx context.Context) (*models.Match, error) {
	match, err := s.repo.GetActiveMatch(ctx)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return match, err
}

// GetMatch retrieves a match by ID
func (s *LedgerService) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.repo.GetMatchByID(ctx, matchID)
	if repository.IsNotFound(err) {
		return nil, ErrMatchNotFound
	}
	return match, err
}

// GetVolumes sums confirmed bets per side
func (s *LedgerService) GetVolumes(ctx context.Context, matchID uuid.UUID) (models.Volumes, error) {
	return s.repo.SumVolumes(ctx, matchID)
}

// FinalizeVolumes persists the volumes after the lock window and flags one-sided matches
func (s *LedgerService) FinalizeVolumes(ctx context.Context, matchID uuid.UUID) (models.Volumes, error) {
	vols, err := s.repo.SumVolumes(ctx, matchID)
	if err != nil {
		return models.Volumes{}, err
	}
	if err := s.repo.SetMatchVolumes(ctx, matchID, vols, vols.OneSided(), s.now()); err != nil {
		return models.Volumes{}, fmt.Errorf("failed to store volumes: %w", err)
	}
	log.Printf("[Ledger] match %s finalized: red=%s blue=%s", matchID, vols.Red, vols.Blue)
	return vols, nil
}

// PlaceBet records a pending bet on the match that is currently taking bets
func (s *LedgerService) PlaceBet(ctx context.Context, userID uint, matchID uuid.UUID, side models.Side, amount decimal.Decimal) (*models.Bet, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if err := s.checkStake(amount); err != nil {
		return nil, err
	}

	match, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusBetting {
		return nil, ErrNotBettingPhase
	}
	if s.phase != nil {
		snap := s.phase.Snapshot()
		if snap.Phase != phase.PhaseBetting {
			return nil, ErrNotBettingPhase
		}
		if snap.MatchID != matchID {
			return nil, ErrStaleMatch
		}
	}

	bet := &models.Bet{
		MatchID:   matchID,
		UserID:    userID,
		FighterID: match.FighterFor(side),
		Side:      side,
		Amount:    amount,
		Status:    models.BetStatusPending,
	}
	if err := s.repo.CreateBet(ctx, bet); err != nil {
		return nil, fmt.Errorf("failed to create bet: %w", err)
	}

	s.metrics.BetStatus("pending")
	log.Printf("[Ledger] bet %s placed: user=%d %s %s", bet.ID, userID, side, amount)
	return bet, nil
}

func (s *LedgerService) checkStake(amount decimal.Decimal) error {
	if amount.LessThan(s.config.MinStake) || amount.GreaterThan(s.config.MaxStake) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfBounds, amount, s.config.MinStake, s.config.MaxStake)
	}
	return nil
}

// ConfirmBet verifies signature once and flips the bet to confirmed. Confirming
// again with the same signature returns the bet unchanged.
func (s *LedgerService) ConfirmBet(ctx context.Context, betID uuid.UUID, signature string, amount decimal.Decimal) (*models.Bet, error) {
	started := s.now()

	bet, err := s.repo.GetBetByID(ctx, betID)
	if repository.IsNotFound(err) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, err
	}

	switch bet.Status {
	case models.BetStatusConfirmed:
		if bet.TxIn != nil && *bet.TxIn == signature {
			return bet, nil
		}
		return nil, ErrBetNotPending
	case models.BetStatusCancelled:
		return nil, ErrBetNotPending
	}

	if other, err := s.repo.GetBetByTx(ctx, signature); err == nil && other.ID != bet.ID {
		return nil, ErrTxAlreadyUsed
	}
	if err := s.checkStake(amount); err != nil {
		return nil, err
	}

	match, err := s.GetMatch(ctx, bet.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status.Terminal() || match.FinalizedAt != nil {
		return nil, ErrMatchClosed
	}

	memo, err := s.verifier.VerifyBetTransfer(ctx, signature, blockchain.BetClaim{
		BetID:    bet.ID.String(),
		Side:     bet.Side,
		Lamports: blockchain.ToLamports(amount),
	})
	if err != nil {
		s.metrics.Confirmation(mismatchReason(err), s.now().Sub(started))
		return nil, err
	}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.ConfirmBet(ctx, bet.ID, signature, amount, s.now()); err != nil {
			return err
		}
		if err := tx.AddUserBet(ctx, bet.UserID, amount); err != nil {
			return err
		}
		if err := tx.IncrementMatchBets(ctx, bet.MatchID); err != nil {
			return err
		}
		return tx.IncrementFighterBets(ctx, bet.FighterID)
	})
	if errors.Is(err, repository.ErrConflict) {
		// someone else moved the bet first
		current, getErr := s.repo.GetBetByID(ctx, bet.ID)
		if getErr == nil && current.Status == models.BetStatusConfirmed && current.TxIn != nil && *current.TxIn == signature {
			return current, nil
		}
		return nil, ErrBetNotPending
	}
	if err != nil {
		if other, getErr := s.repo.GetBetByTx(ctx, signature); getErr == nil && other.ID != bet.ID {
			return nil, ErrTxAlreadyUsed
		}
		return nil, fmt.Errorf("failed to confirm bet: %w", err)
	}

	s.metrics.Confirmation("ok", s.now().Sub(started))
	s.metrics.BetStatus("confirmed")
	s.linkMemoReferrer(ctx, bet.UserID, memo)
	s.resolveFailure(ctx, bet.ID)

	confirmed, err := s.repo.GetBetByID(ctx, bet.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("[Ledger] bet %s confirmed by %s", bet.ID, signature)
	return confirmed, nil
}

// linkMemoReferrer records the referrer named in the transfer memo for users who have none
func (s *LedgerService) linkMemoReferrer(ctx context.Context, userID uint, memo *blockchain.MemoPayload) {
	wallet, ok := memo.ReferrerPublicKey()
	if !ok {
		return
	}
	referrer, err := s.repo.GetUserByWallet(ctx, wallet.String())
	if err != nil || referrer.ID == userID {
		return
	}
	if err := s.repo.SetReferrer(ctx, userID, referrer.ID); err != nil && !errors.Is(err, repository.ErrConflict) {
		log.Printf("[Ledger] failed to link referrer for user %d: %v", userID, err)
	}
}

func (s *LedgerService) resolveFailure(ctx context.Context, betID uuid.UUID) {
	failure, err := s.repo.GetReconciliationFailure(ctx, betID)
	if err != nil || failure.Status == models.ReconciliationResolved {
		return
	}
	failure.Status = models.ReconciliationResolved
	if err := s.repo.UpdateReconciliationFailure(ctx, failure); err != nil {
		log.Printf("[Ledger] failed to resolve reconciliation failure of bet %s: %v", betID, err)
	}
}

func mismatchReason(err error) string {
	var verr *blockchain.VerificationError
	if errors.As(err, &verr) {
		return string(verr.Reason)
	}
	return "rpc_error"
}

// retryable is true for failures that a later look at the chain may clear
func retryable(err error) bool {
	var verr *blockchain.VerificationError
	if errors.As(err, &verr) {
		return true
	}
	for _, final := range []error{
		ErrBetNotFound, ErrBetNotPending, ErrTxAlreadyUsed, ErrMatchClosed,
		ErrAmountOutOfBounds, ErrMatchNotFound,
	} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}

// ConfirmBetWithRetry keeps calling ConfirmBet with a fixed delay until it
// succeeds, the attempts run out or the timeout passes. A bet that cannot be
// confirmed stays pending and is handed to the reconciler.
func (s *LedgerService) ConfirmBetWithRetry(ctx context.Context, betID uuid.UUID, signature string, amount decimal.Decimal) (*models.Bet, error) {
	budget := ctx
	if s.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		budget, cancel = context.WithTimeout(ctx, s.config.ConfirmTimeout)
		defer cancel()
	}

	var (
		lastErr  error
		attempts int
	)
	for attempts < s.config.ConfirmMaxAttempts {
		attempts++
		bet, err := s.ConfirmBet(budget, betID, signature, amount)
		if err == nil {
			return bet, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[Ledger] confirm bet %s attempt %d/%d: %v", betID, attempts, s.config.ConfirmMaxAttempts, err)

		if attempts == s.config.ConfirmMaxAttempts {
			break
		}
		select {
		case <-budget.Done():
			lastErr = fmt.Errorf("confirmation timed out: %w", lastErr)
			attempts = s.config.ConfirmMaxAttempts
		case <-time.After(s.config.ConfirmDelay):
		}
	}

	// the request context may already be gone
	s.recordFailure(context.WithoutCancel(ctx), betID, signature, amount, attempts, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrReconciliationFailed, lastErr)
}

func (s *LedgerService) recordFailure(ctx context.Context, betID uuid.UUID, signature string, amount decimal.Decimal, attempts int, cause error) {
	bet, err := s.repo.GetBetByID(ctx, betID)
	if err != nil {
		log.Printf("[Ledger] cannot record reconciliation failure for bet %s: %v", betID, err)
		return
	}

	failure := &models.ReconciliationFailure{
		BetID:          betID,
		UserID:         bet.UserID,
		TxSignature:    signature,
		DeclaredAmount: amount,
		Reason:         mismatchReason(cause),
		Attempts:       attempts,
		Status:         models.ReconciliationOpen,
	}
	if cause != nil {
		failure.Detail = cause.Error()
	}
	if err := s.repo.RecordReconciliationFailure(ctx, failure); err != nil {
		log.Printf("[Ledger] failed to record reconciliation failure for bet %s: %v", betID, err)
	}

	s.metrics.BetStatus("reconciliation_failed")
	s.alerter.Error(ctx, fmt.Sprintf("Bet %s could not be confirmed with tx %s after %d attempts: %v", betID, signature, attempts, cause))
}

// CheckBetOwner fails unless the bet exists and belongs to userID
func (s *LedgerService) CheckBetOwner(ctx context.Context, betID uuid.UUID, userID uint) error {
	bet, err := s.repo.GetBetByID(ctx, betID)
	if repository.IsNotFound(err) {
		return ErrBetNotFound
	}
	if err != nil {
		return err
	}
	if bet.UserID != userID {
		return ErrNotBetOwner
	}
	return nil
}

// CancelBet withdraws a pending bet owned by userID
func (s *LedgerService) CancelBet(ctx context.Context, betID uuid.UUID, userID uint) error {
	err := s.repo.CancelBet(ctx, betID, userID, s.now())
	if err == nil {
		s.metrics.BetStatus("cancelled")
		log.Printf("[Ledger] bet %s cancelled by user %d", betID, userID)
		return nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}

	bet, getErr := s.repo.GetBetByID(ctx, betID)
	switch {
	case repository.IsNotFound(getErr):
		return ErrBetNotFound
	case getErr != nil:
		return getErr
	case bet.UserID != userID:
		return ErrNotBetOwner
	default:
		return ErrBetNotPending
	}
}

// ReconcilePending re-verifies pending bets that have an open reconciliation
// failure. Failures past the attempt ceiling are marked exhausted and escalated.
func (s *LedgerService) ReconcilePending(ctx context.Context, limit int) (resolved, exhausted int, err error) {
	failures, err := s.repo.ReconcilableBets(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list reconcilable bets: %w", err)
	}

	for _, failure := range failures {
		if ctx.Err() != nil {
			return resolved, exhausted, ctx.Err()
		}

		_, confirmErr := s.ConfirmBet(ctx, failure.BetID, failure.TxSignature, failure.DeclaredAmount)
		if confirmErr == nil {
			resolved++
			continue
		}

		failure.Attempts++
		failure.Reason = mismatchReason(confirmErr)
		failure.Detail = confirmErr.Error()
		if !retryable(confirmErr) || failure.Attempts >= s.config.ReconcileMaxAttempts {
			failure.Status = models.ReconciliationExhausted
			exhausted++
			s.alerter.Error(ctx, fmt.Sprintf("Reconciliation of bet %s (tx %s) gave up after %d attempts: %v",
				failure.BetID, failure.TxSignature, failure.Attempts, confirmErr))
		}
		if err := s.repo.UpdateReconciliationFailure(ctx, failure); err != nil {
			log.Printf("[Reconciler] failed to update failure of bet %s: %v", failure.BetID, err)
		}
	}
	return resolved, exhausted, nil
}

// ReconciliationFailures lists failures in the given status for operators
func (s *LedgerService) ReconciliationFailures(ctx context.Context, status models.ReconciliationStatus, limit int) ([]*models.ReconciliationFailure, error) {
	return s.repo.ListReconciliationFailures(ctx, status, limit)
}
