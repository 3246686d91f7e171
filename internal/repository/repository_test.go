package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"soltybet/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Fighter{},
		&models.Match{},
		&models.Bet{},
		&models.MatchPayout{},
		&models.PayoutTransfer{},
		&models.ReconciliationFailure{},
	)
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func seedMatch(t *testing.T, repo *Repository) *models.Match {
	ctx := context.Background()
	red, err := repo.UpsertFighter(ctx, "Ryu")
	require.NoError(t, err)
	blue, err := repo.UpsertFighter(ctx, "Ken")
	require.NoError(t, err)

	match := &models.Match{
		RedFighterID:  red.ID,
		BlueFighterID: blue.ID,
		RedName:       red.Name,
		BlueName:      blue.Name,
		Status:        models.MatchStatusBetting,
	}
	require.NoError(t, repo.CreateMatch(ctx, match))
	return match
}

func seedUser(t *testing.T, repo *Repository, wallet string) *models.User {
	user := &models.User{WalletAddress: wallet, Nickname: "nick_" + wallet}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func TestUpsertFighterIsIdempotent(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.UpsertFighter(ctx, "Big_Bad")
	require.NoError(t, err)
	second, err := repo.UpsertFighter(ctx, "Big_Bad")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Elo.Equal(decimal.NewFromInt(1000)))
}

func TestConfirmBetCompareAndSwap(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	match := seedMatch(t, repo)
	user := seedUser(t, repo, "walletA")

	bet := &models.Bet{
		MatchID:   match.ID,
		UserID:    user.ID,
		FighterID: match.RedFighterID,
		Side:      models.SideRed,
		Amount:    decimal.RequireFromString("1.5"),
		Status:    models.BetStatusPending,
	}
	require.NoError(t, repo.CreateBet(ctx, bet))

	now := time.Now()
	require.NoError(t, repo.ConfirmBet(ctx, bet.ID, "sig1", bet.Amount, now))
	assert.ErrorIs(t, repo.ConfirmBet(ctx, bet.ID, "sig1", bet.Amount, now), ErrConflict)
	assert.ErrorIs(t, repo.CancelBet(ctx, bet.ID, user.ID, now), ErrConflict)

	stored, err := repo.GetBetByTx(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, bet.ID, stored.ID)
	assert.Equal(t, models.BetStatusConfirmed, stored.Status)
}

func TestCancelBetOnlyOwner(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	match := seedMatch(t, repo)
	owner := seedUser(t, repo, "owner")
	other := seedUser(t, repo, "other")

	bet := &models.Bet{
		MatchID:   match.ID,
		UserID:    owner.ID,
		FighterID: match.BlueFighterID,
		Side:      models.SideBlue,
		Amount:    decimal.NewFromInt(1),
		Status:    models.BetStatusPending,
	}
	require.NoError(t, repo.CreateBet(ctx, bet))

	assert.ErrorIs(t, repo.CancelBet(ctx, bet.ID, other.ID, time.Now()), ErrConflict)
	assert.NoError(t, repo.CancelBet(ctx, bet.ID, owner.ID, time.Now()))
}

func TestSumVolumesCountsConfirmedOnly(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	match := seedMatch(t, repo)
	user := seedUser(t, repo, "walletV")

	place := func(side models.Side, amount string, confirm bool) {
		bet := &models.Bet{
			MatchID:   match.ID,
			UserID:    user.ID,
			FighterID: match.FighterFor(side),
			Side:      side,
			Amount:    decimal.RequireFromString(amount),
			Status:    models.BetStatusPending,
		}
		require.NoError(t, repo.CreateBet(ctx, bet))
		if confirm {
			require.NoError(t, repo.ConfirmBet(ctx, bet.ID, uuid.NewString(), bet.Amount, time.Now()))
		}
	}

	place(models.SideRed, "2", true)
	place(models.SideRed, "0.5", true)
	place(models.SideBlue, "3", true)
	place(models.SideBlue, "100", false)

	vols, err := repo.SumVolumes(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, vols.Red.Equal(decimal.RequireFromString("2.5")), "red was %s", vols.Red)
	assert.True(t, vols.Blue.Equal(decimal.NewFromInt(3)), "blue was %s", vols.Blue)
}

func TestTransitionMatchRejectsWrongStatus(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	match := seedMatch(t, repo)

	err := repo.TransitionMatch(ctx, match.ID, []models.MatchStatus{models.MatchStatusLocked}, models.MatchStatusResolved, nil)
	assert.ErrorIs(t, err, ErrConflict)

	err = repo.TransitionMatch(ctx, match.ID, []models.MatchStatus{models.MatchStatusBetting}, models.MatchStatusLocked, nil)
	assert.NoError(t, err)

	active, err := repo.GetActiveMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLocked, active.Status)
}

func TestSetReferrerOnce(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	a := seedUser(t, repo, "a")
	b := seedUser(t, repo, "b")
	c := seedUser(t, repo, "c")

	require.NoError(t, repo.SetReferrer(ctx, a.ID, b.ID))
	assert.ErrorIs(t, repo.SetReferrer(ctx, a.ID, c.ID), ErrConflict)
}

func TestClaimPayoutMarkerSingleFire(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	matchID := uuid.New()

	first, created, err := repo.ClaimPayoutMarker(ctx, &models.MatchPayout{
		MatchID: matchID,
		Kind:    models.PayoutKindPayout,
		Status:  models.PayoutStatusProcessing,
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.ClaimPayoutMarker(ctx, &models.MatchPayout{
		MatchID: matchID,
		Kind:    models.PayoutKindRefund,
		Status:  models.PayoutStatusProcessing,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.PayoutKindPayout, second.Kind)
}

func TestUnsentTransfersIncludePending(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	pending, failed, spent := uuid.New(), uuid.New(), uuid.New()

	for _, row := range []*models.PayoutTransfer{
		{MatchID: pending, Wallet: "a", Amount: decimal.NewFromInt(1), Status: models.TransferStatusPending},
		{MatchID: failed, Wallet: "b", Amount: decimal.NewFromInt(1), Status: models.TransferStatusFailed, Attempts: 2},
		{MatchID: spent, Wallet: "c", Amount: decimal.NewFromInt(1), Status: models.TransferStatusFailed, Attempts: 9},
		{MatchID: spent, Wallet: "d", Amount: decimal.NewFromInt(1), Status: models.TransferStatusSent},
	} {
		require.NoError(t, repo.CreatePayoutTransfer(ctx, row))
	}

	ids, err := repo.MatchesWithUnsentTransfers(ctx, 9)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{pending, failed}, ids)

	rows, err := repo.GetUnsentTransfers(ctx, spent)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].Wallet)

	_, _, err = repo.ClaimPayoutMarker(ctx, &models.MatchPayout{MatchID: pending, Kind: models.PayoutKindPayout, Status: models.PayoutStatusProcessing})
	require.NoError(t, err)
	_, _, err = repo.ClaimPayoutMarker(ctx, &models.MatchPayout{MatchID: failed, Kind: models.PayoutKindPayout, Status: models.PayoutStatusPartial})
	require.NoError(t, err)
	stuck, err := repo.ProcessingPayoutMarkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pending}, stuck)
}

func TestRecordReconciliationFailureAccumulates(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	betID := uuid.New()

	for i := 0; i < 2; i++ {
		err := repo.RecordReconciliationFailure(ctx, &models.ReconciliationFailure{
			BetID:          betID,
			UserID:         1,
			TxSignature:    "sig",
			DeclaredAmount: decimal.NewFromInt(1),
			Reason:         "not_found",
			Attempts:       3,
			Status:         models.ReconciliationOpen,
		})
		require.NoError(t, err)
	}

	failure, err := repo.GetReconciliationFailure(ctx, betID)
	require.NoError(t, err)
	assert.Equal(t, 6, failure.Attempts)
}
