package services

import (
	"context"
	"errors"

	"soltybet/internal/phase"
)

var (
	ErrInvalidSide          = errors.New("side must be red or blue")
	ErrAmountOutOfBounds    = errors.New("bet amount out of bounds")
	ErrMatchNotFound        = errors.New("match not found")
	ErrNotBettingPhase      = errors.New("bets are not open")
	ErrStaleMatch           = errors.New("match is no longer the active match")
	ErrMatchClosed          = errors.New("match volumes are already final")
	ErrBetNotFound          = errors.New("bet not found")
	ErrBetNotPending        = errors.New("bet is not pending")
	ErrNotBetOwner          = errors.New("bet belongs to another user")
	ErrTxAlreadyUsed        = errors.New("transaction already confirmed another bet")
	ErrReconciliationFailed = errors.New("transfer could not be matched to the bet")
	ErrAlreadySettled       = phase.ErrAlreadySettled
	ErrSettlementInProgress = errors.New("match settlement in progress")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidRefCode       = errors.New("referral code must be 3-20 letters, digits, '-' or '_'")
	ErrRefCodeTaken         = errors.New("referral code already taken")
	ErrRefCodeUnknown       = errors.New("referral code not found")
	ErrSelfReferral         = errors.New("cannot use your own referral code")
	ErrReferrerAlreadySet   = errors.New("referrer already set")
)

// Alerter escalates failures to operators
type Alerter interface {
	Error(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
}

type nopAlerter struct{}

func (nopAlerter) Error(context.Context, string) {}
func (nopAlerter) Info(context.Context, string)  {}
