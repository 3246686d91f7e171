package blockchain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"soltybet/internal/models"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var (
	MemoProgramID       = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	LegacyMemoProgramID = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// system program instruction index for Transfer
const systemTransferIndex = 2

// ObservedTransaction is the part of a fetched transaction bet matching looks at
type ObservedTransaction struct {
	Signature    string
	Found        bool
	Confirmed    bool
	Failed       bool
	Err          string
	AccountKeys  []solana.PublicKey
	Instructions []ObservedInstruction
	PreBalances  []uint64
	PostBalances []uint64
}

type ObservedInstruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// MemoPayload is the JSON a bettor's client writes into the memo instruction
type MemoPayload struct {
	Color          string `json:"color"`
	FighterName    string `json:"fighterName"`
	ReferrerWallet string `json:"referrerWallet"`
	BetID          string `json:"b_id"`
}

// ReferrerPublicKey returns the referrer wallet when it decodes to a 32-byte key
func (m *MemoPayload) ReferrerPublicKey() (solana.PublicKey, bool) {
	if m == nil || m.ReferrerWallet == "" {
		return solana.PublicKey{}, false
	}
	raw, err := base58.Decode(m.ReferrerWallet)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, false
	}
	return solana.PublicKeyFromBytes(raw), true
}

type MismatchReason string

const (
	ReasonNotFound           MismatchReason = "not_found"
	ReasonNotConfirmed       MismatchReason = "not_confirmed"
	ReasonTxFailed           MismatchReason = "tx_failed"
	ReasonNoTransfer         MismatchReason = "no_transfer"
	ReasonWrongDestination   MismatchReason = "wrong_destination"
	ReasonInsufficientAmount MismatchReason = "insufficient_amount"
	ReasonMemoMissing        MismatchReason = "memo_missing"
	ReasonMemoMismatch       MismatchReason = "memo_mismatch"
	ReasonGateCheckMissing   MismatchReason = "gate_check_missing"
)

// Retryable reports whether the mismatch may clear once the cluster catches up
func (r MismatchReason) Retryable() bool {
	return r == ReasonNotFound || r == ReasonNotConfirmed
}

// VerificationError explains why a transaction does not satisfy a bet
type VerificationError struct {
	Reason MismatchReason
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("bet transfer mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("bet transfer mismatch: %s (%s)", e.Reason, e.Detail)
}

func mismatch(reason MismatchReason, format string, args ...interface{}) *VerificationError {
	return &VerificationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// BetClaim is what the bettor says they sent
type BetClaim struct {
	BetID    string
	Side     models.Side
	Lamports uint64
}

// MatchBetTransfer applies the matching rule to an observed transaction
func MatchBetTransfer(obs *ObservedTransaction, collection, gateProgram solana.PublicKey, claim BetClaim) (*MemoPayload, error) {
	if obs == nil || !obs.Found {
		return nil, mismatch(ReasonNotFound, "")
	}
	if obs.Failed {
		return nil, mismatch(ReasonTxFailed, "%s", obs.Err)
	}
	if !obs.Confirmed {
		return nil, mismatch(ReasonNotConfirmed, "")
	}

	if err := matchTransfer(obs, collection, claim.Lamports); err != nil {
		return nil, err
	}

	memo, err := matchMemo(obs, claim)
	if err != nil {
		return nil, err
	}

	if !hasGateCheck(obs, gateProgram) {
		return nil, mismatch(ReasonGateCheckMissing, "")
	}

	return memo, nil
}

func matchTransfer(obs *ObservedTransaction, collection solana.PublicKey, want uint64) error {
	var (
		sawTransfer bool
		toUs        bool
		best        uint64
	)
	for _, ix := range obs.Instructions {
		if !ix.ProgramID.Equals(solana.SystemProgramID) || len(ix.Data) < 12 || len(ix.Accounts) < 2 {
			continue
		}
		if binary.LittleEndian.Uint32(ix.Data[0:4]) != systemTransferIndex {
			continue
		}
		sawTransfer = true
		if !ix.Accounts[1].Equals(collection) {
			continue
		}
		toUs = true
		if lamports := binary.LittleEndian.Uint64(ix.Data[4:12]); lamports > best {
			best = lamports
		}
	}

	switch {
	case !sawTransfer:
		return mismatch(ReasonNoTransfer, "")
	case !toUs:
		return mismatch(ReasonWrongDestination, "no transfer to %s", collection)
	case best < want:
		return mismatch(ReasonInsufficientAmount, "sent %d lamports, declared %d", best, want)
	}

	// the balance delta must agree with the instruction
	for i, key := range obs.AccountKeys {
		if !key.Equals(collection) {
			continue
		}
		if i < len(obs.PreBalances) && i < len(obs.PostBalances) {
			pre, post := obs.PreBalances[i], obs.PostBalances[i]
			if post < pre || post-pre < want {
				return mismatch(ReasonInsufficientAmount, "collection balance moved %d -> %d", pre, post)
			}
		}
		break
	}
	return nil
}

func matchMemo(obs *ObservedTransaction, claim BetClaim) (*MemoPayload, error) {
	var sawMemo bool
	for _, ix := range obs.Instructions {
		if !ix.ProgramID.Equals(MemoProgramID) && !ix.ProgramID.Equals(LegacyMemoProgramID) {
			continue
		}
		sawMemo = true

		var memo MemoPayload
		if err := json.Unmarshal(ix.Data, &memo); err != nil {
			continue
		}
		if memo.BetID != claim.BetID {
			continue
		}
		if memo.Color != "" && claim.Side != "" && !strings.EqualFold(memo.Color, string(claim.Side)) {
			return nil, mismatch(ReasonMemoMismatch, "memo color %q, bet side %q", memo.Color, claim.Side)
		}
		return &memo, nil
	}

	if !sawMemo {
		return nil, mismatch(ReasonMemoMissing, "")
	}
	return nil, mismatch(ReasonMemoMismatch, "no memo for bet %s", claim.BetID)
}

func hasGateCheck(obs *ObservedTransaction, gateProgram solana.PublicKey) bool {
	for _, ix := range obs.Instructions {
		if ix.ProgramID.Equals(gateProgram) && len(ix.Data) >= 8 && string(ix.Data[:8]) == string(checkGateDiscriminator) {
			return true
		}
	}
	return false
}

type txFetcher interface {
	FetchTransaction(ctx context.Context, signature string) (*ObservedTransaction, error)
}

// BetVerifier checks bettor transactions against the collection wallet and gate program
type BetVerifier struct {
	chain       txFetcher
	collection  solana.PublicKey
	gateProgram solana.PublicKey
}

func NewBetVerifier(chain txFetcher, collection, gateProgram solana.PublicKey) *BetVerifier {
	return &BetVerifier{chain: chain, collection: collection, gateProgram: gateProgram}
}

// Collection returns the wallet bets are paid into
func (v *BetVerifier) Collection() solana.PublicKey {
	return v.collection
}

// VerifyBetTransfer fetches signature and matches it against claim. Mismatches
// are returned as *VerificationError; anything else is an RPC failure.
func (v *BetVerifier) VerifyBetTransfer(ctx context.Context, signature string, claim BetClaim) (*MemoPayload, error) {
	obs, err := v.chain.FetchTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}
	return MatchBetTransfer(obs, v.collection, v.gateProgram, claim)
}
