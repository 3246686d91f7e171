package blockchain

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"soltybet/internal/models"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu       sync.Mutex
	sendErrs []error
	sent     [][]solana.Instruction
	payers   []solana.PublicKey
	account  []byte
	accErr   error
	reads    int
}

func (f *fakeChain) SendInstructions(_ context.Context, payer solana.PrivateKey, ixs ...solana.Instruction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ixs)
	f.payers = append(f.payers, payer.PublicKey())
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	return solana.Signature{1}, nil
}

func (f *fakeChain) GetAccountData(context.Context, solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.account, f.accErr
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func gateAccountBytes(open bool, oracle solana.PublicKey) []byte {
	data := append([]byte{}, gateAccountDiscriminator...)
	if open {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	return append(data, oracle[:]...)
}

func newTestGate(t *testing.T, chain *fakeChain, attempts int) (*GateClient, solana.PrivateKey) {
	oracle := newKey(t)
	program := newKey(t).PublicKey()
	gate := NewGateClient(chain, program, oracle, GateConfig{
		MaxAttempts: attempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
		CacheTTL:    time.Minute,
	}, nil)
	return gate, oracle
}

func TestGateOpenBuildsSetGateInstruction(t *testing.T) {
	chain := &fakeChain{}
	gate, oracle := newTestGate(t, chain, 3)

	require.NoError(t, gate.Open(context.Background()))
	require.Len(t, chain.sent, 1)
	assert.Equal(t, oracle.PublicKey(), chain.payers[0])

	ix := chain.sent[0][0]
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, setGateDiscriminator, data[:8])
	assert.Equal(t, byte(1), data[8])

	pda, _, err := gate.GatePDA()
	require.NoError(t, err)
	accounts := ix.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, pda, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsWritable)
	assert.True(t, accounts[1].IsSigner)

	require.NoError(t, gate.Close(context.Background()))
	data, _ = chain.sent[1][0].Data()
	assert.Equal(t, byte(0), data[8])
}

func TestGateRetriesTransientFailures(t *testing.T) {
	chain := &fakeChain{sendErrs: []error{errors.New("blockhash not found"), errors.New("timeout"), nil}}
	gate, _ := newTestGate(t, chain, 3)

	require.NoError(t, gate.Close(context.Background()))
	assert.Len(t, chain.sent, 3)
}

func TestGateGivesUpAfterMaxAttempts(t *testing.T) {
	chain := &fakeChain{sendErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	gate, _ := newTestGate(t, chain, 2)

	err := gate.Close(context.Background())
	require.Error(t, err)
	assert.Len(t, chain.sent, 2)
	assert.NotErrorIs(t, err, ErrGateUnauthorized)
}

func TestGateUnauthorizedIsNotRetried(t *testing.T) {
	chain := &fakeChain{sendErrs: []error{errors.New("failed to send transaction: custom program error: 0x7d1")}}
	gate, _ := newTestGate(t, chain, 5)

	err := gate.Open(context.Background())
	require.ErrorIs(t, err, ErrGateUnauthorized)
	assert.Len(t, chain.sent, 1)
}

func TestGateCheckStateCachesUntilToggle(t *testing.T) {
	chain := &fakeChain{}
	gate, oracle := newTestGate(t, chain, 1)
	chain.account = gateAccountBytes(true, oracle.PublicKey())

	state, err := gate.CheckState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.IsOpen)
	assert.Equal(t, oracle.PublicKey(), state.Oracle)

	_, err = gate.CheckState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.reads)

	require.NoError(t, gate.Close(context.Background()))
	chain.account = gateAccountBytes(false, oracle.PublicKey())
	state, err = gate.CheckState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsOpen)
	assert.Equal(t, 2, chain.reads)
}

func TestGateCheckStateErrors(t *testing.T) {
	chain := &fakeChain{accErr: ErrAccountNotFound}
	gate, _ := newTestGate(t, chain, 1)
	_, err := gate.CheckState(context.Background())
	assert.ErrorIs(t, err, ErrGateNotFound)

	_, err = decodeGateAccount([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrGateDecode)

	bad := gateAccountBytes(true, solana.PublicKey{})
	bad[0] ^= 0xff
	_, err = decodeGateAccount(bad)
	assert.ErrorIs(t, err, ErrGateDecode)
}

func TestCheckGateInstruction(t *testing.T) {
	gate, _ := newTestGate(t, &fakeChain{}, 1)
	ix, err := gate.CheckGateInstruction()
	require.NoError(t, err)
	data, _ := ix.Data()
	assert.Equal(t, checkGateDiscriminator, data)
	assert.Equal(t, gate.ProgramID(), ix.ProgramID())
	require.Len(t, ix.Accounts(), 1)
	assert.False(t, ix.Accounts()[0].IsWritable)
}

// observed builds a transaction that satisfies the matching rule for claim
func observed(collection, gateProgram solana.PublicKey, claim BetClaim, memo string) *ObservedTransaction {
	payer := solana.PublicKey{9}
	transfer := make([]byte, 12)
	binary.LittleEndian.PutUint32(transfer[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(transfer[4:12], claim.Lamports)

	return &ObservedTransaction{
		Found:        true,
		Confirmed:    true,
		AccountKeys:  []solana.PublicKey{payer, collection},
		PreBalances:  []uint64{10 * claim.Lamports, 5},
		PostBalances: []uint64{9 * claim.Lamports, 5 + claim.Lamports},
		Instructions: []ObservedInstruction{
			{ProgramID: gateProgram, Data: append([]byte{}, checkGateDiscriminator...)},
			{ProgramID: MemoProgramID, Data: []byte(memo)},
			{ProgramID: solana.SystemProgramID, Accounts: []solana.PublicKey{payer, collection}, Data: transfer},
		},
	}
}

func TestMatchBetTransfer(t *testing.T) {
	collection := solana.PublicKey{1}
	gateProgram := solana.PublicKey{2}
	claim := BetClaim{BetID: "bet-1", Side: models.SideRed, Lamports: 500_000_000}
	goodMemo := `{"color":"red","fighterName":"Ryu","referrerWallet":"","b_id":"bet-1"}`

	reason := func(err error) MismatchReason {
		var verr *VerificationError
		if errors.As(err, &verr) {
			return verr.Reason
		}
		return ""
	}

	t.Run("accepts matching transaction", func(t *testing.T) {
		memo, err := MatchBetTransfer(observed(collection, gateProgram, claim, goodMemo), collection, gateProgram, claim)
		require.NoError(t, err)
		assert.Equal(t, "Ryu", memo.FighterName)
	})

	tests := []struct {
		name   string
		mutate func(o *ObservedTransaction)
		want   MismatchReason
	}{
		{"not found", func(o *ObservedTransaction) { o.Found = false }, ReasonNotFound},
		{"not confirmed", func(o *ObservedTransaction) { o.Confirmed = false }, ReasonNotConfirmed},
		{"failed", func(o *ObservedTransaction) { o.Failed = true }, ReasonTxFailed},
		{"no transfer", func(o *ObservedTransaction) { o.Instructions = o.Instructions[:2] }, ReasonNoTransfer},
		{"wrong destination", func(o *ObservedTransaction) { o.Instructions[2].Accounts[1] = solana.PublicKey{7} }, ReasonWrongDestination},
		{"short amount", func(o *ObservedTransaction) {
			binary.LittleEndian.PutUint64(o.Instructions[2].Data[4:12], claim.Lamports-1)
		}, ReasonInsufficientAmount},
		{"balance disagrees", func(o *ObservedTransaction) { o.PostBalances[1] = 5 }, ReasonInsufficientAmount},
		{"no memo", func(o *ObservedTransaction) { o.Instructions[1].ProgramID = solana.PublicKey{8} }, ReasonMemoMissing},
		{"other bet id", func(o *ObservedTransaction) {
			o.Instructions[1].Data = []byte(`{"color":"red","b_id":"bet-2"}`)
		}, ReasonMemoMismatch},
		{"memo not json", func(o *ObservedTransaction) { o.Instructions[1].Data = []byte("hello") }, ReasonMemoMismatch},
		{"wrong color", func(o *ObservedTransaction) {
			o.Instructions[1].Data = []byte(`{"color":"blue","b_id":"bet-1"}`)
		}, ReasonMemoMismatch},
		{"no gate check", func(o *ObservedTransaction) { o.Instructions = o.Instructions[1:] }, ReasonGateCheckMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := observed(collection, gateProgram, claim, goodMemo)
			tt.mutate(obs)
			_, err := MatchBetTransfer(obs, collection, gateProgram, claim)
			assert.Equal(t, tt.want, reason(err))
		})
	}

	t.Run("legacy memo program", func(t *testing.T) {
		obs := observed(collection, gateProgram, claim, goodMemo)
		obs.Instructions[1].ProgramID = LegacyMemoProgramID
		_, err := MatchBetTransfer(obs, collection, gateProgram, claim)
		assert.NoError(t, err)
	})
}

type fakeFetcher struct {
	obs *ObservedTransaction
	err error
}

func (f fakeFetcher) FetchTransaction(context.Context, string) (*ObservedTransaction, error) {
	return f.obs, f.err
}

func TestBetVerifierPassesRPCErrorsThrough(t *testing.T) {
	rpcErr := errors.New("connection refused")
	v := NewBetVerifier(fakeFetcher{err: rpcErr}, solana.PublicKey{1}, solana.PublicKey{2})
	_, err := v.VerifyBetTransfer(context.Background(), "sig", BetClaim{BetID: "x"})
	require.ErrorIs(t, err, rpcErr)

	var verr *VerificationError
	assert.False(t, errors.As(err, &verr))
}

func TestMemoReferrerPublicKey(t *testing.T) {
	wallet := newKey(t).PublicKey()
	memo := &MemoPayload{ReferrerWallet: wallet.String()}
	key, ok := memo.ReferrerPublicKey()
	require.True(t, ok)
	assert.Equal(t, wallet, key)

	_, ok = (&MemoPayload{ReferrerWallet: "not-base58-0OIl"}).ReferrerPublicKey()
	assert.False(t, ok)
	_, ok = (&MemoPayload{}).ReferrerPublicKey()
	assert.False(t, ok)
}

func TestPayoutSenderBatch(t *testing.T) {
	chain := &fakeChain{}
	house := newKey(t)
	sender := NewPayoutSender(chain, house)

	a, b := newKey(t).PublicKey(), newKey(t).PublicKey()
	sig, err := sender.SendBatch(context.Background(), []Transfer{
		{Wallet: a.String(), Lamports: 100},
		{Wallet: b.String(), Lamports: 0},
		{Wallet: b.String(), Lamports: 250},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	require.Len(t, chain.sent, 1)
	assert.Len(t, chain.sent[0], 2)
	assert.Equal(t, house.PublicKey(), chain.payers[0])

	_, err = sender.SendBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = sender.SendBatch(context.Background(), []Transfer{{Wallet: "bogus", Lamports: 1}})
	assert.Error(t, err)
}

func TestLamportConversion(t *testing.T) {
	assert.Equal(t, uint64(1_500_000_000), ToLamports(decimal.RequireFromString("1.5")))
	assert.Equal(t, uint64(1), ToLamports(decimal.RequireFromString("0.0000000019")))
	assert.Equal(t, uint64(0), ToLamports(decimal.NewFromInt(-1)))
	assert.True(t, FromLamports(10_000_000).Equal(decimal.RequireFromString("0.01")))
}

func TestVerifyWalletSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wallet := base58.Encode(pub)
	msg := "Sign in to SoltyBet"
	sig := base58.Encode(ed25519.Sign(priv, []byte(msg)))

	require.NoError(t, VerifyWalletSignature(wallet, msg, sig))
	assert.ErrorIs(t, VerifyWalletSignature(wallet, "other", sig), ErrInvalidWalletSignature)
	assert.Error(t, VerifyWalletSignature("abc", msg, sig))
}
