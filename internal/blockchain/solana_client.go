package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTxNotFound      = errors.New("transaction not found")
)

// SolanaClient handles Solana blockchain interactions. Every RPC call waits on a shared rate limiter.
type SolanaClient struct {
	rpcClient *rpc.Client
	rpcURL    string
	network   string
	limiter   *rate.Limiter
}

// NewSolanaClient creates a new Solana client. An empty rpcURL picks the public endpoint of network.
func NewSolanaClient(network, rpcURL string, requestsPerSecond float64) *SolanaClient {
	if rpcURL == "" {
		switch network {
		case "mainnet-beta":
			rpcURL = rpc.MainNetBeta_RPC
		case "testnet":
			rpcURL = rpc.TestNet_RPC
		default:
			rpcURL = rpc.DevNet_RPC
		}
	}

	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &SolanaClient{
		rpcClient: rpc.New(rpcURL),
		rpcURL:    rpcURL,
		network:   network,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Endpoint returns the RPC URL in use
func (s *SolanaClient) Endpoint() string {
	return s.rpcURL
}

func (s *SolanaClient) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// LatestBlockhash gets the latest finalized blockhash
func (s *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := s.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	resp, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// SendInstructions builds, signs and sends a transaction paid by payer
func (s *SolanaClient) SendInstructions(ctx context.Context, payer solana.PrivateKey, instructions ...solana.Instruction) (solana.Signature, error) {
	recent, err := s.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	payerKey := payer.PublicKey()
	tx, err := solana.NewTransaction(
		instructions,
		recent,
		solana.TransactionPayer(payerKey),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payerKey) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := s.rpcClient.SendTransactionWithOpts(
		ctx,
		tx,
		rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// GetAccountData returns the raw data of an account
func (s *SolanaClient) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	info, err := s.rpcClient.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", account, err)
	}
	if info == nil || info.Value == nil {
		return nil, ErrAccountNotFound
	}
	return info.Value.Data.GetBinary(), nil
}

// FetchTransaction loads a transaction and its status into an ObservedTransaction.
// A signature the cluster does not know yields Found == false without error.
func (s *SolanaClient) FetchTransaction(ctx context.Context, signature string) (*ObservedTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	obs := &ObservedTransaction{Signature: signature}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	status, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if status == nil || len(status.Value) == 0 || status.Value[0] == nil {
		return obs, nil
	}

	st := status.Value[0]
	obs.Found = true
	obs.Confirmed = st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	if st.Err != nil {
		obs.Failed = true
		obs.Err = fmt.Sprintf("%v", st.Err)
	}
	if !obs.Confirmed || obs.Failed {
		return obs, nil
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	maxVersion := uint64(0)
	result, err := s.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		obs.Found = false
		return obs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction details: %w", err)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	if result.Meta != nil {
		if result.Meta.Err != nil {
			obs.Failed = true
			obs.Err = fmt.Sprintf("%v", result.Meta.Err)
		}
		keys = append(keys, result.Meta.LoadedAddresses.Writable...)
		keys = append(keys, result.Meta.LoadedAddresses.ReadOnly...)
		obs.PreBalances = result.Meta.PreBalances
		obs.PostBalances = result.Meta.PostBalances
	}
	obs.AccountKeys = keys

	for _, ix := range tx.Message.Instructions {
		decoded := ObservedInstruction{Data: ix.Data}
		if int(ix.ProgramIDIndex) < len(keys) {
			decoded.ProgramID = keys[ix.ProgramIDIndex]
		}
		for _, idx := range ix.Accounts {
			if int(idx) < len(keys) {
				decoded.Accounts = append(decoded.Accounts, keys[idx])
			}
		}
		obs.Instructions = append(obs.Instructions, decoded)
	}

	return obs, nil
}

// GetSOLBalance gets the SOL balance for a wallet
func (s *SolanaClient) GetSOLBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	pubKey, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	balance, err := s.rpcClient.GetBalance(ctx, pubKey, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, err
	}

	return FromLamports(balance.Value), nil
}

// LoadKey parses a base58 private key, logging the derived public key
func LoadKey(name, encoded string) (solana.PrivateKey, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%s not set", name)
	}
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	log.Printf("[Solana] %s loaded: %s", name, key.PublicKey())
	return key, nil
}
