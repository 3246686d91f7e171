package blockchain

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"soltybet/internal/metrics"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const gateSeed = "deposit_gate"

var (
	ErrGateUnauthorized = errors.New("gate: signer is not the registered oracle")
	ErrGateNotFound     = errors.New("gate: account not initialized")
	ErrGateDecode       = errors.New("gate: unexpected account data")
)

var (
	setGateDiscriminator     = anchorDiscriminator("global", "set_gate")
	checkGateDiscriminator   = anchorDiscriminator("global", "check_gate")
	initializeDiscriminator  = anchorDiscriminator("global", "initialize")
	gateAccountDiscriminator = anchorDiscriminator("account", "DepositGate")
)

// anchorDiscriminator is the first 8 bytes of sha256("<namespace>:<name>")
func anchorDiscriminator(namespace, name string) []byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	return sum[:8]
}

// chainClient is the subset of SolanaClient the gate and payouts need
type chainClient interface {
	SendInstructions(ctx context.Context, payer solana.PrivateKey, instructions ...solana.Instruction) (solana.Signature, error)
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
}

// GateState is the decoded DepositGate account
type GateState struct {
	IsOpen bool             `json:"is_open"`
	Oracle solana.PublicKey `json:"oracle"`
}

type gateAccount struct {
	IsOpen bool
	Oracle solana.PublicKey
}

// GateConfig bounds toggle retries and state caching
type GateConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	CacheTTL    time.Duration
}

// GateClient drives the deposit gate program with the oracle key
type GateClient struct {
	chain     chainClient
	programID solana.PublicKey
	oracle    solana.PrivateKey
	config    GateConfig
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	cached   *GateState
	cachedAt time.Time
}

func NewGateClient(chain chainClient, programID solana.PublicKey, oracle solana.PrivateKey, config GateConfig, m *metrics.Metrics) *GateClient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &GateClient{
		chain:     chain,
		programID: programID,
		oracle:    oracle,
		config:    config,
		metrics:   m,
		now:       time.Now,
	}
}

// ProgramID returns the gate program address
func (g *GateClient) ProgramID() solana.PublicKey {
	return g.programID
}

// GatePDA derives the gate account address
func (g *GateClient) GatePDA() (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress([][]byte{[]byte(gateSeed)}, g.programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive gate PDA: %w", err)
	}
	return pda, bump, nil
}

// Open allows deposits
func (g *GateClient) Open(ctx context.Context) error {
	return g.setGate(ctx, true)
}

// Close rejects deposits
func (g *GateClient) Close(ctx context.Context) error {
	return g.setGate(ctx, false)
}

func (g *GateClient) setGate(ctx context.Context, open bool) error {
	action := "close"
	if open {
		action = "open"
	}

	ix, err := g.setGateInstruction(open)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		sig, err := g.chain.SendInstructions(ctx, g.oracle, ix)
		if err == nil {
			log.Printf("[Gate] %s succeeded: %s", action, sig)
			g.metrics.GateToggle(action, "ok")
			g.invalidate()
			return nil
		}

		if isUnauthorized(err) {
			g.metrics.GateToggle(action, "unauthorized")
			return fmt.Errorf("%w: %v", ErrGateUnauthorized, err)
		}

		lastErr = err
		log.Printf("[Gate] %s attempt %d/%d failed: %v", action, attempt, g.config.MaxAttempts, err)
		if attempt == g.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			g.metrics.GateToggle(action, "error")
			return ctx.Err()
		case <-time.After(g.backoff(attempt)):
		}
	}

	g.metrics.GateToggle(action, "error")
	return fmt.Errorf("gate %s failed after %d attempts: %w", action, g.config.MaxAttempts, lastErr)
}

func (g *GateClient) backoff(attempt int) time.Duration {
	delay := g.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if g.config.BackoffMax > 0 && delay >= g.config.BackoffMax {
			return g.config.BackoffMax
		}
	}
	return delay
}

// isUnauthorized recognizes the has_one constraint failure on the oracle account
func isUnauthorized(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ConstraintHasOne") ||
		strings.Contains(msg, "custom program error: 0x7d1") ||
		strings.Contains(msg, "missing required signature")
}

func (g *GateClient) setGateInstruction(open bool) (solana.Instruction, error) {
	pda, _, err := g.GatePDA()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 9)
	copy(data[0:8], setGateDiscriminator)
	if open {
		data[8] = 1
	}

	accounts := []*solana.AccountMeta{
		{PublicKey: pda, IsWritable: true, IsSigner: false},                    // gate
		{PublicKey: g.oracle.PublicKey(), IsWritable: false, IsSigner: true}, // oracle
	}
	return solana.NewInstruction(g.programID, accounts, data), nil
}

// CheckGateInstruction returns the check_gate instruction bettors place ahead of their transfer
func (g *GateClient) CheckGateInstruction() (solana.Instruction, error) {
	pda, _, err := g.GatePDA()
	if err != nil {
		return nil, err
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: pda, IsWritable: false, IsSigner: false},
	}
	return solana.NewInstruction(g.programID, accounts, append([]byte{}, checkGateDiscriminator...)), nil
}

// Initialize creates the gate account with oracle as the only key allowed to toggle it
func (g *GateClient) Initialize(ctx context.Context, authority solana.PrivateKey, oracle solana.PublicKey) (solana.Signature, error) {
	pda, _, err := g.GatePDA()
	if err != nil {
		return solana.Signature{}, err
	}

	data := make([]byte, 40)
	copy(data[0:8], initializeDiscriminator)
	copy(data[8:40], oracle[:])

	accounts := []*solana.AccountMeta{
		{PublicKey: authority.PublicKey(), IsWritable: true, IsSigner: true},    // authority
		{PublicKey: pda, IsWritable: true, IsSigner: false},                     // gate
		{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false}, // system_program
	}

	sig, err := g.chain.SendInstructions(ctx, authority, solana.NewInstruction(g.programID, accounts, data))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to initialize gate: %w", err)
	}
	g.invalidate()
	return sig, nil
}

// CheckState reads the gate account, served from cache within the TTL
func (g *GateClient) CheckState(ctx context.Context) (*GateState, error) {
	g.mu.Lock()
	if g.cached != nil && g.now().Sub(g.cachedAt) < g.config.CacheTTL {
		state := *g.cached
		g.mu.Unlock()
		return &state, nil
	}
	g.mu.Unlock()

	pda, _, err := g.GatePDA()
	if err != nil {
		return nil, err
	}

	data, err := g.chain.GetAccountData(ctx, pda)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrGateNotFound
	}
	if err != nil {
		return nil, err
	}

	state, err := decodeGateAccount(data)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cached = state
	g.cachedAt = g.now()
	g.mu.Unlock()

	copied := *state
	return &copied, nil
}

func (g *GateClient) invalidate() {
	g.mu.Lock()
	g.cached = nil
	g.mu.Unlock()
}

func decodeGateAccount(data []byte) (*GateState, error) {
	if len(data) < 8+1+32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrGateDecode, len(data))
	}
	if string(data[:8]) != string(gateAccountDiscriminator) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrGateDecode)
	}

	var acct gateAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateDecode, err)
	}
	return &GateState{IsOpen: acct.IsOpen, Oracle: acct.Oracle}, nil
}
