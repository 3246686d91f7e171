package blockchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

var ErrEmptyBatch = errors.New("payout batch is empty")

// Transfer is one outgoing payment
type Transfer struct {
	Wallet   string
	Lamports uint64
}

// PayoutSender pays winners out of the house wallet
type PayoutSender struct {
	chain chainClient
	house solana.PrivateKey
}

func NewPayoutSender(chain chainClient, house solana.PrivateKey) *PayoutSender {
	return &PayoutSender{chain: chain, house: house}
}

// SendBatch sends every transfer in a single transaction and returns its signature
func (p *PayoutSender) SendBatch(ctx context.Context, transfers []Transfer) (string, error) {
	if len(transfers) == 0 {
		return "", ErrEmptyBatch
	}

	from := p.house.PublicKey()
	instructions := make([]solana.Instruction, 0, len(transfers))
	for _, t := range transfers {
		to, err := solana.PublicKeyFromBase58(t.Wallet)
		if err != nil {
			return "", fmt.Errorf("invalid payout wallet %q: %w", t.Wallet, err)
		}
		if t.Lamports == 0 {
			continue
		}
		instructions = append(instructions, system.NewTransferInstruction(t.Lamports, from, to).Build())
	}
	if len(instructions) == 0 {
		return "", ErrEmptyBatch
	}

	sig, err := p.chain.SendInstructions(ctx, p.house, instructions...)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
