package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"soltybet/internal/blockchain"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"
)

// GateReader is the read side of the deposit gate
type GateReader interface {
	CheckState(ctx context.Context) (*blockchain.GateState, error)
	CheckGateInstruction() (solana.Instruction, error)
	ProgramID() solana.PublicKey
}

type BlockchainHandler struct {
	gate       GateReader
	collection solana.PublicKey
}

func NewBlockchainHandler(gate GateReader, collection solana.PublicKey) *BlockchainHandler {
	return &BlockchainHandler{gate: gate, collection: collection}
}

type accountMetaJSON struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type instructionJSON struct {
	ProgramID string            `json:"program_id"`
	Accounts  []accountMetaJSON `json:"accounts"`
	Data      string            `json:"data"`
}

// GetGate returns the gate state plus everything a client needs to build a
// bet transaction: the check_gate instruction, the memo program and the
// collection address
// GET /api/gate
func (h *BlockchainHandler) GetGate(c *gin.Context) {
	state, err := h.gate.CheckState(c.Request.Context())
	if errors.Is(err, blockchain.ErrGateNotFound) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "deposit gate not initialized"})
		return
	}
	if err != nil {
		log.Printf("[API] gate state read failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read gate state"})
		return
	}

	ix, err := h.gate.CheckGateInstruction()
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := ix.Data()
	if err != nil {
		respondError(c, err)
		return
	}

	check := instructionJSON{ProgramID: ix.ProgramID().String(), Data: base58.Encode(data)}
	for _, acc := range ix.Accounts() {
		check.Accounts = append(check.Accounts, accountMetaJSON{
			Pubkey:     acc.PublicKey.String(),
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"is_open":            state.IsOpen,
		"oracle":             state.Oracle.String(),
		"program_id":         h.gate.ProgramID().String(),
		"collection_address": h.collection.String(),
		"memo_program_id":    blockchain.MemoProgramID.String(),
		"check_gate":         check,
	})
}
