package blockchain

import (
	"context"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"
)

// DiagnosticResult holds the result of a Solana connectivity diagnostic
type DiagnosticResult struct {
	RPCConnected    bool   `json:"rpc_connected"`
	RPCURL          string `json:"rpc_url"`
	RPCError        string `json:"rpc_error,omitempty"`
	LatestBlockhash string `json:"latest_blockhash,omitempty"`
	OracleKeySet    bool   `json:"oracle_key_set"`
	OraclePubkey    string `json:"oracle_pubkey,omitempty"`
	ProgramID       string `json:"program_id"`
	GatePDA         string `json:"gate_pda,omitempty"`
	PDAError        string `json:"pda_error,omitempty"`
	GateOpen        *bool  `json:"gate_open,omitempty"`
	GateOracle      string `json:"gate_oracle,omitempty"`
	GateError       string `json:"gate_error,omitempty"`
	OracleMatches   bool   `json:"oracle_matches"`
	Timestamp       string `json:"timestamp"`
}

type blockhashSource interface {
	Endpoint() string
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// RunDiagnostics checks RPC connectivity, the oracle key, PDA derivation and the on-chain gate
func RunDiagnostics(ctx context.Context, rpc blockhashSource, gate *GateClient) *DiagnosticResult {
	result := &DiagnosticResult{
		Timestamp: time.Now().Format(time.RFC3339),
		ProgramID: gate.ProgramID().String(),
		RPCURL:    rpc.Endpoint(),
	}

	blockhash, err := rpc.LatestBlockhash(ctx)
	if err != nil {
		result.RPCError = err.Error()
		log.Printf("[Diagnostics] RPC failed: %v", err)
	} else {
		result.RPCConnected = true
		result.LatestBlockhash = blockhash.String()
	}

	if len(gate.oracle) > 0 {
		result.OracleKeySet = true
		result.OraclePubkey = gate.oracle.PublicKey().String()
	}

	pda, _, err := gate.GatePDA()
	if err != nil {
		result.PDAError = err.Error()
		return result
	}
	result.GatePDA = pda.String()

	// diagnostics always read through to the chain
	gate.invalidate()
	state, err := gate.CheckState(ctx)
	if err != nil {
		result.GateError = err.Error()
		log.Printf("[Diagnostics] gate read failed: %v", err)
		return result
	}
	open := state.IsOpen
	result.GateOpen = &open
	result.GateOracle = state.Oracle.String()
	result.OracleMatches = result.OracleKeySet && state.Oracle.Equals(gate.oracle.PublicKey())
	if result.OracleKeySet && !result.OracleMatches {
		log.Printf("[Diagnostics] gate oracle %s does not match configured key %s", result.GateOracle, result.OraclePubkey)
	}

	return result
}
