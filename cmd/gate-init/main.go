// Command gate-init creates the deposit gate account, making the configured
// oracle the only key allowed to open and close it. The authority pays rent.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"soltybet/internal/blockchain"
	"soltybet/internal/config"

	"github.com/gagliardetto/solana-go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	authority, err := blockchain.LoadKey("authority key", os.Getenv("GATE_AUTHORITY_PRIVATE_KEY"))
	if err != nil {
		log.Fatalf("%v", err)
	}
	oracle, err := blockchain.LoadKey("oracle key", cfg.Solana.OracleKey)
	if err != nil {
		log.Fatalf("%v", err)
	}
	programID, err := solana.PublicKeyFromBase58(cfg.Solana.GateProgramID)
	if err != nil {
		log.Fatalf("Invalid GATE_PROGRAM_ID: %v", err)
	}

	client := blockchain.NewSolanaClient(cfg.Solana.Network, cfg.Solana.RPCURL, cfg.Solana.RequestsPerSecond)
	gate := blockchain.NewGateClient(client, programID, oracle, blockchain.GateConfig{MaxAttempts: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if state, err := gate.CheckState(ctx); err == nil {
		log.Printf("Gate already initialized (open=%v, oracle=%s)", state.IsOpen, state.Oracle)
		return
	}

	sig, err := gate.Initialize(ctx, authority, oracle.PublicKey())
	if err != nil {
		log.Fatalf("Failed to initialize gate: %v", err)
	}
	log.Printf("Gate initialized: %s", sig)
}
