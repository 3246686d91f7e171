package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"soltybet/internal/auth"
	"soltybet/internal/blockchain"
	"soltybet/internal/config"
	"soltybet/internal/database"
	"soltybet/internal/handlers"
	"soltybet/internal/ingest"
	"soltybet/internal/jobs"
	"soltybet/internal/metrics"
	"soltybet/internal/notify"
	"soltybet/internal/phase"
	"soltybet/internal/repository"
	"soltybet/internal/services"
)

type alerter interface {
	Error(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewTokens(cfg.App)
	if err != nil {
		log.Fatalf("Failed to set up session tokens: %v", err)
	}

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	m := metrics.New()
	repo := repository.NewRepository(database.GetDB())

	var alerts alerter = notify.LogAlerter{}
	if cfg.Alerts.DiscordWebhookURL != "" {
		alerts = notify.NewDiscordAlerter(cfg.Alerts.DiscordWebhookURL)
	} else {
		log.Println("DISCORD_WEBHOOK_URL not set, alerts go to the log only")
	}

	// Solana
	solanaClient := blockchain.NewSolanaClient(cfg.Solana.Network, cfg.Solana.RPCURL, cfg.Solana.RequestsPerSecond)

	collection, err := solana.PublicKeyFromBase58(cfg.Solana.CollectionAddress)
	if err != nil {
		log.Fatalf("Invalid COLLECTION_ADDRESS: %v", err)
	}
	gateProgram, err := solana.PublicKeyFromBase58(cfg.Solana.GateProgramID)
	if err != nil {
		log.Fatalf("Invalid GATE_PROGRAM_ID: %v", err)
	}

	oracleKey, err := blockchain.LoadKey("oracle key", cfg.Solana.OracleKey)
	if err != nil {
		log.Printf("Warning: %v, deposit gate toggles will fail", err)
	}
	houseKey, err := blockchain.LoadKey("house key", cfg.Solana.HouseKey)
	if err != nil {
		log.Printf("Warning: %v, payouts will fail", err)
	}

	gate := blockchain.NewGateClient(solanaClient, gateProgram, oracleKey, blockchain.GateConfig{
		MaxAttempts: cfg.Timing.GateMaxAttempts,
		BackoffBase: cfg.Timing.GateBackoffBase,
		BackoffMax:  cfg.Timing.GateBackoffMax,
		CacheTTL:    cfg.Timing.GateCacheTTL,
	}, m)
	verifier := blockchain.NewBetVerifier(solanaClient, collection, gateProgram)
	sender := blockchain.NewPayoutSender(solanaClient, houseKey)

	diag := blockchain.RunDiagnostics(context.Background(), solanaClient, gate)
	if !diag.RPCConnected {
		log.Printf("Warning: Solana RPC unreachable at startup: %s", diag.RPCError)
	}

	// Initialize services
	ledger := services.NewLedgerService(repo, verifier, alerts, m, services.LedgerConfig{
		MinStake:             cfg.Betting.MinStake,
		MaxStake:             cfg.Betting.MaxStake,
		ConfirmMaxAttempts:   cfg.Timing.ConfirmMaxAttempts,
		ConfirmDelay:         cfg.Timing.ConfirmDelay,
		ConfirmTimeout:       cfg.Timing.ConfirmTimeout,
		ReconcileMaxAttempts: cfg.Timing.ReconcileMaxAttempts,
	})
	payouts := services.NewPayoutService(repo, sender, alerts, m, services.PayoutConfig{
		Fees: services.FeeSchedule{
			Standard: cfg.Betting.FeeFactor,
			Referred: cfg.Betting.ReferredFeeFactor,
		},
		ReferrerShare: cfg.Betting.ReferrerShare,
		BatchSize:     cfg.Timing.PayoutBatchSize,
		BatchAttempts: cfg.Timing.PayoutBatchAttempts,
		RetryDelay:    cfg.Timing.PayoutRetryDelay,
	})
	authService := services.NewAuthService(repo)
	statsService := services.NewStatsService(repo)
	referralService := services.NewReferralService(repo)

	// Phase machine
	phaseConfig := phase.DefaultConfig()
	phaseConfig.LockPollInterval = cfg.Timing.LockPollInterval
	phaseConfig.LockPollWindow = cfg.Timing.LockPollWindow
	machine := phase.NewMachine(phaseConfig, gate, ledger, payouts, alerts, m)
	ledger.SetPhaseReader(machine)

	hub := notify.NewHub(machine, notify.DefaultHubConfig(), m)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		if err := machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Phase machine stopped: %v", err)
		}
	}()
	go hub.Run(ctx)

	if cfg.Feed.Enabled {
		feedConfig := ingest.DefaultFeedConfig(cfg.Feed.URL, cfg.Feed.Channel)
		feedConfig.TargetUserID = cfg.Feed.TargetUserID
		feedConfig.TargetRoomID = cfg.Feed.TargetRoomID
		feedConfig.ReconnectMinDelay = cfg.Feed.ReconnectMin
		feedConfig.ReconnectMaxDelay = cfg.Feed.ReconnectMax
		feedConfig.ReconnectMaxAttempts = cfg.Feed.MaxReconnectAttempts

		feed := ingest.NewFeedClient(feedConfig, machine, alerts, m)
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Feed stopped: %v", err)
			}
		}()
		log.Printf("Feed started on #%s", cfg.Feed.Channel)
	}

	// Background jobs
	reconciler := jobs.NewReconciler(ledger, cfg.Timing.ReconcileInterval)
	go reconciler.Start()
	payoutRetrier := jobs.NewPayoutRetrier(payouts, cfg.Timing.PayoutRetryInterval)
	go payoutRetrier.Start()

	// Set up Gin router
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", "X-Admin-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes := &handlers.Router{
		Auth:       handlers.NewAuthHandler(authService, tokens),
		User:       handlers.NewUserHandler(statsService, authService, solanaClient),
		Bet:        handlers.NewBetHandler(ledger),
		Match:      handlers.NewMatchHandler(ledger, statsService, machine),
		Referral:   handlers.NewReferralHandler(referralService),
		Blockchain: handlers.NewBlockchainHandler(gate, collection),
		Admin: handlers.NewAdminHandler(machine, gate, ledger, payouts, func(ctx context.Context) *blockchain.DiagnosticResult {
			return blockchain.RunDiagnostics(ctx, solanaClient, gate)
		}),
		PhaseStream: hub,
		Metrics:     m.Handler(),
		AdminKey:    cfg.Admin.APIKey,
		Tokens:      tokens,
	}
	routes.Register(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)
		log.Printf("Phase stream: ws://localhost:%s/ws/phase", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	reconciler.Stop()
	payoutRetrier.Stop()
	stop()

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
