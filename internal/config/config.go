package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	App      AppConfig
	Solana   SolanaConfig
	Feed     FeedConfig
	Betting  BettingConfig
	Timing   TimingConfig
	Alerts   AlertsConfig
	Admin    AdminConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// DefaultJWTExpiry is the session token lifetime when JWT_EXPIRY is unset
const DefaultJWTExpiry = 24 * time.Hour

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret   string
	JWTExpiry   time.Duration
	Environment string
}

// SolanaConfig holds RPC endpoint, program ids and signing keys
type SolanaConfig struct {
	RPCURL            string
	Network           string
	CollectionAddress string
	GateProgramID     string
	// OracleKey signs set_gate, base58 encoded
	OracleKey string
	// HouseKey signs payout transfers out of the collection wallet
	HouseKey          string
	RequestsPerSecond float64
}

// FeedConfig holds the chat relay connection settings
type FeedConfig struct {
	Enabled              bool
	URL                  string
	Channel              string
	TargetUserID         string
	TargetRoomID         string
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

// BettingConfig holds stake bounds and fee factors
type BettingConfig struct {
	MinStake          decimal.Decimal
	MaxStake          decimal.Decimal
	FeeFactor         decimal.Decimal
	ReferredFeeFactor decimal.Decimal
	ReferrerShare     decimal.Decimal
}

// TimingConfig holds every retry bound and polling interval
type TimingConfig struct {
	LockPollInterval     time.Duration
	LockPollWindow       time.Duration
	ConfirmMaxAttempts   int
	ConfirmDelay         time.Duration
	ConfirmTimeout       time.Duration
	GateMaxAttempts      int
	GateBackoffBase      time.Duration
	GateBackoffMax       time.Duration
	GateCacheTTL         time.Duration
	PayoutBatchSize      int
	PayoutBatchAttempts  int
	PayoutRetryDelay     time.Duration
	PayoutRetryInterval  time.Duration
	ReconcileInterval    time.Duration
	ReconcileMaxAttempts int
}

// AlertsConfig holds escalation targets
type AlertsConfig struct {
	DiscordWebhookURL string
}

// AdminConfig holds operator access settings
type AdminConfig struct {
	APIKey string
}

// tuningFile is the optional YAML overlay for betting and timing knobs
type tuningFile struct {
	Betting struct {
		MinStake          string `yaml:"min_stake"`
		MaxStake          string `yaml:"max_stake"`
		FeeFactor         string `yaml:"fee_factor"`
		ReferredFeeFactor string `yaml:"referred_fee_factor"`
		ReferrerShare     string `yaml:"referrer_share"`
	} `yaml:"betting"`
	Timing struct {
		LockPollInterval     string `yaml:"lock_poll_interval"`
		LockPollWindow       string `yaml:"lock_poll_window"`
		ConfirmMaxAttempts   int    `yaml:"confirm_max_attempts"`
		ConfirmDelay         string `yaml:"confirm_delay"`
		ConfirmTimeout       string `yaml:"confirm_timeout"`
		GateMaxAttempts      int    `yaml:"gate_max_attempts"`
		GateBackoffBase      string `yaml:"gate_backoff_base"`
		GateBackoffMax       string `yaml:"gate_backoff_max"`
		GateCacheTTL         string `yaml:"gate_cache_ttl"`
		PayoutBatchSize      int    `yaml:"payout_batch_size"`
		PayoutBatchAttempts  int    `yaml:"payout_batch_attempts"`
		PayoutRetryDelay     string `yaml:"payout_retry_delay"`
		PayoutRetryInterval  string `yaml:"payout_retry_interval"`
		ReconcileInterval    string `yaml:"reconcile_interval"`
		ReconcileMaxAttempts int    `yaml:"reconcile_max_attempts"`
	} `yaml:"timing"`
}

// Load loads configuration from environment variables, on top of the
// optional YAML file named by SOLTYBET_CONFIG
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := Defaults()

	if path := os.Getenv("SOLTYBET_CONFIG"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Defaults returns the configuration used when nothing is overridden
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   "5432",
			User:   "postgres",
			DBName: "soltybet",
		},
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		App: AppConfig{
			JWTExpiry:   DefaultJWTExpiry,
			Environment: "development",
		},
		Solana: SolanaConfig{
			RPCURL:            "https://api.devnet.solana.com",
			Network:           "devnet",
			RequestsPerSecond: 10,
		},
		Feed: FeedConfig{
			Enabled:      true,
			URL:          "wss://irc-ws.chat.twitch.tv:443",
			Channel:      "saltybet",
			TargetUserID: "12134793",
			TargetRoomID: "22612690",
			ReconnectMin: time.Second,
			ReconnectMax: time.Minute,
		},
		Betting: BettingConfig{
			MinStake:          decimal.RequireFromString("0.01"),
			MaxStake:          decimal.NewFromInt(100),
			FeeFactor:         decimal.RequireFromString("0.96"),
			ReferredFeeFactor: decimal.RequireFromString("0.97"),
			ReferrerShare:     decimal.RequireFromString("0.01"),
		},
		Timing: TimingConfig{
			LockPollInterval:     time.Second,
			LockPollWindow:       15 * time.Second,
			ConfirmMaxAttempts:   5,
			ConfirmDelay:         2 * time.Second,
			ConfirmTimeout:       60 * time.Second,
			GateMaxAttempts:      3,
			GateBackoffBase:      500 * time.Millisecond,
			GateBackoffMax:       8 * time.Second,
			GateCacheTTL:         10 * time.Second,
			PayoutBatchSize:      10,
			PayoutBatchAttempts:  3,
			PayoutRetryDelay:     2 * time.Second,
			PayoutRetryInterval:  5 * time.Minute,
			ReconcileInterval:    30 * time.Second,
			ReconcileMaxAttempts: 10,
		},
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	var file tuningFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}

	b := file.Betting
	for _, d := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{b.MinStake, &c.Betting.MinStake},
		{b.MaxStake, &c.Betting.MaxStake},
		{b.FeeFactor, &c.Betting.FeeFactor},
		{b.ReferredFeeFactor, &c.Betting.ReferredFeeFactor},
		{b.ReferrerShare, &c.Betting.ReferrerShare},
	} {
		if d.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return fmt.Errorf("config: invalid decimal %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	t := file.Timing
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{t.LockPollInterval, &c.Timing.LockPollInterval},
		{t.LockPollWindow, &c.Timing.LockPollWindow},
		{t.ConfirmDelay, &c.Timing.ConfirmDelay},
		{t.ConfirmTimeout, &c.Timing.ConfirmTimeout},
		{t.GateBackoffBase, &c.Timing.GateBackoffBase},
		{t.GateBackoffMax, &c.Timing.GateBackoffMax},
		{t.GateCacheTTL, &c.Timing.GateCacheTTL},
		{t.PayoutRetryDelay, &c.Timing.PayoutRetryDelay},
		{t.PayoutRetryInterval, &c.Timing.PayoutRetryInterval},
		{t.ReconcileInterval, &c.Timing.ReconcileInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	for _, d := range []struct {
		raw int
		dst *int
	}{
		{t.ConfirmMaxAttempts, &c.Timing.ConfirmMaxAttempts},
		{t.GateMaxAttempts, &c.Timing.GateMaxAttempts},
		{t.PayoutBatchSize, &c.Timing.PayoutBatchSize},
		{t.PayoutBatchAttempts, &c.Timing.PayoutBatchAttempts},
		{t.ReconcileMaxAttempts, &c.Timing.ReconcileMaxAttempts},
	} {
		if d.raw > 0 {
			*d.dst = d.raw
		}
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", c.Database.Host),
		Port:     getEnv("DB_PORT", c.Database.Port),
		User:     getEnv("DB_USER", c.Database.User),
		Password: getEnv("DB_PASSWORD", c.Database.Password),
		DBName:   getEnv("DB_NAME", c.Database.DBName),
	}
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.App.JWTSecret = getEnv("JWT_SECRET", c.App.JWTSecret)
	c.App.Environment = getEnv("APP_ENV", c.App.Environment)

	c.Solana.RPCURL = getEnv("SOLANA_RPC_URL", c.Solana.RPCURL)
	c.Solana.Network = getEnv("SOLANA_NETWORK", c.Solana.Network)
	c.Solana.CollectionAddress = getEnv("COLLECTION_ADDRESS", c.Solana.CollectionAddress)
	c.Solana.GateProgramID = getEnv("GATE_PROGRAM_ID", c.Solana.GateProgramID)
	c.Solana.OracleKey = getEnv("ORACLE_PRIVATE_KEY", c.Solana.OracleKey)
	c.Solana.HouseKey = getEnv("HOUSE_PRIVATE_KEY", c.Solana.HouseKey)

	c.Feed.URL = getEnv("FEED_URL", c.Feed.URL)
	c.Feed.Channel = getEnv("FEED_CHANNEL", c.Feed.Channel)
	c.Feed.TargetUserID = getEnv("FEED_TARGET_USER_ID", c.Feed.TargetUserID)
	c.Feed.TargetRoomID = getEnv("FEED_TARGET_ROOM_ID", c.Feed.TargetRoomID)

	c.Alerts.DiscordWebhookURL = getEnv("DISCORD_WEBHOOK_URL", c.Alerts.DiscordWebhookURL)
	c.Admin.APIKey = getEnv("ADMIN_API_KEY", c.Admin.APIKey)

	var err error
	if c.Solana.RequestsPerSecond, err = getEnvFloat("SOLANA_RPC_RPS", c.Solana.RequestsPerSecond); err != nil {
		return err
	}
	if c.Feed.Enabled, err = getEnvBool("FEED_ENABLED", c.Feed.Enabled); err != nil {
		return err
	}
	if c.Feed.ReconnectMin, err = getEnvDuration("FEED_RECONNECT_MIN", c.Feed.ReconnectMin); err != nil {
		return err
	}
	if c.Feed.ReconnectMax, err = getEnvDuration("FEED_RECONNECT_MAX", c.Feed.ReconnectMax); err != nil {
		return err
	}
	if c.Feed.MaxReconnectAttempts, err = getEnvInt("FEED_MAX_RECONNECTS", c.Feed.MaxReconnectAttempts); err != nil {
		return err
	}
	if c.App.JWTExpiry, err = getEnvDuration("JWT_EXPIRY", c.App.JWTExpiry); err != nil {
		return err
	}
	if c.Betting.MinStake, err = getEnvDecimal("MIN_STAKE", c.Betting.MinStake); err != nil {
		return err
	}
	if c.Betting.MaxStake, err = getEnvDecimal("MAX_STAKE", c.Betting.MaxStake); err != nil {
		return err
	}
	if c.Timing.LockPollWindow, err = getEnvDuration("LOCK_POLL_WINDOW", c.Timing.LockPollWindow); err != nil {
		return err
	}
	if c.Timing.ConfirmMaxAttempts, err = getEnvInt("CONFIRM_MAX_ATTEMPTS", c.Timing.ConfirmMaxAttempts); err != nil {
		return err
	}
	if c.Timing.ConfirmTimeout, err = getEnvDuration("CONFIRM_TIMEOUT", c.Timing.ConfirmTimeout); err != nil {
		return err
	}
	if c.Timing.GateMaxAttempts, err = getEnvInt("GATE_MAX_ATTEMPTS", c.Timing.GateMaxAttempts); err != nil {
		return err
	}
	if c.Timing.PayoutBatchAttempts, err = getEnvInt("PAYOUT_BATCH_ATTEMPTS", c.Timing.PayoutBatchAttempts); err != nil {
		return err
	}
	return nil
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	if c.App.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.App.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive")
	}

	if c.Solana.CollectionAddress == "" {
		return fmt.Errorf("COLLECTION_ADDRESS is required")
	}

	one := decimal.NewFromInt(1)
	for name, f := range map[string]decimal.Decimal{
		"fee factor":          c.Betting.FeeFactor,
		"referred fee factor": c.Betting.ReferredFeeFactor,
	} {
		if !f.IsPositive() || f.GreaterThan(one) {
			return fmt.Errorf("%s must be in (0,1], got %s", name, f)
		}
	}

	if !c.Betting.MinStake.IsPositive() || c.Betting.MinStake.GreaterThan(c.Betting.MaxStake) {
		return fmt.Errorf("invalid stake bounds [%s, %s]", c.Betting.MinStake, c.Betting.MaxStake)
	}

	if c.Timing.PayoutBatchSize <= 0 || c.Timing.PayoutBatchAttempts <= 0 {
		return fmt.Errorf("payout batch size and attempts must be positive")
	}

	if c.Timing.LockPollInterval <= 0 || c.Timing.LockPollWindow < c.Timing.LockPollInterval {
		return fmt.Errorf("lock poll window must cover at least one interval")
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
