package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Wallet modes, derived from which wallet variables are set.
const (
	WalletModeNone    = "none"
	WalletModeKeypair = "keypair"
	WalletModeRemote  = "remote"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration
	SolanaRPCURL  string
	SolanaNetwork solana.Network

	// Wallet configuration. At most one source may be set; with none set the
	// service runs without a connected wallet and every transfer fails with
	// NoWalletConnected.
	WalletKeypairPath   string
	WalletPrivateKey    string
	RemoteSignerURL     string
	RemoteSignerToken   string
	RemoteSignerAddress string
	SignerTimeout       time.Duration

	// Optional backends. Empty disables the component.
	DatabaseURL string
	NATSURL     string
	RedisURL    string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Transfer behavior
	ResetDelay        time.Duration
	InflightTTL       time.Duration
	TransferListLimit int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	// The explorer link cluster follows the RPC endpoint unless set explicitly.
	if raw := os.Getenv("SOLANA_NETWORK"); raw != "" {
		network, err := solana.ParseNetwork(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_NETWORK: %w", err))
		}
		cfg.SolanaNetwork = network
	} else {
		cfg.SolanaNetwork = solana.NetworkFromEndpoint(cfg.SolanaRPCURL)
	}

	cfg.WalletKeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")
	cfg.WalletPrivateKey = os.Getenv("WALLET_PRIVATE_KEY")
	cfg.RemoteSignerURL = os.Getenv("REMOTE_SIGNER_URL")
	cfg.RemoteSignerToken = os.Getenv("REMOTE_SIGNER_TOKEN")
	cfg.RemoteSignerAddress = os.Getenv("REMOTE_SIGNER_ADDRESS")

	signerTimeout, err := parseDuration("SIGNER_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SignerTimeout = signerTimeout
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solsend-transfers")

	resetDelay, err := parseDuration("RESET_DELAY", "3s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ResetDelay = resetDelay
	}

	inflightTTL, err := parseDuration("INFLIGHT_TTL", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.InflightTTL = inflightTTL
	}

	listLimit, err := parseInt("TRANSFER_LIST_LIMIT", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TransferListLimit = listLimit
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.SolanaNetwork != solana.Mainnet && c.SolanaNetwork != solana.Devnet {
		errs = append(errs, fmt.Errorf("SolanaNetwork must be mainnet or devnet"))
	}

	sources := 0
	for _, v := range []string{c.WalletKeypairPath, c.WalletPrivateKey, c.RemoteSignerURL} {
		if v != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, fmt.Errorf("only one of WALLET_KEYPAIR_PATH, WALLET_PRIVATE_KEY, REMOTE_SIGNER_URL may be set"))
	}

	if c.RemoteSignerURL != "" {
		if c.RemoteSignerAddress == "" {
			errs = append(errs, fmt.Errorf("REMOTE_SIGNER_ADDRESS is required when REMOTE_SIGNER_URL is set"))
		} else if _, err := solanago.PublicKeyFromBase58(c.RemoteSignerAddress); err != nil {
			errs = append(errs, fmt.Errorf("REMOTE_SIGNER_ADDRESS is not a valid address: %w", err))
		}
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ResetDelay < 0 {
		errs = append(errs, fmt.Errorf("ResetDelay cannot be negative"))
	}

	if c.InflightTTL < time.Second {
		errs = append(errs, fmt.Errorf("InflightTTL must be at least 1 second"))
	}

	if c.TransferListLimit < 1 {
		errs = append(errs, fmt.Errorf("TransferListLimit must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// WalletMode reports which wallet source is configured.
func (c *Config) WalletMode() string {
	switch {
	case c.RemoteSignerURL != "":
		return WalletModeRemote
	case c.WalletKeypairPath != "" || c.WalletPrivateKey != "":
		return WalletModeKeypair
	default:
		return WalletModeNone
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
