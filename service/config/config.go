package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/launchbundle/service/signers"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
)

// DefaultSharedLookupTable is the public lookup table holding pump.fun's
// program-wide accounts.
const DefaultSharedLookupTable = "8GG7J73ZUgTiv8SKBjqCjQbiaJXZKuNbjm1uhK3p3Zim"

// Config holds all launch configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Solana and relay
	SolanaRPCURL string
	RelayURL     string
	Commitment   rpc.CommitmentType

	// Identities
	OperatorKey solanago.PrivateKey
	MintKey     solanago.PrivateKey
	SignerFile  string

	// Token metadata
	AssetImageDir    string
	TokenName        string
	TokenSymbol      string
	TokenDescription string
	TokenTwitter     string
	TokenTelegram    string
	TokenWebsite     string
	MetadataURI      string
	IPFSUploadURL    string

	// Lookup tables
	SharedLookupTable    solanago.PublicKey // zero disables the shared table
	LUTExtendBatchSize   int
	LUTActivationSlots   uint64
	LUTActivationTimeout time.Duration
	ConfirmPollInterval  time.Duration

	// Amounts and sizing
	ChunkSize             int
	DevBuyLamports        uint64
	BuyLamports           uint64
	SlippageBps           uint64
	TipLamports           uint64
	ComputeUnitLimit      uint32
	ComputeUnitPrice      uint64
	MaxTxSize             int
	MaxBundleTransactions int
	RandomSeed            uint64

	// Optional sinks
	DatabaseURL string
	NATSURL     string
}

// LoadEnvFile seeds the environment from a dotenv file. Variables already set
// win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.RelayURL = getEnvOrDefault("RELAY_URL", "https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles")

	commitment, err := parseCommitment("COMMITMENT", "confirmed")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Commitment = commitment

	cfg.OperatorKey, err = parseKey("OPERATOR_PRIVATE_KEY")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MintKey, err = parseKey("MINT_PRIVATE_KEY")
	if err != nil {
		errs = append(errs, err)
	}
	if cfg.OperatorKey != nil && cfg.MintKey != nil && cfg.OperatorKey.PublicKey().Equals(cfg.MintKey.PublicKey()) {
		errs = append(errs, fmt.Errorf("OPERATOR_PRIVATE_KEY and MINT_PRIVATE_KEY must be different"))
	}
	cfg.SignerFile = getEnvOrDefault("SIGNER_FILE", "wallets.txt")

	cfg.AssetImageDir = getEnvOrDefault("ASSET_IMAGE_DIR", "assets")
	cfg.TokenName = os.Getenv("TOKEN_NAME")
	cfg.TokenSymbol = os.Getenv("TOKEN_SYMBOL")
	cfg.TokenDescription = os.Getenv("TOKEN_DESCRIPTION")
	cfg.TokenTwitter = os.Getenv("TOKEN_TWITTER")
	cfg.TokenTelegram = os.Getenv("TOKEN_TELEGRAM")
	cfg.TokenWebsite = os.Getenv("TOKEN_WEBSITE")
	cfg.MetadataURI = os.Getenv("METADATA_URI")
	cfg.IPFSUploadURL = getEnvOrDefault("IPFS_UPLOAD_URL", "https://pump.fun/api/ipfs")

	shared := getEnvOrDefault("SHARED_LOOKUP_TABLE", DefaultSharedLookupTable)
	if !strings.EqualFold(shared, "none") {
		pk, err := solanago.PublicKeyFromBase58(shared)
		if err != nil {
			errs = append(errs, fmt.Errorf("SHARED_LOOKUP_TABLE: invalid address %q: %w", shared, err))
		}
		cfg.SharedLookupTable = pk
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"LUT_EXTEND_BATCH_SIZE", 20, &cfg.LUTExtendBatchSize},
		{"CHUNK_SIZE", 5, &cfg.ChunkSize},
		{"MAX_TX_SIZE", 1232, &cfg.MaxTxSize},
		{"MAX_BUNDLE_TRANSACTIONS", 5, &cfg.MaxBundleTransactions},
	}
	for _, f := range ints {
		v, err := parseInt(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dest = v
	}

	uints := []struct {
		key  string
		def  uint64
		dest *uint64
	}{
		{"LUT_ACTIVATION_SLOTS", 1, &cfg.LUTActivationSlots},
		{"DEV_BUY_LAMPORTS", 100_000, &cfg.DevBuyLamports},
		{"BUY_LAMPORTS", 100_000, &cfg.BuyLamports},
		{"SLIPPAGE_BPS", 500, &cfg.SlippageBps},
		{"TIP_LAMPORTS", 100_000, &cfg.TipLamports},
		{"COMPUTE_UNIT_PRICE", 10_000, &cfg.ComputeUnitPrice},
		{"RANDOM_SEED", 0, &cfg.RandomSeed},
	}
	for _, f := range uints {
		v, err := parseUint(f.key, f.def, 64)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dest = v
	}

	cul, err := parseUint("COMPUTE_UNIT_LIMIT", 1_000_000, 32)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ComputeUnitLimit = uint32(cul)

	cfg.LUTActivationTimeout, err = parseDuration("LUT_ACTIVATION_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
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
	if c.RelayURL == "" {
		errs = append(errs, fmt.Errorf("RelayURL is required"))
	}
	if c.OperatorKey == nil {
		errs = append(errs, fmt.Errorf("OperatorKey is required"))
	}
	if c.MintKey == nil {
		errs = append(errs, fmt.Errorf("MintKey is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ChunkSize must be positive"))
	}
	if c.LUTExtendBatchSize <= 0 || c.LUTExtendBatchSize > 30 {
		errs = append(errs, fmt.Errorf("LUTExtendBatchSize must be between 1 and 30"))
	}
	if c.MaxTxSize <= 0 || c.MaxTxSize > 1232 {
		errs = append(errs, fmt.Errorf("MaxTxSize must be between 1 and 1232"))
	}
	if c.MaxBundleTransactions < 0 {
		errs = append(errs, fmt.Errorf("MaxBundleTransactions cannot be negative"))
	}
	if c.BuyLamports == 0 {
		errs = append(errs, fmt.Errorf("BuyLamports must be positive"))
	}
	if c.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("SlippageBps cannot exceed 10000"))
	}
	if c.LUTActivationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LUTActivationTimeout must be positive"))
	}
	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ServerConfig configures the receipt API server.
type ServerConfig struct {
	ServerAddr  string
	LogLevel    string
	DatabaseURL string
}

// LoadServer reads the server configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		ServerAddr:  getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("configuration validation failed: [DATABASE_URL is required]")
	}
	return cfg, nil
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

// parseUint parses an unsigned integer of the given bit size from an
// environment variable or uses a default. Underscores are accepted as digit
// separators.
func parseUint(key string, defaultValue uint64, bitSize int) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(strings.ReplaceAll(value, "_", ""), 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseCommitment(key, defaultValue string) (rpc.CommitmentType, error) {
	value := rpc.CommitmentType(strings.ToLower(getEnvOrDefault(key, defaultValue)))
	switch value {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return value, nil
	}
	return "", fmt.Errorf("%s: invalid commitment %q", key, value)
}

func parseKey(key string) (solanago.PrivateKey, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	pk, err := signers.ParsePrivateKey(value)
	if err != nil {
		// never echo key material
		return nil, fmt.Errorf("%s: invalid private key", key)
	}
	return pk, nil
}
