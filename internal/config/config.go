package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Blockchain BlockchainConfig
	Toolchain  ToolchainConfig
	Sandbox    SandboxConfig
	Queue      QueueConfig
	Fees       FeeConfig
	Analysis   AnalysisConfig
	Security   SecurityConfig
}

// ServerConfig holds process-level configuration
type ServerConfig struct {
	Env string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
}

// BlockchainConfig holds RPC endpoints, contract addresses and signing keys
type BlockchainConfig struct {
	RPCURL                    string
	ChainID                   int64
	ProtocolRegistryAddress   string
	BountyPoolAddress         string
	ValidationRegistryAddress string
	AgentRegistryAddress      string
	EscrowAddress             string
	PaymentTokenAddress       string
	PayerPrivateKey           string
	ResearcherPrivateKey      string
	ReceiptTimeout            time.Duration
	EventPollInterval         time.Duration
}

// ToolchainConfig holds subprocess tool settings
type ToolchainConfig struct {
	WorkDir         string
	AllowedGitHost  string
	GitBinary       string
	ForgeBinary     string
	SlitherBinary   string
	CompileTimeout  time.Duration
	AnalyzerTimeout time.Duration
	CloneTimeout    time.Duration
	OutputCapBytes  int64
}

// SandboxConfig holds local EVM sandbox settings
type SandboxConfig struct {
	AnvilBinary   string
	PortRangeFrom int
	PortRangeTo   int
	SpawnAttempts int
	SpawnBackoff  time.Duration
	KillGrace     time.Duration
}

// QueueConfig holds per-queue worker settings
type QueueConfig struct {
	ScanConcurrency    int
	PaymentConcurrency int
	PaymentRatePerSec  float64
	DefaultAttempts    int
	BackoffBase        time.Duration
	StuckProofAge      time.Duration
	UnreconciledAge    time.Duration
}

// FeeConfig holds x402 fee-gate settings
type FeeConfig struct {
	RegistrationFee  string // smallest units
	SubmissionFee    string // smallest units
	PayToAddress     string
	Network          string
	RequestTTL       time.Duration
	FingerprintRetry time.Duration
	TokenDecimals    int
}

// AnalysisConfig holds AI analysis settings
type AnalysisConfig struct {
	AIEnabled      bool
	AnthropicKey   string
	AnthropicModel string
	MaxFindings    int
}

// SecurityConfig holds encryption keys and sign-in policy
type SecurityConfig struct {
	ProofEncryptionKeys map[string]string // keyID -> 32-byte hex
	ActiveProofKeyID    string
	AllowedDomains      []string
	AllowedChainIDs     []int64
	SignInMaxAge        time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Env: getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "bountychain"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Blockchain: BlockchainConfig{
			RPCURL:                    getEnv("CHAIN_RPC_URL", "https://sepolia.base.org"),
			ChainID:                   int64(getEnvAsInt("CHAIN_ID", 84532)),
			ProtocolRegistryAddress:   getEnv("PROTOCOL_REGISTRY_ADDRESS", ""),
			BountyPoolAddress:         getEnv("BOUNTY_POOL_ADDRESS", ""),
			ValidationRegistryAddress: getEnv("VALIDATION_REGISTRY_ADDRESS", ""),
			AgentRegistryAddress:      getEnv("AGENT_REGISTRY_ADDRESS", ""),
			EscrowAddress:             getEnv("ESCROW_ADDRESS", ""),
			PaymentTokenAddress:       getEnv("PAYMENT_TOKEN_ADDRESS", ""),
			PayerPrivateKey:           getEnv("PAYER_PRIVATE_KEY", ""),
			ResearcherPrivateKey:      getEnv("RESEARCHER_PRIVATE_KEY", ""),
			ReceiptTimeout:            getEnvAsDuration("CHAIN_RECEIPT_TIMEOUT", 90*time.Second),
			EventPollInterval:         getEnvAsDuration("CHAIN_EVENT_POLL_INTERVAL", 15*time.Second),
		},
		Toolchain: ToolchainConfig{
			WorkDir:         getEnv("TOOLCHAIN_WORK_DIR", "/tmp/bounty-chain"),
			AllowedGitHost:  getEnv("TOOLCHAIN_ALLOWED_GIT_HOST", "github.com"),
			GitBinary:       getEnv("TOOLCHAIN_GIT_BINARY", "git"),
			ForgeBinary:     getEnv("TOOLCHAIN_FORGE_BINARY", "forge"),
			SlitherBinary:   getEnv("TOOLCHAIN_SLITHER_BINARY", "slither"),
			CompileTimeout:  getEnvAsDuration("TOOLCHAIN_COMPILE_TIMEOUT", 3*time.Minute),
			AnalyzerTimeout: getEnvAsDuration("TOOLCHAIN_ANALYZER_TIMEOUT", 5*time.Minute),
			CloneTimeout:    getEnvAsDuration("TOOLCHAIN_CLONE_TIMEOUT", 2*time.Minute),
			OutputCapBytes:  int64(getEnvAsInt("TOOLCHAIN_OUTPUT_CAP_BYTES", 10*1024*1024)),
		},
		Sandbox: SandboxConfig{
			AnvilBinary:   getEnv("SANDBOX_ANVIL_BINARY", "anvil"),
			PortRangeFrom: getEnvAsInt("SANDBOX_PORT_FROM", 8600),
			PortRangeTo:   getEnvAsInt("SANDBOX_PORT_TO", 8699),
			SpawnAttempts: getEnvAsInt("SANDBOX_SPAWN_ATTEMPTS", 30),
			SpawnBackoff:  getEnvAsDuration("SANDBOX_SPAWN_BACKOFF", 500*time.Millisecond),
			KillGrace:     getEnvAsDuration("SANDBOX_KILL_GRACE", 5*time.Second),
		},
		Queue: QueueConfig{
			ScanConcurrency:    getEnvAsInt("QUEUE_SCAN_CONCURRENCY", 1),
			PaymentConcurrency: getEnvAsInt("QUEUE_PAYMENT_CONCURRENCY", 5),
			PaymentRatePerSec:  float64(getEnvAsInt("QUEUE_PAYMENT_RATE_PER_SEC", 10)),
			DefaultAttempts:    getEnvAsInt("QUEUE_DEFAULT_ATTEMPTS", 3),
			BackoffBase:        getEnvAsDuration("QUEUE_BACKOFF_BASE", 5*time.Second),
			StuckProofAge:      getEnvAsDuration("QUEUE_STUCK_PROOF_AGE", 30*time.Minute),
			UnreconciledAge:    getEnvAsDuration("QUEUE_UNRECONCILED_AGE", time.Hour),
		},
		Fees: FeeConfig{
			RegistrationFee:  getEnv("FEE_REGISTRATION_AMOUNT", "1000000"),
			SubmissionFee:    getEnv("FEE_SUBMISSION_AMOUNT", "100000"),
			PayToAddress:     getEnv("FEE_PAY_TO_ADDRESS", ""),
			Network:          getEnv("FEE_NETWORK", "base-sepolia"),
			RequestTTL:       getEnvAsDuration("FEE_REQUEST_TTL", 15*time.Minute),
			FingerprintRetry: getEnvAsDuration("FEE_FINGERPRINT_RETRY_WINDOW", 30*time.Minute),
			TokenDecimals:    getEnvAsInt("FEE_TOKEN_DECIMALS", 6),
		},
		Analysis: AnalysisConfig{
			AIEnabled:      getEnvAsBool("ANALYSIS_AI_ENABLED", false),
			AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			MaxFindings:    getEnvAsInt("ANALYSIS_MAX_FINDINGS", 20),
		},
		Security: SecurityConfig{
			ProofEncryptionKeys: map[string]string{
				getEnv("PROOF_KEY_ID", "default"): getEnv("PROOF_ENCRYPTION_KEY", "0000000000000000000000000000000000000000000000000000000000000000"), // 32-bytes hex string
			},
			ActiveProofKeyID: getEnv("PROOF_KEY_ID", "default"),
			AllowedDomains:   getEnvAsList("SIGNIN_ALLOWED_DOMAINS", "localhost"),
			AllowedChainIDs:  []int64{int64(getEnvAsInt("CHAIN_ID", 84532))},
			SignInMaxAge:     getEnvAsDuration("SIGNIN_MAX_AGE", 10*time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
