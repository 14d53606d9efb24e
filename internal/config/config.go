package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/token"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	API     APIConfig     `yaml:"api"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Chain   ChainConfig   `yaml:"chain"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
}

// APIConfig contains API server settings
type APIConfig struct {
	Addr string `yaml:"addr"`

	// Rate limiting
	RateLimitRequests int  `yaml:"rate_limit_requests"` // Requests per minute per IP (0 disables)
	RateLimitBurst    int  `yaml:"rate_limit_burst"`
	TrustProxy        bool `yaml:"trust_proxy"`

	// CORS
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Timeouts
	ReadHeaderTimeoutSecs int `yaml:"read_header_timeout_secs"`
	IdleTimeoutSecs       int `yaml:"idle_timeout_secs"`
	MaxConnections        int `yaml:"max_connections"` // 0 means unlimited

	MaxRequestSize  int64 `yaml:"max_request_size"`
	EnableWebSocket bool  `yaml:"enable_websocket"`

	// Maximum age of an inline wallet auth message.
	AuthWindowSecs int `yaml:"auth_window_secs"`
}

// DefaultAPIConfig returns the default API configuration
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Addr:                  ":8080",
		RateLimitRequests:     120,
		RateLimitBurst:        20,
		EnableCORS:            true,
		AllowedOrigins:        []string{"*"},
		ReadHeaderTimeoutSecs: 10,
		IdleTimeoutSecs:       120,
		MaxConnections:        1024,
		MaxRequestSize:        1 << 20,
		EnableWebSocket:       true,
		AuthWindowSecs:        300,
	}
}

// LedgerConfig seeds the policy on first start. Once the policy file
// exists it is authoritative and these values are ignored.
type LedgerConfig struct {
	PolicyFile string `yaml:"policy_file"`

	Admin          string   `yaml:"admin"`
	TrustedSigner  string   `yaml:"trusted_signer"`
	FeeDestination string   `yaml:"fee_destination"`
	Operators      []string `yaml:"operators"`

	// Custody account in mock mode. On-chain, custody is the keystore account.
	Custody string `yaml:"custody"`

	HoldLimit         uint64 `yaml:"hold_limit"`
	MintLimit         uint64 `yaml:"mint_limit"`
	MaxSupply         uint64 `yaml:"max_supply"`
	FairLaunchSupply  uint64 `yaml:"fair_launch_supply"`
	FeeRateBps        uint64 `yaml:"fee_rate_bps"`
	PriceUnit         string `yaml:"price_unit"`          // Base units per k² (decimal integer)
	RewardTokenSupply string `yaml:"reward_token_supply"` // Base units (decimal integer)

	SignatureMaxAgeSecs int `yaml:"signature_max_age_secs"`
}

// ChainConfig selects the payment token facility.
type ChainConfig struct {
	MockPayments bool   `yaml:"mock_payments"`
	RPCURL       string `yaml:"rpc_url"`
	ChainID      int64  `yaml:"chain_id"`

	PaymentToken string `yaml:"payment_token"` // ERC20 collected from traders
	TokenFactory string `yaml:"token_factory"` // Deploys reward tokens

	KeystoreDir        string `yaml:"keystore_dir"`
	CustodyKeyFile     string `yaml:"custody_key_file"`
	PasswordFile       string `yaml:"password_file"`
	BlockConfirmations int    `yaml:"block_confirmations"`
	MaxGasPriceGwei    int64  `yaml:"max_gas_price_gwei"`
	// Upper bound on waiting for one transaction's receipt, in seconds.
	ReceiptTimeoutSecs int `yaml:"receipt_timeout_secs"`

	// Pre-funded accounts for mock mode. Each is approved to the custody
	// account for its whole balance.
	MockAccounts []MockAccount `yaml:"mock_accounts,omitempty"`
}

// MockAccount is a mock-mode payment balance.
type MockAccount struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"` // Decimal token amount, e.g. "1000.5"
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".bondings")
	seed := policy.Default()

	return &Config{
		Daemon: DaemonConfig{
			DataDir:   dataDir,
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: DefaultAPIConfig(),
		Ledger: LedgerConfig{
			PolicyFile:          filepath.Join(dataDir, "policy.json"),
			Custody:             "0x000000000000000000000000000000000000c057",
			HoldLimit:           seed.HoldLimit,
			MintLimit:           seed.MintLimit,
			MaxSupply:           seed.MaxSupply,
			FairLaunchSupply:    seed.FairLaunchSupply,
			FeeRateBps:          seed.FeeRateBps,
			PriceUnit:           seed.PriceUnit.String(),
			RewardTokenSupply:   seed.RewardTokenSupply.String(),
			SignatureMaxAgeSecs: 300,
		},
		Chain: ChainConfig{
			MockPayments:       true,
			RPCURL:             "https://rpc.blast.io",
			ChainID:            81457,
			KeystoreDir:        filepath.Join(dataDir, "keystore"),
			BlockConfirmations: 2,
			MaxGasPriceGwei:    100,
			ReceiptTimeoutSecs: 300,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the config at path. A missing file yields the defaults,
// unvalidated; callers validate before use.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the config as YAML with owner-only permissions.
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Daemon.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.Daemon.LogLevel)
	}
	if c.Daemon.LogFormat != "json" && c.Daemon.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s", c.Daemon.LogFormat)
	}

	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if c.API.MaxConnections < 0 {
		return fmt.Errorf("api.max_connections must not be negative")
	}
	if c.API.RateLimitRequests < 0 || c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api rate limits must not be negative")
	}
	if c.API.RateLimitRequests > 0 && c.API.RateLimitBurst == 0 {
		return fmt.Errorf("api.rate_limit_burst must be positive when rate limiting is enabled")
	}

	if err := validateEthAddress("admin", c.Ledger.Admin, true); err != nil {
		return err
	}
	if err := validateEthAddress("trusted_signer", c.Ledger.TrustedSigner, true); err != nil {
		return err
	}
	if err := validateEthAddress("fee_destination", c.Ledger.FeeDestination, false); err != nil {
		return err
	}
	for i, op := range c.Ledger.Operators {
		if err := validateEthAddress(fmt.Sprintf("operators[%d]", i), op, true); err != nil {
			return err
		}
	}
	if c.Ledger.SignatureMaxAgeSecs < 0 {
		return fmt.Errorf("signature_max_age_secs must not be negative")
	}
	if _, err := c.PolicySeed(); err != nil {
		return err
	}

	if c.Chain.MockPayments {
		if err := validateEthAddress("custody", c.Ledger.Custody, true); err != nil {
			return err
		}
		for i, acct := range c.Chain.MockAccounts {
			if err := validateEthAddress(fmt.Sprintf("mock_accounts[%d]", i), acct.Address, true); err != nil {
				return err
			}
			if _, err := token.ParseAmount(acct.Balance); err != nil {
				return fmt.Errorf("mock_accounts[%d] balance: %w", i, err)
			}
		}
		return nil
	}

	// Contract settings only matter with real payments
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required when mock_payments is false")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if c.Chain.ReceiptTimeoutSecs < 0 {
		return fmt.Errorf("invalid receipt_timeout_secs: %d", c.Chain.ReceiptTimeoutSecs)
	}
	if c.Chain.CustodyKeyFile == "" {
		return fmt.Errorf("custody_key_file is required when mock_payments is false")
	}
	if err := validateEthAddress("payment_token", c.Chain.PaymentToken, true); err != nil {
		return err
	}
	return validateEthAddress("token_factory", c.Chain.TokenFactory, true)
}

// PolicySeed builds the initial policy from the ledger section.
func (c *Config) PolicySeed() (*policy.Policy, error) {
	l := c.Ledger
	p := &policy.Policy{
		Admin:            common.HexToAddress(l.Admin),
		HoldLimit:        l.HoldLimit,
		MintLimit:        l.MintLimit,
		MaxSupply:        l.MaxSupply,
		FairLaunchSupply: l.FairLaunchSupply,
		TrustedSigner:    common.HexToAddress(l.TrustedSigner),
		FeeRateBps:       l.FeeRateBps,
	}
	if l.FeeDestination != "" {
		p.FeeDestination = common.HexToAddress(l.FeeDestination)
	}
	for _, op := range l.Operators {
		p.Operators = append(p.Operators, common.HexToAddress(op))
	}

	var ok bool
	if p.PriceUnit, ok = new(big.Int).SetString(l.PriceUnit, 10); !ok {
		return nil, fmt.Errorf("invalid price_unit: %q", l.PriceUnit)
	}
	if p.RewardTokenSupply, ok = new(big.Int).SetString(l.RewardTokenSupply, 10); !ok {
		return nil, fmt.Errorf("invalid reward_token_supply: %q", l.RewardTokenSupply)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SignatureMaxAge returns the registration signature window.
func (c *Config) SignatureMaxAge() time.Duration {
	return time.Duration(c.Ledger.SignatureMaxAgeSecs) * time.Second
}

// validateEthAddress checks for a 0x-prefixed, non-zero 20-byte hex address.
// Empty values pass unless required.
func validateEthAddress(name, addr string, required bool) error {
	if addr == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Ledger.PolicyFile = expandPath(c.Ledger.PolicyFile)
	c.Chain.KeystoreDir = expandPath(c.Chain.KeystoreDir)
	c.Chain.CustodyKeyFile = expandPath(c.Chain.CustodyKeyFile)
	c.Chain.PasswordFile = expandPath(c.Chain.PasswordFile)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".bondings", "config.yaml")
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Daemon.DataDir,
		filepath.Dir(c.Ledger.PolicyFile),
		c.Chain.KeystoreDir,
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
