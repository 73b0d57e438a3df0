package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration. Loaded once in main and injected into
// constructors; nothing reads it through a package global.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Auth       AuthConfig       `yaml:"auth"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Payments   PaymentsConfig   `yaml:"payments"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig cache configuration (current exchange-rate snapshots)
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// NATSConfig event bus configuration (IPN result updates)
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`        // seconds
	ReconnectWait int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects int    `yaml:"max_reconnects"`
	IPNSubject    string `yaml:"ipn_subject"`
	Enabled       bool   `yaml:"enabled"`
}

// AuthConfig session token configuration
type AuthConfig struct {
	JWTSecret    string `yaml:"jwtSecret"`
	TokenTTL     int    `yaml:"tokenTTL"`     // hours
	NonceTTL     int    `yaml:"nonceTTL"`     // seconds
	LoginMessage string `yaml:"loginMessage"` // prefix of the signed login message
}

// LedgerConfig upstream payment ledger / account API
type LedgerConfig struct {
	BaseURL      string `yaml:"baseUrl"`
	Timeout      int    `yaml:"timeout"` // seconds
	ServiceToken string `yaml:"serviceToken"`
}

// PaymentsConfig payment history view tuning
type PaymentsConfig struct {
	PageSize             int `yaml:"pageSize"`
	UpdatePollInterval   int `yaml:"updatePollInterval"`   // seconds
	RateCacheTTL         int `yaml:"rateCacheTTL"`         // seconds
	ConfirmTimeout       int `yaml:"confirmTimeout"`       // seconds, chain write confirm stage
	SubmitTimeout        int `yaml:"submitTimeout"`        // seconds, chain write submit stage
	ChainBindTimeout     int `yaml:"chainBindTimeout"`     // seconds, chain bind stage
	DisplayDecimalPlaces int `yaml:"displayDecimalPlaces"` // truncation for display amounts
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// BlockchainConfig per-network chain access
type BlockchainConfig struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// TokenConfig one catalog entry of a network. Address empty = native asset.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// NetworkConfig one chain the dashboard can read and withdraw on
type NetworkConfig struct {
	ChainID         int64         `yaml:"chainId"`
	Name            string        `yaml:"name"`
	RPCEndpoints    []string      `yaml:"rpcEndpoints"`
	CustodyContract string        `yaml:"custodyContract"`
	WrappedNative   string        `yaml:"wrappedNative"` // token id of the native asset
	PrivateKey      string        `yaml:"privateKey"`    // hex, no 0x prefix
	GasLimit        uint64        `yaml:"gasLimit"`
	Tokens          []TokenConfig `yaml:"tokens"`
	Enabled         bool          `yaml:"enabled"`
}

// LoadConfig reads and parses the YAML configuration file, then applies
// environment overrides. An empty path falls back to config.yaml, preferring
// config.local.yaml when present.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}
	if cfg.Ledger.BaseURL == "" {
		return nil, fmt.Errorf("ledger.baseUrl is required")
	}

	return &cfg, nil
}

// overrideFromEnv lets deployments override secrets and endpoints without
// touching the YAML file.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if ledgerURL := os.Getenv("LEDGER_BASE_URL"); ledgerURL != "" {
		cfg.Ledger.BaseURL = ledgerURL
	}
	if token := os.Getenv("LEDGER_SERVICE_TOKEN"); token != "" {
		cfg.Ledger.ServiceToken = token
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		cfg.CORS.AllowedOrigins = cfg.CORS.AllowedOrigins[:0]
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, trimmed)
			}
		}
	}

	// Per-network private keys and RPC overrides, e.g. ETH_PRIVATE_KEY,
	// ETH_RPC_ENDPOINTS.
	for name, network := range cfg.Blockchain.Networks {
		upper := strings.ToUpper(name)
		if pk := os.Getenv(upper + "_PRIVATE_KEY"); pk != "" {
			network.PrivateKey = pk
		} else if pk := os.Getenv("PRIVATE_KEY"); pk != "" && network.PrivateKey == "" {
			network.PrivateKey = pk
		}
		if rpc := os.Getenv(upper + "_RPC_ENDPOINTS"); rpc != "" {
			network.RPCEndpoints = strings.Split(rpc, ",")
		}
		if custody := os.Getenv(upper + "_CUSTODY_CONTRACT"); custody != "" {
			network.CustodyContract = custody
		}
		cfg.Blockchain.Networks[name] = network
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 30
	}
	if cfg.Payments.PageSize == 0 {
		cfg.Payments.PageSize = 25
	}
	if cfg.Payments.UpdatePollInterval == 0 {
		cfg.Payments.UpdatePollInterval = 30
	}
	if cfg.Payments.RateCacheTTL == 0 {
		cfg.Payments.RateCacheTTL = 60
	}
	if cfg.Payments.ChainBindTimeout == 0 {
		cfg.Payments.ChainBindTimeout = 15
	}
	if cfg.Payments.SubmitTimeout == 0 {
		cfg.Payments.SubmitTimeout = 60
	}
	if cfg.Payments.ConfirmTimeout == 0 {
		cfg.Payments.ConfirmTimeout = 300
	}
	if cfg.Payments.DisplayDecimalPlaces == 0 {
		cfg.Payments.DisplayDecimalPlaces = 6
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24
	}
	if cfg.Auth.NonceTTL == 0 {
		cfg.Auth.NonceTTL = 300
	}
	if cfg.Auth.LoginMessage == "" {
		cfg.Auth.LoginMessage = "Sign in to the payment dashboard"
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = 5
	}
	if cfg.NATS.IPNSubject == "" {
		cfg.NATS.IPNSubject = "payments.ipn.result"
	}
}

// GetNetwork returns one enabled network by name.
func (c *Config) GetNetwork(name string) (*NetworkConfig, error) {
	network, exists := c.Blockchain.Networks[name]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", name)
	}
	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", name)
	}
	return &network, nil
}

// GetNetworkByChainID returns one enabled network by chain id.
func (c *Config) GetNetworkByChainID(chainID int64) (*NetworkConfig, error) {
	for _, network := range c.Blockchain.Networks {
		if network.ChainID == chainID && network.Enabled {
			n := network
			return &n, nil
		}
	}
	return nil, fmt.Errorf("network with chainID %d not found or disabled", chainID)
}
