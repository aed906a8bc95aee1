package q402gate

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported networks.
const (
	NetworkBSCTestnet = "bsc-testnet"
	NetworkBSCMainnet = "bsc-mainnet"
)

// Witness domain constants, fixed per deployment. The verifier reconstructs
// the exact same domain; any divergence invalidates signatures.
const (
	WitnessDomainName    = "F2F-402"
	WitnessDomainVersion = "1"
	WitnessPrimaryType   = "Witness"

	// ChallengeScheme identifies the payment scheme in 402 responses.
	ChallengeScheme = "evm/eip712-witness"
)

var chainIDs = map[string]uint64{
	NetworkBSCTestnet: 97,
	NetworkBSCMainnet: 56,
}

// Config holds the gateway configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// Network selects the target chain: "bsc-testnet" or "bsc-mainnet".
	Network string `yaml:"network"`

	// RPCURL is the execution backend endpoint.
	RPCURL string `yaml:"rpc_url"`

	// SignerKey is the hex-encoded relay signing key. When empty the relay
	// runs in simulated mode and never touches the chain.
	SignerKey string `yaml:"signer_key"`

	// PolicyURL is the base URL of the policy store.
	PolicyURL string `yaml:"policy_url"`

	// PolicyTimeout bounds each policy store call.
	PolicyTimeout time.Duration `yaml:"policy_timeout"`

	// RedisAddr, when set, backs the payment-id seen store with Redis
	// instead of process memory.
	RedisAddr string `yaml:"redis_addr"`

	// SponsorSecret enables the legacy secret-header mode: a request whose
	// payment header equals the secret is treated as authorized without a
	// witness. Guardrails still apply. Disabled when empty.
	SponsorSecret string `yaml:"sponsor_secret"`

	// TokenAddress is the service token contract used for transfers and as
	// the payment asset.
	TokenAddress string `yaml:"token_address"`

	// RegistryAddress is the agent registry contract.
	RegistryAddress string `yaml:"registry_address"`

	// RecipientAddress receives payments for actions that carry no
	// economic terms of their own (registration). Falls back to
	// TokenAddress when empty.
	RecipientAddress string `yaml:"recipient_address"`

	// ChallengeTTL is how long an issued witness stays valid.
	// Defaults to one hour.
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`

	// Confirmations is the receipt depth the relay waits for before
	// reporting success. Zero means return on submission acknowledgment.
	Confirmations uint64 `yaml:"confirmations"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":4020"
	}
	if c.Network == "" {
		c.Network = NetworkBSCTestnet
	}
	if _, ok := chainIDs[c.Network]; !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.RPCURL == "" {
		c.RPCURL = "https://bsc-testnet.publicnode.com"
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = time.Hour
	}
	if c.PolicyTimeout == 0 {
		c.PolicyTimeout = 3 * time.Second
	}
	if c.RecipientAddress == "" {
		c.RecipientAddress = c.TokenAddress
	}
	return nil
}

// ChainID returns the numeric chain id for the configured network.
func (c *Config) ChainID() uint64 {
	return chainIDs[c.Network]
}

// NetworkID returns the wire identifier of the configured network, as used
// in 402 responses.
func (c *Config) NetworkID() string {
	return c.Network
}

// FromEnv builds a Config from Q402_* environment variables.
func FromEnv() *Config {
	cfg := &Config{
		ListenAddr:       os.Getenv("Q402_LISTEN_ADDR"),
		RPCURL:           os.Getenv("Q402_RPC_URL"),
		SignerKey:        os.Getenv("Q402_SIGNER_PRIVATE_KEY"),
		PolicyURL:        os.Getenv("Q402_POLICY_URL"),
		RedisAddr:        os.Getenv("Q402_REDIS_ADDR"),
		SponsorSecret:    os.Getenv("Q402_SPONSOR_SECRET"),
		TokenAddress:     os.Getenv("Q402_TOKEN_ADDRESS"),
		RegistryAddress:  os.Getenv("Q402_REGISTRY_ADDRESS"),
		RecipientAddress: os.Getenv("Q402_RECIPIENT_ADDRESS"),
	}

	if port := os.Getenv("Q402_PORT"); port != "" && cfg.ListenAddr == "" {
		cfg.ListenAddr = ":" + port
	}

	// Unset stays empty so a merge does not stomp file values; Validate
	// applies the default.
	cfg.Network = os.Getenv("Q402_NETWORK")

	if ttl := os.Getenv("Q402_CHALLENGE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.ChallengeTTL = d
		}
	}

	if conf := os.Getenv("Q402_CONFIRMATIONS"); conf != "" {
		if n, err := strconv.ParseUint(conf, 10, 64); err == nil {
			cfg.Confirmations = n
		}
	}

	return cfg
}

// LoadFile reads a YAML config file. Values present in the environment
// override file values when the caller merges with FromEnv.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Merge overlays non-zero values from other onto c and returns c.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.Network != "" {
		c.Network = other.Network
	}
	if other.RPCURL != "" {
		c.RPCURL = other.RPCURL
	}
	if other.SignerKey != "" {
		c.SignerKey = other.SignerKey
	}
	if other.PolicyURL != "" {
		c.PolicyURL = other.PolicyURL
	}
	if other.PolicyTimeout != 0 {
		c.PolicyTimeout = other.PolicyTimeout
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.SponsorSecret != "" {
		c.SponsorSecret = other.SponsorSecret
	}
	if other.TokenAddress != "" {
		c.TokenAddress = other.TokenAddress
	}
	if other.RegistryAddress != "" {
		c.RegistryAddress = other.RegistryAddress
	}
	if other.RecipientAddress != "" {
		c.RecipientAddress = other.RecipientAddress
	}
	if other.ChallengeTTL != 0 {
		c.ChallengeTTL = other.ChallengeTTL
	}
	if other.Confirmations != 0 {
		c.Confirmations = other.Confirmations
	}
	return c
}
