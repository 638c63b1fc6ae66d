// Package config provides configuration management for hive-points.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all hive-points configuration.
type Config struct {
	// Name is the indexer instance name.
	Name string `mapstructure:"name"`

	// Network is the target network (mapo-mainnet, mapo-testnet).
	Network string `mapstructure:"network"`

	// Database is the PostgreSQL connection string.
	Database string `mapstructure:"database"`

	// RPCURL is the chain RPC endpoint (overrides network preset).
	RPCURL string `mapstructure:"rpc_url"`

	// HTTPSProxy is an optional proxy URL for outbound RPC requests.
	HTTPSProxy string `mapstructure:"https_proxy"`

	// SignerKey is the hex private key attached to the liquidity
	// contract binding. It is only used for calldata-encoding
	// consistency; the indexing path never sends transactions.
	SignerKey string `mapstructure:"signer_key"`

	// Contracts defines the tracked contract addresses.
	Contracts ContractsConfig `mapstructure:"contracts"`

	// Sync holds indexer synchronization configuration.
	Sync SyncConfig `mapstructure:"sync"`

	// Points holds accrual configuration.
	Points PointsConfig `mapstructure:"points"`

	// Bridge holds bridge swap-in configuration.
	Bridge BridgeConfig `mapstructure:"bridge"`

	// Server holds API server configuration.
	Server ServerConfig `mapstructure:"server"`

	// Derived fields (populated from network preset).
	ChainID      uint64
	PollInterval time.Duration
}

// ContractsConfig holds the addresses of the tracked contracts.
type ContractsConfig struct {
	// Stake is the staking/locking contract address.
	Stake string `mapstructure:"stake"`

	// Liquidity is the liquidity manager contract address.
	Liquidity string `mapstructure:"liquidity"`

	// Bridge is the cross-chain bridge contract address.
	Bridge string `mapstructure:"bridge"`
}

// SyncConfig holds indexer synchronization configuration.
type SyncConfig struct {
	// StartBlock is the block to start indexing from on first run.
	StartBlock uint64 `mapstructure:"start_block"`

	// BridgeStartBlock clamps the lower bound of bridge log queries.
	// Bridge relevance only begins at the bridge deployment point.
	BridgeStartBlock uint64 `mapstructure:"bridge_start_block"`

	// PollInterval overrides the network preset poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxRetries is the maximum retry attempts for transient failures.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the fixed delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// PointsConfig holds points accrual configuration.
type PointsConfig struct {
	// PerHour is the total points distributed per hourly tick.
	PerHour int64 `mapstructure:"per_hour"`

	// StartTime is the unix second at which point distribution begins.
	// Ticks before it advance the checkpoint without crediting points.
	StartTime uint64 `mapstructure:"start_time"`

	// NewRuleValidTime is the unix second at which the one-sided-stake
	// validity rule takes retroactive effect (clean credit boundary).
	NewRuleValidTime uint64 `mapstructure:"new_rule_valid_time"`
}

// BridgeConfig holds bridge swap-in filter and pricing configuration.
type BridgeConfig struct {
	// PointsPerDollar is the flat bridge credit rate per USD swapped in.
	PointsPerDollar string `mapstructure:"points_per_dollar"`

	// FromChains is the set of accepted origin chain ids.
	FromChains []uint64 `mapstructure:"from_chains"`
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	// APIPort is the read API port.
	APIPort int `mapstructure:"api_port"`

	// MetricsPort is the Prometheus metrics port.
	MetricsPort int `mapstructure:"metrics_port"`
}

// Load reads configuration from file and environment.
//
// Returns:
//   - *Config: the loaded configuration
//   - error: nil on success, configuration error on failure
func Load() (*Config, error) {
	cfg := &Config{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	preset, ok := NetworkPresets[cfg.Network]
	if !ok {
		return nil, fmt.Errorf("unknown network: %s (valid: mapo-mainnet, mapo-testnet)", cfg.Network)
	}

	cfg.ChainID = preset.ChainID
	cfg.PollInterval = preset.PollInterval
	if cfg.Sync.PollInterval > 0 {
		cfg.PollInterval = cfg.Sync.PollInterval
	}

	if cfg.RPCURL == "" {
		cfg.RPCURL = preset.DefaultRPC
	}

	// Environment overrides for deployment secrets
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database = dbURL
	}
	if rpcURL := os.Getenv("CHAIN_RPC_URL"); rpcURL != "" {
		cfg.RPCURL = rpcURL
	}
	if proxy := os.Getenv("HTTPS_PROXY"); proxy != "" {
		cfg.HTTPSProxy = proxy
	}
	if key := os.Getenv("SIGNER_KEY"); key != "" {
		cfg.SignerKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
//
// Returns:
//   - error: nil if valid, validation error otherwise
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database connection string is required (set DATABASE_URL env var or database in config)")
	}
	if c.Contracts.Stake == "" {
		return fmt.Errorf("contracts.stake address is required")
	}
	if c.Contracts.Liquidity == "" {
		return fmt.Errorf("contracts.liquidity address is required")
	}
	if c.Contracts.Bridge == "" {
		return fmt.Errorf("contracts.bridge address is required")
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}
	if c.Points.PerHour <= 0 {
		return fmt.Errorf("points.per_hour must be positive")
	}
	if c.Sync.BridgeStartBlock < c.Sync.StartBlock {
		return fmt.Errorf("sync.bridge_start_block must not precede sync.start_block")
	}
	if len(c.Bridge.FromChains) == 0 {
		return fmt.Errorf("bridge.from_chains must list at least one origin chain")
	}
	return nil
}

// Watch re-reads tunable knobs when the config file changes on disk.
// Only reload-safe fields are applied; structural fields (addresses,
// database, network) require a restart.
func (c *Config) Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		next := &Config{}
		if err := viper.Unmarshal(next); err != nil {
			return
		}
		c.Sync.MaxRetries = next.Sync.MaxRetries
		c.Sync.RetryDelay = next.Sync.RetryDelay
		if next.Sync.PollInterval > 0 {
			c.PollInterval = next.Sync.PollInterval
		}
		if onChange != nil {
			onChange(c)
		}
	})
	viper.WatchConfig()
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("network", "mapo-mainnet")
	viper.SetDefault("server.api_port", 3000)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("sync.max_retries", 10)
	viper.SetDefault("sync.retry_delay", "1s")
	viper.SetDefault("sync.start_block", 10500000)
	viper.SetDefault("sync.bridge_start_block", 11044351)
	viper.SetDefault("points.per_hour", 12500) // 300000 / 24
	viper.SetDefault("points.start_time", 1712145733)
	viper.SetDefault("points.new_rule_valid_time", 1713132000)
	viper.SetDefault("bridge.points_per_dollar", "0.04")
	viper.SetDefault("bridge.from_chains", []uint64{1, 56, 4200})
}
