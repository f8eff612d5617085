package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the settlement service
type Config struct {
	Environment string                 `mapstructure:"environment"`
	LogLevel    string                 `mapstructure:"log_level"`
	Server      ServerConfig           `mapstructure:"server"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Redis       RedisConfig            `mapstructure:"redis"`
	Wallet      WalletConfig           `mapstructure:"wallet"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
	Settlement  SettlementConfig       `mapstructure:"settlement"`
	Sweep       SweepConfig            `mapstructure:"sweep"`
	Sponsor     SponsorConfig          `mapstructure:"sponsor"`
	Secrets     SecretsConfig          `mapstructure:"secrets"`
	Tracing     TracingConfig          `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// WalletConfig controls deterministic deposit-address derivation.
type WalletConfig struct {
	// DerivationPath is the BIP-44 prefix; the user's wallet index is
	// appended as the final path component.
	DerivationPath string `mapstructure:"derivation_path"`
}

// ChainConfig describes one watched EVM chain. The map key in
// Config.Chains is the chain key used in settlement identity keys.
type ChainConfig struct {
	ChainID       int64  `mapstructure:"chain_id"`
	RPC           string `mapstructure:"rpc"`
	Confirmations uint64 `mapstructure:"confirmations"`
	DetectionMode string `mapstructure:"detection_mode"` // transactions | balances
	PollInterval  int    `mapstructure:"poll_interval"`  // seconds

	// StableToken is the ERC-20 the chain settles into (e.g. USDC).
	StableToken         string `mapstructure:"stable_token"`
	StableTokenDecimals int    `mapstructure:"stable_token_decimals"`
	WrappedNative       string `mapstructure:"wrapped_native"` // WETH-style contract

	// DEX surfaces for the swap strategies. Any may be empty; the
	// router tries strategies in its configured order and skips those
	// whose addresses are missing.
	V2Factory     string   `mapstructure:"v2_factory"`
	V3Router      string   `mapstructure:"v3_router"`
	V3Quoter      string   `mapstructure:"v3_quoter"`
	OneShotSwap   string   `mapstructure:"one_shot_swap"` // combined swap-and-distribute contract
	StrategyOrder []string `mapstructure:"strategy_order"`

	// SlippageBps is the tolerated downward price movement when a quote
	// is available, in basis points.
	SlippageBps int64 `mapstructure:"slippage_bps"`

	// AllowUnboundedSlippage lets the router strategy swap with a zero
	// minimum output when no quoter is configured. Off by default; a
	// quote is otherwise mandatory.
	AllowUnboundedSlippage bool `mapstructure:"allow_unbounded_slippage"`

	MaxFeePerGasWei       string `mapstructure:"max_fee_per_gas_wei"`        // cap, 0 = chain estimate
	MaxPriorityFeeGwei    string `mapstructure:"max_priority_fee_gwei"`      // cap, 0 = chain estimate
	RPCRateLimitPerSecond int    `mapstructure:"rpc_rate_limit_per_second"`
}

// SettlementConfig controls the deposit pipeline and treasury split.
type SettlementConfig struct {
	// QueueConcurrency bounds how many deposits settle at once.
	QueueConcurrency int `mapstructure:"queue_concurrency"`
	QueueCapacity    int `mapstructure:"queue_capacity"`
	// StepTimeout bounds each settlement step (swap, split, credit).
	StepTimeout int `mapstructure:"step_timeout"` // seconds
	MaxAttempts int `mapstructure:"max_attempts"`
	// StuckAfter marks pending settlements older than this as stuck.
	StuckAfter int `mapstructure:"stuck_after"` // seconds

	// FeeBps of every settlement goes to the fee wallet; the remainder
	// of the 10000 goes to the master treasury.
	FeeBps        int64  `mapstructure:"fee_bps"`
	MasterAddress string `mapstructure:"master_address"`
	FeeAddress    string `mapstructure:"fee_address"`

	// GaslessSplit uses EIP-3009 transferWithAuthorization so deposit
	// addresses never need native gas for the stable-token split.
	GaslessSplit bool `mapstructure:"gasless_split"`

	// ResyncInterval refreshes the watched address set from the
	// database. Seconds.
	ResyncInterval int `mapstructure:"resync_interval"`
}

// SweepConfig controls residual native-balance collection.
type SweepConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"` // cron expression
	MinSweepWei string `mapstructure:"min_sweep_wei"`
	Destination string `mapstructure:"destination"` // defaults to master address
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// SponsorConfig controls the gas sponsor wallet that tops up deposit
// addresses when a non-gasless path needs native fees.
type SponsorConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TopUpWei     string `mapstructure:"top_up_wei"`
	MinBalanceWei string `mapstructure:"min_balance_wei"` // alert threshold for the sponsor itself
}

type SecretsConfig struct {
	Provider string `mapstructure:"provider"` // env | aws
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load reads configuration from configs/config.yaml and the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if config.Sweep.Destination == "" {
		config.Sweep.Destination = config.Settlement.MasterAddress
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "settlement_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.max_retries", 3)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("wallet.derivation_path", "m/44'/60'/0'/0")

	viper.SetDefault("settlement.queue_concurrency", 2)
	viper.SetDefault("settlement.queue_capacity", 1024)
	viper.SetDefault("settlement.step_timeout", 120)
	viper.SetDefault("settlement.max_attempts", 3)
	viper.SetDefault("settlement.stuck_after", 1800)
	viper.SetDefault("settlement.fee_bps", 1000)
	viper.SetDefault("settlement.gasless_split", true)
	viper.SetDefault("settlement.resync_interval", 5)

	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.schedule", "0 */15 * * * *")
	viper.SetDefault("sweep.min_sweep_wei", "1000000000000000") // 0.001 native
	viper.SetDefault("sweep.max_attempts", 3)

	viper.SetDefault("sponsor.enabled", false)
	viper.SetDefault("sponsor.top_up_wei", "2000000000000000") // 0.002 native

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.region", "us-east-1")
	viper.SetDefault("secrets.prefix", "settlement/")
	viper.SetDefault("secrets.cache_ttl", 300)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_rate", 0.1)
	viper.SetDefault("tracing.insecure", true)
}

// validate fails fast on anything the pipeline cannot run without.
func validate(config *Config) error {
	if len(config.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for key, chain := range config.Chains {
		if chain.RPC == "" {
			return fmt.Errorf("chain %s: rpc endpoint is required", key)
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s: chain_id is required", key)
		}
		if chain.StableToken == "" {
			return fmt.Errorf("chain %s: stable_token is required", key)
		}
		switch chain.DetectionMode {
		case "", "transactions", "balances":
		default:
			return fmt.Errorf("chain %s: invalid detection_mode %q", key, chain.DetectionMode)
		}
		if chain.SlippageBps < 0 || chain.SlippageBps >= 10000 {
			return fmt.Errorf("chain %s: slippage_bps must be in [0, 10000)", key)
		}
	}

	if config.Settlement.FeeBps < 0 || config.Settlement.FeeBps > 10000 {
		return fmt.Errorf("settlement.fee_bps must be in [0, 10000]")
	}
	if config.Settlement.MasterAddress == "" {
		return fmt.Errorf("settlement.master_address is required")
	}
	if config.Settlement.FeeBps > 0 && config.Settlement.FeeAddress == "" {
		return fmt.Errorf("settlement.fee_address is required when fee_bps > 0")
	}
	if config.Settlement.QueueConcurrency < 1 {
		return fmt.Errorf("settlement.queue_concurrency must be at least 1")
	}

	switch config.Secrets.Provider {
	case "env", "aws":
	default:
		return fmt.Errorf("secrets.provider must be env or aws")
	}

	return nil
}
