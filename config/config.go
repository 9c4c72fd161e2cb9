package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Invoice      InvoiceConfig      `mapstructure:"invoice"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	PriceFeed    PriceFeedConfig    `mapstructure:"price_feed"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Broadcast    BroadcastConfig    `mapstructure:"broadcast"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	AES          AESConfig          `mapstructure:"aes"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ChainConfig describes the ledger contract, the fungible asset and the RPC
// endpoint the reconciliation engine reads from.
type ChainConfig struct {
	Network         string        `mapstructure:"network"` // mainnet, testnet, devnet
	RPCURL          string        `mapstructure:"rpc_url"`
	RPCTimeout      time.Duration `mapstructure:"rpc_timeout"`
	RPCRetries      int           `mapstructure:"rpc_retries"`
	ContractAddress string        `mapstructure:"contract_address"`
	ContractName    string        `mapstructure:"contract_name"`
	AssetAddress    string        `mapstructure:"asset_address"`
	AssetContract   string        `mapstructure:"asset_contract"`
	AssetName       string        `mapstructure:"asset_name"`
	AssetDecimals   int           `mapstructure:"asset_decimals"`
}

// ContractID returns the fully qualified ledger contract identifier.
func (c ChainConfig) ContractID() string {
	return c.ContractAddress + "." + c.ContractName
}

type PollerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	MinConfirmations  uint64        `mapstructure:"min_confirmations"`
	ReorgWindowBlocks uint64        `mapstructure:"reorg_window_blocks"`
	SweepBatch        int           `mapstructure:"sweep_batch"`
}

type InvoiceConfig struct {
	QuoteTTL        time.Duration `mapstructure:"quote_ttl"`
	AvgBlockTime    time.Duration `mapstructure:"avg_block_time"`
	MinExpiryBlocks uint64        `mapstructure:"min_expiry_blocks"`
}

type SubscriptionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

type PriceFeedConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	DefaultUSD float64       `mapstructure:"default_usd"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type WebhookConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"` // retry sweep cadence
	MaxSkew       time.Duration `mapstructure:"max_skew"`
	ReplayTTL     time.Duration `mapstructure:"replay_ttl"`
}

type BroadcastConfig struct {
	Auto      bool   `mapstructure:"auto"`
	SignerKey string `mapstructure:"signer_key"` // required only when auto is enabled
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CPG_ (ChainPay Gateway).
// Nested keys use underscore: CPG_DATABASE_HOST, CPG_CHAIN_RPC_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "chainpay_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("chain.network", "testnet")
	v.SetDefault("chain.rpc_url", "http://localhost:3999")
	v.SetDefault("chain.rpc_timeout", "10s")
	v.SetDefault("chain.rpc_retries", 3)
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.contract_name", "payment-gateway")
	v.SetDefault("chain.asset_address", "")
	v.SetDefault("chain.asset_contract", "")
	v.SetDefault("chain.asset_name", "")
	v.SetDefault("chain.asset_decimals", 8)
	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.min_confirmations", 1)
	v.SetDefault("poller.reorg_window_blocks", 6)
	v.SetDefault("poller.sweep_batch", 50)
	v.SetDefault("invoice.quote_ttl", "15m")
	v.SetDefault("invoice.avg_block_time", "10m")
	v.SetDefault("invoice.min_expiry_blocks", 3)
	v.SetDefault("subscription.interval", "60s")
	v.SetDefault("subscription.batch", 25)
	v.SetDefault("price_feed.url", "")
	v.SetDefault("price_feed.timeout", "5s")
	v.SetDefault("price_feed.retries", 2)
	v.SetDefault("price_feed.default_usd", 0)
	v.SetDefault("price_feed.cache_ttl", "5m")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.retry_interval", "30s")
	v.SetDefault("webhook.max_skew", "5m")
	v.SetDefault("webhook.replay_ttl", "10m")
	v.SetDefault("broadcast.auto", false)
	v.SetDefault("broadcast.signer_key", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "chainpay-gateway")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CPG_CHAIN_RPC_URL -> chain.rpc_url
	v.SetEnvPrefix("CPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations that cannot work at all, rather than
// failing later mid-tick.
func (c *Config) validate() error {
	if c.Poller.MinConfirmations == 0 {
		return fmt.Errorf("poller.min_confirmations must be at least 1")
	}
	if c.Broadcast.Auto && c.Broadcast.SignerKey == "" {
		return fmt.Errorf("broadcast.signer_key is required when broadcast.auto is enabled")
	}
	return nil
}
