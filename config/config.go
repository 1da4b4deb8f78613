package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Treasury  TreasuryConfig  `mapstructure:"treasury"`
	Gas       GasConfig       `mapstructure:"gas"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// VaultConfig holds the secret the key vault derives its cipher key from.
type VaultConfig struct {
	Secret string `mapstructure:"secret"`
}

type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Network        string        `mapstructure:"network"` // mainnet, testnet, private
	ContractHash   string        `mapstructure:"contract_hash"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RPCRate        float64       `mapstructure:"rpc_rps"`
	RPCBurst       int           `mapstructure:"rpc_burst"`
}

type TreasuryConfig struct {
	PrivateKeyWIF      string `mapstructure:"private_key_wif"`
	DefaultUSDPerToken string `mapstructure:"default_usd_per_token"`
}

// GasConfig amounts are in GAS fractions (8 decimals).
type GasConfig struct {
	MinBalance   int64         `mapstructure:"min_balance"`
	TopUpAmount  int64         `mapstructure:"top_up_amount"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron spec
	MinAge   time.Duration `mapstructure:"min_age"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Batch    int           `mapstructure:"batch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CTL_ (custodial token ledger).
// Nested keys use underscore: CTL_DATABASE_HOST, CTL_VAULT_SECRET, etc.
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
	v.SetDefault("database.dbname", "custodial_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10m")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "campus-auth")
	v.SetDefault("vault.secret", "")
	v.SetDefault("chain.rpc_url", "http://localhost:20332")
	v.SetDefault("chain.network", "testnet")
	v.SetDefault("chain.contract_hash", "")
	v.SetDefault("chain.confirm_timeout", "2m")
	v.SetDefault("chain.poll_interval", "2s")
	v.SetDefault("chain.rpc_rps", 20)
	v.SetDefault("chain.rpc_burst", 40)
	v.SetDefault("treasury.private_key_wif", "")
	v.SetDefault("treasury.default_usd_per_token", "1")
	v.SetDefault("gas.min_balance", 50000000)    // 0.5 GAS
	v.SetDefault("gas.top_up_amount", 100000000) // 1 GAS
	v.SetDefault("gas.max_attempts", 3)
	v.SetDefault("gas.retry_backoff", "2s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "ledger.entries")
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 1m")
	v.SetDefault("reconcile.min_age", "5m")
	v.SetDefault("reconcile.max_age", "1h")
	v.SetDefault("reconcile.batch", 100)
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

	// Environment variables: CTL_CHAIN_RPC_URL -> chain.rpc_url
	v.SetEnvPrefix("CTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Vault.Secret == "" {
		return fmt.Errorf("vault.secret is required")
	}
	if c.Chain.ContractHash == "" {
		return fmt.Errorf("chain.contract_hash is required")
	}
	if c.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("chain.confirm_timeout must be positive")
	}
	if c.Gas.TopUpAmount < c.Gas.MinBalance {
		return fmt.Errorf("gas.top_up_amount must be at least gas.min_balance")
	}
	if c.Redis.Enabled && c.Redis.LockTTL <= c.MaxLockHold() {
		return fmt.Errorf("redis.lock_ttl must exceed the longest lock hold (%s)", c.MaxLockHold())
	}
	if c.Reconcile.Enabled && c.Reconcile.MinAge <= c.Chain.ConfirmTimeout {
		return fmt.Errorf("reconcile.min_age must exceed chain.confirm_timeout")
	}
	return nil
}

// lockHoldSlack covers the RPC and database calls made under a lock besides
// the confirmation waits.
const lockHoldSlack = time.Minute

// MaxLockHold is the longest a transfer can hold an account lock: every gas
// top-up attempt waiting out its confirmation and backoff, then the transfer's
// own confirmation wait.
func (c *Config) MaxLockHold() time.Duration {
	attempts := time.Duration(c.Gas.MaxAttempts)
	if attempts < 1 {
		attempts = 1
	}
	return attempts*(c.Chain.ConfirmTimeout+c.Gas.RetryBackoff) + c.Chain.ConfirmTimeout + lockHoldSlack
}
