package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Auth      AuthConfig      `yaml:"auth"`
	Notify    NotifyConfig    `yaml:"notify"`
	Worker    WorkerConfig    `yaml:"worker"`
	Outbox    OutboxConfig    `yaml:"outbox"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// LimitsConfig mirrors WALLET_LIMITS, in minor currency units.
type LimitsConfig struct {
	MinDeposit    int64 `yaml:"min_deposit"`
	MaxDeposit    int64 `yaml:"max_deposit"`
	MinWithdrawal int64 `yaml:"min_withdrawal"`
	MaxWithdrawal int64 `yaml:"max_withdrawal"`
}

// FeesConfig holds percentage rates as decimal strings, e.g. "0.02".
type FeesConfig struct {
	MobileMoneyRate  string `yaml:"mobile_money_rate"`
	BankTransferRate string `yaml:"bank_transfer_rate"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

type WalletConfig struct {
	Limits        LimitsConfig  `yaml:"limits"`
	Fees          FeesConfig    `yaml:"fees"`
	WithdrawalSLA time.Duration `yaml:"withdrawal_sla"`
	HistoryLimit  int           `yaml:"history_limit"`
	Retry         RetryConfig   `yaml:"retry"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type NotifyConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
}

type WorkerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	ApproveAfter  time.Duration `yaml:"approve_after"`
	CompleteAfter time.Duration `yaml:"complete_after"`
}

type OutboxConfig struct {
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

// Path returns the config file location, WALLET_CONFIG wins over the default.
func Path() string {
	if p := os.Getenv("WALLET_CONFIG"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml bytes, applies env overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override secrets from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if s := os.Getenv("JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "wallet-events"
	}

	l := &c.Wallet.Limits
	if l.MinDeposit == 0 {
		l.MinDeposit = 500
	}
	if l.MaxDeposit == 0 {
		l.MaxDeposit = 2_000_000
	}
	if l.MinWithdrawal == 0 {
		l.MinWithdrawal = 1_000
	}
	if l.MaxWithdrawal == 0 {
		l.MaxWithdrawal = 1_000_000
	}
	if c.Wallet.Fees.MobileMoneyRate == "" {
		c.Wallet.Fees.MobileMoneyRate = "0.02"
	}
	if c.Wallet.Fees.BankTransferRate == "" {
		c.Wallet.Fees.BankTransferRate = "0.015"
	}
	if c.Wallet.WithdrawalSLA == 0 {
		c.Wallet.WithdrawalSLA = 24 * time.Hour
	}
	if c.Wallet.HistoryLimit == 0 {
		c.Wallet.HistoryLimit = 50
	}
	if c.Wallet.Retry.Attempts == 0 {
		c.Wallet.Retry.Attempts = 3
	}
	if c.Wallet.Retry.Backoff == 0 {
		c.Wallet.Retry.Backoff = 100 * time.Millisecond
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "wallet-ledger"
	}
	if c.Notify.Backend == "" {
		c.Notify.Backend = "memory"
	}
	if c.Worker.Interval == 0 {
		c.Worker.Interval = 30 * time.Second
	}
	if c.Worker.ApproveAfter == 0 {
		c.Worker.ApproveAfter = time.Minute
	}
	if c.Worker.CompleteAfter == 0 {
		c.Worker.CompleteAfter = 5 * time.Minute
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.Batch == 0 {
		c.Outbox.Batch = 100
	}
}
