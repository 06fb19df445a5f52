package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowOrigins    []string      `yaml:"allow_origins"` // CORS is off when empty
		RateLimit       struct {
			Burst     float64 `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Digest ships aggregated error entries to Kafka when Topic is set.
		Digest struct {
			Topic      string        `yaml:"topic"`
			Interval   time.Duration `yaml:"interval"`
			MaxEntries int           `yaml:"max_entries"`
		} `yaml:"digest"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Manager struct {
		Address          string        `yaml:"address"`
		CodeHash         string        `yaml:"code_hash"`
		ViewingKey       string        `yaml:"viewing_key"`
		Treasury         string        `yaml:"treasury"`
		AdminAuth        Contract      `yaml:"admin_auth"`
		LockTTL          time.Duration `yaml:"lock_ttl"`
		DispatchInterval time.Duration `yaml:"dispatch_interval"`
		OutboxBatch      int           `yaml:"outbox_batch"`
		RebalanceEvery   time.Duration `yaml:"rebalance_every"`
	} `yaml:"manager"`
	Store struct {
		Type  string `yaml:"type"` // memory or redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"store"`
	Kafka struct {
		Brokers           []string `yaml:"brokers"`
		InstructionsTopic string   `yaml:"instructions_topic"`
		DepositsTopic     string   `yaml:"deposits_topic"`
		RequiredAcks      int      `yaml:"required_acks"`
		Compression       string   `yaml:"compression"`
		Producer          struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Chain struct {
		GatewayURL     string        `yaml:"gateway_url"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Timeout        time.Duration `yaml:"timeout"`
		Retries        int           `yaml:"retries"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		InfoCacheTTL   time.Duration `yaml:"info_cache_ttl"`
	} `yaml:"chain"`
	Pipeline struct {
		BufferSize int           `yaml:"buffer_size"`
		DedupeTTL  time.Duration `yaml:"dedupe_ttl"`
	} `yaml:"pipeline"`
	Queue struct {
		Enabled       bool          `yaml:"enabled"`
		Prefix        string        `yaml:"prefix"`
		Workers       int           `yaml:"workers"`
		RetryLimit    int           `yaml:"retry_limit"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	} `yaml:"queue"`
}

// Contract is an address and code hash pair.
type Contract struct {
	Address  string `yaml:"address"`
	CodeHash string `yaml:"code_hash"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.setDefaults()
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("MANAGER_ADDRESS"); v != "" {
		c.Manager.Address = v
	}
	if v := os.Getenv("MANAGER_VIEWING_KEY"); v != "" {
		c.Manager.ViewingKey = v
	}
	if v := os.Getenv("TREASURY_ADDRESS"); v != "" {
		c.Manager.Treasury = v
	}
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CHAIN_GATEWAY_URL"); v != "" {
		c.Chain.GatewayURL = v
	}
	if v := os.Getenv("CHAIN_WEBSOCKET_URL"); v != "" {
		c.Chain.WebSocketURL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "fintreasury"
	}
	if c.Manager.LockTTL == 0 {
		c.Manager.LockTTL = 30 * time.Second
	}
	if c.Manager.DispatchInterval == 0 {
		c.Manager.DispatchInterval = 5 * time.Second
	}
	if c.Manager.OutboxBatch == 0 {
		c.Manager.OutboxBatch = 100
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "treasury_journal"
	}
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = 10 * time.Second
	}
	if c.Chain.ReconnectDelay == 0 {
		c.Chain.ReconnectDelay = 5 * time.Second
	}
	if c.Chain.PingInterval == 0 {
		c.Chain.PingInterval = 30 * time.Second
	}
	if c.Chain.InfoCacheTTL == 0 {
		c.Chain.InfoCacheTTL = time.Hour
	}
	if c.Pipeline.DedupeTTL == 0 {
		c.Pipeline.DedupeTTL = 24 * time.Hour
	}
	if c.Queue.Prefix == "" {
		c.Queue.Prefix = "fintreasury:queue"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Manager.Address == "" {
		return fmt.Errorf("manager.address is required")
	}
	if c.Manager.Treasury == "" {
		return fmt.Errorf("manager.treasury is required")
	}
	if c.Manager.AdminAuth.Address == "" {
		return fmt.Errorf("manager.admin_auth.address is required")
	}
	if c.Store.Type != "memory" && c.Store.Type != "redis" {
		return fmt.Errorf("store.type must be 'memory' or 'redis', got '%s'", c.Store.Type)
	}
	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for the redis store")
	}
	if c.Queue.Enabled && c.Store.Redis.Addr == "" {
		return fmt.Errorf("queue requires store.redis.addr")
	}
	if c.Chain.GatewayURL == "" {
		return fmt.Errorf("chain.gateway_url is required")
	}
	return nil
}

// KafkaEnabled reports whether instructions go to Kafka rather than the log.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.InstructionsTopic != ""
}
