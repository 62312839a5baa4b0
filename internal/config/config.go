package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	OAI      OAIConfig      `yaml:"oai"`
	Harvest  HarvestConfig  `yaml:"harvest"`
	LogLevel string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	DBName      string            `yaml:"dbname"`
	SSLMode     string            `yaml:"sslmode"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RabbitMQConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type OAIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	MetadataPrefix string        `yaml:"metadata_prefix"`
	Timeout        time.Duration `yaml:"timeout"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryAfter       time.Duration `yaml:"retry_after"`
	RetryStatusCodes []int         `yaml:"retry_status_codes"`
}

type HarvestConfig struct {
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	SetSpecs          []string      `yaml:"set_specs"`
	BackfillChunkDays int           `yaml:"backfill_chunk_days"`
	ChunkCooldown     time.Duration `yaml:"chunk_cooldown"`
	WatchInterval     time.Duration `yaml:"watch_interval"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Database.resolveCredentials(); err != nil {
		return nil, fmt.Errorf("resolve database credentials: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.OAI.BaseURL == "" {
		c.OAI.BaseURL = "http://export.arxiv.org/oai2"
	}
	if c.OAI.MetadataPrefix == "" {
		c.OAI.MetadataPrefix = "oai_dc"
	}
	if c.OAI.Timeout == 0 {
		c.OAI.Timeout = 60 * time.Second
	}
	if c.OAI.Retry.MaxAttempts == 0 {
		c.OAI.Retry.MaxAttempts = 3
	}
	if c.OAI.Retry.RetryAfter == 0 {
		c.OAI.Retry.RetryAfter = 5 * time.Second
	}
	if len(c.OAI.Retry.RetryStatusCodes) == 0 {
		c.OAI.Retry.RetryStatusCodes = []int{503, 429}
	}
	// arxiv.org allows at most one request every 3 seconds.
	if c.Harvest.RateLimitDelay == 0 {
		c.Harvest.RateLimitDelay = 3 * time.Second
	}
	if c.Harvest.MaxBatchSize == 0 {
		c.Harvest.MaxBatchSize = 2000
	}
	if len(c.Harvest.SetSpecs) == 0 {
		c.Harvest.SetSpecs = []string{"physics", "math", "cs", "q-bio", "q-fin", "stat", "eess", "econ"}
	}
	if c.Harvest.BackfillChunkDays == 0 {
		c.Harvest.BackfillChunkDays = 7
	}
	if c.Harvest.ChunkCooldown == 0 {
		c.Harvest.ChunkCooldown = 5 * time.Second
	}
	if c.Harvest.WatchInterval == 0 {
		c.Harvest.WatchInterval = 24 * time.Hour
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
