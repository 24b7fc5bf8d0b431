// Package config loads the orchestrator settings from defaults, an optional
// YAML file and environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"bounty-orchestrator/internal/logging"
)

// EnvPrefix is prepended to every environment variable, with dots mapped to
// underscores: BOUNTY_EXECUTOR_URL sets executor.url.
const EnvPrefix = "BOUNTY"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   logging.Config  `mapstructure:"logging"`
	Dev       DevConfig       `mapstructure:"dev"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	GinMode string `mapstructure:"gin_mode"`
}

// DatabaseConfig selects the durable store. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// RedisConfig configures the run queue and event bus. An empty address uses
// the in-process queue and bus.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ExecutorConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	AgentRole      string `mapstructure:"agent_role"`
}

// Timeout returns the per-call executor timeout.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type KnowledgeConfig struct {
	StalenessDays int `mapstructure:"staleness_days"`
}

// StalenessThreshold returns the profile refresh age.
func (c KnowledgeConfig) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessDays) * 24 * time.Hour
}

type EngineConfig struct {
	// CompetitionPolicy decides routing when competition data is missing or
	// malformed: "proceed" or "skip".
	CompetitionPolicy string `mapstructure:"competition_policy"`
}

type MemoryConfig struct {
	EmbeddingDims int `mapstructure:"embedding_dims"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetries  int `mapstructure:"max_retries"`
}

// DevConfig holds development-only switches.
type DevConfig struct {
	// AllowInMemory permits running without a database. Nothing survives a
	// restart in this mode.
	AllowInMemory bool `mapstructure:"allow_in_memory"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			GinMode: "release",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Redis: RedisConfig{
			PoolSize: 100,
		},
		Executor: ExecutorConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 120,
			AgentRole:      "bob",
		},
		Knowledge: KnowledgeConfig{
			StalenessDays: 7,
		},
		Engine: EngineConfig{
			CompetitionPolicy: "proceed",
		},
		Memory: MemoryConfig{
			EmbeddingDims: 1024,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			MaxRetries:  0,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.gin_mode", defaults.Server.GinMode)

	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.url", defaults.Database.URL)

	v.SetDefault("redis.addr", defaults.Redis.Addr)
	v.SetDefault("redis.pool_size", defaults.Redis.PoolSize)

	v.SetDefault("executor.url", defaults.Executor.URL)
	v.SetDefault("executor.timeout_seconds", defaults.Executor.TimeoutSeconds)
	v.SetDefault("executor.agent_role", defaults.Executor.AgentRole)

	v.SetDefault("knowledge.staleness_days", defaults.Knowledge.StalenessDays)
	v.SetDefault("engine.competition_policy", defaults.Engine.CompetitionPolicy)
	v.SetDefault("memory.embedding_dims", defaults.Memory.EmbeddingDims)

	v.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	v.SetDefault("worker.max_retries", defaults.Worker.MaxRetries)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetDefault("dev.allow_in_memory", defaults.Dev.AllowInMemory)
}

// BindEnv wires environment variables into v. The conventional unprefixed
// names DATABASE_URL, REDIS_ADDR and EXECUTOR_URL are honoured as well.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.addr", EnvPrefix+"_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("executor.url", EnvPrefix+"_EXECUTOR_URL", "EXECUTOR_URL")
}

// New returns a viper instance with defaults and environment bindings. When
// file is non-empty it is read as YAML.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
