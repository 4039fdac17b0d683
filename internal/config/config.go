package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Lock     LockConfig     `mapstructure:"lock"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Leader   LeaderConfig   `mapstructure:"leader"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LockConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SweepConfig holds the cron specs for the in-process driver. The same sweeps
// are invocable standalone via the auction-jobs binary, so any external
// scheduler can drive them instead.
type SweepConfig struct {
	ActivateSpec     string        `mapstructure:"activate_spec"`
	EndSpec          string        `mapstructure:"end_spec"`
	EndingSoonSpec   string        `mapstructure:"ending_soon_spec"`
	BackfillSpec     string        `mapstructure:"backfill_spec"`
	EndingSoonWindow time.Duration `mapstructure:"ending_soon_window"`
}

type SnapshotConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type PaymentConfig struct {
	Due time.Duration `mapstructure:"due"`
}

// LeaderConfig controls sweep leader election. The TTL must exceed the
// longest sweep interval.
type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("lock.ttl", 10*time.Second)
	viper.SetDefault("lock.attempts", 3)
	viper.SetDefault("lock.retry_delay", 50*time.Millisecond)
	viper.SetDefault("sweep.activate_spec", "@every 30s")
	viper.SetDefault("sweep.end_spec", "@every 30s")
	viper.SetDefault("sweep.ending_soon_spec", "@every 1m")
	viper.SetDefault("sweep.backfill_spec", "@every 10m")
	viper.SetDefault("sweep.ending_soon_window", 15*time.Minute)
	viper.SetDefault("snapshot.ttl", 30*time.Second)
	viper.SetDefault("payment.due", 72*time.Hour)
	viper.SetDefault("leader.ttl", 2*time.Minute)

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-engine/")

	// Environment variable support
	viper.AutomaticEnv()

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("lock.ttl", "LOCK_TTL")
	viper.BindEnv("lock.attempts", "LOCK_ATTEMPTS")
	viper.BindEnv("lock.retry_delay", "LOCK_RETRY_DELAY")
	viper.BindEnv("sweep.ending_soon_window", "SWEEP_ENDING_SOON_WINDOW")
	viper.BindEnv("snapshot.ttl", "SNAPSHOT_TTL")
	viper.BindEnv("payment.due", "PAYMENT_DUE")
	viper.BindEnv("leader.ttl", "LEADER_TTL")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Summary returns a short description of the loaded config for startup logs.
func (c *Config) Summary() string {
	return fmt.Sprintf("server: %s:%d, redis: %s, mysql: %s",
		c.Server.Host, c.Server.Port, c.Redis.Address, c.MySQL.DSN)
}
