package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		PresenceTTLSeconds         int `mapstructure:"presence_ttl_seconds"`
		LockLeaseSeconds           int `mapstructure:"lock_lease_seconds"`
		IdempotencyTTLSeconds      int `mapstructure:"idempotency_ttl_seconds"`
		MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
		MaxInflightOps             int `mapstructure:"max_inflight_ops"`
	} `mapstructure:"collab"`
}

// Load reads collabsyncConfig.yaml, searching the usual launch directories.
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("collabsyncConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func secondsOr(val int, fallback time.Duration) time.Duration {
	if val <= 0 {
		return fallback
	}
	return time.Duration(val) * time.Second
}

func (c *Config) PresenceTTL() time.Duration {
	return secondsOr(c.Collab.PresenceTTLSeconds, 60*time.Second)
}

func (c *Config) LockLease() time.Duration {
	return secondsOr(c.Collab.LockLeaseSeconds, 30*time.Second)
}

func (c *Config) IdempotencyTTL() time.Duration {
	return secondsOr(c.Collab.IdempotencyTTLSeconds, 5*time.Minute)
}

func (c *Config) MaintenanceInterval() time.Duration {
	return secondsOr(c.Collab.MaintenanceIntervalSeconds, 5*time.Minute)
}
