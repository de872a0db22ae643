package database

import (
	"errors"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
)

type Config struct {
	MaxOpenConns       int `conf:"REFERRAL_DB_MAX_OPEN_CONNS" conf_default:"40"`
	MaxIdleConns       int `conf:"REFERRAL_DB_MAX_IDLE_CONNS" conf_default:"20"`
	ConnMaxLifetimeMin int `conf:"REFERRAL_DB_CONN_MAX_LIFETIME_MIN" conf_default:"5"`

	DatabaseURL      string `conf:"DATABASE_URL"`
	QueueDatabaseURL string `conf:"QUEUE_DATABASE_URL"`
}

func LoadConfig() (cfg *Config, err error) {
	cfg = &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("invalid config, DatabaseURL must be set")
	}

	log.API.Info("Successfully loaded configuration for Database.")

	return cfg, nil
}
