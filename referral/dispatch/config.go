package dispatch

import (
	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
)

type Config struct {
	// ShortCallCycleLimit caps short-call dispatches per worker per cycle.
	ShortCallCycleLimit int `conf:"REFERRAL_SHORT_CALL_CYCLE_LIMIT" conf_default:"2"`

	// ShortCallCycleDays is the rolling window the cap is counted over.
	ShortCallCycleDays int `conf:"REFERRAL_SHORT_CALL_CYCLE_DAYS" conf_default:"30"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}

	log.Engine.Info("Successfully loaded configuration for Dispatch.")

	return cfg, nil
}
