package compliance

import (
	"time"

	"github.com/pkg/errors"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
)

type Config struct {
	ReSignIntervalDays int `conf:"REFERRAL_RESIGN_INTERVAL_DAYS" conf_default:"30"`
	ReSignDueSoonDays  int `conf:"REFERRAL_RESIGN_DUE_SOON_DAYS" conf_default:"7"`
	CheckMarkLimit     int `conf:"REFERRAL_CHECK_MARK_LIMIT" conf_default:"3"`
	BlackoutDays       int `conf:"REFERRAL_BLACKOUT_DAYS" conf_default:"14"`

	BidWindowOpen            string `conf:"REFERRAL_BID_WINDOW_OPEN" conf_default:"18:00"`
	BidWindowClose           string `conf:"REFERRAL_BID_WINDOW_CLOSE" conf_default:"08:00"`
	BidRejectionLimit        int    `conf:"REFERRAL_BID_REJECTION_LIMIT" conf_default:"2"`
	BidRejectionWindowMonths int    `conf:"REFERRAL_BID_REJECTION_WINDOW_MONTHS" conf_default:"12"`
	BidBanMonths             int    `conf:"REFERRAL_BID_BAN_MONTHS" conf_default:"12"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}

	for _, w := range []string{cfg.BidWindowOpen, cfg.BidWindowClose} {
		if _, err := time.Parse("15:04", w); err != nil {
			return nil, errors.Wrapf(err, "invalid config, bid window boundary %q must be HH:MM", w)
		}
	}

	log.API.Info("Successfully loaded configuration for Compliance.")

	return cfg, nil
}
