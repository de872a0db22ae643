package registration

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
)

type Config struct {
	// APNEpoch anchors the integer part of priority numbers, YYYY-MM-DD.
	APNEpoch string `conf:"REFERRAL_APN_EPOCH" conf_default:"2000-01-01"`

	// SameDayStep is the fractional increment between same-day registrants.
	SameDayStep string `conf:"REFERRAL_APN_SAME_DAY_STEP" conf_default:"0.01"`
}

func LoadConfig() (epoch time.Time, step decimal.Decimal, err error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return time.Time{}, decimal.Decimal{}, err
	}

	epoch, err = time.Parse("2006-01-02", cfg.APNEpoch)
	if err != nil {
		return time.Time{}, decimal.Decimal{}, errors.Wrap(err, "invalid config, REFERRAL_APN_EPOCH must be YYYY-MM-DD")
	}

	step, err = decimal.NewFromString(cfg.SameDayStep)
	if err != nil || !step.IsPositive() {
		return time.Time{}, decimal.Decimal{}, errors.New("invalid config, REFERRAL_APN_SAME_DAY_STEP must be a positive decimal")
	}

	log.API.Info("Successfully loaded configuration for Registration.")

	return epoch, step, nil
}
