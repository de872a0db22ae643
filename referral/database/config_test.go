package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unionhall/referral-app/conf"
)

func TestLoadConfig(t *testing.T) {
	origURL := conf.GetEnv("DATABASE_URL")
	defer func() {
		assert.NoError(t, conf.SetEnv(t, "DATABASE_URL", origURL))
	}()

	assert.NoError(t, conf.SetEnv(t, "DATABASE_URL", "postgresql://someuser:somepassword@db:5432/referral"))

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "postgresql://someuser:somepassword@db:5432/referral", cfg.DatabaseURL)
	assert.Equal(t, 40, cfg.MaxOpenConns)
	assert.Equal(t, 20, cfg.MaxIdleConns)
	assert.Equal(t, 5, cfg.ConnMaxLifetimeMin)
}

func TestLoadConfigMissingURL(t *testing.T) {
	origURL := conf.GetEnv("DATABASE_URL")
	defer func() {
		assert.NoError(t, conf.SetEnv(t, "DATABASE_URL", origURL))
	}()

	assert.NoError(t, conf.UnsetEnv(t, "DATABASE_URL"))

	cfg, err := LoadConfig()
	assert.Nil(t, cfg)
	assert.EqualError(t, err, "invalid config, DatabaseURL must be set")
}
