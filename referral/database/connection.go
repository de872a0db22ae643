package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Variable substitution to support testing.
var LogFatal = log.Fatal

// GetDbConnection opens the queue store connection using the pool settings
// from config.
func GetDbConnection() *sql.DB {
	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		LogFatal(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMin) * time.Minute)

	pingErr := db.Ping()
	if pingErr != nil {
		LogFatal(pingErr)
	}
	return db
}
