package config

import (
	"errors"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var PostgresDB *gorm.DB

// InitPostgres opens the pool backing the wallet ledger and the session
// store. Tick debits are short conditional updates, so the pool keeps a
// modest open-connection ceiling.
func InitPostgres() error {
	v := viper.New()
	v.SetEnvPrefix("POSTGRES")
	v.AutomaticEnv()

	v.SetDefault("max_open_conns", 50)
	v.SetDefault("max_idle_conns", 10)
	v.SetDefault("conn_max_lifetime", "30m")
	v.SetDefault("conn_max_idle_time", "5m")

	uri := v.GetString("uri")
	if uri == "" {
		return errors.New("POSTGRES_URI environment variable is not set")
	}
	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(v.GetInt("max_open_conns"))
	sqlDB.SetMaxIdleConns(v.GetInt("max_idle_conns"))
	sqlDB.SetConnMaxLifetime(v.GetDuration("conn_max_lifetime"))
	sqlDB.SetConnMaxIdleTime(v.GetDuration("conn_max_idle_time"))

	PostgresDB = db
	return nil
}
