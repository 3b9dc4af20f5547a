package gormstore

import (
	"fmt"

	_ "github.com/lib/pq" // registers the lib/pq database/sql driver; Connect itself opens through gorm's postgres dialector
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
)

// DSNConfig describes a Postgres connection for the signing-key and API-key
// stores, mirroring third_party/database.PostgresConfig's field shape.
type DSNConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Connect opens a GORM/Postgres connection, following the same
// gorm.Open(postgres.Open(dsn)) shape gourdiantoken-master's repository
// documentation recommends for production deployments.
func Connect(cfg DSNConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "open postgres connection", err)
	}
	return db, nil
}
