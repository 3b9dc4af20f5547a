package sqlxstore

import (
	"github.com/jmoiron/sqlx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/third_party/database"
)

// Connect opens the *sqlx.DB backing RoleStore via the shared Postgres
// connection helper.
func Connect(cfg database.PostgresConfig) (*sqlx.DB, error) {
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "connect to postgres for role store", err)
	}
	return db, nil
}
