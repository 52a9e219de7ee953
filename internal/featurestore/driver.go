package featurestore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

// openDialector builds the GORM dialector for the configured datastore type.
// An explicit DSN wins over the assembled connection string.
func openDialector(cfg *config.DatastoreConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Database
		}
		return sqlite.Open(dsn), nil
	case "postgres", "redshift":
		dsn := cfg.DSN
		if dsn == "" {
			sslmode := cfg.SSLMode
			if sslmode == "" {
				sslmode = "disable"
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslmode)
		}
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		}
		return mysql.Open(dsn), nil
	default:
		return nil, exception.NewPipelineErrorf(moduleName, "unsupported datastore type: '%s'", cfg.Type)
	}
}
