package sqlite

import (
	"embed"

	"github.com/garyjia/payapp-engine/pkg/database"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema migrations
func Migrate(db *database.DB, logger *zap.Logger) error {
	return database.NewMigrator(db, logger).Run(migrationFS, "migrations")
}
