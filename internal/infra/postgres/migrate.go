package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/haulcrm/integrations/pkg/migrations"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies pending schema migrations.
func Migrate(ctx context.Context, db *DB) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	return migrations.NewRunner(db.DB, fsys).Up(ctx)
}
