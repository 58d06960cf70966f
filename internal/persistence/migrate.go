package persistence

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/vimsent/chessd/internal/logging"
)

// Migrate applies every pending migration under migrationsPath
// (file://migrations) to the database at dsn. ErrNoChange is not an
// error — it just means the schema was already current.
func Migrate(dsn, migrationsPath string) error {
	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logging.Warn("migration source close failed", "error", srcErr)
		}
		if dbErr != nil {
			logging.Warn("migration db close failed", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
