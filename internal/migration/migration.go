package migration

import (
	"database/sql"
	"embed"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the embedded migration files rooted at their directory.
func Source() (fs.FS, error) {
	return fs.Sub(embedded, "migrations")
}

// RunMigrations brings a postgres schema up to the newest embedded
// version. A dirty schema is reported and left alone.
func RunMigrations(db *sql.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("migration: nil database handle")
	}
	if log == nil {
		log = zap.NewNop()
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	// migrator.Close would close the shared *sql.DB.

	if version, dirty, err := migrator.Version(); err == nil && dirty {
		return errors.Newf("migration: schema is dirty at version %d", version)
	}

	switch err := migrator.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("schema up to date")
	case err != nil:
		return errors.Wrap(err, "migration: apply")
	}

	if version, _, err := migrator.Version(); err == nil {
		log.Info("schema migrated", zap.Uint("version", version))
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := Source()
	if err != nil {
		return nil, errors.Wrap(err, "migration: open embedded files")
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, errors.Wrap(err, "migration: source")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "migration: driver")
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "migration: init")
	}
	return migrator, nil
}
