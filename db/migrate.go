package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

// Migrations ship inside the binary; each dialect has its own directory
// because the schemas differ in SERIAL/AUTOINCREMENT and types.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// defaultMigrationsDir is where CreateMigration writes new migration
// files, relative to the repository root.
const defaultMigrationsDir = "db/migrations"

func (d *DB) migrator() (*migrate.Migrate, error) {
	var driver database.Driver
	var err error
	switch d.Dialect {
	case Postgres:
		driver, err = postgres.WithInstance(d.DB.DB, &postgres.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(d.DB.DB, &sqlite.Config{})
	default:
		return nil, errors.Errorf("no migration driver for dialect %q", d.Dialect)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not create migration driver")
	}

	source, err := iofs.New(migrations, "migrations/"+string(d.Dialect))
	if err != nil {
		return nil, errors.Wrap(err, "could not read embedded migrations")
	}

	return migrate.NewWithInstance("iofs", source, string(d.Dialect), driver)
}

// MigrateOrReset applies pending migrations to the DB. If there are
// none the database is dropped and migrated up from scratch.
func (d *DB) MigrateOrReset() error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	err = m.Up()
	if err == migrate.ErrNoChange {
		log.Info("No pending migrations, resetting")
		return d.Reset()
	}
	return errors.Wrap(err, "could not migrate or reset")
}

// Teardown drops the database, removing all data and schemas
func (d *DB) Teardown() error {
	if err := d.Drop(); err != nil {
		return fmt.Errorf("cannot teardown DB: %w", err)
	}

	return nil
}

// Reset first drops the DB, then applies migrations
func (d *DB) Reset() error {
	if err := d.Teardown(); err != nil {
		return err
	}
	if err := d.MigrateUp(); err != nil {
		return err
	}

	return nil
}

// Drop drops the existing database
func (d *DB) Drop() error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Drop()
}

type migrationStatus struct {
	Dirty   bool
	Version uint
}

// MigrationStatus returns the migrations version number and dirtyness
func (d *DB) MigrationStatus() (migrationStatus, error) {
	m, err := d.migrator()
	if err != nil {
		return migrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return migrationStatus{}, err
	}
	return migrationStatus{
		Dirty:   dirty,
		Version: version,
	}, nil
}

// MigrateUp migrates everything up
func (d *DB) MigrateUp() error {
	log.WithField("dialect", d.Dialect).Info("Migrating up")
	m, err := d.migrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Info("No migrations applied")
			return nil
		}
		return fmt.Errorf("could not migrate up: %w", err)
	}

	log.Info("Successfully migrated up")
	return nil
}

// MigrateDown migrates down the given number of steps
func (d *DB) MigrateDown(steps int) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Steps(-steps)
}

// MigrateToVersion looks at the currently active migration version, then
// migrates either up or down to the given version
func (d *DB) MigrateToVersion(version uint) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Migrate(version)
}

// ForceVersion sets the migration version and resets the dirty state.
// Use it to recover from a failed migration you've cleaned up by hand.
func (d *DB) ForceVersion(version int) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}

	return m.Force(version)
}

// MigrationFile is a parsed migration file name.
type MigrationFile struct {
	Version     uint64
	Description string
}

// ListVersions lists the embedded migration versions for the DB's
// dialect, with their descriptions.
func (d *DB) ListVersions() []MigrationFile {
	entries, err := fs.ReadDir(migrations, "migrations/"+string(d.Dialect))
	if err != nil {
		log.WithError(err).Error("could not read embedded migrations")
		return nil
	}

	var files []MigrationFile
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		parts := strings.SplitN(strings.TrimSuffix(name, ".up.sql"), "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, MigrationFile{
			Version:     version,
			Description: strings.ReplaceAll(parts[1], "_", " "),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files
}

// CreateMigration creates empty up/down migration files for both
// dialects and returns their common base name.
func (d *DB) CreateMigration(migrationText string) (string, error) {
	migrationTime := time.Now().UTC().Format("20060102150405")
	base := migrationTime + "_" + strcase.ToSnake(migrationText)

	for _, dialect := range []Dialect{Postgres, SQLite} {
		dir := path.Join(defaultMigrationsDir, string(dialect))
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			if err := newMigrationFile(path.Join(dir, base+suffix)); err != nil {
				return "", err
			}
		}
	}

	return base, nil
}

func newMigrationFile(filePath string) error {
	if _, err := os.Create(filePath); err != nil {
		return errors.Wrap(err, "could not create new file")
	}
	return nil
}
