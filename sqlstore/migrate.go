package sqlstore

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*/*.sql
var migrationFS embed.FS

// ErrNoChange is returned by golang-migrate when already at the target
// version. Migrate swallows it.
var ErrNoChange = migrate.ErrNoChange

// Migrate applies the embedded schema for driver in direction ("up" or
// "down"). It opens its own connection from dsn.
func Migrate(driver Driver, dsn string, direction string) error {
	if dsn == "" {
		return errors.New("sqlstore: dsn is empty")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	url, err := migrationURL(driver, dsn)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationFS, "migrations/"+string(driver))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	}
	return nil
}

func migrationURL(driver Driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite://" + strings.TrimPrefix(dsn, "file:"), nil
	case DriverPostgres:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
			}
		}
		return "", fmt.Errorf("sqlstore: postgres dsn must be a postgres:// url for migrations")
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}
