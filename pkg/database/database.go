package database

import (
	"context"
	"embed"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// pingTimeout bounds the startup reachability check.
const pingTimeout = 5 * time.Second

// NewPool builds a lazily connecting pool. An unreachable database at startup
// is logged, not returned: the pool dials again on each use, so a database
// that comes back later is picked up without a restart.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("Database unreachable at startup, will retry on use")
		return pool, nil
	}

	log.Info("Database connected successfully")

	return pool, nil
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, _ := m.Version()
	log.WithFields(log.Fields{"version": version, "dirty": dirty}).Info("Database schema up to date")
	return nil
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme the migrate
// driver registers.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}
