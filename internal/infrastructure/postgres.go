package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"project_wainbox/internal/repository/migrations"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresClient(ctx context.Context, connString string, maxConns int32, log *slog.Logger) (*PostgresClient, error) {
	if log == nil {
		log = slog.Default()
	}
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresClient{Pool: pool, log: log.With(slog.String("service", "postgres"))}, nil
}

// Migrate applies the embedded schema. Running it on an up-to-date database
// is a no-op.
func (p *PostgresClient) Migrate() error {
	m, err := p.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			p.log.Info("no database migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	p.log.Info("database migrations applied")
	return nil
}

// Rollback reverts the given number of migrations
func (p *PostgresClient) Rollback(steps int) error {
	m, err := p.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	p.log.Info("database migrations rolled back", slog.Int("steps", steps))
	return nil
}

func (p *PostgresClient) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("create embed source driver: %w", err)
	}
	driver, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(p.Pool), &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("create pgx migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
