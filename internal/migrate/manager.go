// Package migrate applies the embedded schema migrations and seed data with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql seeds/*.sql
var assets embed.FS

const (
	migrationsDir    = "migrations"
	seedsDir         = "seeds"
	defaultTableName = "schema_migrations"
	dialect          = "pgx"
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Seams over goose so tests can run without a database.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersionContext = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Manager runs migrations and seeds against a Postgres database.
type Manager struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithTableName overrides the goose version table.
func WithTableName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLogger routes goose output through slog.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		table:  defaultTableName,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseUpContext(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseDownContext(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("rollback migration: %w", err)
		}
		return nil
	})
}

// Seed applies the seed files. Seeds are idempotent and are not versioned.
func (m *Manager) Seed(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseUpContext(ctx, m.db, seedsDir, goose.WithNoVersioning()); err != nil {
			return fmt.Errorf("apply seeds: %w", err)
		}
		return nil
	})
}

// Version reports the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.run(func() error {
		v, err := gooseVersionContext(ctx, m.db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func (m *Manager) run(fn func() error) error {
	if m.db == nil {
		return fmt.Errorf("migrate: database handle is nil")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(assets)
	goose.SetTableName(m.table)
	goose.SetLogger(gooseLogger{l: m.logger})
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return fn()
}

type gooseLogger struct {
	l *slog.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.l.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.l.Error(fmt.Sprintf(format, v...), "component", "migrate")
}
