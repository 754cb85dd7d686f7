// Package database stores console projects and the sprites created for
// them, using bun over SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// ErrNotFound is returned when a row does not exist or belongs to
// another owner.
var ErrNotFound = errors.New("not found")

// BunDB wraps bun.DB and provides repository access
type BunDB struct {
	db *bun.DB

	// Repositories
	Projects ProjectRepository
	Sprites  SpriteRepository
}

// Option is a functional option for configuring the database
type Option func(*BunDB)

// WithDebug enables query logging for debugging
func WithDebug(enabled bool) Option {
	return func(db *BunDB) {
		if enabled {
			db.db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
			))
			log.Info().Msg("Bun query logging enabled")
		}
	}
}

// New opens the database at dsn and runs migrations
func New(dsn string, opts ...Option) (*BunDB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if strings.Contains(dsn, ":memory:") {
		sqldb.SetMaxOpenConns(1)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	bunDB := &BunDB{db: db}

	for _, opt := range opts {
		opt(bunDB)
	}

	bunDB.Projects = NewProjectRepository(db)
	bunDB.Sprites = NewSpriteRepository(db)

	if err := bunDB.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("Bun database initialized successfully")
	return bunDB, nil
}

// Close closes the database connection
func (db *BunDB) Close() error {
	return db.db.Close()
}

// DB returns the underlying bun.DB instance
func (db *BunDB) DB() *bun.DB {
	return db.db
}

// Ping checks that the database is reachable
func (db *BunDB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Migrate creates tables and indexes that do not exist yet
func (db *BunDB) Migrate(ctx context.Context) error {
	log.Debug().Msg("Running database migrations")

	models := []any{
		(*Project)(nil),
		(*SpriteRecord)(nil),
	}
	for _, model := range models {
		if _, err := db.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_projects_owner_user_id ON projects(owner_user_id)",
		"CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_sprites_project_id ON sprites(project_id)",
		"CREATE INDEX IF NOT EXISTS idx_sprites_sprite_name ON sprites(sprite_name)",
	}
	for _, idx := range indexes {
		if _, err := db.db.ExecContext(ctx, idx); err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("Failed to create index (may already exist)")
		}
	}

	log.Debug().Msg("Database migrations completed successfully")
	return nil
}
