package blocklog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/pkg/errors"

	"github.com/manifest-network/seqd/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the durable Store. Blocks are kept as serialized payloads keyed
// by height, with the block id stored alongside for idempotency checks.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing database handle. The schema must already be in
// place; OpenPostgres is the usual entry point.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to the given DSN, verifies connectivity and applies
// pending schema migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return NewPostgres(db), nil
}

func applyMigrations(db *sql.DB) error {
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, block *models.Block) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tipHeight sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(height) FROM blocks`).Scan(&tipHeight); err != nil {
		return fmt.Errorf("failed to read log tip: %w", err)
	}

	var next uint64
	if tipHeight.Valid {
		next = uint64(tipHeight.Int64) + 1
	}

	if block.Height < next {
		var storedID []byte
		err := tx.QueryRowContext(ctx, `SELECT id FROM blocks WHERE height = $1`, int64(block.Height)).Scan(&storedID)
		if err != nil {
			return fmt.Errorf("failed to read stored block id: %w", err)
		}
		if string(storedID) == string(block.ID[:]) {
			return nil
		}
		return fmt.Errorf("%w: height %d already holds a different block", ErrHeightConflict, block.Height)
	}
	if block.Height != next {
		return fmt.Errorf("%w: got height %d, want %d", ErrHeightConflict, block.Height, next)
	}

	payload, err := block.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO blocks (height, id, parent, payload) VALUES ($1, $2, $3, $4)`,
		int64(block.Height), block.ID[:], block.Parent[:], payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) Get(ctx context.Context, height uint64) (*models.Block, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM blocks WHERE height = $1`, int64(height)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: height %d", ErrNotFound, height)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block: %w", err)
	}
	block, err := models.UnmarshalBlock(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "error decoding stored block")
	}
	return block, nil
}

func (p *Postgres) Tip(ctx context.Context) (*models.Block, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query log tip: %w", err)
	}
	block, err := models.UnmarshalBlock(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "error decoding stored block")
	}
	return block, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
