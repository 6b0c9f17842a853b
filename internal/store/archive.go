// Package store persists fetched ripples in a local SQLite database so a
// droplet's feed survives restarts. Rows are keyed by logical account
// (user@host) rather than droplet identifier, because identifiers are not
// reused across process lifetimes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/rainfeed/internal/model"
)

// SQLiteArchive implements the registry's ripple archive using a local
// SQLite database.
type SQLiteArchive struct {
	db *sqlx.DB
}

// NewSQLiteArchive opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return a, nil
}

// Close closes the underlying database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (a *SQLiteArchive) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := a.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = a.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := a.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// rippleRow is the database shape of one ripple. Timestamps are stored as
// UTC unix nanoseconds so structural equality survives the round trip.
type rippleRow struct {
	Account    string `db:"account"`
	SourceSeq  int64  `db:"source_seq"`
	Origin     string `db:"origin"`
	Subject    string `db:"subject"`
	Content    string `db:"content"`
	ReceivedAt int64  `db:"received_at"`
}

// SaveRipples inserts or replaces a batch of ripples for one account.
func (a *SQLiteArchive) SaveRipples(ctx context.Context, account string, ripples []model.Ripple) error {
	if len(ripples) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO ripples (
			account, source_seq, origin, subject, content, received_at
		) VALUES (?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range ripples {
		_, err = stmt.ExecContext(ctx,
			account, int64(r.ID), r.Origin, r.Subject, r.Content,
			r.ReceivedAt.UTC().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upserting ripple %d for %s: %w", r.ID, account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ripple upsert: %w", err)
	}
	return nil
}

// LoadRipples returns an account's archived ripples in feed order: newest
// first, ties by ascending sequence number.
func (a *SQLiteArchive) LoadRipples(ctx context.Context, account string) ([]model.Ripple, error) {
	const query = `
		SELECT account, source_seq, origin, subject, content, received_at
		FROM ripples
		WHERE account = ?
		ORDER BY received_at DESC, source_seq ASC`

	var rows []rippleRow
	if err := a.db.SelectContext(ctx, &rows, query, account); err != nil {
		return nil, fmt.Errorf("loading ripples for %s: %w", account, err)
	}

	ripples := make([]model.Ripple, 0, len(rows))
	for _, row := range rows {
		ripples = append(ripples, row.toRipple())
	}
	return ripples, nil
}

// Purge removes all archived ripples for an account. Used when its
// droplet is removed for good.
func (a *SQLiteArchive) Purge(ctx context.Context, account string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM ripples WHERE account = ?", account); err != nil {
		return fmt.Errorf("purging ripples for %s: %w", account, err)
	}
	return nil
}

func (row rippleRow) toRipple() model.Ripple {
	return model.Ripple{
		ID:         uint32(row.SourceSeq),
		Origin:     row.Origin,
		Subject:    row.Subject,
		Content:    row.Content,
		ReceivedAt: time.Unix(0, row.ReceivedAt).UTC(),
	}
}
