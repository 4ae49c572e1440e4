// Package base provides common functionality shared by Queen's SQL
// drivers (postgres, mysql, sqlite): transaction lifecycle, applied-set
// bookkeeping, and the quoting/placeholder/time-parsing strategies that
// vary only by dialect.
package base

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/honeynil/queen"
)

// Config supplies the dialect-specific strategies a concrete driver
// plugs into Driver.
type Config struct {
	// Placeholder generates the n-th (1-based) bound-parameter
	// placeholder. Postgres: "$1", "$2", ... MySQL/SQLite: "?".
	Placeholder func(n int) string

	// QuoteIdentifier escapes a SQL identifier for this dialect.
	QuoteIdentifier func(name string) string

	// ParseTime parses an applied_at value read back from the database,
	// when the driver doesn't let database/sql scan it into time.Time
	// directly (SQLite stores it as TEXT).
	ParseTime func(src interface{}) (time.Time, error)

	// IsDuplicateKey reports whether err is this dialect's primary-key
	// violation, raised when RecordApplied races a concurrent migrator
	// that already inserted the same identity.
	IsDuplicateKey func(err error) bool
}

// Driver implements the applied-set and transaction portions of
// queen.Driver that are identical across SQL dialects. Concrete drivers
// embed it and supply Init, Lock, Unlock, and DisableTransactions.
type Driver struct {
	DB        *sql.DB
	TableName string
	Config    Config
}

// BeginTx opens the outer transaction the executor runs one migration's
// steps within.
func (d *Driver) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.DB.BeginTx(ctx, nil)
}

// Close closes the underlying database connection.
func (d *Driver) Close() error {
	return d.DB.Close()
}

// QuoteIdentifier delegates to Config.
func (d *Driver) QuoteIdentifier(name string) string {
	return d.Config.QuoteIdentifier(name)
}

// Placeholder delegates to Config.
func (d *Driver) Placeholder(n int) string {
	return d.Config.Placeholder(n)
}

// ListApplied returns every row of the applied-set table, oldest first.
func (d *Driver) ListApplied(ctx context.Context) ([]queen.Applied, error) {
	query := fmt.Sprintf(
		`SELECT identity, applied_at, checksum FROM %s ORDER BY applied_at ASC`,
		d.Config.QuoteIdentifier(d.TableName),
	)

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []queen.Applied
	for rows.Next() {
		var a queen.Applied

		if d.Config.ParseTime != nil {
			var appliedAtText string
			if err := rows.Scan(&a.Identity, &appliedAtText, &a.Checksum); err != nil {
				return nil, err
			}
			parsed, err := d.Config.ParseTime(appliedAtText)
			if err != nil {
				return nil, fmt.Errorf("parse applied_at: %w", err)
			}
			a.AppliedAt = parsed
		} else {
			if err := rows.Scan(&a.Identity, &a.AppliedAt, &a.Checksum); err != nil {
				return nil, err
			}
		}

		applied = append(applied, a)
	}

	return applied, rows.Err()
}

// RecordApplied inserts one applied-set row within tx. A primary-key
// conflict (a concurrent migrator already recorded identity) is reported
// as queen.ErrAlreadyApplied so the executor can treat it as a warning
// instead of a fatal backend error.
func (d *Driver) RecordApplied(ctx context.Context, tx *sql.Tx, identity string, ts time.Time, checksum string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (identity, applied_at, checksum) VALUES (%s, %s, %s)`,
		d.Config.QuoteIdentifier(d.TableName),
		d.Config.Placeholder(1), d.Config.Placeholder(2), d.Config.Placeholder(3),
	)
	_, err := tx.ExecContext(ctx, query, identity, ts.UTC(), checksum)
	if err != nil && d.Config.IsDuplicateKey != nil && d.Config.IsDuplicateKey(err) {
		return fmt.Errorf("%w: %s", queen.ErrAlreadyApplied, identity)
	}
	return err
}

// UnrecordApplied deletes one applied-set row within tx.
func (d *Driver) UnrecordApplied(ctx context.Context, tx *sql.Tx, identity string) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE identity = %s`,
		d.Config.QuoteIdentifier(d.TableName),
		d.Config.Placeholder(1),
	)
	_, err := tx.ExecContext(ctx, query, identity)
	return err
}

// PlaceholderDollar formats placeholders as $1, $2, ... (PostgreSQL).
func PlaceholderDollar(n int) string {
	return fmt.Sprintf("$%d", n)
}

// PlaceholderQuestion formats every placeholder as "?" (MySQL, SQLite).
func PlaceholderQuestion(int) string {
	return "?"
}

// ParseTimeISO8601 parses the timestamp text SQLite holds: go-sqlite3's
// encoding of a bound time.Time ("YYYY-MM-DD HH:MM:SS[.fffffffff]+hh:mm")
// or the plain "YYYY-MM-DD HH:MM:SS" that datetime('now') produces.
func ParseTimeISO8601(src interface{}) (time.Time, error) {
	str, ok := src.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string, got %T", src)
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", str); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", str)
}
