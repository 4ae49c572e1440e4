// Package sqlite provides a SQLite driver for Queen migrations.
//
// SQLite is single-writer, so it has no advisory-lock primitive; this
// driver falls back to a lock table row written with INSERT OR ABORT,
// which fails immediately if another process already holds the row
// rather than blocking inside SQLite itself. The driver polls on
// conflict until the row is free or the timeout elapses.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/honeynil/queen"
	"github.com/honeynil/queen/drivers/base"
	"github.com/honeynil/queen/internal/dsn"
)

func init() {
	queen.RegisterDriver("sqlite", func(ctx context.Context, info dsn.Info) (queen.Driver, error) {
		path := info.Database
		if path == "" {
			path = ":memory:"
		}
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return New(db), nil
	})
}

// lockPollInterval is how often Lock retries the INSERT OR ABORT when the
// lock row is held by another process.
const lockPollInterval = 100 * time.Millisecond

// Driver implements queen.Driver for SQLite.
type Driver struct {
	base.Driver
	lockTable string
}

// New creates a SQLite driver with the default applied-set table name
// "_yoyo_migration" and lock table "_yoyo_migration_lock".
func New(db *sql.DB) *Driver {
	return NewWithTableName(db, "_yoyo_migration")
}

// NewWithTableName creates a SQLite driver with a custom applied-set
// table name; the lock table name is derived from it.
func NewWithTableName(db *sql.DB, tableName string) *Driver {
	return &Driver{
		Driver: base.Driver{
			DB:        db,
			TableName: tableName,
			Config: base.Config{
				Placeholder:     base.PlaceholderQuestion,
				QuoteIdentifier: quoteIdentifier,
				ParseTime:       base.ParseTimeISO8601,
				IsDuplicateKey:  isDuplicateKeyError,
			},
		},
		lockTable: tableName + "_lock",
	}
}

// Init creates the applied-set and lock tables if they don't exist.
func (d *Driver) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			identity TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now')),
			checksum TEXT NOT NULL
		) WITHOUT ROWID
	`, quoteIdentifier(d.TableName))
	if _, err := d.DB.ExecContext(ctx, query); err != nil {
		return err
	}

	lockQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			owner TEXT NOT NULL,
			hostname TEXT NOT NULL,
			acquired_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`, quoteIdentifier(d.lockTable))
	_, err := d.DB.ExecContext(ctx, lockQuery)
	return err
}

// Lock writes the single lock-table row with INSERT OR ABORT. A
// primary-key conflict means another process holds it; Lock polls until
// the row is free or timeout elapses (zero timeout waits indefinitely).
func (d *Driver) Lock(ctx context.Context, timeout time.Duration, owner string) error {
	hostname, _ := os.Hostname()
	query := fmt.Sprintf(
		`INSERT OR ABORT INTO %s (id, owner, hostname) VALUES (1, ?, ?)`,
		quoteIdentifier(d.lockTable),
	)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		_, err := d.DB.ExecContext(ctx, query, owner, hostname)
		if err == nil {
			return nil
		}
		if !isLockConflict(err) {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return queen.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock deletes the lock row, but only if it is still owned by owner.
func (d *Driver) Unlock(ctx context.Context, owner string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = 1 AND owner = ?`, quoteIdentifier(d.lockTable))
	_, err := d.DB.ExecContext(ctx, query, owner)
	return err
}

// DisableTransactions is false: SQLite DDL participates in transactions,
// though some schema changes (e.g. altering a column's type) are only
// partially supported inside one.
func (d *Driver) DisableTransactions() bool { return false }

func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") ||
		errors.Is(err, sql.ErrTxDone)
}

// isDuplicateKeyError reports whether err is SQLite's primary-key
// violation on the applied-set table, raised when RecordApplied races a
// concurrent migrator that already inserted the same identity.
func isDuplicateKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
