// Package postgres provides a PostgreSQL driver for Queen migrations,
// built on jackc/pgx's database/sql-compatible stdlib adapter.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/honeynil/queen"
	"github.com/honeynil/queen/drivers/base"
	"github.com/honeynil/queen/internal/dsn"
)

func init() {
	queen.RegisterDriver("postgresql", func(ctx context.Context, info dsn.Info) (queen.Driver, error) {
		connString := buildConnString(info)
		db, err := sql.Open("pgx", connString)
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

func buildConnString(info dsn.Info) string {
	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", info.User, info.Password, info.Host, info.Port, info.Database)
	if len(info.Params) > 0 {
		connString += "?" + info.Params.Encode()
	}
	return connString
}

// Driver implements queen.Driver for PostgreSQL.
type Driver struct {
	base.Driver
	lockID int64

	mu      sync.Mutex
	lockCon *sql.Conn
}

// New creates a PostgreSQL driver with the default table name
// "_yoyo_migration". The database connection should already be open.
func New(db *sql.DB) *Driver {
	return NewWithTableName(db, "_yoyo_migration")
}

// NewWithTableName creates a PostgreSQL driver with a custom applied-set
// table name.
func NewWithTableName(db *sql.DB, tableName string) *Driver {
	return &Driver{
		Driver: base.Driver{
			DB:        db,
			TableName: tableName,
			Config: base.Config{
				Placeholder:     base.PlaceholderDollar,
				QuoteIdentifier: quoteIdentifier,
				IsDuplicateKey:  isDuplicateKeyError,
			},
		},
		lockID: hashTableName(tableName),
	}
}

// Init creates the applied-set table if it doesn't exist.
func (d *Driver) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			identity VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			checksum VARCHAR(64) NOT NULL
		)
	`, quoteIdentifier(d.TableName))

	_, err := d.DB.ExecContext(ctx, query)
	return err
}

// Lock acquires the session-level advisory lock keyed on a stable hash of
// the table name. PostgreSQL advisory locks are owned by the physical
// connection that takes them, not by a caller-supplied token, so Lock pins
// a dedicated *sql.Conn from the pool and holds it until Unlock releases
// it — handing the unlock (or a migration step) to some other pooled
// connection would silently fail to release anything. owner is accepted
// for interface symmetry with other backends but unused here.
//
// With a positive timeout, Lock makes a single pg_try_advisory_lock attempt
// and returns queen.ErrLockTimeout at once if another session holds the
// lock; it does not wait for the timeout to elapse. A zero timeout blocks
// in pg_advisory_lock until the lock is free.
func (d *Driver) Lock(ctx context.Context, timeout time.Duration, owner string) error {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return err
	}

	if timeout > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = '%dms'", timeout.Milliseconds())); err != nil {
			conn.Close()
			return err
		}
		var acquired bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", d.lockID).Scan(&acquired); err != nil {
			conn.Close()
			return err
		}
		if !acquired {
			conn.Close()
			return queen.ErrLockTimeout
		}
	} else if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", d.lockID); err != nil {
		conn.Close()
		return err
	}

	d.mu.Lock()
	d.lockCon = conn
	d.mu.Unlock()
	return nil
}

// Unlock releases the advisory lock on the same connection that acquired
// it, then returns that connection to the pool.
func (d *Driver) Unlock(ctx context.Context, owner string) error {
	d.mu.Lock()
	conn := d.lockCon
	d.lockCon = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	defer conn.Close()

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", d.lockID)
	return err
}

// DisableTransactions is false: PostgreSQL DDL participates in
// transactions.
func (d *Driver) DisableTransactions() bool { return false }

// hashTableName derives a stable int64 advisory-lock key from the table
// name, so different migration tables use different locks.
func hashTableName(name string) int64 {
	var hash int64
	for i, c := range name {
		hash = hash*31 + int64(c) + int64(i)
	}
	return hash
}

// isDuplicateKeyError reports whether err is PostgreSQL's unique_violation
// (SQLSTATE 23505), raised when RecordApplied races a concurrent migrator
// that already inserted the same identity.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func quoteIdentifier(name string) string {
	escaped := ""
	for _, c := range name {
		if c == '"' {
			escaped += "\"\""
		} else {
			escaped += string(c)
		}
	}
	return `"` + escaped + `"`
}
