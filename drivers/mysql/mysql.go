// Package mysql provides a MySQL driver for Queen migrations.
//
// MySQL has no advisory-lock primitive like PostgreSQL's; this driver
// uses GET_LOCK()/RELEASE_LOCK() instead, which are scoped to the
// connection that acquired them, so the driver holds a dedicated
// *sql.Conn for the lifetime of the lock.
//
// MySQL's DDL implicitly commits outside any surrounding transaction
// (DisableTransactions reports true), so the executor warns callers
// instead of promising rollback for a failed migration made of DDL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/honeynil/queen"
	"github.com/honeynil/queen/drivers/base"
	"github.com/honeynil/queen/internal/dsn"
)

func init() {
	queen.RegisterDriver("mysql", func(ctx context.Context, info dsn.Info) (queen.Driver, error) {
		db, err := sql.Open("mysql", buildDSN(info))
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

func buildDSN(info dsn.Info) string {
	var b strings.Builder
	if info.User != "" {
		b.WriteString(info.User)
		if info.Password != "" {
			b.WriteString(":")
			b.WriteString(info.Password)
		}
		b.WriteString("@")
	}
	if socket := info.Params.Get("unix_socket"); socket != "" {
		fmt.Fprintf(&b, "unix(%s)", socket)
	} else if info.Host != "" {
		port := info.Port
		if port == "" {
			port = "3306"
		}
		fmt.Fprintf(&b, "tcp(%s:%s)", info.Host, port)
	}
	b.WriteString("/")
	b.WriteString(info.Database)
	b.WriteString("?parseTime=true")
	for k, vs := range info.Params {
		if k == "unix_socket" {
			continue
		}
		for _, v := range vs {
			fmt.Fprintf(&b, "&%s=%s", k, v)
		}
	}
	return b.String()
}

// Driver implements queen.Driver for MySQL.
type Driver struct {
	base.Driver
	lockName string

	mu       sync.Mutex
	lockConn *sql.Conn
}

// New creates a MySQL driver with the default table name
// "_yoyo_migration". The connection string must include parseTime=true.
func New(db *sql.DB) *Driver {
	return NewWithTableName(db, "_yoyo_migration")
}

// NewWithTableName creates a MySQL driver with a custom applied-set table
// name.
func NewWithTableName(db *sql.DB, tableName string) *Driver {
	return &Driver{
		Driver: base.Driver{
			DB:        db,
			TableName: tableName,
			Config: base.Config{
				Placeholder:     base.PlaceholderQuestion,
				QuoteIdentifier: quoteIdentifier,
				IsDuplicateKey:  isDuplicateKeyError,
			},
		},
		lockName: "queen_lock_" + tableName,
	}
}

// Init creates the applied-set table if it doesn't exist.
func (d *Driver) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			identity VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			checksum VARCHAR(64) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`, quoteIdentifier(d.TableName))

	_, err := d.DB.ExecContext(ctx, query)
	return err
}

// Lock acquires a named lock via GET_LOCK on a dedicated connection, held
// open until Unlock so the lock stays held across the whole run.
func (d *Driver) Lock(ctx context.Context, timeout time.Duration, owner string) error {
	conn, err := d.DB.Conn(ctx)
	if err != nil {
		return err
	}

	// GET_LOCK treats a negative timeout as "wait forever"; zero would
	// return at once.
	waitSeconds := int(timeout.Seconds())
	if timeout <= 0 {
		waitSeconds = -1
	}
	var result sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", d.lockName, waitSeconds).Scan(&result)
	if err != nil {
		conn.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !result.Valid || result.Int64 != 1 {
		conn.Close()
		return queen.ErrLockTimeout
	}

	d.mu.Lock()
	d.lockConn = conn
	d.mu.Unlock()
	return nil
}

// Unlock releases the named lock and the connection that held it.
func (d *Driver) Unlock(ctx context.Context, owner string) error {
	d.mu.Lock()
	conn := d.lockConn
	d.lockConn = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	defer conn.Close()

	_, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", d.lockName)
	return err
}

// DisableTransactions is true: MySQL DDL implicitly commits.
func (d *Driver) DisableTransactions() bool { return true }

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// isDuplicateKeyError reports whether err is MySQL's ER_DUP_ENTRY (1062),
// raised when RecordApplied races a concurrent migrator that already
// inserted the same identity.
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
