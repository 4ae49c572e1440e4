package queen

import (
	"context"
	"database/sql"
	"time"
)

// Driver is the interface database-specific backends implement. It
// abstracts migration tracking, locking, transaction lifecycle, and SQL
// dialect details so the resolver and executor never need driver-specific
// code.
//
// Savepoint primitives are not part of this interface: PostgreSQL,
// MySQL/InnoDB, and SQLite all accept the same ANSI SAVEPOINT / RELEASE
// SAVEPOINT / ROLLBACK TO SAVEPOINT syntax, so the executor issues them
// directly against the *sql.Tx a driver hands back from BeginTx.
//
// # Implementing a Driver
//
//  1. Implement all Driver interface methods.
//  2. Create the migrations and lock tracking tables in Init().
//  3. Use database-specific locking (advisory locks, named locks, a lock
//     table row — whatever the backend offers).
//  4. Open real transactions in BeginTx; report DisableTransactions
//     truthfully so the executor can warn instead of over-promising.
//
// See drivers/postgres for a reference implementation.
type Driver interface {
	// Init creates the migrations and lock tracking tables if needed.
	Init(ctx context.Context) error

	// ListApplied returns all applied migrations, sorted by AppliedAt
	// ascending.
	ListApplied(ctx context.Context) ([]Applied, error)

	// BeginTx opens the outer transaction for one migration. On a backend
	// whose DDL cannot participate in transactions, this still returns a
	// real transaction scope; the caller (executor) is responsible for
	// warning when DisableTransactions is true.
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// RecordApplied inserts the applied-set row for a migration, within
	// the caller's transaction.
	RecordApplied(ctx context.Context, tx *sql.Tx, identity string, ts time.Time, checksum string) error

	// UnrecordApplied deletes the applied-set row for a migration, within
	// the caller's transaction.
	UnrecordApplied(ctx context.Context, tx *sql.Tx, identity string) error

	// Lock acquires the cross-process advisory lock, tagged with owner (a
	// per-process random token) so Unlock can verify it releases its own
	// lock. Returns ErrLockTimeout if not acquired within timeout (0
	// means wait indefinitely).
	Lock(ctx context.Context, timeout time.Duration, owner string) error

	// Unlock releases the lock acquired by owner.
	Unlock(ctx context.Context, owner string) error

	// DisableTransactions reports whether this backend's DDL implicitly
	// commits outside of any transaction (true for MySQL). The executor
	// still runs the two-level protocol but warns the caller instead of
	// promising rollback.
	DisableTransactions() bool

	// QuoteIdentifier escapes a SQL identifier for this dialect.
	QuoteIdentifier(name string) string

	// Placeholder generates the n-th (1-based) bound-parameter
	// placeholder for this dialect ("$1", "?", ...).
	Placeholder(n int) string

	// Close closes the underlying database connection.
	Close() error
}

// Applied represents a migration that has been applied to the database,
// as returned by Driver.ListApplied. This is the authoritative
// applied-set; the in-memory Migration objects are advisory.
type Applied struct {
	Identity  string
	AppliedAt time.Time
	Checksum  string
}
