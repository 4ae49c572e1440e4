// Package mock provides an in-memory driver for testing Queen without a
// real external database. It opens a private SQLite ":memory:" database
// so BeginTx returns a genuine *sql.Tx capable of the SAVEPOINT protocol
// the executor issues, while applied-set bookkeeping is an in-memory map
// that tests can inspect and fault-inject directly.
package mock

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/honeynil/queen"
)

// Driver is an in-memory, error-injectable implementation of
// queen.Driver for testing.
type Driver struct {
	db *sql.DB

	mu        sync.Mutex
	applied   map[string]queen.Applied
	locked    bool
	initErr   error
	lockErr   error
	recordErr error
}

// New creates a new mock driver backed by a private SQLite memory
// database.
func New() *Driver {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		panic("mock: open in-memory sqlite: " + err.Error())
	}
	return &Driver{
		db:      db,
		applied: make(map[string]queen.Applied),
	}
}

// SetInitError makes Init return the specified error.
func (d *Driver) SetInitError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initErr = err
}

// SetLockError makes Lock return the specified error.
func (d *Driver) SetLockError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockErr = err
}

// SetRecordError makes RecordApplied return the specified error.
func (d *Driver) SetRecordError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordErr = err
}

// Init is a no-op beyond surfacing any error set by SetInitError; the
// backing sqlite database needs no schema since the applied-set lives in
// memory.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initErr
}

// BeginTx opens a real transaction against the private in-memory
// database, so SAVEPOINT/RELEASE SAVEPOINT/ROLLBACK TO SAVEPOINT behave
// exactly as they would against a real SQLite backend.
func (d *Driver) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// ListApplied returns all applied migrations, oldest first.
func (d *Driver) ListApplied(ctx context.Context) ([]queen.Applied, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]queen.Applied, 0, len(d.applied))
	for _, a := range d.applied {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AppliedAt.Before(result[j].AppliedAt)
	})
	return result, nil
}

// RecordApplied marks identity as applied. tx is accepted for interface
// compatibility but ignored; the applied-set lives in the mutex-protected
// map, not in the backing database.
func (d *Driver) RecordApplied(ctx context.Context, tx *sql.Tx, identity string, ts time.Time, checksum string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.recordErr != nil {
		return d.recordErr
	}

	d.applied[identity] = queen.Applied{
		Identity:  identity,
		AppliedAt: ts,
		Checksum:  checksum,
	}
	return nil
}

// UnrecordApplied removes identity from the applied-set.
func (d *Driver) UnrecordApplied(ctx context.Context, tx *sql.Tx, identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.applied, identity)
	return nil
}

// Lock acquires the single in-process lock flag.
func (d *Driver) Lock(ctx context.Context, timeout time.Duration, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lockErr != nil {
		return d.lockErr
	}
	if d.locked {
		return queen.ErrLockTimeout
	}
	d.locked = true
	return nil
}

// Unlock releases the lock flag.
func (d *Driver) Unlock(ctx context.Context, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

// DisableTransactions is false: the backing sqlite database supports
// transactional DDL.
func (d *Driver) DisableTransactions() bool { return false }

// QuoteIdentifier quotes as SQLite would, for parity with drivers/sqlite.
func (d *Driver) QuoteIdentifier(name string) string {
	return `"` + name + `"`
}

// Placeholder returns "?", SQLite's bound-parameter placeholder.
func (d *Driver) Placeholder(int) string { return "?" }

// Close closes the backing in-memory database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// IsLocked reports whether the driver is currently locked (test helper).
func (d *Driver) IsLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// AppliedCount returns the number of applied migrations (test helper).
func (d *Driver) AppliedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.applied)
}

// HasIdentity reports whether identity has been applied (test helper).
func (d *Driver) HasIdentity(identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.applied[identity]
	return ok
}

// Reset clears all applied migrations and the lock flag (test helper).
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = make(map[string]queen.Applied)
	d.locked = false
}
