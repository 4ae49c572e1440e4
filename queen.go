// Package queen provides a database migration library for Go.
//
// Queen allows you to define migrations in code or load them from a
// directory of .sql files, resolves a dependency graph
// between them, and applies or rolls them back under a two-level
// transaction protocol: one outer transaction per migration, one
// SAVEPOINT per step.
//
// Basic usage:
//
//	driver, _ := queen.Open(ctx, "postgres://localhost/myapp")
//	q := queen.New(driver)
//
//	q.MustAdd(queen.M{
//	    Identity: "001_create_users",
//	    Steps: []queen.Step{
//	        queen.SQLStep("CREATE TABLE users (id SERIAL PRIMARY KEY)", "DROP TABLE users"),
//	    },
//	})
//
//	if _, err := q.Apply(context.Background(), queen.RunOptions{}); err != nil {
//	    log.Fatal(err)
//	}
package queen

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Decision is the caller's answer to a confirmation prompt before one
// migration runs.
type Decision int

const (
	// DecisionYes runs this one migration and asks again for the next.
	DecisionYes Decision = iota
	// DecisionNo skips this migration and asks again for the next.
	DecisionNo
	// DecisionAll runs this migration and every remaining one without
	// asking again.
	DecisionAll
	// DecisionQuit stops the run before this migration; everything
	// already committed stays committed.
	DecisionQuit
)

// ConfirmFunc is consulted before each migration runs when Config.BatchMode
// is false. identity and dir describe the migration about to run.
type ConfirmFunc func(identity string, dir Direction) Decision

// Config holds configuration options for Queen.
type Config struct {
	// MigrationTable names the applied-set table. Queen stores it but does
	// not pass it to the Driver: a Driver's table is fixed when the Driver
	// is constructed (NewWithTableName in each driver package, or
	// "_yoyo_migration" for a Driver returned by Open).
	MigrationTable string

	// LockTimeout is how long to wait for the cross-process migration
	// lock. Zero means wait indefinitely.
	LockTimeout time.Duration

	// SkipLock bypasses the cross-process migration lock entirely.
	// Only safe when the caller already guarantees exclusivity some
	// other way (a single-writer deployment, an external lock held
	// around the whole process).
	SkipLock bool

	// BatchMode disables interactive confirmation: every planned
	// migration runs without asking. Non-interactive callers (tests, CI)
	// should set this true.
	BatchMode bool

	// Verbosity is a caller-defined logging level (0-3); Queen itself
	// does not log, but threads this through for adapters like cmd/queen
	// to size their own logging verbosity against.
	Verbosity int

	// ConfirmCallback is consulted before each migration when BatchMode
	// is false. Required in that case; NewWithConfig panics if it is nil.
	ConfirmCallback ConfirmFunc
}

// DefaultConfig returns batch-mode defaults suitable for library callers
// that don't need interactive confirmation.
func DefaultConfig() *Config {
	return &Config{
		MigrationTable: "_yoyo_migration",
		LockTimeout:    30 * time.Minute,
		BatchMode:      true,
	}
}

// Queen is the main migration manager. It holds registered migrations and
// orchestrates their resolution and execution against one Driver.
type Queen struct {
	driver     Driver
	migrations []*Migration
	postApply  *Migration
	config     *Config
	owner      string
}

// New creates a new Queen instance with the given driver and default
// (batch-mode) configuration.
func New(driver Driver) *Queen {
	return NewWithConfig(driver, DefaultConfig())
}

// NewWithConfig creates a new Queen instance with custom configuration. It
// panics if config disables BatchMode without providing a ConfirmCallback,
// since there would be no way to resolve the prompt.
func NewWithConfig(driver Driver, config *Config) *Queen {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MigrationTable == "" {
		config.MigrationTable = "_yoyo_migration"
	}
	if !config.BatchMode && config.ConfirmCallback == nil {
		panic("queen: interactive mode requires a ConfirmCallback")
	}

	return &Queen{
		driver:     driver,
		migrations: make([]*Migration, 0),
		config:     config,
		owner:      uuid.NewString(),
	}
}

// Add registers a migration. A migration whose Identity is
// PostApplyIdentity is segregated as the post-apply hook instead of being
// added to the resolvable set. Returns ErrVersionConflict if Identity
// collides with an already-registered migration.
func (q *Queen) Add(m M) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if m.Identity == PostApplyIdentity {
		if q.postApply != nil {
			return fmt.Errorf("%w: %s", ErrVersionConflict, m.Identity)
		}
		migration := m
		q.postApply = &migration
		return nil
	}

	for _, existing := range q.migrations {
		if existing.Identity == m.Identity {
			return fmt.Errorf("%w: %s", ErrVersionConflict, m.Identity)
		}
	}

	migration := m
	q.migrations = append(q.migrations, &migration)
	return nil
}

// MustAdd is like Add but panics on error. Useful for migration
// registration at package init time.
func (q *Queen) MustAdd(m M) {
	if err := q.Add(m); err != nil {
		panic(err)
	}
}

// RunOptions parameterizes Apply, Rollback, Reapply, Mark, and Unmark.
type RunOptions struct {
	// Target, if non-empty, restricts the run to one migration and its
	// dependency closure.
	Target string

	// Force allows rolling back/unmarking an identity present in the
	// applied-set but absent from the registered migrations.
	Force bool
}

// Apply resolves and runs the forward plan for pending migrations.
func (q *Queen) Apply(ctx context.Context, opts RunOptions) (*ExecResult, error) {
	return q.runOp(ctx, OpApply, opts)
}

// Rollback resolves and runs the backward plan for applied migrations.
func (q *Queen) Rollback(ctx context.Context, opts RunOptions) (*ExecResult, error) {
	return q.runOp(ctx, OpRollback, opts)
}

// Reapply rolls back and re-applies the same restricted set of currently
// applied migrations.
func (q *Queen) Reapply(ctx context.Context, opts RunOptions) (*ExecResult, error) {
	return q.runOp(ctx, OpReapply, opts)
}

// Mark records migrations as applied without running their steps.
func (q *Queen) Mark(ctx context.Context, opts RunOptions) (*ExecResult, error) {
	return q.runOp(ctx, OpMark, opts)
}

// Unmark removes migrations from the applied-set without running their
// rollback steps.
func (q *Queen) Unmark(ctx context.Context, opts RunOptions) (*ExecResult, error) {
	return q.runOp(ctx, OpUnmark, opts)
}

func (q *Queen) runOp(ctx context.Context, op Operation, opts RunOptions) (*ExecResult, error) {
	if q.driver == nil {
		return nil, ErrNoDriver
	}
	if len(q.migrations) == 0 {
		return nil, ErrNoMigrations
	}

	if err := q.driver.Init(ctx); err != nil {
		return nil, newBackendError("init", err)
	}

	// Take the lock before reading the applied-set, so the plan is not
	// built from rows a concurrent migrator is still changing.
	if !q.config.SkipLock {
		if err := q.driver.Lock(ctx, q.config.LockTimeout, q.owner); err != nil {
			return nil, newBackendError("lock", err)
		}
		defer q.driver.Unlock(context.Background(), q.owner)
	}

	applied, err := q.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := Resolve(q.migrations, applied, ResolveOptions{
		Operation: op,
		Target:    opts.Target,
		Force:     opts.Force,
	})
	if err != nil {
		return nil, err
	}

	plan = q.applyConfirmation(plan)

	ex := &executor{
		driver:    q.driver,
		lockWait:  q.config.LockTimeout,
		skipLock:  true, // runOp already holds the lock
		owner:     q.owner,
		postApply: q.postApply,
	}
	return ex.run(ctx, plan)
}

// applyConfirmation filters plan through the interactive confirm callback
// when BatchMode is disabled. DecisionAll stops asking for the remainder
// of the plan; DecisionQuit truncates the plan at that point.
func (q *Queen) applyConfirmation(plan Plan) Plan {
	if q.config.BatchMode {
		return plan
	}

	out := make(Plan, 0, len(plan))
	all := false
	for _, item := range plan {
		if !all {
			switch q.config.ConfirmCallback(item.Migration.Identity, item.Direction) {
			case DecisionAll:
				all = true
			case DecisionNo:
				continue
			case DecisionQuit:
				return out
			}
		}
		out = append(out, item)
	}
	return out
}

// Status returns the status of every registered migration, in
// registration order.
func (q *Queen) Status(ctx context.Context) ([]MigrationStatus, error) {
	if q.driver == nil {
		return nil, ErrNoDriver
	}

	if err := q.driver.Init(ctx); err != nil {
		return nil, newBackendError("init", err)
	}

	applied, err := q.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, len(q.migrations))
	for i, m := range q.migrations {
		status := MigrationStatus{
			Identity:    m.Identity,
			Checksum:    m.Checksum(),
			HasRollback: m.HasRollback(),
			Destructive: m.IsDestructive(),
			Status:      StatusPending,
		}

		if a, ok := applied[m.Identity]; ok {
			status.Status = StatusApplied
			appliedAt := a.AppliedAt
			status.AppliedAt = &appliedAt

			if a.Checksum != m.Checksum() && m.Checksum() != noChecksumMarker {
				status.Status = StatusModified
			}
		}

		statuses[i] = status
	}

	return statuses, nil
}

// Validate checks every registered migration for structural validity and,
// if a driver is attached, for checksum mismatches against the
// applied-set.
func (q *Queen) Validate(ctx context.Context) error {
	if len(q.migrations) == 0 {
		return ErrNoMigrations
	}

	for _, m := range q.migrations {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid migration %s: %w", m.Identity, err)
		}
	}
	if q.postApply != nil {
		if err := q.postApply.Validate(); err != nil {
			return fmt.Errorf("invalid post-apply migration: %w", err)
		}
	}

	if _, err := buildGraph(q.migrations); err != nil {
		return err
	}

	if q.driver == nil {
		return nil
	}

	if err := q.driver.Init(ctx); err != nil {
		return newBackendError("init", err)
	}
	applied, err := q.loadApplied(ctx)
	if err != nil {
		return err
	}

	for _, m := range q.migrations {
		if a, ok := applied[m.Identity]; ok {
			if a.Checksum != m.Checksum() && m.Checksum() != noChecksumMarker {
				return fmt.Errorf("%w: migration %s (expected %s, got %s)",
					ErrChecksumMismatch, m.Identity, a.Checksum, m.Checksum())
			}
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (q *Queen) Close() error {
	if q.driver != nil {
		return q.driver.Close()
	}
	return nil
}

func (q *Queen) loadApplied(ctx context.Context) (map[string]Applied, error) {
	rows, err := q.driver.ListApplied(ctx)
	if err != nil {
		return nil, newBackendError("list applied", err)
	}

	applied := make(map[string]Applied, len(rows))
	for _, a := range rows {
		applied[a.Identity] = a
	}
	return applied, nil
}
