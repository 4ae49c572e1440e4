package queen

import (
	"context"
	"testing"
)

// TestHelper provides testing utilities for migrations.
//
// TestHelper wraps a Queen instance with test-specific helpers that
// automatically fail tests on errors instead of returning them. This
// reduces boilerplate in migration tests.
//
// The TestHelper automatically cleans up (closes the Queen instance)
// when the test ends using t.Cleanup().
//
// # Usage
//
// Create a TestHelper with NewTest and use its Must* methods:
//
//	func TestMigrations(t *testing.T) {
//	    db := setupTestDB(t)
//	    driver := postgres.New(db)
//	    q := queen.NewTest(t, driver)
//
//	    q.MustAdd(queen.M{...})
//	    q.MustApply()
//	    q.MustValidate()
//	}
//
// Or use TestApplyRollback to test both directions:
//
//	func TestMigrations(t *testing.T) {
//	    q := queen.NewTest(t, driver)
//	    q.MustAdd(queen.M{...})
//	    q.TestApplyRollback()
//	}
type TestHelper struct {
	*Queen
	t   *testing.T
	ctx context.Context
}

// NewTest creates a Queen instance in batch mode with automatic cleanup.
func NewTest(t *testing.T, driver Driver) *TestHelper {
	t.Helper()

	q := New(driver)
	ctx := context.Background()

	if err := q.driver.Init(ctx); err != nil {
		t.Fatalf("Failed to initialize driver: %v", err)
	}

	t.Cleanup(func() {
		_ = q.Close()
	})

	return &TestHelper{
		Queen: q,
		t:     t,
		ctx:   ctx,
	}
}

// TestApplyRollback verifies migrations can be applied and rolled back.
//
// Recommended for testing because it ensures:
//   - Apply executes without errors
//   - Rollback executes without errors
//   - The applied-set returns to empty after rollback
func (th *TestHelper) TestApplyRollback() {
	th.t.Helper()

	result, err := th.Apply(th.ctx, RunOptions{})
	if err != nil {
		th.t.Fatalf("Failed to apply migrations: %v", err)
	}
	if len(result.Applied) == 0 {
		th.t.Fatal("No migrations were applied")
	}

	if _, err := th.Rollback(th.ctx, RunOptions{}); err != nil {
		th.t.Fatalf("Failed to rollback migrations: %v", err)
	}

	applied, err := th.driver.ListApplied(th.ctx)
	if err != nil {
		th.t.Fatalf("Failed to list applied migrations after rollback: %v", err)
	}
	if len(applied) != 0 {
		th.t.Fatalf("Expected 0 migrations after rollback, got %d", len(applied))
	}
}

// MustApply is like Apply but fails the test on error.
func (th *TestHelper) MustApply() *ExecResult {
	th.t.Helper()
	result, err := th.Apply(th.ctx, RunOptions{})
	if err != nil {
		th.t.Fatalf("Failed to apply migrations: %v", err)
	}
	return result
}

// MustRollback is like Rollback but fails the test on error.
func (th *TestHelper) MustRollback(opts RunOptions) *ExecResult {
	th.t.Helper()
	result, err := th.Rollback(th.ctx, opts)
	if err != nil {
		th.t.Fatalf("Failed to rollback migrations: %v", err)
	}
	return result
}

// MustReapply is like Reapply but fails the test on error.
func (th *TestHelper) MustReapply(opts RunOptions) *ExecResult {
	th.t.Helper()
	result, err := th.Reapply(th.ctx, opts)
	if err != nil {
		th.t.Fatalf("Failed to reapply migrations: %v", err)
	}
	return result
}

// MustMark is like Mark but fails the test on error.
func (th *TestHelper) MustMark(opts RunOptions) *ExecResult {
	th.t.Helper()
	result, err := th.Mark(th.ctx, opts)
	if err != nil {
		th.t.Fatalf("Failed to mark migrations: %v", err)
	}
	return result
}

// MustUnmark is like Unmark but fails the test on error.
func (th *TestHelper) MustUnmark(opts RunOptions) *ExecResult {
	th.t.Helper()
	result, err := th.Unmark(th.ctx, opts)
	if err != nil {
		th.t.Fatalf("Failed to unmark migrations: %v", err)
	}
	return result
}

// MustValidate is like Validate but fails the test on error.
func (th *TestHelper) MustValidate() {
	th.t.Helper()
	if err := th.Validate(th.ctx); err != nil {
		th.t.Fatalf("Migration validation failed: %v", err)
	}
}
