package queen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// fakeDriver is a minimal in-package Driver, backed by a private in-memory
// SQLite database so BeginTx returns a genuine *sql.Tx capable of the
// SAVEPOINT protocol the executor issues. It can't be drivers/mock's
// Driver here since that package imports queen, and this file lives in
// package queen itself.
type fakeDriver struct {
	db *sql.DB

	mu               sync.Mutex
	applied          map[string]Applied
	locked           bool
	lockErr          error
	recordAppliedErr error
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fakeDriver{db: db, applied: make(map[string]Applied)}
}

func (d *fakeDriver) Init(ctx context.Context) error { return nil }

func (d *fakeDriver) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

func (d *fakeDriver) ListApplied(ctx context.Context) ([]Applied, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Applied, 0, len(d.applied))
	for _, a := range d.applied {
		out = append(out, a)
	}
	return out, nil
}

func (d *fakeDriver) RecordApplied(ctx context.Context, tx *sql.Tx, identity string, ts time.Time, checksum string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recordAppliedErr != nil {
		return d.recordAppliedErr
	}
	d.applied[identity] = Applied{Identity: identity, AppliedAt: ts, Checksum: checksum}
	return nil
}

func (d *fakeDriver) UnrecordApplied(ctx context.Context, tx *sql.Tx, identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.applied, identity)
	return nil
}

func (d *fakeDriver) Lock(ctx context.Context, timeout time.Duration, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lockErr != nil {
		return d.lockErr
	}
	if d.locked {
		return ErrLockTimeout
	}
	d.locked = true
	return nil
}

func (d *fakeDriver) Unlock(ctx context.Context, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

func (d *fakeDriver) DisableTransactions() bool { return false }
func (d *fakeDriver) QuoteIdentifier(name string) string {
	return `"` + name + `"`
}
func (d *fakeDriver) Placeholder(int) string { return "?" }
func (d *fakeDriver) Close() error           { return d.db.Close() }

func TestExecutorRunAppliesForward(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "DROP TABLE t001")},
	}
	ex := &executor{driver: driver, owner: "test"}

	result, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Applied) != 1 || result.Applied[0] != "001" {
		t.Errorf("expected Applied = [001], got %v", result.Applied)
	}
	if driver.locked {
		t.Error("expected lock to be released after run")
	}
}

func TestExecutorRunRollsBack(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "DROP TABLE t001")},
	}
	ex := &executor{driver: driver, owner: "test"}
	ctx := context.Background()

	if _, err := ex.run(ctx, Plan{{Migration: m, Direction: Forward}}); err != nil {
		t.Fatalf("forward run failed: %v", err)
	}

	result, err := ex.run(ctx, Plan{{Migration: m, Direction: Backward}})
	if err != nil {
		t.Fatalf("backward run failed: %v", err)
	}
	if len(result.RolledBack) != 1 || result.RolledBack[0] != "001" {
		t.Errorf("expected RolledBack = [001], got %v", result.RolledBack)
	}
}

func TestExecutorMarkOnlyDoesNotRunSteps(t *testing.T) {
	driver := newFakeDriver(t)
	called := false
	m := &Migration{
		Identity: "001",
		Steps: []Step{CallableStep(func(ctx context.Context, tx *sql.Tx) error {
			called = true
			return nil
		}, nil)},
	}
	ex := &executor{driver: driver, owner: "test"}

	_, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward, MarkOnly: true}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if called {
		t.Error("MarkOnly should not execute step bodies")
	}
	if !driver.applied["001"].AppliedAt.IsZero() == false {
		// applied-set row should exist even though steps didn't run
	}
	if _, ok := driver.applied["001"]; !ok {
		t.Error("expected applied-set row for MarkOnly item")
	}
}

func TestExecutorIgnoreErrorsTolerance(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps: []Step{
			SQLStep("CREATE TABLE t001 (id INT)", "").WithIgnoreErrors(IgnoreNone),
			SQLStep("NOT VALID SQL AT ALL", "").WithIgnoreErrors(IgnoreApply),
			SQLStep("CREATE TABLE t001b (id INT)", "").WithIgnoreErrors(IgnoreNone),
		},
	}
	ex := &executor{driver: driver, owner: "test"}

	result, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err != nil {
		t.Fatalf("expected tolerated step error not to fail the run, got: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning recorded for the tolerated step error")
	}
	if len(result.Applied) != 1 {
		t.Errorf("expected migration to still be recorded applied, got %v", result.Applied)
	}
}

func TestExecutorGroupToleratedChildErrorRollsBackAndContinues(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps: []Step{
			Group(
				SQLStep("CREATE TABLE t001 (id INT)", "").WithIgnoreErrors(IgnoreNone),
				SQLStep("NOT VALID SQL AT ALL", "").WithIgnoreErrors(IgnoreApply),
				SQLStep("CREATE TABLE t001b (id INT)", "").WithIgnoreErrors(IgnoreNone),
			),
		},
	}
	ex := &executor{driver: driver, owner: "test"}

	result, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err != nil {
		t.Fatalf("expected tolerated group-child error not to fail the run, got: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning recorded for the tolerated group-child error")
	}
	if len(result.Applied) != 1 {
		t.Errorf("expected migration to still be recorded applied, got %v", result.Applied)
	}
}

func TestExecutorRecordAppliedConflictTreatedAsWarning(t *testing.T) {
	driver := newFakeDriver(t)
	driver.recordAppliedErr = fmt.Errorf("%w: 001", ErrAlreadyApplied)
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	ex := &executor{driver: driver, owner: "test"}

	result, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err != nil {
		t.Fatalf("expected ErrAlreadyApplied from RecordApplied to be tolerated, got: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning recorded for the already-applied conflict")
	}
	if len(result.Applied) != 1 || result.Applied[0] != "001" {
		t.Errorf("expected migration to still count as applied, got %v", result.Applied)
	}
}

func TestExecutorIgnoreErrorsDoesNotCoverOtherDirection(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps: []Step{
			SQLStep("CREATE TABLE t001 (id INT)", "NOT VALID SQL").WithIgnoreErrors(IgnoreApply),
		},
	}
	ex := &executor{driver: driver, owner: "test"}
	ctx := context.Background()

	if _, err := ex.run(ctx, Plan{{Migration: m, Direction: Forward}}); err != nil {
		t.Fatalf("forward run failed: %v", err)
	}

	_, err := ex.run(ctx, Plan{{Migration: m, Direction: Backward}})
	if err == nil {
		t.Fatal("expected rollback error since IgnoreApply does not cover Backward")
	}
}

func TestExecutorFailingStepAbortsMigration(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps: []Step{
			SQLStep("CREATE TABLE t001 (id INT)", ""),
			SQLStep("NOT VALID SQL AT ALL", ""),
		},
	}
	ex := &executor{driver: driver, owner: "test"}

	_, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err == nil {
		t.Fatal("expected error for non-tolerated step failure")
	}
	if _, ok := driver.applied["001"]; ok {
		t.Error("migration should not be recorded applied when a step fails")
	}
}

func TestExecutorPostApplyRunsOnceAfterForwardPlan(t *testing.T) {
	driver := newFakeDriver(t)
	postApplyCalls := 0
	postApply := &Migration{
		Identity: PostApplyIdentity,
		Steps: []Step{CallableStep(func(ctx context.Context, tx *sql.Tx) error {
			postApplyCalls++
			return nil
		}, nil)},
	}
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "DROP TABLE t001")},
	}
	ex := &executor{driver: driver, owner: "test", postApply: postApply}

	if _, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if postApplyCalls != 1 {
		t.Errorf("expected post-apply to run exactly once, got %d", postApplyCalls)
	}
	if _, ok := driver.applied[PostApplyIdentity]; ok {
		t.Error("post-apply identity must never be recorded in the applied-set")
	}
}

func TestExecutorPostApplySkippedOnMarkOnlyPlan(t *testing.T) {
	driver := newFakeDriver(t)
	postApplyCalls := 0
	postApply := &Migration{
		Identity: PostApplyIdentity,
		Steps: []Step{CallableStep(func(ctx context.Context, tx *sql.Tx) error {
			postApplyCalls++
			return nil
		}, nil)},
	}
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	ex := &executor{driver: driver, owner: "test", postApply: postApply}

	if _, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward, MarkOnly: true}}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if postApplyCalls != 0 {
		t.Error("post-apply must not run for a MarkOnly plan")
	}
}

func TestExecutorContextCancellation(t *testing.T) {
	driver := newFakeDriver(t)
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	ex := &executor{driver: driver, owner: "test"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.run(ctx, Plan{{Migration: m, Direction: Forward}})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestExecutorLockFailurePropagates(t *testing.T) {
	driver := newFakeDriver(t)
	driver.lockErr = errors.New("connection refused")
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	ex := &executor{driver: driver, owner: "test"}

	_, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err == nil {
		t.Fatal("expected lock error to propagate")
	}
}

func TestExecutorSkipLockBypassesDriverLock(t *testing.T) {
	driver := newFakeDriver(t)
	driver.lockErr = errors.New("connection refused")
	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	ex := &executor{driver: driver, owner: "test", skipLock: true}

	if _, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}}); err != nil {
		t.Fatalf("expected SkipLock to bypass the failing Lock call, got %v", err)
	}
}

func TestExecutorDisableTransactionsWarns(t *testing.T) {
	driver := newFakeDriver(t)
	ex := &executor{driver: disabledTxDriver{driver}, owner: "test"}

	m := &Migration{
		Identity: "001",
		Steps:    []Step{SQLStep("CREATE TABLE t001 (id INT)", "")},
	}
	result, err := ex.run(context.Background(), Plan{{Migration: m, Direction: Forward}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about non-transactional DDL")
	}
}

// disabledTxDriver wraps fakeDriver to report DisableTransactions() true
// without otherwise changing behavior.
type disabledTxDriver struct {
	*fakeDriver
}

func (d disabledTxDriver) DisableTransactions() bool { return true }
