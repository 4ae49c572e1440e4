package queen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ExecResult summarizes what an executor run actually did, independent of
// what the Plan requested (a plan entry that hits a tolerated step error
// still counts, with a Warning attached).
type ExecResult struct {
	Applied    []string
	RolledBack []string
	Warnings   []string
}

func (r *ExecResult) recordWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// executor runs a Plan against one Driver, holding the cross-process lock
// for the duration and issuing the two-level transaction protocol per
// migration: one outer transaction per migration, one
// SAVEPOINT per step (or per group).
type executor struct {
	driver    Driver
	lockWait  time.Duration
	skipLock  bool
	owner     string
	postApply *Migration
}

// run executes plan in order. If the plan contains at least one
// successfully-applied (non-MarkOnly, non-empty) forward item and
// postApply is non-nil, postApply's steps run once at the end, outside
// the applied-set bookkeeping.
func (e *executor) run(ctx context.Context, plan Plan) (*ExecResult, error) {
	result := &ExecResult{}

	if !e.skipLock {
		if err := e.driver.Lock(ctx, e.lockWait, e.owner); err != nil {
			return result, newBackendError("lock", err)
		}
		defer e.driver.Unlock(context.Background(), e.owner)
	}

	if e.driver.DisableTransactions() {
		result.recordWarning("backend does not support transactional DDL; a failed migration may leave partial changes")
	}

	appliedForward := false

	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return result, ErrCancelled
		}

		if err := e.runItem(ctx, item, result); err != nil {
			return result, err
		}

		if item.Direction == Forward && !item.MarkOnly {
			appliedForward = true
		}
	}

	if appliedForward && e.postApply != nil {
		if err := e.runPostApply(ctx, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (e *executor) runItem(ctx context.Context, item PlanItem, result *ExecResult) error {
	m := item.Migration

	if item.MarkOnly {
		return e.mutateAppliedSet(ctx, item, result)
	}

	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return newBackendError("begin transaction", err)
	}

	if err := e.runSteps(ctx, tx, m, item.Direction, result); err != nil {
		_ = tx.Rollback()
		return newMigrationError(m.Identity, item.Direction, err)
	}

	if err := e.applySetMutation(ctx, tx, item, result); err != nil {
		_ = tx.Rollback()
		return newMigrationError(m.Identity, item.Direction, err)
	}

	if err := tx.Commit(); err != nil {
		return newMigrationError(m.Identity, item.Direction, newBackendError("commit", err))
	}

	if item.Direction == Forward {
		result.Applied = append(result.Applied, m.Identity)
	} else {
		result.RolledBack = append(result.RolledBack, m.Identity)
	}
	return nil
}

// runSteps executes m's steps (or their rollback bodies, in reverse) each
// within their own savepoint, honoring per-step IgnoreErrors.
func (e *executor) runSteps(ctx context.Context, tx *sql.Tx, m *Migration, dir Direction, result *ExecResult) error {
	steps := m.Steps
	order := make([]int, len(steps))
	for i := range order {
		if dir == Forward {
			order[i] = i
		} else {
			order[i] = len(steps) - 1 - i
		}
	}

	for idx, stepIdx := range order {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		step := steps[stepIdx]
		if err := e.runStep(ctx, tx, m.Identity, stepIdx, step, dir, result); err != nil {
			return newStepError(m.Identity, stepIdx, err)
		}
		_ = idx
	}
	return nil
}

func (e *executor) runStep(ctx context.Context, tx *sql.Tx, identity string, index int, step Step, dir Direction, result *ExecResult) error {
	sp := fmt.Sprintf("queen_sp_%d", index)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return newBackendError("savepoint", err)
	}

	err := e.execStep(ctx, tx, step, dir, sp, identity, index, result)
	if err == nil {
		_, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
		if relErr != nil {
			return newBackendError("release savepoint", relErr)
		}
		return nil
	}

	if step.IgnoreErrors().Covers(dir) {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return newBackendError("rollback to savepoint", rbErr)
		}
		result.recordWarning("%s: step %d tolerated error: %v", identity, index, err)
		return nil
	}

	if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
		return newBackendError("rollback to savepoint", rbErr)
	}
	return err
}

// execStep runs one step's body. sp is the savepoint opened by runStep
// around the whole (possibly nested) step tree; a group whose child error
// is tolerated rolls back to sp before its next sibling runs, since a
// single statement error otherwise leaves the transaction aborted until an
// explicit ROLLBACK TO SAVEPOINT is issued.
func (e *executor) execStep(ctx context.Context, tx *sql.Tx, step Step, dir Direction, sp string, identity string, index int, result *ExecResult) error {
	switch step.kind {
	case stepSQL:
		stmt := step.applySQL
		if dir == Backward {
			stmt = step.rollbackSQL
		}
		if stmt == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, stmt)
		return err

	case stepCallable:
		fn := step.applyFunc
		if dir == Backward {
			fn = step.rollbackFunc
		}
		if fn == nil {
			return nil
		}
		return fn(ctx, tx)

	case stepGroup:
		children := step.children
		order := make([]int, len(children))
		for i := range order {
			if dir == Forward {
				order[i] = i
			} else {
				order[i] = len(children) - 1 - i
			}
		}
		for _, idx := range order {
			child := children[idx]
			if err := e.execStep(ctx, tx, child, dir, sp, identity, index, result); err != nil {
				if child.IgnoreErrors().Covers(dir) {
					if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
						return newBackendError("rollback to savepoint", rbErr)
					}
					result.recordWarning("%s: step %d tolerated error in group: %v", identity, index, err)
					continue
				}
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unrecognized step kind")
	}
}

// applySetMutation records or removes item's applied-set row. A forward
// mutation is wrapped in its own savepoint: if RecordApplied reports
// ErrAlreadyApplied (a concurrent migrator already recorded this identity),
// the conflict is tolerated — rolled back to the savepoint and recorded as
// a warning — rather than aborting the whole migration, since the backend
// lock only guards against concurrent migrators Queen itself coordinates
// with, not every process that might touch the applied-set table.
func (e *executor) applySetMutation(ctx context.Context, tx *sql.Tx, item PlanItem, result *ExecResult) error {
	m := item.Migration
	if item.Direction != Forward {
		return e.driver.UnrecordApplied(ctx, tx, m.Identity)
	}

	const sp = "queen_sp_applied"
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return newBackendError("savepoint", err)
	}

	err := e.driver.RecordApplied(ctx, tx, m.Identity, applyTimestamp(), m.Checksum())
	if err == nil {
		if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); relErr != nil {
			return newBackendError("release savepoint", relErr)
		}
		return nil
	}

	if errors.Is(err, ErrAlreadyApplied) {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return newBackendError("rollback to savepoint", rbErr)
		}
		result.recordWarning("%s: already applied by a concurrent migrator, skipping record", m.Identity)
		return nil
	}

	return err
}

// mutateAppliedSet handles mark/unmark and the stale-target force path: no
// step bodies run, only the applied-set row changes, in its own
// transaction.
func (e *executor) mutateAppliedSet(ctx context.Context, item PlanItem, result *ExecResult) error {
	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return newBackendError("begin transaction", err)
	}
	if err := e.applySetMutation(ctx, tx, item, result); err != nil {
		_ = tx.Rollback()
		return newMigrationError(item.Migration.Identity, item.Direction, err)
	}
	if err := tx.Commit(); err != nil {
		return newMigrationError(item.Migration.Identity, item.Direction, newBackendError("commit", err))
	}
	return nil
}

func (e *executor) runPostApply(ctx context.Context, result *ExecResult) error {
	tx, err := e.driver.BeginTx(ctx)
	if err != nil {
		return newBackendError("begin post-apply transaction", err)
	}
	if err := e.runSteps(ctx, tx, e.postApply, Forward, result); err != nil {
		_ = tx.Rollback()
		return newMigrationError(PostApplyIdentity, Forward, err)
	}
	if err := tx.Commit(); err != nil {
		return newMigrationError(PostApplyIdentity, Forward, newBackendError("commit", err))
	}
	return nil
}

// applyTimestamp is a seam over time.Now so tests can observe deterministic
// AppliedAt values if needed; production always uses wall-clock time.
var applyTimestamp = time.Now
