package mock_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/honeynil/queen"
	"github.com/honeynil/queen/drivers/mock"
)

func TestMockDriver_Integration(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_first",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error { return nil },
				func(ctx context.Context, tx *sql.Tx) error { return nil },
			),
		},
	})

	q.MustAdd(queen.M{
		Identity:       "002_second",
		Depends:        []string{"001_first"},
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error { return nil },
				func(ctx context.Context, tx *sql.Tx) error { return nil },
			),
		},
	})

	ctx := context.Background()

	if _, err := q.Apply(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if driver.AppliedCount() != 2 {
		t.Errorf("Expected 2 applied migrations, got %d", driver.AppliedCount())
	}
	if !driver.HasIdentity("001_first") {
		t.Error("Expected 001_first to be applied")
	}
	if !driver.HasIdentity("002_second") {
		t.Error("Expected 002_second to be applied")
	}
}

func TestMockDriver_Rollback(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_first",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error { return nil },
				func(ctx context.Context, tx *sql.Tx) error { return nil },
			),
		},
	})

	q.MustAdd(queen.M{
		Identity:       "002_second",
		Depends:        []string{"001_first"},
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error { return nil },
				func(ctx context.Context, tx *sql.Tx) error { return nil },
			),
		},
	})

	ctx := context.Background()

	if _, err := q.Apply(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if _, err := q.Rollback(ctx, queen.RunOptions{Target: "002_second"}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if driver.AppliedCount() != 1 {
		t.Errorf("Expected 1 applied migration after Rollback, got %d", driver.AppliedCount())
	}
	if !driver.HasIdentity("001_first") {
		t.Error("Expected 001_first to still be applied")
	}
	if driver.HasIdentity("002_second") {
		t.Error("Expected 002_second to be rolled back")
	}
}

func TestMockDriver_CallableSteps(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	var applyCalled, rollbackCalled bool

	q.MustAdd(queen.M{
		Identity:       "001_callable",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error {
					applyCalled = true
					return nil
				},
				func(ctx context.Context, tx *sql.Tx) error {
					rollbackCalled = true
					return nil
				},
			),
		},
	})

	ctx := context.Background()

	if _, err := q.Apply(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !applyCalled {
		t.Error("Expected apply step to be called")
	}
	if driver.AppliedCount() != 1 {
		t.Errorf("Expected 1 applied migration, got %d", driver.AppliedCount())
	}

	if _, err := q.Rollback(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if !rollbackCalled {
		t.Error("Expected rollback step to be called")
	}
	if driver.AppliedCount() != 0 {
		t.Errorf("Expected 0 applied migrations after Rollback, got %d", driver.AppliedCount())
	}
}

func TestMockDriver_Lock(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_test",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(func(ctx context.Context, tx *sql.Tx) error { return nil }, nil),
		},
	})

	ctx := context.Background()

	if err := driver.Lock(ctx, queen.DefaultConfig().LockTimeout, "external-owner"); err != nil {
		t.Fatalf("Manual lock failed: %v", err)
	}

	_, err := q.Apply(ctx, queen.RunOptions{})
	if !errors.Is(err, queen.ErrLockTimeout) {
		t.Errorf("Expected ErrLockTimeout, got %v", err)
	}

	driver.Unlock(ctx, "external-owner")

	if _, err := q.Apply(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Apply after unlock failed: %v", err)
	}
}

func TestMockDriver_Reset(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_first",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(
				func(ctx context.Context, tx *sql.Tx) error { return nil },
				func(ctx context.Context, tx *sql.Tx) error { return nil },
			),
		},
	})

	ctx := context.Background()

	if _, err := q.Apply(ctx, queen.RunOptions{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if driver.IsLocked() {
		t.Fatal("Lock should be released after Apply")
	}

	driver.Reset()

	if driver.AppliedCount() != 0 {
		t.Errorf("Expected 0 applied migrations after Reset, got %d", driver.AppliedCount())
	}
}

func TestMockDriver_ErrorHandling(t *testing.T) {
	driver := mock.New()
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_failing",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(func(ctx context.Context, tx *sql.Tx) error {
				return errors.New("migration failed")
			}, nil),
		},
	})

	ctx := context.Background()

	_, err := q.Apply(ctx, queen.RunOptions{})
	if err == nil {
		t.Fatal("Expected error from failing migration")
	}

	if driver.AppliedCount() != 0 {
		t.Errorf("Expected 0 applied migrations after failure, got %d", driver.AppliedCount())
	}
}

func TestMockDriver_RecordError(t *testing.T) {
	driver := mock.New()
	driver.SetRecordError(errors.New("disk full"))
	q := queen.New(driver)

	q.MustAdd(queen.M{
		Identity:       "001_test",
		ManualChecksum: "v1",
		Steps: []queen.Step{
			queen.CallableStep(func(ctx context.Context, tx *sql.Tx) error { return nil }, nil),
		},
	})

	_, err := q.Apply(context.Background(), queen.RunOptions{})
	if err == nil {
		t.Fatal("Expected error from RecordApplied failure")
	}
}
