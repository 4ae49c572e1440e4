package mysql

import (
	"context"
	"errors"
	"net/url"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/honeynil/queen/internal/dsn"
)

func TestBuildDSNTCPWithCredentials(t *testing.T) {
	info := dsn.Info{
		User:     "alice",
		Password: "secret",
		Host:     "localhost",
		Port:     "3306",
		Database: "myapp",
	}
	got := buildDSN(info)
	want := "alice:secret@tcp(localhost:3306)/myapp?parseTime=true"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestBuildDSNDefaultsPort(t *testing.T) {
	info := dsn.Info{Host: "localhost", Database: "myapp"}
	got := buildDSN(info)
	want := "tcp(localhost:3306)/myapp?parseTime=true"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestBuildDSNUnixSocket(t *testing.T) {
	info := dsn.Info{
		User:     "alice",
		Database: "myapp",
		Params:   url.Values{"unix_socket": []string{"/var/run/mysqld/mysqld.sock"}},
	}
	got := buildDSN(info)
	want := "alice@unix(/var/run/mysqld/mysqld.sock)/myapp?parseTime=true"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestBuildDSNUserWithoutPassword(t *testing.T) {
	info := dsn.Info{User: "alice", Host: "localhost", Database: "myapp"}
	got := buildDSN(info)
	want := "alice@tcp(localhost:3306)/myapp?parseTime=true"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestBuildDSNPreservesExtraParams(t *testing.T) {
	info := dsn.Info{
		Host:     "localhost",
		Database: "myapp",
		Params:   url.Values{"tls": []string{"skip-verify"}},
	}
	got := buildDSN(info)
	want := "tcp(localhost:3306)/myapp?parseTime=true&tls=skip-verify"
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	cases := map[string]string{
		"users":           "`users`",
		"weird`table":     "`weird``table`",
		"_yoyo_migration": "`_yoyo_migration`",
	}
	for input, want := range cases {
		if got := quoteIdentifier(input); got != want {
			t.Errorf("quoteIdentifier(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewWithTableNameDerivesLockName(t *testing.T) {
	driver := NewWithTableName(nil, "custom_migrations")
	if driver.TableName != "custom_migrations" {
		t.Errorf("expected TableName custom_migrations, got %s", driver.TableName)
	}
	if driver.lockName != "queen_lock_custom_migrations" {
		t.Errorf("expected derived lock name, got %s", driver.lockName)
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry '001' for key 'PRIMARY'"}
	if !isDuplicateKeyError(dup) {
		t.Error("expected ER_DUP_ENTRY (1062) to be detected as a duplicate key error")
	}

	other := &mysqldriver.MySQLError{Number: 1064, Message: "syntax error"}
	if isDuplicateKeyError(other) {
		t.Error("expected a non-1062 MySQLError not to be treated as a duplicate key error")
	}

	if isDuplicateKeyError(errors.New("some other error")) {
		t.Error("expected a non-MySQLError not to be treated as a duplicate key error")
	}
}

func TestUnlockWithoutPriorLockIsNoop(t *testing.T) {
	driver := NewWithTableName(nil, "custom_migrations")
	if err := driver.Unlock(context.Background(), "owner"); err != nil {
		t.Errorf("expected Unlock without a held lock to be a no-op, got %v", err)
	}
}
