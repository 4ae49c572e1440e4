package queen

import (
	"context"
	"fmt"
	"sync"

	"github.com/honeynil/queen/internal/dsn"
)

// DriverFactory constructs a Driver from a parsed database URI. Backend
// packages register one via RegisterDriver in an init func, the way
// database/sql registers driver.Driver implementations.
type DriverFactory func(ctx context.Context, info dsn.Info) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DriverFactory{}
)

// RegisterDriver associates a URI scheme (as parsed by internal/dsn, e.g.
// "postgresql", "mysql", "sqlite") with a factory. Calling RegisterDriver
// twice for the same scheme panics, mirroring database/sql.Register.
func RegisterDriver(scheme string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[scheme]; dup {
		panic("queen: RegisterDriver called twice for scheme " + scheme)
	}
	registry[scheme] = factory
}

// Open parses uri and constructs the matching Driver. The scheme selects the backend package
// that must have been imported for its init func to run RegisterDriver;
// importing drivers/postgres, drivers/mysql, or drivers/sqlite blank is
// enough.
func Open(ctx context.Context, uri string) (Driver, error) {
	info, err := dsn.Parse(uri)
	if err != nil {
		return nil, newConfigError("parse database uri", err)
	}

	registryMu.RLock()
	factory, ok := registry[info.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, newConfigError(fmt.Sprintf("no driver registered for scheme %q (did you import the backend package?)", info.Scheme), nil)
	}

	return factory(ctx, info)
}
