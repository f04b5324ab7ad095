package storagehandler

import (
	"context"
	"fmt"
	"sync"
)

// DriverFactory creates a Driver for a storage root. The factory is
// invoked lazily by the connection manager on first use and again after
// a stale session is torn down.
type DriverFactory func(ctx context.Context, uri *URI, cfg *Config) (Driver, error)

var (
	driverFactories = make(map[string]DriverFactory)
	factoryMutex    sync.RWMutex
)

// RegisterDriver registers a driver factory for a URI scheme. Driver
// packages call this from init; importing a driver package for its side
// effects makes its scheme available.
func RegisterDriver(scheme string, factory DriverFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[scheme] = factory
}

// lookupDriver returns the factory registered for a scheme.
func lookupDriver(scheme string) (DriverFactory, error) {
	factoryMutex.RLock()
	factory, exists := driverFactories[scheme]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no driver registered for scheme %q (missing driver import?)", scheme)
	}

	return factory, nil
}
