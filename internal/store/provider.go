package store

import (
	"context"
	"fmt"
	"io"

	"github.com/riftauction/auctiond/internal/clock"
)

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Auctions    AuctionRepository
	Credentials CredentialRepository
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Config is the subset of configuration a store Driver needs to connect.
type Config struct {
	Driver string
	URL    string
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg Config, clk clock.Clock) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg Config, clk clock.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}
