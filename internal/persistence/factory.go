package persistence

import (
	"context"
	"fmt"
	"strings"

	"example.com/heartstream/internal/domain"
	"example.com/heartstream/internal/persistence/memory"
	"example.com/heartstream/internal/persistence/postgres"
	"example.com/heartstream/internal/persistence/sqlite"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a store backend.
type Options struct {
	Driver           string
	SQLitePath       string
	PostgresURL      string
	MemoryMaxSamples int
}

// Open constructs the store named by opts.Driver. An empty driver selects memory.
func Open(ctx context.Context, opts Options) (domain.Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return memory.New(opts.MemoryMaxSamples), nil
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = sqlite.MemoryPath
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		if opts.PostgresURL == "" {
			return nil, fmt.Errorf("postgres driver requires a connection url")
		}
		repo, err := postgres.Open(ctx, opts.PostgresURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
