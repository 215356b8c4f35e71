package journal

import (
	"context"

	"github.com/dogmatiq/logkit/logstore"
)

// Config is the configuration of a log, as recorded in a store's log registry.
type Config struct {
	// Label is a human-readable description of the log.
	Label string

	// MaxPayloadSize is the largest payload, in bytes, that may be appended to
	// the log. Zero means the default limit of the log store.
	MaxPayloadSize int
}

// Store is a collection of journals, and the registry of logs they belong to.
type Store interface {
	// Define adds a log to the registry, or replaces the configuration of an
	// existing log.
	Define(ctx context.Context, id logstore.LogID, cfg Config) error

	// Lookup returns the configuration of a log. ok is false if the log is not
	// defined.
	Lookup(ctx context.Context, id logstore.LogID) (cfg Config, ok bool, err error)

	// Remove removes a log from the registry. Its journal is left intact, such
	// that redefining the log makes its entries visible again.
	Remove(ctx context.Context, id logstore.LogID) error

	// Open returns the journal of the given log. It does not consult the
	// registry.
	Open(ctx context.Context, id logstore.LogID) (Journal, error)
}
