package trustlog

import (
	"github.com/ppiankov/trustlog/internal/store"
	"github.com/ppiankov/trustlog/internal/stream"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	openStore func() (store.Store, error)
	actor     string
	buffer    int
}

// WithSQLite stores the chain in a SQLite file at path.
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.openStore = func() (store.Store, error) { return store.OpenSQLite(path) }
	}
}

// WithPostgres stores the chain in Postgres.
func WithPostgres(dsn string) Option {
	return func(c *clientConfig) {
		c.openStore = func() (store.Store, error) { return store.OpenPostgres(dsn) }
	}
}

// WithMemory keeps the chain in process memory. The default; useful
// for tests and ephemeral tooling.
func WithMemory() Option {
	return func(c *clientConfig) {
		c.openStore = func() (store.Store, error) { return store.NewMemory(), nil }
	}
}

// WithStore uses a caller-supplied store. The client still closes it
// on Close.
func WithStore(s store.Store) Option {
	return func(c *clientConfig) {
		c.openStore = func() (store.Store, error) { return s, nil }
	}
}

// WithActor sets a default actor recorded when an event names none.
func WithActor(actor string) Option {
	return func(c *clientConfig) { c.actor = actor }
}

// WithBuffer sets the per-subscriber backlog bound for Subscribe. A
// subscriber that falls further behind is disconnected with its
// overrun flag set.
func WithBuffer(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

func defaultConfig() clientConfig {
	return clientConfig{
		openStore: func() (store.Store, error) { return store.NewMemory(), nil },
		buffer:    stream.DefaultBuffer,
	}
}
