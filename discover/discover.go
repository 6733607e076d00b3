// Package discover enumerates the databases and schemas visible on a
// connection target and caches the results with a bounded TTL. A fetch
// opens a short-lived connection solely for metadata enumeration and closes
// it unconditionally; driver failures propagate to the caller unchanged and
// are never papered over with stale cache entries.
package discover

import (
	"context"
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
	"go.uber.org/zap"
)

// Kind selects the backend a connection string points at.
type Kind string

const (
	Relational    Kind = "relational"
	DocumentStore Kind = "document"
)

type metadataKind string

const (
	metaDatabases metadataKind = "databases"
	metaSchemas   metadataKind = "schemas"
)

const defaultTTL = 5 * time.Minute

// fetchFunc fetches one metadata kind from a live target.
type fetchFunc func(ctx context.Context, connString string) ([]string, error)

// Discoverer caches database and schema lists per connection target. It is
// safe for concurrent use and is constructed explicitly so tests can hold
// independent instances.
type Discoverer struct {
	cache cache.Cache
	log   *zap.SugaredLogger

	fetchers map[Kind]map[metadataKind]fetchFunc
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithTTL overrides the default 5 minute cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(d *Discoverer) {
		d.cache, _ = cache.NewCache(cache.TTL(ttl))
	}
}

// New creates a Discoverer with driver-backed fetchers.
func New(log *zap.SugaredLogger, opts ...Option) *Discoverer {
	c, _ := cache.NewCache(cache.TTL(defaultTTL))

	d := &Discoverer{
		cache: c,
		log:   log,
		fetchers: map[Kind]map[metadataKind]fetchFunc{
			Relational: {
				metaDatabases: fetchPostgresDatabases,
				metaSchemas:   fetchPostgresSchemas,
			},
			DocumentStore: {
				metaDatabases: fetchMongoDatabases,
				metaSchemas:   fetchMongoCollections,
			},
		},
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GetDatabases returns the database names visible on the target.
func (d *Discoverer) GetDatabases(ctx context.Context, kind Kind, connString string) ([]string, error) {
	return d.get(ctx, kind, metaDatabases, connString)
}

// GetSchemas returns the schema (or collection) names visible on the target.
func (d *Discoverer) GetSchemas(ctx context.Context, kind Kind, connString string) ([]string, error) {
	return d.get(ctx, kind, metaSchemas, connString)
}

// ClearCache atomically discards all cached entries.
func (d *Discoverer) ClearCache() {
	d.cache.Purge()
}

func (d *Discoverer) get(ctx context.Context, kind Kind, meta metadataKind, connString string) ([]string, error) {
	fetchers, ok := d.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("discover: unsupported backend kind %q", kind)
	}
	fetch := fetchers[meta]

	key := fmt.Sprintf("%s:%s:%s", kind, meta, connString)
	if v, ok := d.cache.Get(key); ok {
		return v.([]string), nil
	}

	names, err := fetch(ctx, connString)
	if err != nil {
		return nil, err
	}

	d.cache.Set(key, names, 0)
	if d.log != nil {
		d.log.Debugf("discovered %d %s for %s target", len(names), meta, kind)
	}
	return names, nil
}
