package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

// Resolver decorates another resolver with a Store. Entries older than TTL
// are resolved again; TTL <= 0 keeps entries forever.
type Resolver struct {
	Next      stream.Resolver
	Store     Store
	TTL       time.Duration
	Namespace string // key prefix, usually the driver name
	Log       *logger.Logger

	now func() time.Time
}

// NewResolver wraps next.
func NewResolver(next stream.Resolver, store Store, ttl time.Duration, namespace string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{Next: next, Store: store, TTL: ttl, Namespace: namespace, Log: log, now: time.Now}
}

func (r *Resolver) key(id string) string {
	if r.Namespace == "" {
		return id
	}
	return r.Namespace + ":" + id
}

func (r *Resolver) Resolve(ctx context.Context, id string, opts stream.Options) (*format.Metadata, error) {
	key := r.key(id)
	now := r.now()

	if e, ok, err := r.Store.Get(ctx, key); err != nil {
		r.Log.Warn("metadata cache: %v", err)
	} else if ok && (r.TTL <= 0 || now.Sub(e.StoredAt) < r.TTL) {
		var meta format.Metadata
		if err := json.Unmarshal(e.Data, &meta); err == nil {
			r.Log.Debug("metadata cache hit: %s", key)
			return &meta, nil
		}
		r.Log.Warn("metadata cache: dropping corrupt entry %s", key)
		_ = r.Store.Delete(ctx, key)
	}

	meta, err := r.Next.Resolve(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return meta, nil
	}
	if err := r.Store.Put(ctx, key, Entry{Data: data, StoredAt: now}); err != nil {
		r.Log.Warn("metadata cache: %v", err)
	}
	return meta, nil
}
