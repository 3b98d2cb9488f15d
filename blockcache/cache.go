// Package blockcache provides a pull-through cache of block versions.
//
// Lookups are served from a local LRU with expiring entries, then from an
// optional shared tier, usually a redis ring, and finally from the Loader.
// Concurrent misses of the same version are collapsed into a single load.
// Failures of the shared tier are logged and never returned.
package blockcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

const (
	DefaultSize      = 1024
	DefaultTTL       = 10 * time.Minute
	DefaultSharedTTL = time.Hour

	sharedKeyPrefix = "blockversion:"

	localTier  = "local"
	sharedTier = "shared"
)

// Loader loads a block version from its source of truth. It returns
// routing.ErrNotFound when the version does not exist.
type Loader interface {
	LoadBlockVersion(ctx context.Context, projectID, versionID string) (*routing.BlockVersion, error)
}

// Shared is a cache tier shared by the instances of the request handler.
// Get returns nil and no error for a missing key.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options of the Cache.
type Options struct {
	// Size is the maximum number of entries of the local tier. Defaults
	// to DefaultSize.
	Size int

	// TTL of the entries of the local tier. Defaults to DefaultTTL.
	TTL time.Duration

	// Shared is optional.
	Shared Shared

	// SharedTTL defaults to DefaultSharedTTL.
	SharedTTL time.Duration

	Metrics metrics.Metrics
}

// Cache implements routing.BlockVersionStore.
type Cache struct {
	loader    Loader
	local     *expirable.LRU[string, *routing.BlockVersion]
	shared    Shared
	sharedTTL time.Duration
	loads     singleflight.Group
	metrics   metrics.Metrics
}

var _ routing.BlockVersionStore = (*Cache)(nil)

// New creates a Cache loading the missing versions with loader.
func New(loader Loader, o Options) *Cache {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}

	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}

	if o.SharedTTL <= 0 {
		o.SharedTTL = DefaultSharedTTL
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Cache{
		loader:    loader,
		local:     expirable.NewLRU[string, *routing.BlockVersion](o.Size, nil, o.TTL),
		shared:    o.Shared,
		sharedTTL: o.SharedTTL,
		metrics:   o.Metrics,
	}
}

// Get returns the block version with versionID. Values are keyed by the
// version id only, projectID is passed to the loader.
func (c *Cache) Get(ctx context.Context, projectID, versionID string) (*routing.BlockVersion, error) {
	if bv, ok := c.local.Get(versionID); ok {
		c.metrics.IncCache(localTier, true)
		return bv, nil
	}

	c.metrics.IncCache(localTier, false)
	v, err, _ := c.loads.Do(versionID, func() (any, error) {
		if bv := c.getShared(ctx, versionID); bv != nil {
			c.local.Add(versionID, bv)
			return bv, nil
		}

		bv, err := c.loader.LoadBlockVersion(ctx, projectID, versionID)
		if err != nil {
			return nil, err
		}

		bv = routing.NewBlockVersion(*bv)
		c.local.Add(versionID, bv)
		c.setShared(ctx, bv)
		return bv, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*routing.BlockVersion), nil
}

// Put stores a block version resolved elsewhere, replacing the cached one.
func (c *Cache) Put(bv *routing.BlockVersion) {
	if bv == nil || bv.VersionID == "" {
		return
	}

	c.local.Add(bv.VersionID, bv)
}

// Len returns the number of entries in the local tier.
func (c *Cache) Len() int {
	return c.local.Len()
}

func (c *Cache) getShared(ctx context.Context, versionID string) *routing.BlockVersion {
	if c.shared == nil {
		return nil
	}

	b, err := c.shared.Get(ctx, sharedKeyPrefix+versionID)
	if err != nil {
		log.Warnf("Failed to get block version %s from the shared cache: %v", versionID, err)
		return nil
	}

	if b == nil {
		c.metrics.IncCache(sharedTier, false)
		return nil
	}

	var bv routing.BlockVersion
	if err := json.Unmarshal(b, &bv); err != nil {
		log.Warnf("Invalid block version %s in the shared cache: %v", versionID, err)
		return nil
	}

	c.metrics.IncCache(sharedTier, true)
	return routing.NewBlockVersion(bv)
}

func (c *Cache) setShared(ctx context.Context, bv *routing.BlockVersion) {
	if c.shared == nil {
		return
	}

	b, err := json.Marshal(bv)
	if err != nil {
		log.Errorf("Failed to encode block version %s: %v", bv.VersionID, err)
		return
	}

	if err := c.shared.Set(ctx, sharedKeyPrefix+bv.VersionID, b, c.sharedTTL); err != nil {
		log.Warnf("Failed to store block version %s in the shared cache: %v", bv.VersionID, err)
	}
}
