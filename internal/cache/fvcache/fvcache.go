// Package fvcache specializes the cache substrate (internal/cache) to
// spec.md §3.2/§4.4: the feature-view metadata cache. Entries are filled
// once (no periodic refresh) and evicted by a per-shard sweeper that walks
// entries in least-recently-used order, using
// github.com/hashicorp/golang-lru/v2 to track that order per shard
// (spec.md §3.2's "doubly linked per-shard list ordered by last_used").
package fvcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/logicalclocks/rdrs2go/internal/cache"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/featurestore"
)

// Key serializes the (feature-store, feature-view, version) tuple
// (spec.md §3.2).
func Key(fsName, fvName string, version int) string {
	return fmt.Sprintf("%s|%s|%d", fsName, fvName, version)
}

// Config configures sweep cadence and eviction window.
type Config struct {
	NShards          int
	UnusedEvictionMS int64
	SweepIntervalMS  int64
}

// Cache is the feature-view metadata cache.
type Cache struct {
	backend dal.MetadataBackend
	sub     *cache.Cache[string, *featurestore.FeatureViewMetadata]

	// order[i] tracks shard i's keys in LRU order (oldest first on Keys())
	// purely for sweep ordering; actual eviction decisions are still made
	// by the substrate's ref-count/age check (cache.Cache.TryEvict).
	order []*lru.Cache[string, struct{}]
}

// New constructs the feature-view metadata cache and starts its per-shard
// sweepers (spec.md §4.4 step 4).
func New(backend dal.MetadataBackend, cfg Config) *Cache {
	n := cfg.NShards
	if n <= 0 {
		n = 1
	}
	c := &Cache{backend: backend}
	c.sub = cache.New(cache.Options[string, *featurestore.FeatureViewMetadata]{
		Name:             "fvcache",
		NShards:          n,
		KeyHash:          cache.HashString,
		UnusedEvictionMS: cfg.UnusedEvictionMS,
		Populate:         c.populate,
		OnEvict:          c.onEvict,
	})

	c.order = make([]*lru.Cache[string, struct{}], c.sub.NumShards())
	for i := range c.order {
		// capacity is generous; the substrate's own eviction policy is
		// what actually bounds memory, this cache only orders the sweep.
		l, _ := lru.New[string, struct{}](1 << 20)
		c.order[i] = l
	}

	sweepInterval := time.Duration(cfg.SweepIntervalMS) * time.Millisecond
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	for i := 0; i < c.sub.NumShards(); i++ {
		shardIdx := i
		c.sub.Spawn(func() { c.sweepLoop(shardIdx, sweepInterval) })
	}
	return c
}

func (c *Cache) sweepLoop(shardIdx int, interval time.Duration) {
	for {
		if c.sub.WaitShutdownOrTimeout(interval) {
			return
		}
		keys := c.order[shardIdx].Keys()
		c.sub.SweepShard(shardIdx, keys)
	}
}

func (c *Cache) onEvict(key string, _ *featurestore.FeatureViewMetadata) {
	shardIdx := c.sub.ShardIndex(key)
	c.order[shardIdx].Remove(key)
}

// Get implements spec.md §4.4's get_fv_metadata: look up or populate, then
// move the entry to the tail of its shard's LRU list (step 3).
func (c *Cache) Get(ctx context.Context, fsName, fvName string, version int) (*featurestore.FeatureViewMetadata, func(), error) {
	key := Key(fsName, fvName, version)
	shardIdx := c.sub.ShardIndex(key)
	c.order[shardIdx].Add(key, struct{}{})

	h, err := c.sub.GetOrPlace(ctx, key, 0)
	if err != nil {
		return nil, func() {}, err
	}
	return h.Value(), h.Release, nil
}

func (c *Cache) populate(ctx context.Context, key string) (*featurestore.FeatureViewMetadata, error) {
	fsName, fvName, version := splitKey(key)
	return featurestore.FetchMetadata(ctx, c.backend, fsName, fvName, version)
}

// splitKey reverses Key. fs/fv names are assumed not to contain '|'.
func splitKey(key string) (fsName, fvName string, version int) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return "", "", 0
	}
	v, _ := strconv.Atoi(parts[2])
	return parts[0], parts[1], v
}

// Shutdown stops the per-shard sweepers and waits for them to exit. Filled
// entries have no worker of their own, so entries still held by callers
// are not waited for.
func (c *Cache) Shutdown() { c.sub.Shutdown() }

// Len reports the number of cached entries (metrics/tests).
func (c *Cache) Len() int { return c.sub.Len() }
