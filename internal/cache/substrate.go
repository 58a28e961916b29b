// Package cache implements the shared substrate behind the two concurrent
// caches of the serving core (spec.md §4.2): a sharded key→entry map, a
// per-entry state machine with reference counting, and the lock ordering
// (shard lock → entry wait-lock → sleep lock) spec.md §5 mandates.
//
// The API-key cache (internal/cache/apikeycache) and the feature-view
// metadata cache (internal/cache/fvcache) each specialize this substrate:
// the former with a per-entry refresh goroutine, the latter with a
// per-shard LRU sweep. Both build directly on the types in this file.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// State is the lifecycle state of a cache entry (spec.md §3.1/§3.2).
type State int32

const (
	StateFilling State = iota // "Validating" for the API-key cache
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrShuttingDown is returned by GetOrPlace once shutdown has been
// signalled on the cache.
var ErrShuttingDown = errors.New("cache: shutting down")

// Entry holds the lifecycle state of one cached value, generic over the
// payload type V. Entry is the Go analogue of spec.md's UserDBs/FSCacheEntry:
// one wait-lock/wait-condition pair guards state, payload and ref-count.
//
// Design decision: rather than the inserting
// caller synchronously running the backend populate call inline, every
// entry — including the one created by the inserting caller — is filled by
// a dedicated goroutine (the "updater worker") and every caller, inserter
// included, waits on the same condition variable. This keeps GetOrPlace's
// call contract identical regardless of whether the caller happened to be
// the one that created the entry, and avoids a second code path for the
// synchronous case.
type Entry[V any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	state State
	value V
	err   error

	refCount int

	lastUsed    time.Time
	lastUpdated time.Time

	// refreshInterval is fixed at insertion time per spec.md §3.1 (chosen
	// once from a uniform jitter distribution). Zero means "never
	// refresh", used by the feature-view metadata cache.
	refreshInterval time.Duration

	// lru is opaque storage for a specialization's LRU bookkeeping; the
	// substrate never reads it, and fvcache keeps its LRU order in its own
	// per-shard lists instead.
	lru any
}

func newEntry[V any](now time.Time, refreshInterval time.Duration) *Entry[V] {
	e := &Entry[V]{
		state:           StateFilling,
		refCount:        1,
		lastUsed:        now,
		refreshInterval: refreshInterval,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Populator computes the value (or error) for a key. It must not hold any
// cache lock: the substrate always calls it with no lock held.
type Populator[K any, V any] func(ctx context.Context, key K) (V, error)

// Shard is one hash bucket of a Cache.
type shard[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*Entry[V]
}

// Cache is the generic sharded, reference-counted cache substrate.
type Cache[K comparable, V any] struct {
	Name string

	shards  []*shard[K, V]
	nshards uint64
	keyHash func(K) uint64

	populate Populator[K, V]

	unusedEviction time.Duration

	// shuttingDown and shutdownCh together are the Go rendering of
	// spec.md §4.2's "process-wide sleep-condvar": per spec.md §9, an
	// async-task implementation may replace the sleep-condvar with a
	// shutdown broadcast channel, which is the idiomatic Go primitive
	// for "wake every sleeper at once, permanently" (a closed channel
	// never blocks a receive again).
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	wg sync.WaitGroup

	onEvict func(K, V)
}

// Options configures a Cache.
type Options[K comparable, V any] struct {
	Name             string
	NShards          int // must be a power of two; 0 defaults to 1
	KeyHash          func(K) uint64
	Populate         Populator[K, V]
	UnusedEvictionMS int64
	OnEvict          func(K, V)
}

// HashString hashes a string key with xxhash, the "fast non-cryptographic
// hash" spec.md §4.2 asks for.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// New constructs a Cache substrate. It does not start any background
// goroutines itself — specializations spawn their own per-entry or
// per-shard workers using the exported primitives below.
func New[K comparable, V any](opts Options[K, V]) *Cache[K, V] {
	n := opts.NShards
	if n <= 0 {
		n = 1
	}
	if n&(n-1) != 0 {
		panic("cache: NShards must be a power of two")
	}
	c := &Cache[K, V]{
		Name:           opts.Name,
		shards:         make([]*shard[K, V], n),
		nshards:        uint64(n),
		keyHash:        opts.KeyHash,
		populate:       opts.Populate,
		unusedEviction: time.Duration(opts.UnusedEvictionMS) * time.Millisecond,
		onEvict:        opts.OnEvict,
	}
	c.shutdownCh = make(chan struct{})
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{m: make(map[K]*Entry[V])}
	}
	return c
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	h := c.keyHash(key)
	return c.shards[h&(c.nshards-1)]
}

// Handle is a held reference to a cache entry's current value. The caller
// must call Release exactly once.
type Handle[K comparable, V any] struct {
	c     *Cache[K, V]
	sh    *shard[K, V]
	key   K
	entry *Entry[V]
}

// Value returns the entry's payload. Valid only while the handle is held.
func (h *Handle[K, V]) Value() V { return h.entry.value }

// Release decrements the entry's reference count (spec.md I2/I3).
func (h *Handle[K, V]) Release() {
	h.entry.mu.Lock()
	h.entry.refCount--
	h.entry.cond.Broadcast()
	h.entry.mu.Unlock()
}

// GetOrPlace implements spec.md §4.2's get_or_place contract: look up key,
// and if absent, insert a Filling/Validating entry with ref_count=1 and
// spawn its updater worker before any caller — including this one — can
// observe a result. refreshInterval is only consulted when this call is
// the one that creates the entry; existing entries keep the interval fixed
// at their own creation time (spec.md I1/§3.1).
func (c *Cache[K, V]) GetOrPlace(ctx context.Context, key K, refreshInterval time.Duration) (*Handle[K, V], error) {
	if c.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	sh := c.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		now := time.Now()
		e = newEntry[V](now, refreshInterval)
		sh.m[key] = e
		sh.mu.Unlock()

		c.wg.Add(1)
		go c.run(sh, key, e)

		return c.waitFilled(sh, key, e)
	}

	e.mu.Lock()
	sh.mu.Unlock()
	e.refCount++
	e.lastUsed = time.Now()
	for e.state == StateFilling {
		e.cond.Wait()
	}
	return c.finishWait(sh, key, e)
}

// waitFilled waits on an entry that GetOrPlace just created and locked
// (implicitly, via run's first populate) — here the entry mutex is not yet
// held by the caller, so it must be acquired first.
func (c *Cache[K, V]) waitFilled(sh *shard[K, V], key K, e *Entry[V]) (*Handle[K, V], error) {
	e.mu.Lock()
	for e.state == StateFilling {
		e.cond.Wait()
	}
	return c.finishWait(sh, key, e)
}

// finishWait is called with e.mu held; it returns the handle or error and
// always unlocks e.mu before returning.
func (c *Cache[K, V]) finishWait(sh *shard[K, V], key K, e *Entry[V]) (*Handle[K, V], error) {
	defer e.mu.Unlock()
	switch e.state {
	case StateValid:
		return &Handle[K, V]{c: c, sh: sh, key: key, entry: e}, nil
	default: // StateInvalid
		e.refCount--
		e.cond.Broadcast()
		return nil, e.err
	}
}

// run is the updater worker for an entry: populate once, publish the
// result, then (if refreshInterval > 0) loop refreshing on a jittered
// timer, draining into eviction or shutdown per spec.md §4.2.
func (c *Cache[K, V]) run(sh *shard[K, V], key K, e *Entry[V]) {
	defer c.wg.Done()

	c.populateOnce(key, e)

	if e.refreshInterval <= 0 {
		// One-shot fill (feature-view metadata cache): no periodic
		// refresh; eviction is driven externally by a per-shard sweeper
		// that calls TryEvict.
		return
	}

	for {
		if c.sleepOrWake(e.refreshInterval) {
			c.removeIfShuttingDown(sh, key, e)
			return
		}
		if c.TryEvict(sh, key, e) {
			return
		}
		c.populateOnce(key, e)
	}
}

// populateOnce runs the backend call with no lock held, then publishes the
// result under the entry's wait-lock and broadcasts, per spec.md §4.2.
func (c *Cache[K, V]) populateOnce(key K, e *Entry[V]) {
	v, err := c.populate(context.Background(), key)

	e.mu.Lock()
	if err != nil {
		e.state = StateInvalid
		e.err = err
	} else {
		e.state = StateValid
		e.value = v
		e.err = nil
	}
	e.lastUpdated = time.Now()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// sleepOrWake blocks up to d on the process-wide shutdown channel (spec.md
// §4.2's refresh-loop sleep / §5 lock ordering's "sleep lock"). It returns
// true if shutdown was signalled first.
func (c *Cache[K, V]) sleepOrWake(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.shutdownCh:
		return true
	case <-timer.C:
		return false
	}
}

// TryEvict applies spec.md §4.2's per-entry eviction policy: if the entry
// is unused (ref_count == 0) and has aged past unusedEviction since last
// use, unlink it from its shard and return true.
func (c *Cache[K, V]) TryEvict(sh *shard[K, V], key K, e *Entry[V]) bool {
	if c.unusedEviction <= 0 {
		return false
	}
	sh.mu.Lock()
	e.mu.Lock()
	evict := e.refCount == 0 && time.Since(e.lastUsed) >= c.unusedEviction
	if evict {
		delete(sh.m, key)
		val, err := e.value, e.err
		e.cond.Broadcast()
		e.mu.Unlock()
		sh.mu.Unlock()
		if err == nil && c.onEvict != nil {
			c.onEvict(key, val)
		}
		return true
	}
	e.mu.Unlock()
	sh.mu.Unlock()
	return false
}

func (c *Cache[K, V]) removeIfShuttingDown(sh *shard[K, V], key K, e *Entry[V]) {
	// spec.md §4.2 shutdown: spin-wait for ref_count to drain, then unlink.
	for {
		e.mu.Lock()
		if e.refCount == 0 {
			break
		}
		e.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	sh.mu.Lock()
	delete(sh.m, key)
	e.cond.Broadcast()
	e.mu.Unlock()
	sh.mu.Unlock()
}

// Shutdown signals the process-wide shutdown flag, wakes every sleeping
// updater worker, and blocks until all of them have drained and
// terminated (spec.md §5).
func (c *Cache[K, V]) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.shuttingDown.Store(true)
		close(c.shutdownCh)
	})
	c.wg.Wait()
}

// Len returns the total number of entries across all shards (for metrics
// and tests).
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Spawn starts f as a tracked goroutine that Shutdown will wait for. Used
// by specializations (e.g. the fvcache per-shard sweeper) that need their
// own long-lived goroutine beyond the per-entry ones the substrate manages.
func (c *Cache[K, V]) Spawn(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

// ShuttingDown reports whether Shutdown has been called.
func (c *Cache[K, V]) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// WaitShutdownOrTimeout blocks until shutdown is signalled or d elapses,
// returning true if shutdown fired. Used by per-shard sweepers that need
// the same "sleep up to interval, but wake immediately on shutdown"
// behaviour as per-entry workers.
func (c *Cache[K, V]) WaitShutdownOrTimeout(d time.Duration) bool {
	return c.sleepOrWake(d)
}

// NumShards exposes the shard count for specializations that keep
// parallel per-shard state (e.g. fvcache's LRU index).
func (c *Cache[K, V]) NumShards() int { return int(c.nshards) }

// ShardIndex returns which shard key belongs to.
func (c *Cache[K, V]) ShardIndex(key K) int {
	return int(c.keyHash(key) & (c.nshards - 1))
}

// SweepShard attempts eviction of every currently-unused, aged-out entry in
// the given shard index, in the iteration order supplied by order (oldest
// first). Used by specializations such as fvcache that drive eviction from
// their own per-shard sweeper goroutine (spec.md §3.2/§4.4 step 4) rather
// than from each entry's own refresh loop (refreshInterval == 0 entries
// never enter that loop, see run()).
func (c *Cache[K, V]) SweepShard(shardIdx int, order []K) {
	sh := c.shards[shardIdx]
	for _, k := range order {
		sh.mu.Lock()
		e, ok := sh.m[k]
		sh.mu.Unlock()
		if !ok {
			continue
		}
		c.TryEvict(sh, k, e)
	}
}

