// Package apikeycache specializes the cache substrate (internal/cache) to
// spec.md §3.1/§4.3: api-key -> authorized database-name set, refreshed
// periodically with jitter, validated against the Hopsworks authorization
// backend.
package apikeycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/cache"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/log"
)

// UserDBs is the payload of an API-key cache entry: the set of database
// names the key is authorized against (spec.md §3.1).
type UserDBs struct {
	Databases map[string]struct{}
}

func (u UserDBs) authorized(db string) bool {
	_, ok := u.Databases[db]
	return ok
}

// Config configures the cache's refresh jitter and eviction window
// (Security.APIKey.* in spec.md §6.4).
type Config struct {
	NShards                   int
	RefreshIntervalMS         int64
	RefreshIntervalJitterMS   int64
	UnusedEvictionMS          int64
}

// Cache is the API-key authorization cache.
type Cache struct {
	backend dal.AuthBackend
	cfg     Config
	sub     *cache.Cache[string, UserDBs]
}

func New(backend dal.AuthBackend, cfg Config) *Cache {
	n := cfg.NShards
	if n <= 0 {
		n = 1
	}
	c := &Cache{backend: backend, cfg: cfg}
	c.sub = cache.New(cache.Options[string, UserDBs]{
		Name:             "apikey",
		NShards:          n,
		KeyHash:          cache.HashString,
		UnusedEvictionMS: cfg.UnusedEvictionMS,
		Populate:         c.populate,
	})
	return c
}

// Shutdown drains and terminates every updater worker (spec.md §4.2/§5).
func (c *Cache) Shutdown() { c.sub.Shutdown() }

// jitteredInterval picks a refresh interval uniformly from
// [base-jitter, base+jitter] (spec.md §3.1).
func (c *Cache) jitteredInterval() time.Duration {
	base := c.cfg.RefreshIntervalMS
	jitter := c.cfg.RefreshIntervalJitterMS
	if jitter <= 0 {
		return time.Duration(base) * time.Millisecond
	}
	delta := rand.Int63n(2*jitter+1) - jitter
	ms := base + delta
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// ValidateFormat applies spec.md §4.3 step 1.
func ValidateFormat(apiKey string) error {
	if apiKey == "" {
		return apierrors.ClientErr(apierrors.CodeBadAPIKeyFormat, "the apikey is nil")
	}
	parts := strings.Split(apiKey, ".")
	if len(parts) != 2 || len(parts[0]) != 16 || len(parts[1]) < 1 {
		return apierrors.ClientErr(apierrors.CodeBadAPIKeyFormat, "the apikey has an incorrect format")
	}
	return nil
}

// Validate implements spec.md §4.3's validate(api_key, required_dbs[]).
func (c *Cache) Validate(ctx context.Context, apiKey string, requiredDBs []string) error {
	if err := ValidateFormat(apiKey); err != nil {
		return err
	}
	if len(requiredDBs) == 0 {
		return apierrors.ClientErr(apierrors.CodeAuthFailed, "needs at least one database to validate API key for")
	}

	h, err := c.sub.GetOrPlace(ctx, apiKey, c.jitteredInterval())
	if err != nil {
		return err
	}
	defer h.Release()

	udbs := h.Value()
	for _, db := range requiredDBs {
		if !udbs.authorized(db) {
			return apierrors.AuthErr(apierrors.CodeAuthFailed, fmt.Sprintf("database %q not authorized for this API key", db))
		}
	}
	return nil
}

// populate implements spec.md §4.3 step 4: look up the key record, verify
// the secret, then fetch the authorized database set.
func (c *Cache) populate(ctx context.Context, apiKey string) (UserDBs, error) {
	logger := log.WithComponent("apikeycache")
	parts := strings.SplitN(apiKey, ".", 2)
	prefix, secret := parts[0], parts[1]

	rec, err := c.backend.FindAPIKey(ctx, prefix)
	if err != nil {
		logger.Warn().Err(err).Str("prefix", prefix).Msg("api key lookup failed")
		return UserDBs{}, apierrors.AuthErr(apierrors.CodeAuthFailed, "api key not found")
	}

	sum := sha256.Sum256([]byte(secret + rec.Salt))
	hashed := hex.EncodeToString(sum[:])
	if hashed != rec.SecretHash {
		return UserDBs{}, apierrors.ClientErr(apierrors.CodeBadAPIKeyFormat, "bad API key")
	}

	dbs, err := c.backend.FindAllProjects(ctx, rec.UserID)
	if err != nil {
		return UserDBs{}, apierrors.TransientErr("AUTH_BACKEND_FAIL", "failed to fetch authorized projects", err)
	}

	set := make(map[string]struct{}, len(dbs))
	for _, d := range dbs {
		set[d] = struct{}{}
	}
	return UserDBs{Databases: set}, nil
}

// Len reports the number of cached keys (for metrics/tests).
func (c *Cache) Len() int { return c.sub.Len() }
