// Package dircache maps document display names to remote identifiers.
//
// The cache is filled only by listings. ResolveID never contacts the store,
// so a name must have been seen by a prior ListNames before it resolves.
package dircache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/metrics"
	"github.com/fruitsalade/lifionfs/pkg/models"
)

const (
	// DefaultSize is the default maximum number of cached names.
	DefaultSize = 10000
	// DefaultListTimeout bounds one shared listing fetch.
	DefaultListTimeout = 2 * time.Minute
)

// Lister fetches the current document listing. *client.Client implements it.
type Lister interface {
	ListDocuments(ctx context.Context) ([]models.DocumentRef, error)
}

// Policy controls how a listing invalidates existing entries.
type Policy string

const (
	// PolicyPrune drops names absent from a listing that completed without
	// error.
	PolicyPrune Policy = "prune"
	// PolicyAccumulate never drops names on listing; stale names survive
	// until evicted by size.
	PolicyAccumulate Policy = "accumulate"
)

// ParsePolicy parses a policy name. Empty selects PolicyPrune.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyPrune, nil
	case PolicyPrune, PolicyAccumulate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cache policy %q", s)
	}
}

// Config holds cache configuration.
type Config struct {
	// Size bounds the cache. A listing larger than Size grows the bound
	// until a smaller listing arrives.
	Size   int
	Policy Policy
	// ListTimeout bounds a shared listing fetch, which outlives the
	// cancellation of the caller that started it.
	ListTimeout time.Duration
	Logger      *zap.Logger
}

// Cache is a bounded, concurrency-safe name → identifier map.
type Cache struct {
	lister      Lister
	policy      Policy
	size        int
	capacity    int // current LRU bound, at least size; guarded by group
	listTimeout time.Duration
	entries     *lru.Cache[string, string]
	group       singleflight.Group
	log         *zap.Logger
}

// New creates an empty cache populated through lister.
func New(lister Lister, cfg Config) (*Cache, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPrune
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("dircache")
	}
	entries, err := lru.New[string, string](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{
		lister:      lister,
		policy:      cfg.Policy,
		size:        cfg.Size,
		capacity:    cfg.Size,
		listTimeout: cfg.ListTimeout,
		entries:     entries,
		log:         cfg.Logger,
	}, nil
}

// Policy returns the invalidation policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

// ListNames fetches the listing, records every name → identifier pair and
// returns the names in listing order. On failure it returns the names
// recorded before the failure together with the error. Concurrent calls
// share one fetch. The fetch is detached from the cancellation of any one
// caller and bounded by ListTimeout instead; a caller whose ctx ends first
// returns its ctx error while the others still receive the result.
func (c *Cache) ListNames(ctx context.Context) ([]string, error) {
	ch := c.group.DoChan("list", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.listTimeout)
		defer cancel()
		return c.list(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list documents: %w", ctx.Err())
	case r := <-ch:
		if r.Shared {
			c.log.Debug("joined in-flight listing")
		}
		names, _ := r.Val.([]string)
		out := make([]string, len(names))
		copy(out, names)
		return out, r.Err
	}
}

func (c *Cache) list(ctx context.Context) ([]string, error) {
	refs, err := c.lister.ListDocuments(ctx)

	// Every name of this listing must stay resolvable, so the bound grows
	// to the listing before adding and shrinks back afterwards. Shrinking
	// after the adds evicts only names outside the listing.
	target := max(c.size, len(refs))
	evicted := 0
	if target > c.capacity {
		c.entries.Resize(target)
		c.capacity = target
	}

	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if c.entries.Add(ref.Name, ref.ID) {
			evicted++
		}
		names = append(names, ref.Name)
	}
	if target < c.capacity {
		evicted += c.entries.Resize(target)
		c.capacity = target
	}
	metrics.RecordCacheEviction("lru", evicted)

	if err != nil {
		outcome := metrics.ListingFailed
		if len(names) > 0 {
			outcome = metrics.ListingPartial
		}
		metrics.RecordListing(outcome)
		metrics.SetCacheEntries(c.entries.Len())
		c.log.Warn("document listing failed",
			zap.Int("partial", len(names)),
			zap.Error(err),
		)
		return names, fmt.Errorf("list documents: %w", err)
	}

	if c.policy == PolicyPrune {
		c.prune(names)
	}
	metrics.RecordListing(metrics.ListingOK)
	metrics.SetCacheEntries(c.entries.Len())
	c.log.Debug("document listing", zap.Int("names", len(names)), zap.Int("cached", c.entries.Len()))
	return names, nil
}

// prune removes cached names that are not in keep.
func (c *Cache) prune(keep []string) {
	seen := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		seen[n] = struct{}{}
	}
	removed := 0
	for _, name := range c.entries.Keys() {
		if _, ok := seen[name]; !ok {
			if c.entries.Remove(name) {
				removed++
			}
		}
	}
	if removed > 0 {
		metrics.RecordCacheEviction("prune", removed)
		c.log.Debug("pruned stale names", zap.Int("removed", removed))
	}
}

// ResolveID returns the identifier recorded for name. It never lists.
func (c *Cache) ResolveID(name string) (string, bool) {
	return c.entries.Get(name)
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Names returns a snapshot of the cached names, oldest first.
func (c *Cache) Names() []string {
	return c.entries.Keys()
}
