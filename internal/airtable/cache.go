package airtable

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
)

// Lister is the read side of the secondary store.
type Lister interface {
	List(ctx context.Context, table string, opts ListOptions) ([]Record, error)
}

// Store is one cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]Record, bool, error)
	Set(ctx context.Context, table, key string, records []Record) error
	// InvalidateTable drops every entry stored for table.
	InvalidateTable(ctx context.Context, table string) error
}

// CacheKey is table + ":" + the SHA-256 of the canonical list options, so
// equivalent queries share an entry and a table's keys share a prefix.
func CacheKey(table string, opts ListOptions) string {
	canonical := opts
	canonical.Fields = slices.Clone(opts.Fields)
	slices.Sort(canonical.Fields)
	if canonical.PageSize == 0 {
		canonical.PageSize = maxPageSize
	}

	raw, err := sonic.ConfigStd.Marshal(canonical)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", canonical))
	}
	sum := sha256.Sum256(raw)
	return table + ":" + hex.EncodeToString(sum[:])
}

func tableOf(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key
	}
	return key[:i]
}

// fetchTimeout bounds a shared upstream call, which outlives any single
// caller's context.
const fetchTimeout = 30 * time.Second

// Cached serves List from a cache and fills it from the source on a miss.
// Concurrent misses for the same key share one upstream call. Invalidate
// bumps a per-table generation: fetches begun before it never write back.
type Cached struct {
	source  Lister
	store   Store
	metrics *monitoring.Metrics
	logger  *logging.Logger
	group   singleflight.Group

	mu          sync.RWMutex
	generations map[string]uint64
}

// NewCached wraps source with store.
func NewCached(source Lister, store Store, metrics *monitoring.Metrics, logger *logging.Logger) *Cached {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cached{
		source:  source,
		store:   store,
		metrics: metrics,
		logger:  logger.Named("airtable.cache"),

		generations: make(map[string]uint64),
	}
}

func (c *Cached) generation(table string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[table]
}

// List answers from the cache when it can. Cache failures degrade to a
// direct call and are only logged.
func (c *Cached) List(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	key := CacheKey(table, opts)

	records, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("table", table), zap.Error(err))
	}
	if ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit(table)
		}
		return records, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(table)
	}

	gen := c.generation(table)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(detached, fetchTimeout)
		defer cancel()

		records, err := c.source.List(fetchCtx, table, opts)
		if err != nil {
			return nil, err
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.generations[table] != gen {
			return records, nil
		}
		if err := c.store.Set(fetchCtx, table, key, records); err != nil {
			c.logger.Warn("cache write failed", zap.String("table", table), zap.Error(err))
		}
		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Record), nil
	}
}

// Invalidate drops every cached query of table. Fetches still in flight
// are left to finish but their results are not stored, and later misses
// start a new fetch instead of joining them.
func (c *Cached) Invalidate(ctx context.Context, table string) error {
	c.mu.Lock()
	c.generations[table]++
	c.mu.Unlock()

	if err := c.store.InvalidateTable(ctx, table); err != nil {
		return fmt.Errorf("invalidate %s: %w", table, err)
	}
	return nil
}

// Tiered consults stores in order and back-fills the nearer tiers on a hit.
type Tiered []Store

func (t Tiered) Get(ctx context.Context, key string) ([]Record, bool, error) {
	var firstErr error
	for i, s := range t {
		records, ok, err := s.Get(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		for _, near := range t[:i] {
			_ = near.Set(ctx, tableOf(key), key, records)
		}
		return records, true, nil
	}
	return nil, false, firstErr
}

func (t Tiered) Set(ctx context.Context, table, key string, records []Record) error {
	var firstErr error
	for _, s := range t {
		if err := s.Set(ctx, table, key, records); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t Tiered) InvalidateTable(ctx context.Context, table string) error {
	var firstErr error
	for _, s := range t {
		if err := s.InvalidateTable(ctx, table); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
