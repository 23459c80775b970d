// Package stats caches per-worker progress counts for a short time.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lewtec/marcador/internal/metrics"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long counts are served from memory
const DefaultTTL = 15 * time.Second

// Counts is what get_stats reports for a (dataset, worker) pair
type Counts struct {
	TotalCount     int64 `json:"total_count"`
	AnnotatedCount int64 `json:"annotated_count"`
}

// ComputeFunc loads fresh counts from storage
type ComputeFunc func(ctx context.Context) (Counts, error)

type key struct {
	datasetID int64
	workerID  string
}

func (k key) String() string {
	return datasetPrefix(k.datasetID) + k.workerID
}

func datasetPrefix(datasetID int64) string {
	return "stats:" + strconv.FormatInt(datasetID, 10) + ":"
}

// Options configures a Cache
type Options struct {
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Cache stores Counts per (dataset, worker). An empty worker id means the
// dataset as a whole.
//
// Every key carries a generation bumped by invalidation. A compute only
// stores its result when the generation it started under is still current,
// so a write followed by Invalidate is always visible to later reads.
// Generations only matter while a compute is in flight, so they are kept
// for keys and datasets with in-flight computes and dropped afterwards.
type Cache struct {
	items *cache.Cache
	group singleflight.Group

	mu              sync.Mutex
	keyGens         map[key]uint64
	datasetGens     map[int64]uint64
	keyInflight     map[key]int
	datasetInflight map[int64]int

	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Cache. The go-cache janitor runs every 2*TTL and lives as long as the process.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		items:       cache.New(opts.TTL, 2*opts.TTL),
		keyGens:         make(map[key]uint64),
		datasetGens:     make(map[int64]uint64),
		keyInflight:     make(map[key]int),
		datasetInflight: make(map[int64]int),
		log:             opts.Logger.With("component", "stats"),
		metrics:         opts.Metrics,
	}
}

type generation struct {
	dataset uint64
	key     uint64
}

// acquire marks a compute for k as in flight and returns its generation
func (c *Cache) acquire(k key) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyInflight[k]++
	c.datasetInflight[k.datasetID]++
	return generation{dataset: c.datasetGens[k.datasetID], key: c.keyGens[k]}
}

// release undoes acquire, forgetting generations nobody can compare against anymore
func (c *Cache) release(k key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keyInflight[k]--; c.keyInflight[k] <= 0 {
		delete(c.keyInflight, k)
		delete(c.keyGens, k)
	}
	if c.datasetInflight[k.datasetID]--; c.datasetInflight[k.datasetID] <= 0 {
		delete(c.datasetInflight, k.datasetID)
		delete(c.datasetGens, k.datasetID)
	}
}

// GetOrCompute returns cached counts or runs compute. Concurrent misses on the
// same key and generation share one compute. Errors are returned and not cached.
func (c *Cache) GetOrCompute(ctx context.Context, datasetID int64, workerID string, compute ComputeFunc) (Counts, error) {
	k := key{datasetID: datasetID, workerID: workerID}
	if v, ok := c.items.Get(k.String()); ok {
		c.metrics.CacheOp("hit")
		return v.(Counts), nil
	}
	c.metrics.CacheOp("miss")

	gen := c.acquire(k)
	defer c.release(k)
	flight := fmt.Sprintf("%s#%d.%d", k, gen.dataset, gen.key)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		counts, err := compute(ctx)
		if err != nil {
			return Counts{}, err
		}
		c.store(k, gen, counts)
		return counts, nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("while computing stats of dataset %d: %w", datasetID, err)
	}
	return v.(Counts), nil
}

func (c *Cache) store(k key, gen generation, counts Counts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.datasetGens[k.datasetID] != gen.dataset || c.keyGens[k] != gen.key {
		c.metrics.CacheOp("stale_drop")
		c.log.Debug("dropping stats computed before an invalidation", "dataset_id", k.datasetID, "worker_id", k.workerID)
		return
	}
	c.items.SetDefault(k.String(), counts)
}

// Invalidate drops the entry of one worker. An empty workerID invalidates
// the whole dataset.
func (c *Cache) Invalidate(datasetID int64, workerID string) {
	if workerID == "" {
		c.InvalidateDataset(datasetID)
		return
	}
	c.metrics.CacheOp("invalidate")
	k := key{datasetID: datasetID, workerID: workerID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keyInflight[k] > 0 {
		c.keyGens[k]++
	}
	c.items.Delete(k.String())
}

// InvalidateDataset drops every entry of a dataset
func (c *Cache) InvalidateDataset(datasetID int64) {
	c.metrics.CacheOp("invalidate")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.datasetInflight[datasetID] > 0 {
		c.datasetGens[datasetID]++
	}
	prefix := datasetPrefix(datasetID)
	for name := range c.items.Items() {
		if strings.HasPrefix(name, prefix) {
			c.items.Delete(name)
		}
	}
}

// Len reports how many entries are held, expired ones included until the janitor runs
func (c *Cache) Len() int {
	return c.items.ItemCount()
}
