// Package assignment picks the next item a worker should label.
//
// Every (dataset, worker) pair gets its own stable pseudo-random order of
// the dataset's items, so retries and reloads keep offering the same item
// until it is labeled, while different workers start from different places.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/metrics"
)

// Options configures an Engine
type Options struct {
	SeedVersion SeedVersion
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Engine computes stable per-worker orders and checks them against the record store
type Engine struct {
	records domain.RecordRepository
	version SeedVersion
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine
func NewEngine(records domain.RecordRepository, opts Options) (*Engine, error) {
	if opts.SeedVersion == 0 {
		opts.SeedVersion = DefaultSeedVersion
	}
	if !opts.SeedVersion.Valid() {
		return nil, fmt.Errorf("unknown seed version %d", opts.SeedVersion)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		records: records,
		version: opts.SeedVersion,
		log:     opts.Logger.With("component", "assignment"),
		metrics: opts.Metrics,
	}, nil
}

// Order returns the stable order of items for a worker
func (e *Engine) Order(datasetID int64, workerID string, itemIDs []int64) ([]int64, error) {
	seed, err := Seed(e.version, datasetID, workerID)
	if err != nil {
		return nil, err
	}
	return Permute(dedupe(itemIDs), seed), nil
}

func (e *Engine) annotatedSet(ctx context.Context, datasetID int64, workerID string) (map[int64]struct{}, error) {
	ids, err := e.records.ListAnnotatedItemIDs(ctx, datasetID, workerID)
	if err != nil {
		return nil, fmt.Errorf("while listing items done by %s in dataset %d: %w", workerID, datasetID, err)
	}
	done := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	return done, nil
}

// NextUnassigned returns the first item in the worker's order that the worker
// has not labeled yet. ok is false once every item is labeled.
func (e *Engine) NextUnassigned(ctx context.Context, datasetID int64, workerID string, itemIDs []int64) (itemID int64, ok bool, err error) {
	if workerID == "" {
		return 0, false, domain.InvalidArgument("worker id is empty")
	}
	if len(itemIDs) == 0 {
		e.metrics.Assignment("done")
		return 0, false, nil
	}
	order, err := e.Order(datasetID, workerID, itemIDs)
	if err != nil {
		return 0, false, err
	}
	done, err := e.annotatedSet(ctx, datasetID, workerID)
	if err != nil {
		return 0, false, err
	}
	for _, id := range order {
		if _, seen := done[id]; !seen {
			e.metrics.Assignment("item")
			e.log.Debug("assigned item", "dataset_id", datasetID, "worker_id", workerID, "item_id", id)
			return id, true, nil
		}
	}
	e.metrics.Assignment("done")
	return 0, false, nil
}

// QueueRequest asks for one page of a worker's queue
type QueueRequest struct {
	DatasetID   int64
	WorkerID    string
	ItemIDs     []int64
	IncludeDone bool
	Page        int // 1-based
	PageSize    int
}

// QueueEntry is one item of a worker's queue; Record is set when the worker already labeled it
type QueueEntry struct {
	ItemID int64
	Record *domain.Record
}

// Queue lists the worker's items in stable order: pending ones first and,
// with IncludeDone, the labeled ones after them.
func (e *Engine) Queue(ctx context.Context, req QueueRequest) ([]QueueEntry, error) {
	if req.WorkerID == "" {
		return nil, domain.InvalidArgument("worker id is empty")
	}
	if req.Page < 1 || req.PageSize < 1 {
		return nil, domain.InvalidArgument("page and page size must be positive, got %d and %d", req.Page, req.PageSize)
	}
	order, err := e.Order(req.DatasetID, req.WorkerID, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	records, err := e.records.ListByDatasetAndWorker(ctx, req.DatasetID, req.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("while loading records of %s in dataset %d: %w", req.WorkerID, req.DatasetID, err)
	}
	byItem := make(map[int64]*domain.Record, len(records))
	for _, rec := range records {
		byItem[rec.ItemID] = rec
	}

	var pending, labeled []QueueEntry
	for _, id := range order {
		if rec, ok := byItem[id]; ok {
			labeled = append(labeled, QueueEntry{ItemID: id, Record: rec})
			continue
		}
		pending = append(pending, QueueEntry{ItemID: id})
	}
	entries := pending
	if req.IncludeDone {
		entries = append(entries, labeled...)
	}

	start := (req.Page - 1) * req.PageSize
	if start >= len(entries) {
		return []QueueEntry{}, nil
	}
	end := min(start+req.PageSize, len(entries))
	return entries[start:end], nil
}

// Previous returns the item right before current in ascending id order
func Previous(itemIDs []int64, current int64) (int64, bool) {
	sorted := slices.Clone(itemIDs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	i, found := slices.BinarySearch(sorted, current)
	if !found || i == 0 {
		return 0, false
	}
	return sorted[i-1], true
}
