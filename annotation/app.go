// Package annotation wires the labeling core together and exposes its
// external operations to the HTTP adapter and the command line.
package annotation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lewtec/marcador/internal/assignment"
	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/labeling"
	"github.com/lewtec/marcador/internal/metrics"
	"github.com/lewtec/marcador/internal/repository"
	"github.com/lewtec/marcador/internal/sequence"
	"github.com/lewtec/marcador/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns the repositories and services backing one database
type App struct {
	Config   *Config
	Database *sql.DB
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Counters *repository.CounterRepository
	Records  *repository.RecordRepository
	Catalog  *repository.CatalogRepository

	Sequences  *sequence.Allocator
	Labels     *labeling.Service
	Assignment *assignment.Engine
	Stats      *stats.Cache
}

// NewApp builds every component on top of db. logger may be nil.
func NewApp(config *Config, db *sql.DB, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("while registering metrics: %w", err)
	}

	counters := repository.NewCounterRepository(db)
	records := repository.NewRecordRepository(db)
	catalog := repository.NewCatalogRepository(db, counters)

	cache := stats.New(stats.Options{TTL: config.Stats.TTL, Logger: logger, Metrics: m})
	allocator := sequence.New(counters, records, sequence.Options{
		FallbackEnabled: config.Sequence.FallbackEnabled,
		Logger:          logger,
		Metrics:         m,
	})
	engine, err := assignment.NewEngine(records, assignment.Options{
		SeedVersion: assignment.SeedVersion(config.Assignment.SeedVersion),
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}
	labels := labeling.NewService(records, allocator, labeling.Options{
		Counter:  config.Sequence.RecordCounter,
		Datasets: catalog,
		Stats:    cache,
		Logger:   logger,
		Metrics:  m,
	})

	return &App{
		Config:     config,
		Database:   db,
		Logger:     logger,
		Registry:   registry,
		Metrics:    m,
		Counters:   counters,
		Records:    records,
		Catalog:    catalog,
		Sequences:  allocator,
		Labels:     labels,
		Assignment: engine,
		Stats:      cache,
	}, nil
}

// AllocateNextID returns the next value of a named counter. With
// sequence.fallback_enabled it may return a degraded id, see sequence.IsFallback.
func (a *App) AllocateNextID(ctx context.Context, counter string) (int64, error) {
	return a.Sequences.Next(ctx, counter)
}

// LabelRequest is a label submitted for one item by one worker
type LabelRequest struct {
	DatasetID int64
	ItemID    int64
	WorkerID  string
	Label     domain.Label
	Note      string
}

func (r LabelRequest) submission() labeling.Submission {
	return labeling.Submission{
		DatasetID: r.DatasetID,
		ItemID:    r.ItemID,
		WorkerID:  r.WorkerID,
		Label:     r.Label,
		Note:      r.Note,
	}
}

// SubmitResult is what submit_label reports
type SubmitResult struct {
	RecordID int64               `json:"record_id,omitempty"`
	Status   domain.UpsertStatus `json:"status"`
}

func submitResult(res *labeling.Result) SubmitResult {
	out := SubmitResult{Status: res.Status}
	if res.Record != nil {
		out.RecordID = res.Record.RecordID
	}
	return out
}

// SubmitLabel creates or overwrites the worker's label for an item
func (a *App) SubmitLabel(ctx context.Context, req LabelRequest) (SubmitResult, error) {
	res, err := a.Labels.Upsert(ctx, req.submission())
	if err != nil {
		return SubmitResult{}, err
	}
	return submitResult(res), nil
}

// UpdateLabel overwrites an existing label only; a missing one is reported
// with status not_found
func (a *App) UpdateLabel(ctx context.Context, req LabelRequest) (SubmitResult, error) {
	res, err := a.Labels.UpdateFields(ctx, req.submission())
	if err != nil {
		return SubmitResult{}, err
	}
	return submitResult(res), nil
}

// NextItem is what get_next_item reports: an item, or Done
type NextItem struct {
	ItemID int64 `json:"item_id,omitempty"`
	Done   bool  `json:"done,omitempty"`
}

func (a *App) items(ctx context.Context, datasetID int64, candidates []int64) ([]int64, error) {
	if candidates != nil {
		return candidates, nil
	}
	ids, err := a.Catalog.ListItems(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("while listing items of dataset %d: %w", datasetID, err)
	}
	return ids, nil
}

// GetNextItem returns the first item of the worker's stable order that the
// worker has not labeled. A nil candidates list means the dataset's items
// from the catalog.
func (a *App) GetNextItem(ctx context.Context, datasetID int64, workerID string, candidates []int64) (NextItem, error) {
	ids, err := a.items(ctx, datasetID, candidates)
	if err != nil {
		return NextItem{}, err
	}
	id, ok, err := a.Assignment.NextUnassigned(ctx, datasetID, workerID, ids)
	if err != nil {
		return NextItem{}, err
	}
	if !ok {
		return NextItem{Done: true}, nil
	}
	return NextItem{ItemID: id}, nil
}

// QueueItem is one entry of a worker's queue
type QueueItem struct {
	ItemID int64       `json:"item_id"`
	Record *RecordView `json:"record,omitempty"`
}

// RecordView is the external form of a stored record
type RecordView struct {
	RecordID  int64        `json:"record_id"`
	DatasetID int64        `json:"dataset_id"`
	ItemID    int64        `json:"item_id"`
	WorkerID  string       `json:"worker_id"`
	Label     domain.Label `json:"label"`
	Note      string       `json:"note"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func NewRecordView(rec *domain.Record) *RecordView {
	if rec == nil {
		return nil
	}
	return &RecordView{
		RecordID:  rec.RecordID,
		DatasetID: rec.DatasetID,
		ItemID:    rec.ItemID,
		WorkerID:  rec.WorkerID,
		Label:     rec.Label,
		Note:      rec.Note,
		UpdatedAt: rec.UpdatedAt,
	}
}

// GetQueue pages over the worker's items: pending ones in stable order and,
// with includeDone, the labeled ones after them
func (a *App) GetQueue(ctx context.Context, datasetID int64, workerID string, includeDone bool, page, pageSize int) ([]QueueItem, error) {
	ids, err := a.items(ctx, datasetID, nil)
	if err != nil {
		return nil, err
	}
	entries, err := a.Assignment.Queue(ctx, assignment.QueueRequest{
		DatasetID:   datasetID,
		WorkerID:    workerID,
		ItemIDs:     ids,
		IncludeDone: includeDone,
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		return nil, err
	}
	out := make([]QueueItem, len(entries))
	for i, e := range entries {
		out[i] = QueueItem{ItemID: e.ItemID, Record: NewRecordView(e.Record)}
	}
	return out, nil
}

// PreviousItem returns the dataset item right before current in ascending id order
func (a *App) PreviousItem(ctx context.Context, datasetID, current int64) (int64, bool, error) {
	ids, err := a.items(ctx, datasetID, nil)
	if err != nil {
		return 0, false, err
	}
	prev, ok := assignment.Previous(ids, current)
	return prev, ok, nil
}

// GetStats returns the item count of a dataset and how many of them the
// worker labeled. An empty workerID reports the dataset alone, with an
// annotated count of zero.
func (a *App) GetStats(ctx context.Context, datasetID int64, workerID string) (stats.Counts, error) {
	return a.Stats.GetOrCompute(ctx, datasetID, workerID, func(ctx context.Context) (stats.Counts, error) {
		total, err := a.Catalog.CountItems(ctx, datasetID)
		if err != nil {
			return stats.Counts{}, err
		}
		counts := stats.Counts{TotalCount: total}
		if workerID == "" {
			return counts, nil
		}
		counts.AnnotatedCount, err = a.Records.CountByDatasetAndWorker(ctx, datasetID, workerID)
		if err != nil {
			return stats.Counts{}, err
		}
		return counts, nil
	})
}

// ListRecords returns the records of a dataset, optionally only one worker's
func (a *App) ListRecords(ctx context.Context, datasetID int64, workerID string) ([]*domain.Record, error) {
	if workerID != "" {
		return a.Records.ListByDatasetAndWorker(ctx, datasetID, workerID)
	}
	return a.Records.ListByDataset(ctx, datasetID)
}

// DeleteDataset removes a dataset with its items and records
func (a *App) DeleteDataset(ctx context.Context, datasetID int64) error {
	removed, err := a.Records.DeleteByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("while deleting records of dataset %d: %w", datasetID, err)
	}
	if err := a.Catalog.DeleteDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("while deleting dataset %d: %w", datasetID, err)
	}
	a.Stats.InvalidateDataset(datasetID)
	a.Logger.Info("dataset deleted", "dataset_id", datasetID, "records", removed)
	return nil
}
