// Package labeling stores worker labels, one record per (dataset, item, worker).
//
// A record keeps the identifier it got on its first submission for as long
// as it lives. Later submissions overwrite label and note in place. Two
// racing first submissions are told apart by the unique constraint of the
// record store: the loser re-reads the winner and updates it. The id the
// loser drew is dropped, so record ids may have gaps but are never reused.
package labeling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/metrics"
)

const maxAttempts = 3

// IDAllocator mints record identifiers. It must never return degraded ids.
type IDAllocator interface {
	NextStrict(ctx context.Context, name string) (int64, error)
}

// DatasetLookup tells whether a dataset accepts multi labels
type DatasetLookup interface {
	GetDataset(ctx context.Context, id int64) (*domain.Dataset, error)
}

// Invalidator drops cached statistics after a write
type Invalidator interface {
	Invalidate(datasetID int64, workerID string)
}

// Submission is one label submitted by a worker
type Submission struct {
	DatasetID int64
	ItemID    int64
	WorkerID  string
	Label     domain.Label
	Note      string
}

func (s Submission) key() domain.RecordKey {
	return domain.RecordKey{DatasetID: s.DatasetID, ItemID: s.ItemID, WorkerID: s.WorkerID}
}

// Result is the outcome of a submission. Record is nil when Status is StatusNotFound.
type Result struct {
	Record *domain.Record
	Status domain.UpsertStatus
}

// Options configures a Service
type Options struct {
	// Counter is the sequence record ids are drawn from
	Counter string
	// Datasets enables the single-select check; nil skips it
	Datasets DatasetLookup
	// Stats is invalidated after every successful write; nil skips it
	Stats   Invalidator
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	now func() time.Time
}

// Service is the annotation upsert service
type Service struct {
	records domain.RecordRepository
	ids     IDAllocator
	opts    Options
	log     *slog.Logger
}

// NewService creates a Service
func NewService(records domain.RecordRepository, ids IDAllocator, opts Options) *Service {
	if opts.Counter == "" {
		opts.Counter = domain.CounterAnnotationRecord
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Service{
		records: records,
		ids:     ids,
		opts:    opts,
		log:     opts.Logger.With("component", "labeling"),
	}
}

func (s *Service) validate(ctx context.Context, sub Submission) error {
	if sub.DatasetID <= 0 {
		return domain.InvalidArgument("dataset id %d is not positive", sub.DatasetID)
	}
	if sub.ItemID <= 0 {
		return domain.InvalidArgument("item id %d is not positive", sub.ItemID)
	}
	if sub.WorkerID == "" {
		return domain.InvalidArgument("worker id is empty")
	}
	if err := sub.Label.Validate(); err != nil {
		return err
	}
	if !sub.Label.IsMulti() || s.opts.Datasets == nil {
		return nil
	}
	dataset, err := s.opts.Datasets.GetDataset(ctx, sub.DatasetID)
	if err != nil {
		return fmt.Errorf("while loading dataset %d: %w", sub.DatasetID, err)
	}
	if dataset != nil && !dataset.MultiSelect {
		return domain.InvalidArgument("dataset %d only accepts a single label", sub.DatasetID)
	}
	return nil
}

func (s *Service) record(sub Submission) *domain.Record {
	return &domain.Record{
		DatasetID: sub.DatasetID,
		ItemID:    sub.ItemID,
		WorkerID:  sub.WorkerID,
		Label:     sub.Label,
		Note:      sub.Note,
		UpdatedAt: s.opts.now().UTC(),
	}
}

// Upsert creates the record of a triple or overwrites the existing one,
// keeping its record id. Status is StatusCreated or StatusUpdated.
func (s *Service) Upsert(ctx context.Context, sub Submission) (*Result, error) {
	if err := s.validate(ctx, sub); err != nil {
		return nil, err
	}
	rec := s.record(sub)
	key := sub.key()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		existing, err := s.records.FindByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("while looking up record of %+v: %w", key, err)
		}

		if existing != nil {
			rec.RecordID = existing.RecordID
			err := s.records.UpdateFields(ctx, rec)
			if errors.Is(err, domain.ErrNotFound) {
				// removed between lookup and update
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("while updating record %d: %w", rec.RecordID, err)
			}
			return s.finish(rec, domain.StatusUpdated), nil
		}

		id, err := s.ids.NextStrict(ctx, s.opts.Counter)
		if err != nil {
			return nil, fmt.Errorf("while allocating record id: %w", err)
		}
		rec.RecordID = id
		err = s.records.Insert(ctx, rec)
		if errors.Is(err, domain.ErrConflict) {
			s.opts.Metrics.ConflictRecovered()
			s.log.Info("insert lost a race, retrying as update", "record_id", id, "dataset_id", key.DatasetID, "item_id", key.ItemID, "worker_id", key.WorkerID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("while inserting record %d: %w", id, err)
		}
		return s.finish(rec, domain.StatusCreated), nil
	}
	return nil, fmt.Errorf("while upserting record of %+v: gave up after %d attempts: %w", key, maxAttempts, domain.ErrConflict)
}

// UpdateFields overwrites the record of a triple only if it exists. A missing
// record is reported as StatusNotFound and nothing is written.
func (s *Service) UpdateFields(ctx context.Context, sub Submission) (*Result, error) {
	if err := s.validate(ctx, sub); err != nil {
		return nil, err
	}
	existing, err := s.records.FindByKey(ctx, sub.key())
	if err != nil {
		return nil, fmt.Errorf("while looking up record of %+v: %w", sub.key(), err)
	}
	if existing == nil {
		s.opts.Metrics.Upsert(string(domain.StatusNotFound))
		return &Result{Status: domain.StatusNotFound}, nil
	}
	rec := s.record(sub)
	rec.RecordID = existing.RecordID
	err = s.records.UpdateFields(ctx, rec)
	if errors.Is(err, domain.ErrNotFound) {
		s.opts.Metrics.Upsert(string(domain.StatusNotFound))
		return &Result{Status: domain.StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while updating record %d: %w", rec.RecordID, err)
	}
	return s.finish(rec, domain.StatusUpdated), nil
}

func (s *Service) finish(rec *domain.Record, status domain.UpsertStatus) *Result {
	if s.opts.Stats != nil {
		s.opts.Stats.Invalidate(rec.DatasetID, rec.WorkerID)
	}
	s.opts.Metrics.Upsert(string(status))
	s.log.Debug("label stored", "record_id", rec.RecordID, "status", status, "label", rec.Label.String())
	return &Result{Record: rec, Status: status}
}
