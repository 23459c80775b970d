package domain

import (
	"context"
	"time"
)

// RecordKey is the logical primary key of an annotation record
type RecordKey struct {
	DatasetID int64
	ItemID    int64
	WorkerID  string
}

// Record is one worker's label for one item of one dataset
type Record struct {
	RecordID  int64
	DatasetID int64
	ItemID    int64
	WorkerID  string
	Label     Label
	Note      string
	UpdatedAt time.Time
}

func (r *Record) Key() RecordKey {
	return RecordKey{DatasetID: r.DatasetID, ItemID: r.ItemID, WorkerID: r.WorkerID}
}

// UpsertStatus is the outcome reported to callers of submit_label
type UpsertStatus string

const (
	StatusCreated  UpsertStatus = "created"
	StatusUpdated  UpsertStatus = "updated"
	StatusNotFound UpsertStatus = "not_found"
)

// RecordRepository defines the storage operations the labeling core relies on
type RecordRepository interface {
	// FindByKey returns the record for a triple, or nil when there is none
	FindByKey(ctx context.Context, key RecordKey) (*Record, error)

	// GetByID returns the record with the given record id, or nil
	GetByID(ctx context.Context, recordID int64) (*Record, error)

	// Insert stores a new record. It returns an error matching ErrConflict
	// when the triple already exists.
	Insert(ctx context.Context, record *Record) error

	// UpdateFields overwrites label, note and updated_at of the record with
	// the given record id. It returns ErrNotFound when nothing was updated.
	UpdateFields(ctx context.Context, record *Record) error

	// ListAnnotatedItemIDs returns the item ids a worker already labeled in a dataset
	ListAnnotatedItemIDs(ctx context.Context, datasetID int64, workerID string) ([]int64, error)

	// ListByDatasetAndWorker returns every record of a worker in a dataset
	ListByDatasetAndWorker(ctx context.Context, datasetID int64, workerID string) ([]*Record, error)

	// ListByDataset returns every record of a dataset ordered by record id
	ListByDataset(ctx context.Context, datasetID int64) ([]*Record, error)

	// CountByDatasetAndWorker counts the records of a worker in a dataset
	CountByDatasetAndWorker(ctx context.Context, datasetID int64, workerID string) (int64, error)

	// MaxRecordID returns the largest record id below the given ceiling, 0 when empty
	MaxRecordID(ctx context.Context, below int64) (int64, error)

	// DeleteByDataset removes every record of a dataset (teardown only)
	DeleteByDataset(ctx context.Context, datasetID int64) (int64, error)
}
