package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lewtec/marcador/internal/domain"
)

const recordColumns = `record_id, dataset_id, item_id, worker_id, label_id, label_ids, note, updated_at`

// RecordRepository implements domain.RecordRepository on the annotation_records table
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new RecordRepository
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		rec       domain.Record
		labelID   sql.NullInt64
		labelIDs  sql.NullString
		updatedAt string
	)
	if err := row.Scan(&rec.RecordID, &rec.DatasetID, &rec.ItemID, &rec.WorkerID, &labelID, &labelIDs, &rec.Note, &updatedAt); err != nil {
		return nil, err
	}
	var idPtr *int64
	if labelID.Valid {
		idPtr = &labelID.Int64
	}
	var idsPtr *string
	if labelIDs.Valid {
		idsPtr = &labelIDs.String
	}
	label, err := domain.DecodeLabelColumns(idPtr, idsPtr)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.RecordID, err)
	}
	rec.Label = label
	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("record %d: while parsing updated_at: %w", rec.RecordID, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *RecordRepository) queryOne(ctx context.Context, op, query string, args ...any) (*domain.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return rec, nil
}

func (r *RecordRepository) queryMany(ctx context.Context, op, query string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var result []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		result = append(result, rec)
	}
	return result, wrapErr(op, rows.Err())
}

// FindByKey retrieves the record of a (dataset, item, worker) triple
func (r *RecordRepository) FindByKey(ctx context.Context, key domain.RecordKey) (*domain.Record, error) {
	return r.queryOne(ctx, "finding record by key",
		`SELECT `+recordColumns+` FROM annotation_records WHERE dataset_id = ? AND item_id = ? AND worker_id = ?`,
		key.DatasetID, key.ItemID, key.WorkerID)
}

// GetByID retrieves a record by its record id
func (r *RecordRepository) GetByID(ctx context.Context, recordID int64) (*domain.Record, error) {
	return r.queryOne(ctx, "getting record by id",
		`SELECT `+recordColumns+` FROM annotation_records WHERE record_id = ?`, recordID)
}

// Insert creates a new record, reporting a taken triple as domain.ErrConflict
func (r *RecordRepository) Insert(ctx context.Context, rec *domain.Record) error {
	labelID, labelIDs, err := rec.Label.EncodeColumns()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO annotation_records (record_id, dataset_id, item_id, worker_id, label_id, label_ids, note, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.DatasetID, rec.ItemID, rec.WorkerID, labelID, labelIDs, rec.Note, formatTime(rec.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("while inserting record %d for %+v: %w", rec.RecordID, rec.Key(), domain.ErrConflict)
	}
	return wrapErr("inserting record", err)
}

// UpdateFields overwrites label, note and updated_at keeping the record id
func (r *RecordRepository) UpdateFields(ctx context.Context, rec *domain.Record) error {
	labelID, labelIDs, err := rec.Label.EncodeColumns()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE annotation_records SET label_id = ?, label_ids = ?, note = ?, updated_at = ?
WHERE record_id = ? AND dataset_id = ? AND item_id = ? AND worker_id = ?`,
		labelID, labelIDs, rec.Note, formatTime(rec.UpdatedAt),
		rec.RecordID, rec.DatasetID, rec.ItemID, rec.WorkerID)
	if err != nil {
		return wrapErr("updating record", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("updating record", err)
	}
	if affected == 0 {
		return fmt.Errorf("while updating record %d: %w", rec.RecordID, domain.ErrNotFound)
	}
	return nil
}

// ListAnnotatedItemIDs returns the item ids a worker already labeled in a dataset
func (r *RecordRepository) ListAnnotatedItemIDs(ctx context.Context, datasetID int64, workerID string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id FROM annotation_records WHERE dataset_id = ? AND worker_id = ? ORDER BY item_id`,
		datasetID, workerID)
	if err != nil {
		return nil, wrapErr("listing annotated items", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("listing annotated items", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("listing annotated items", rows.Err())
}

// ListByDatasetAndWorker returns every record of a worker in a dataset
func (r *RecordRepository) ListByDatasetAndWorker(ctx context.Context, datasetID int64, workerID string) ([]*domain.Record, error) {
	return r.queryMany(ctx, "listing records by worker",
		`SELECT `+recordColumns+` FROM annotation_records WHERE dataset_id = ? AND worker_id = ? ORDER BY item_id`,
		datasetID, workerID)
}

// ListByDataset returns every record of a dataset ordered by record id
func (r *RecordRepository) ListByDataset(ctx context.Context, datasetID int64) ([]*domain.Record, error) {
	return r.queryMany(ctx, "listing records by dataset",
		`SELECT `+recordColumns+` FROM annotation_records WHERE dataset_id = ? ORDER BY record_id`,
		datasetID)
}

// CountByDatasetAndWorker counts the records of a worker in a dataset
func (r *RecordRepository) CountByDatasetAndWorker(ctx context.Context, datasetID int64, workerID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotation_records WHERE dataset_id = ? AND worker_id = ?`,
		datasetID, workerID).Scan(&count)
	if err != nil {
		return 0, wrapErr("counting records", err)
	}
	return count, nil
}

// MaxRecordID returns the highest record id strictly below the ceiling
func (r *RecordRepository) MaxRecordID(ctx context.Context, below int64) (int64, error) {
	var maxID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(record_id), 0) FROM annotation_records WHERE record_id < ?`, below).Scan(&maxID)
	if err != nil {
		return 0, wrapErr("scanning max record id", err)
	}
	return maxID, nil
}

// DeleteByDataset removes every record of a dataset
func (r *RecordRepository) DeleteByDataset(ctx context.Context, datasetID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM annotation_records WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return 0, wrapErr("deleting dataset records", err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr("deleting dataset records", err)
}

// Verify that RecordRepository implements domain.RecordRepository
var _ domain.RecordRepository = (*RecordRepository)(nil)
