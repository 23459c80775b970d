package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lewtec/marcador/internal/domain"
)

// CatalogRepository implements domain.CatalogRepository on the datasets and
// dataset_items tables. Dataset ids come from the dataset_id sequence.
type CatalogRepository struct {
	db       *sql.DB
	counters domain.CounterRepository
}

// NewCatalogRepository creates a new CatalogRepository
func NewCatalogRepository(db *sql.DB, counters domain.CounterRepository) *CatalogRepository {
	return &CatalogRepository{db: db, counters: counters}
}

func scanDataset(row rowScanner) (*domain.Dataset, error) {
	var (
		ds        domain.Dataset
		multi     int64
		createdAt string
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Description, &multi, &createdAt); err != nil {
		return nil, err
	}
	ds.MultiSelect = multi != 0
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("dataset %d: while parsing created_at: %w", ds.ID, err)
	}
	ds.CreatedAt = t
	return &ds, nil
}

// CreateDataset creates a new dataset record
func (r *CatalogRepository) CreateDataset(ctx context.Context, name, description string, multiSelect bool) (*domain.Dataset, error) {
	if name == "" {
		return nil, domain.InvalidArgument("dataset name is empty")
	}
	id, err := r.counters.Increment(ctx, domain.CounterDataset)
	if err != nil {
		return nil, fmt.Errorf("while allocating dataset id: %w", err)
	}
	ds := &domain.Dataset{
		ID:          id,
		Name:        name,
		Description: description,
		MultiSelect: multiSelect,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO datasets (dataset_id, name, description, multi_select, created_at) VALUES (?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Description, boolToInt(ds.MultiSelect), formatTime(ds.CreatedAt))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("while creating dataset %q: %w", name, domain.ErrConflict)
	}
	if err != nil {
		return nil, wrapErr("creating dataset", err)
	}
	return ds, nil
}

// GetDataset retrieves a dataset by id
func (r *CatalogRepository) GetDataset(ctx context.Context, id int64) (*domain.Dataset, error) {
	ds, err := scanDataset(r.db.QueryRowContext(ctx,
		`SELECT dataset_id, name, description, multi_select, created_at FROM datasets WHERE dataset_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("getting dataset", err)
	}
	return ds, nil
}

// GetDatasetByName retrieves a dataset by its unique name
func (r *CatalogRepository) GetDatasetByName(ctx context.Context, name string) (*domain.Dataset, error) {
	ds, err := scanDataset(r.db.QueryRowContext(ctx,
		`SELECT dataset_id, name, description, multi_select, created_at FROM datasets WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("getting dataset by name", err)
	}
	return ds, nil
}

// ListDatasets retrieves all datasets
func (r *CatalogRepository) ListDatasets(ctx context.Context) ([]*domain.Dataset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dataset_id, name, description, multi_select, created_at FROM datasets ORDER BY dataset_id`)
	if err != nil {
		return nil, wrapErr("listing datasets", err)
	}
	defer rows.Close()

	var result []*domain.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, wrapErr("listing datasets", err)
		}
		result = append(result, ds)
	}
	return result, wrapErr("listing datasets", rows.Err())
}

// SetMultiSelect updates the selection mode of a dataset
func (r *CatalogRepository) SetMultiSelect(ctx context.Context, id int64, multiSelect bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE datasets SET multi_select = ? WHERE dataset_id = ?`, boolToInt(multiSelect), id)
	if err != nil {
		return wrapErr("updating dataset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("updating dataset", err)
	}
	if n == 0 {
		return fmt.Errorf("dataset %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AddItems links items to a dataset in one transaction and returns how many were new
func (r *CatalogRepository) AddItems(ctx context.Context, datasetID int64, itemIDs []int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("starting item import", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO dataset_items (dataset_id, item_id) VALUES (?, ?)`)
	if err != nil {
		return 0, wrapErr("preparing item import", err)
	}
	defer stmt.Close()

	var added int64
	for _, itemID := range itemIDs {
		res, err := stmt.ExecContext(ctx, datasetID, itemID)
		if err != nil {
			return 0, wrapErr(fmt.Sprintf("adding item %d", itemID), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, wrapErr("adding items", err)
		}
		added += n
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("committing item import", err)
	}
	return added, nil
}

// ListItems retrieves the item ids of a dataset
func (r *CatalogRepository) ListItems(ctx context.Context, datasetID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item_id FROM dataset_items WHERE dataset_id = ? ORDER BY item_id`, datasetID)
	if err != nil {
		return nil, wrapErr("listing items", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("listing items", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("listing items", rows.Err())
}

// CountItems returns the number of items linked to a dataset
func (r *CatalogRepository) CountItems(ctx context.Context, datasetID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dataset_items WHERE dataset_id = ?`, datasetID).Scan(&count)
	if err != nil {
		return 0, wrapErr("counting items", err)
	}
	return count, nil
}

// DeleteDataset removes a dataset; its item links go with it
func (r *CatalogRepository) DeleteDataset(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM datasets WHERE dataset_id = ?`, id)
	return wrapErr("deleting dataset", err)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Verify that CatalogRepository implements domain.CatalogRepository
var _ domain.CatalogRepository = (*CatalogRepository)(nil)
